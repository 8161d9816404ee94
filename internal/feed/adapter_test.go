package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theatom/atombot/internal/domain"
)

// memCache is an in-memory domain.QuoteCache.
type memCache struct {
	mu     sync.Mutex
	quotes map[string]domain.Quote
	setErr error
	getErr error
}

var _ domain.QuoteCache = (*memCache)(nil)

func newMemCache() *memCache {
	return &memCache{quotes: make(map[string]domain.Quote)}
}

func cacheKey(venue, pair string) string { return venue + "|" + pair }

func (c *memCache) SetQuote(_ context.Context, q domain.Quote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.quotes[cacheKey(q.Venue, q.Pair)] = q
	return nil
}

func (c *memCache) GetQuote(_ context.Context, venue, pair string) (domain.Quote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.quotes[cacheKey(venue, pair)]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return q, nil
}

func (c *memCache) GetPairQuotes(_ context.Context, pair string, venues []string) ([]domain.Quote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	out := make([]domain.Quote, 0, len(venues))
	for _, v := range venues {
		if q, ok := c.quotes[cacheKey(v, pair)]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

func (c *memCache) get(venue, pair string) (domain.Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.quotes[cacheKey(venue, pair)]
	return q, ok
}

type fakeSink struct {
	mu     sync.Mutex
	events []domain.LogEvent
}

func (s *fakeSink) Emit(_ context.Context, kind string, level domain.EventLevel, message string) domain.LogEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := domain.LogEvent{Kind: kind, Level: level, Message: message}
	s.events = append(s.events, ev)
	return ev
}

func (s *fakeSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type adapterRig struct {
	adapter *Adapter
	cache   *memCache
	sink    *fakeSink
	now     time.Time
}

func newAdapterRig(t *testing.T) *adapterRig {
	t.Helper()
	rig := &adapterRig{
		cache: newMemCache(),
		sink:  &fakeSink{},
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	cfg := Config{
		Venues: []VenueSpec{
			{Name: "uniswap_v2", Kind: "http", URL: "http://127.0.0.1:8081/quote"},
			{Name: "sushiswap", Kind: "http", URL: "http://127.0.0.1:8082/quote"},
		},
		Pairs:          []string{"WETH/USDC"},
		PollInterval:   time.Second,
		StaleAfter:     30 * time.Second,
		RequestTimeout: 5 * time.Second,
	}
	var err error
	rig.adapter, err = New(cfg, rig.cache, nil, rig.sink, testLogger())
	require.NoError(t, err)
	rig.adapter.now = func() time.Time { return rig.now }
	return rig
}

func (r *adapterRig) storeQuote(venue string, age time.Duration) {
	_ = r.cache.SetQuote(context.Background(), domain.Quote{
		Venue:      venue,
		Pair:       "WETH/USDC",
		Bid:        100,
		Ask:        101,
		Depth:      500,
		ObservedAt: r.now.Add(-age),
	})
}

func TestAdapter_NewRejectsUnknownVenueKind(t *testing.T) {
	cfg := Config{Venues: []VenueSpec{{Name: "uniswap_v2", Kind: "grpc", URL: "x"}}}
	_, err := New(cfg, newMemCache(), nil, &fakeSink{}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown kind "grpc"`)
}

func TestAdapter_LatestFiltersStaleQuotes(t *testing.T) {
	rig := newAdapterRig(t)
	rig.storeQuote("uniswap_v2", 10*time.Second)
	rig.storeQuote("sushiswap", 45*time.Second) // past the 30s freshness window

	pq, err := rig.adapter.Latest(context.Background(), "WETH/USDC")
	require.NoError(t, err)

	assert.Equal(t, "WETH/USDC", pq.Pair)
	require.Len(t, pq.Quotes, 1)
	assert.Equal(t, "uniswap_v2", pq.Quotes[0].Venue)
	assert.Equal(t, []string{"sushiswap"}, pq.Missing)
	assert.Equal(t, rig.now, pq.FetchedAt)
}

func TestAdapter_LatestListsSilentVenuesAsMissing(t *testing.T) {
	rig := newAdapterRig(t)

	pq, err := rig.adapter.Latest(context.Background(), "WETH/USDC")
	require.NoError(t, err)

	assert.Empty(t, pq.Quotes)
	assert.Equal(t, []string{"uniswap_v2", "sushiswap"}, pq.Missing)
}

func TestAdapter_LatestWrapsCacheError(t *testing.T) {
	rig := newAdapterRig(t)
	rig.cache.getErr = errors.New("redis: connection refused")

	_, err := rig.adapter.Latest(context.Background(), "WETH/USDC")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed: latest WETH/USDC")
}

func TestAdapter_HealthTracksQuoteDeliveries(t *testing.T) {
	rig := newAdapterRig(t)

	// Nothing delivered yet.
	health := rig.adapter.Health()
	require.Len(t, health, 2)
	assert.Equal(t, StatusDown, health[0].Status)
	assert.False(t, health[0].Connected)

	// A delivery marks the venue healthy.
	rig.adapter.markSeen("uniswap_v2")
	health = rig.adapter.Health()
	assert.Equal(t, "uniswap_v2", health[0].Venue)
	assert.Equal(t, StatusHealthy, health[0].Status)
	assert.True(t, health[0].Connected)
	assert.Equal(t, rig.now, health[0].LastUpdate)
	assert.Equal(t, StatusDown, health[1].Status, "silent venue stays down")

	// Silence past the freshness window degrades it.
	rig.now = rig.now.Add(45 * time.Second)
	health = rig.adapter.Health()
	assert.Equal(t, StatusDegraded, health[0].Status)
	assert.False(t, health[0].Connected)
}

func TestAdapter_SweepAnnouncesStatusChanges(t *testing.T) {
	rig := newAdapterRig(t)
	ctx := context.Background()

	// Both venues start down; the first sweep sees no change.
	rig.adapter.sweep(ctx)
	assert.Empty(t, rig.sink.kinds())

	// One venue comes up.
	rig.adapter.markSeen("uniswap_v2")
	rig.adapter.sweep(ctx)
	assert.Equal(t, []string{domain.EventKindVenueRecovered}, rig.sink.kinds())

	// It goes quiet past the freshness window.
	rig.now = rig.now.Add(45 * time.Second)
	rig.adapter.sweep(ctx)
	kinds := rig.sink.kinds()
	require.Len(t, kinds, 2)
	assert.Equal(t, domain.EventKindVenueDown, kinds[1])

	// Repeat sweeps stay quiet until something changes again.
	rig.adapter.sweep(ctx)
	assert.Len(t, rig.sink.kinds(), 2)
}
