package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/theatom/atombot/internal/domain"
)

// quoteMessage is the wire shape venues serve: top-of-book plus the depth
// available at it. ts is unix milliseconds; zero means "now".
type quoteMessage struct {
	Type  string  `json:"type,omitempty"`
	Pair  string  `json:"pair"`
	Bid   float64 `json:"bid"`
	Ask   float64 `json:"ask"`
	Depth float64 `json:"depth"`
	TS    int64   `json:"ts"`
}

// observedAt resolves the message timestamp.
func (m quoteMessage) observedAt(now time.Time) time.Time {
	if m.TS <= 0 {
		return now
	}
	return time.UnixMilli(m.TS)
}

// httpVenue polls a venue's quote endpoint on an interval and writes the
// results into the quote cache.
type httpVenue struct {
	spec    VenueSpec
	pairs   []string
	poll    time.Duration
	cache   domain.QuoteCache
	limiter domain.RateLimiter
	onSeen  func(venue string)
	client  *http.Client
	logger  *slog.Logger
}

func newHTTPVenue(spec VenueSpec, cfg Config, cache domain.QuoteCache, limiter domain.RateLimiter, onSeen func(string), logger *slog.Logger) *httpVenue {
	return &httpVenue{
		spec:    spec,
		pairs:   cfg.Pairs,
		poll:    cfg.PollInterval,
		cache:   cache,
		limiter: limiter,
		onSeen:  onSeen,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger.With(
			slog.String("component", "feed_http"),
			slog.String("venue", spec.Name),
		),
	}
}

func (v *httpVenue) Name() string { return v.spec.Name }

// Run polls until ctx is cancelled. Per-sweep errors are logged and
// absorbed; a flaky venue degrades, it does not crash the feed.
func (v *httpVenue) Run(ctx context.Context) error {
	v.sweep(ctx)

	ticker := time.NewTicker(v.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			v.sweep(ctx)
		}
	}
}

// sweep fetches every pair once.
func (v *httpVenue) sweep(ctx context.Context) {
	if v.limiter != nil {
		if err := v.limiter.Wait(ctx, "feed:"+v.spec.Name); err != nil {
			return
		}
	}

	for _, pair := range v.pairs {
		if err := v.fetch(ctx, pair); err != nil {
			v.logger.WarnContext(ctx, "quote fetch failed",
				slog.String("pair", pair),
				slog.String("error", err.Error()),
			)
		}
	}
}

// fetch pulls one pair's quote and stores it.
func (v *httpVenue) fetch(ctx context.Context, pair string) error {
	reqURL := v.spec.URL + "?pair=" + url.QueryEscape(pair)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("feed: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("feed: %s: %w", v.spec.Name, domain.ErrVenueDown)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed: %s returned %d: %w", v.spec.Name, resp.StatusCode, domain.ErrVenueDown)
	}

	var msg quoteMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return fmt.Errorf("feed: decode quote: %w", err)
	}
	if msg.Bid <= 0 || msg.Ask <= 0 {
		return fmt.Errorf("feed: %s sent empty book for %s", v.spec.Name, pair)
	}

	now := time.Now()
	q := domain.Quote{
		Venue:      v.spec.Name,
		Pair:       pair,
		Bid:        msg.Bid,
		Ask:        msg.Ask,
		Depth:      msg.Depth,
		ObservedAt: msg.observedAt(now).UTC(),
	}
	if err := v.cache.SetQuote(ctx, q); err != nil {
		return err
	}

	v.onSeen(v.spec.Name)
	return nil
}
