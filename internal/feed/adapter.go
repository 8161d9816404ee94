// Package feed normalizes venue prices into the quote cache and answers
// "what is the freshest view of this pair" for the scanner. Venues come in
// two kinds: HTTP endpoints polled on an interval, and websocket streams
// pushed into the cache as they tick.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/theatom/atombot/internal/domain"
)

// VenueSpec describes one configured venue.
type VenueSpec struct {
	Name string
	Kind string // "http" or "ws"
	URL  string
}

// Config holds feed parameters.
type Config struct {
	Venues         []VenueSpec
	Pairs          []string
	PollInterval   time.Duration
	StaleAfter     time.Duration
	RequestTimeout time.Duration
}

// EventSink receives operator-facing events.
type EventSink interface {
	Emit(ctx context.Context, kind string, level domain.EventLevel, message string) domain.LogEvent
}

// venue is a running price source.
type venue interface {
	Name() string
	Run(ctx context.Context) error
}

// Venue health statuses.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// Adapter owns the venue clients and serves the freshest quote set per
// pair. A venue whose quotes age past StaleAfter stops counting as coverage
// and is reported degraded.
type Adapter struct {
	cfg    Config
	cache  domain.QuoteCache
	events EventSink
	logger *slog.Logger
	now    func() time.Time

	venues []venue

	mu       sync.Mutex
	lastSeen map[string]time.Time
	status   map[string]string
}

// New builds an Adapter and its venue clients from config.
func New(cfg Config, cache domain.QuoteCache, limiter domain.RateLimiter, events EventSink, logger *slog.Logger) (*Adapter, error) {
	a := &Adapter{
		cfg:      cfg,
		cache:    cache,
		events:   events,
		logger:   logger.With(slog.String("component", "feed")),
		now:      time.Now,
		lastSeen: make(map[string]time.Time),
		status:   make(map[string]string),
	}

	for _, spec := range cfg.Venues {
		switch spec.Kind {
		case "http":
			a.venues = append(a.venues, newHTTPVenue(spec, cfg, cache, limiter, a.markSeen, logger))
		case "ws":
			a.venues = append(a.venues, newWSVenue(spec, cfg, cache, a.markSeen, logger))
		default:
			return nil, fmt.Errorf("feed: venue %s: unknown kind %q", spec.Name, spec.Kind)
		}
		a.status[spec.Name] = StatusDown
	}
	return a, nil
}

// Run starts every venue client plus the health monitor and blocks until
// ctx is cancelled.
func (a *Adapter) Run(ctx context.Context) error {
	a.logger.Info("feed started",
		slog.Int("venues", len(a.venues)),
		slog.Int("pairs", len(a.cfg.Pairs)),
	)
	defer a.logger.Info("feed stopped")

	g, ctx := errgroup.WithContext(ctx)
	for _, v := range a.venues {
		g.Go(func() error {
			return v.Run(ctx)
		})
	}
	g.Go(func() error {
		return a.monitor(ctx)
	})
	return g.Wait()
}

// Latest returns the freshest quotes for a pair across all venues. Venues
// without a fresh quote are listed in Missing rather than silently absent.
func (a *Adapter) Latest(ctx context.Context, pair string) (domain.PairQuotes, error) {
	names := make([]string, len(a.cfg.Venues))
	for i, v := range a.cfg.Venues {
		names[i] = v.Name
	}

	quotes, err := a.cache.GetPairQuotes(ctx, pair, names)
	if err != nil {
		return domain.PairQuotes{}, fmt.Errorf("feed: latest %s: %w", pair, err)
	}

	now := a.now()
	fresh := quotes[:0]
	have := make(map[string]bool, len(quotes))
	for _, q := range quotes {
		if q.Age(now) > a.cfg.StaleAfter {
			continue
		}
		fresh = append(fresh, q)
		have[q.Venue] = true
	}

	var missing []string
	for _, name := range names {
		if !have[name] {
			missing = append(missing, name)
		}
	}

	return domain.PairQuotes{
		Pair:      pair,
		Quotes:    fresh,
		Missing:   missing,
		FetchedAt: now,
	}, nil
}

// Health reports per-venue connectivity for the health endpoint.
func (a *Adapter) Health() []domain.VenueHealth {
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]domain.VenueHealth, 0, len(a.cfg.Venues))
	for _, spec := range a.cfg.Venues {
		seen := a.lastSeen[spec.Name]
		status := a.healthStatus(seen, now)
		out = append(out, domain.VenueHealth{
			Venue:      spec.Name,
			Connected:  status == StatusHealthy,
			LastUpdate: seen,
			Status:     status,
		})
	}
	return out
}

// markSeen records a successful quote delivery from a venue.
func (a *Adapter) markSeen(venueName string) {
	a.mu.Lock()
	a.lastSeen[venueName] = a.now()
	a.mu.Unlock()
}

// monitor watches venue freshness and announces transitions.
func (a *Adapter) monitor(ctx context.Context) error {
	interval := a.cfg.StaleAfter / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

// sweep diffs each venue's status against the last observation and emits an
// event on change.
func (a *Adapter) sweep(ctx context.Context) {
	now := a.now()

	a.mu.Lock()
	type change struct{ venue, from, to string }
	var changes []change
	for _, spec := range a.cfg.Venues {
		cur := a.healthStatus(a.lastSeen[spec.Name], now)
		if prev := a.status[spec.Name]; prev != cur {
			a.status[spec.Name] = cur
			changes = append(changes, change{spec.Name, prev, cur})
		}
	}
	a.mu.Unlock()

	for _, c := range changes {
		switch c.to {
		case StatusHealthy:
			a.events.Emit(ctx, domain.EventKindVenueRecovered, domain.EventInfo,
				fmt.Sprintf("venue %s recovered", c.venue))
		default:
			a.events.Emit(ctx, domain.EventKindVenueDown, domain.EventWarning,
				fmt.Sprintf("venue %s marked %s, quotes excluded from scanning", c.venue, c.to))
		}
		a.logger.InfoContext(ctx, "venue status change",
			slog.String("venue", c.venue),
			slog.String("from", c.from),
			slog.String("to", c.to),
		)
	}
}

func (a *Adapter) healthStatus(seen time.Time, now time.Time) string {
	switch {
	case seen.IsZero():
		return StatusDown
	case now.Sub(seen) > a.cfg.StaleAfter:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}
