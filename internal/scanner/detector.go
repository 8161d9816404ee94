package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/theatom/atombot/internal/domain"
)

// QuoteSource supplies the freshest quote set for a pair. The feed adapter
// satisfies it.
type QuoteSource interface {
	Latest(ctx context.Context, pair string) (domain.PairQuotes, error)
}

// Approver screens opportunities before execution. *risk.Gate satisfies it.
// Evaluate reserves the pair's in-flight slot on approval; Release undoes a
// reservation that never reached the engine.
type Approver interface {
	Evaluate(ctx context.Context, op domain.Opportunity) (bool, string)
	Release(pair string)
}

// ExecutionSink accepts approved opportunities. *engine.Engine satisfies it.
type ExecutionSink interface {
	Enqueue(ctx context.Context, op domain.Opportunity) error
}

// EventSink receives operator-facing events.
type EventSink interface {
	Emit(ctx context.Context, kind string, level domain.EventLevel, message string) domain.LogEvent
}

// Detector drives one scan loop per configured pair: pull quotes, scan,
// gate, enqueue. Pausing stops new detections while everything already in
// flight settles normally.
type Detector struct {
	cfg     Config
	feed    QuoteSource
	scanner *Scanner
	gate    Approver
	sink    ExecutionSink
	events  EventSink
	logger  *slog.Logger

	paused atomic.Bool
	found  atomic.Int64
}

// DetectorConfig configures the detector.
type DetectorConfig struct {
	Config  Config
	Feed    QuoteSource
	Scanner *Scanner
	Gate    Approver
	Sink    ExecutionSink
	Events  EventSink
	Logger  *slog.Logger
}

// NewDetector creates a detector over the given pairs.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{
		cfg:     cfg.Config,
		feed:    cfg.Feed,
		scanner: cfg.Scanner,
		gate:    cfg.Gate,
		sink:    cfg.Sink,
		events:  cfg.Events,
		logger:  cfg.Logger.With(slog.String("component", "detector")),
	}
}

// Run starts one loop per pair and blocks until ctx is cancelled or a loop
// fails unrecoverably.
func (d *Detector) Run(ctx context.Context) error {
	d.logger.Info("detector started",
		slog.Int("pairs", len(d.cfg.Pairs)),
		slog.Duration("interval", d.cfg.Interval),
	)
	defer d.logger.Info("detector stopped")

	g, ctx := errgroup.WithContext(ctx)
	for _, pair := range d.cfg.Pairs {
		g.Go(func() error {
			return d.runPair(ctx, pair)
		})
	}
	return g.Wait()
}

// runPair scans one pair on the configured cadence until ctx is cancelled.
func (d *Detector) runPair(ctx context.Context, pair string) error {
	d.scan(ctx, pair)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("pair loop stopped", slog.String("pair", pair))
			return ctx.Err()
		case <-ticker.C:
			d.scan(ctx, pair)
		}
	}
}

// scan performs a single detection pass for one pair. Errors are logged and
// absorbed so a flaky venue never kills the loop.
func (d *Detector) scan(ctx context.Context, pair string) {
	if d.paused.Load() {
		return
	}

	pq, err := d.feed.Latest(ctx, pair)
	if err != nil {
		d.logger.WarnContext(ctx, "quote fetch failed",
			slog.String("pair", pair),
			slog.String("error", err.Error()),
		)
		return
	}
	if len(pq.Quotes) < 2 {
		d.logger.DebugContext(ctx, "insufficient venue coverage",
			slog.String("pair", pair),
			slog.Int("fresh", len(pq.Quotes)),
			slog.Any("missing", pq.Missing),
		)
		return
	}

	op, ok := d.scanner.Scan(pair, pq.Quotes)
	if !ok {
		return
	}
	d.found.Add(1)

	d.events.Emit(ctx, domain.EventKindOpportunity, domain.EventInfo, fmt.Sprintf(
		"opportunity on %s: buy %s @ %.6f, sell %s @ %.6f (%.2f%% spread)",
		op.Pair, op.BuyVenue, op.BuyPrice, op.SellVenue, op.SellPrice, op.ProfitRatio*100,
	))

	approved, reason := d.gate.Evaluate(ctx, op)
	if !approved {
		d.logger.DebugContext(ctx, "opportunity gated",
			slog.String("opportunity_id", op.ID),
			slog.String("reason", reason),
		)
		return
	}

	if err := d.sink.Enqueue(ctx, op); err != nil {
		// The slot was reserved at approval; give it back since no attempt
		// will ever settle it.
		d.gate.Release(op.Pair)
		d.logger.WarnContext(ctx, "engine enqueue failed",
			slog.String("opportunity_id", op.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Pause stops new detections. In-flight executions are unaffected.
func (d *Detector) Pause() {
	if d.paused.CompareAndSwap(false, true) {
		d.logger.Info("scanning paused")
	}
}

// Resume restarts detections after a pause.
func (d *Detector) Resume() {
	if d.paused.CompareAndSwap(true, false) {
		d.logger.Info("scanning resumed")
	}
}

// Paused reports whether scanning is currently paused.
func (d *Detector) Paused() bool {
	return d.paused.Load()
}

// Found returns the number of opportunities detected since start.
func (d *Detector) Found() int64 {
	return d.found.Load()
}
