// Package risk sits between opportunity detection and execution. Every
// opportunity passes through the gate's ordered checks, and every settled
// trade reports back so the circuit breaker and in-flight accounting stay
// true to what actually happened on chain.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/theatom/atombot/internal/domain"
)

// Rejection reasons, in the order the gate applies them.
const (
	ReasonStale         = "StaleOpportunity"
	ReasonBelowMinimum  = "BelowMinProfit"
	ReasonBreakerOpen   = "BreakerOpen"
	ReasonMaxConcurrent = "MaxConcurrentExceeded"
)

// Config holds the gate thresholds.
type Config struct {
	// MinProfitRatio is the floor applied on top of the scanner's spread
	// minimum.
	MinProfitRatio float64
	// ValidityWindow is the maximum opportunity age at evaluation time.
	ValidityWindow time.Duration
	// MaxInflightPerPair caps concurrent executions against one pair.
	MaxInflightPerPair int
}

// EventSink receives operator-facing events. *telemetry.Telemetry satisfies
// it.
type EventSink interface {
	Emit(ctx context.Context, kind string, level domain.EventLevel, message string) domain.LogEvent
}

// AuditSink records breaker state changes for the audit trail. May be nil.
// *postgres.AuditStore satisfies it.
type AuditSink interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// Gate applies the pre-trade checks and owns the per-pair in-flight slots.
// Approval reserves a slot atomically; the slot is released when the
// resulting attempt settles (or when the caller gives up before creating
// one).
type Gate struct {
	cfg     Config
	breaker *Breaker
	events  EventSink
	audit   AuditSink
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	inflight map[string]int
}

// NewGate creates a Gate around the given breaker.
func NewGate(cfg Config, breaker *Breaker, events EventSink, audit AuditSink, logger *slog.Logger) *Gate {
	if cfg.MaxInflightPerPair < 1 {
		cfg.MaxInflightPerPair = 1
	}
	return &Gate{
		cfg:      cfg,
		breaker:  breaker,
		events:   events,
		audit:    audit,
		logger:   logger.With(slog.String("component", "risk_gate")),
		now:      time.Now,
		inflight: make(map[string]int),
	}
}

// Evaluate runs the checks in order: freshness, profitability, breaker,
// concurrency. On approval the pair's in-flight slot is already reserved;
// the caller must hand the opportunity to the engine or call Release.
// The returned reason is empty on approval.
func (g *Gate) Evaluate(ctx context.Context, op domain.Opportunity) (bool, string) {
	now := g.now()

	if op.Expired(now, g.cfg.ValidityWindow) {
		g.reject(ctx, op, ReasonStale)
		return false, ReasonStale
	}

	if op.ProfitRatio < g.cfg.MinProfitRatio {
		g.reject(ctx, op, ReasonBelowMinimum)
		return false, ReasonBelowMinimum
	}

	allowed, probed := g.breaker.Allow(now)
	if probed {
		g.announce(ctx, BreakerOpen, BreakerHalfOpen)
	}
	if !allowed {
		g.reject(ctx, op, ReasonBreakerOpen)
		return false, ReasonBreakerOpen
	}

	// The concurrency check runs last and doubles as the reservation, so a
	// rejection on any earlier check never holds a slot.
	g.mu.Lock()
	if g.inflight[op.Pair] >= g.cfg.MaxInflightPerPair {
		g.mu.Unlock()
		g.reject(ctx, op, ReasonMaxConcurrent)
		return false, ReasonMaxConcurrent
	}
	g.inflight[op.Pair]++
	g.mu.Unlock()

	g.logger.DebugContext(ctx, "opportunity approved",
		slog.String("opportunity_id", op.ID),
		slog.String("pair", op.Pair),
		slog.Float64("profit_ratio", op.ProfitRatio),
	)
	return true, ""
}

// Release frees a reserved slot without a settlement. Used when an approved
// opportunity never becomes an attempt (engine queue full, shutdown).
func (g *Gate) Release(pair string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight[pair] > 0 {
		g.inflight[pair]--
	}
	if g.inflight[pair] == 0 {
		delete(g.inflight, pair)
	}
}

// Reserve takes a slot for pair without evaluating anything. Reconciliation
// uses it at boot so attempts still awaiting a receipt keep holding their
// in-flight slot until they settle.
func (g *Gate) Reserve(pair string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inflight[pair]++
}

// OnSettled consumes a terminal attempt: it frees the pair's slot and feeds
// the outcome into the breaker. Aborted attempts never reached the chain and
// do not count either way.
func (g *Gate) OnSettled(ctx context.Context, attempt domain.TradeAttempt) {
	g.Release(attempt.Pair)

	now := g.now()
	switch attempt.State {
	case domain.TradeConfirmed:
		from, to, changed := g.breaker.RecordSuccess(now)
		if changed {
			g.announce(ctx, from, to)
		}
	case domain.TradeFailed, domain.TradeReverted:
		from, to, changed := g.breaker.RecordFailure(now)
		if changed {
			g.announce(ctx, from, to)
		}
	}
}

// Inflight returns the number of reserved slots across all pairs.
func (g *Gate) Inflight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, n := range g.inflight {
		total += n
	}
	return total
}

// InflightForPair returns the reserved slots for one pair.
func (g *Gate) InflightForPair(pair string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inflight[pair]
}

// BreakerState exposes the breaker state for health reporting.
func (g *Gate) BreakerState() BreakerState {
	return g.breaker.State()
}

func (g *Gate) reject(ctx context.Context, op domain.Opportunity, reason string) {
	g.logger.DebugContext(ctx, "opportunity rejected",
		slog.String("opportunity_id", op.ID),
		slog.String("pair", op.Pair),
		slog.String("reason", reason),
		slog.Float64("profit_ratio", op.ProfitRatio),
	)
}

func (g *Gate) announce(ctx context.Context, from, to BreakerState) {
	switch to {
	case BreakerOpen:
		g.events.Emit(ctx, domain.EventKindBreakerOpen, domain.EventWarning,
			fmt.Sprintf("circuit breaker opened after %d consecutive failures, pausing executions for cooldown", g.breaker.Failures()))
	case BreakerHalfOpen:
		g.events.Emit(ctx, domain.EventKindBreakerHalf, domain.EventInfo,
			"circuit breaker half-open, probing with live traffic")
	case BreakerClosed:
		g.events.Emit(ctx, domain.EventKindBreakerClosed, domain.EventSuccess,
			"circuit breaker closed, executions resumed")
	}
	g.logger.InfoContext(ctx, "breaker transition announced",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)

	if g.audit == nil {
		return
	}
	if err := g.audit.Log(ctx, "breaker."+string(to), map[string]any{
		"from": string(from),
		"to":   string(to),
	}); err != nil {
		g.logger.WarnContext(ctx, "breaker audit write failed",
			slog.String("error", err.Error()),
		)
	}
}
