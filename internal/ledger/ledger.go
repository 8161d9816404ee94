// Package ledger is the authoritative trade history. Every state change an
// attempt goes through lands here exactly once; the running aggregates the
// dashboard polls are folded in memory and never recomputed per read.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/theatom/atombot/internal/domain"
)

// EventSink receives operator-facing events. *telemetry.Telemetry satisfies
// it.
type EventSink interface {
	Emit(ctx context.Context, kind string, level domain.EventLevel, message string) domain.LogEvent
}

// Listener is notified after a terminal transition has been durably
// recorded. The risk gate uses this to release in-flight slots and feed the
// breaker; notifiers use it for outbound alerts.
type Listener func(ctx context.Context, attempt domain.TradeAttempt)

// Ledger records trade attempts and transitions, keeps O(1) aggregates, and
// fans settlement out to registered listeners. Recording is idempotent: the
// same transition delivered twice folds into the aggregates exactly once.
type Ledger struct {
	store  domain.TradeStore
	events EventSink
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	summary domain.LedgerSummary

	lmu       sync.Mutex
	listeners []Listener
}

// New creates a Ledger over the given store. Call Load before serving reads.
func New(store domain.TradeStore, events EventSink, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		events: events,
		logger: logger.With(slog.String("component", "ledger")),
		now:    time.Now,
	}
}

// Load seeds the in-memory aggregates from persisted history. It must run
// before the engine starts settling trades.
func (l *Ledger) Load(ctx context.Context) error {
	sum, err := l.store.Aggregates(ctx)
	if err != nil {
		return fmt.Errorf("ledger: load aggregates: %w", err)
	}

	l.mu.Lock()
	l.summary = sum
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "ledger loaded",
		slog.Int64("total_trades", sum.TotalTrades),
		slog.Int64("successful_trades", sum.SuccessfulTrades),
		slog.Float64("total_profit", sum.TotalProfit),
	)
	return nil
}

// OnSettled registers a listener for terminal transitions. Registration must
// happen during wiring, before trades start settling.
func (l *Ledger) OnSettled(fn Listener) {
	l.lmu.Lock()
	defer l.lmu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Create persists a brand-new attempt in its initial state.
func (l *Ledger) Create(ctx context.Context, attempt domain.TradeAttempt) error {
	if err := l.store.CreateAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("ledger: create attempt: %w", err)
	}
	l.logger.DebugContext(ctx, "attempt created",
		slog.String("trade_id", attempt.ID),
		slog.String("pair", attempt.Pair),
		slog.String("opportunity_id", attempt.OpportunityID),
	)
	return nil
}

// Record applies one state transition. Illegal edges are rejected with
// domain.ErrInvalidTransition; duplicates are dropped silently. A terminal
// transition is persisted first, then folded into the aggregates, then
// announced to listeners, in that order, so no listener ever observes a
// settlement the store could still lose.
func (l *Ledger) Record(ctx context.Context, tr domain.TradeTransition) error {
	if !domain.ValidTransition(tr.From, tr.To) {
		return fmt.Errorf("ledger: %s -> %s for trade %s: %w",
			tr.From, tr.To, tr.TradeID, domain.ErrInvalidTransition)
	}

	applied, err := l.store.AppendTransition(ctx, tr)
	if err != nil {
		return fmt.Errorf("ledger: record transition: %w", err)
	}
	if !applied {
		l.logger.DebugContext(ctx, "duplicate transition dropped",
			slog.String("trade_id", tr.TradeID),
			slog.String("to", string(tr.To)),
		)
		return nil
	}

	if !tr.To.Terminal() {
		return nil
	}

	l.fold(tr.Attempt)
	l.announce(ctx, tr.Attempt)

	l.lmu.Lock()
	listeners := l.listeners
	l.lmu.Unlock()
	for _, fn := range listeners {
		fn(ctx, tr.Attempt)
	}
	return nil
}

// Summary returns the running aggregates. O(1), no store round trip.
func (l *Ledger) Summary() domain.LedgerSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.summary
}

// History returns terminal attempts most recent first, with a cursor for
// paging. cursor 0 starts at the newest.
func (l *Ledger) History(ctx context.Context, limit int, cursor int64) ([]domain.TradeAttempt, int64, error) {
	return l.store.ListRecent(ctx, limit, cursor)
}

// Get returns a single attempt by ID.
func (l *Ledger) Get(ctx context.Context, id string) (domain.TradeAttempt, error) {
	return l.store.GetAttempt(ctx, id)
}

// InState returns attempts currently in the given state, oldest first.
func (l *Ledger) InState(ctx context.Context, state domain.TradeState) ([]domain.TradeAttempt, error) {
	return l.store.ListByState(ctx, state)
}

// fold mirrors the SQL aggregate exactly: every terminal attempt counts
// toward the total, profit is realized profit of confirmed trades net of
// all gas spent. Attempts that never landed on chain carry zero gas.
func (l *Ledger) fold(a domain.TradeAttempt) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.summary.TotalTrades++
	l.summary.TotalGasSpent += a.GasCost
	l.summary.TotalProfit -= a.GasCost
	if a.State == domain.TradeConfirmed {
		l.summary.SuccessfulTrades++
		l.summary.TotalProfit += a.RealizedProfit
	}
}

// announce emits the operator-facing settlement event.
func (l *Ledger) announce(ctx context.Context, a domain.TradeAttempt) {
	switch a.State {
	case domain.TradeConfirmed:
		l.events.Emit(ctx, domain.EventKindTradeConfirmed, domain.EventSuccess, fmt.Sprintf(
			"trade %s confirmed: profit %.4f, gas %.4f (tx %s)",
			a.Pair, a.RealizedProfit, a.GasCost, a.TxHash,
		))
	case domain.TradeReverted:
		l.events.Emit(ctx, domain.EventKindTradeReverted, domain.EventError, fmt.Sprintf(
			"trade %s reverted on-chain, gas %.4f lost (tx %s)",
			a.Pair, a.GasCost, a.TxHash,
		))
	case domain.TradeFailed:
		l.events.Emit(ctx, domain.EventKindTradeFailed, domain.EventError, fmt.Sprintf(
			"trade %s failed: %s after %d submission tries",
			a.Pair, a.FailReason, a.SubmitTries,
		))
	case domain.TradeAborted:
		l.events.Emit(ctx, domain.EventKindTradeAborted, domain.EventWarning, fmt.Sprintf(
			"trade %s aborted: %s", a.Pair, a.FailReason,
		))
	}
}
