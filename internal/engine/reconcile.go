package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/theatom/atombot/internal/domain"
)

// Reconcile drives every attempt the previous run left unfinished toward a
// terminal state. It runs at boot, before scanning starts: Submitted
// attempts are resolved against chain state, Created attempts never reached
// the network and are aborted outright. An attempt whose outcome the chain
// cannot answer for stays Submitted with its pair slot reserved, so nothing
// double-executes against capital that may still be committed.
func (e *Engine) Reconcile(ctx context.Context) error {
	stuck, err := e.ledger.InState(ctx, domain.TradeSubmitted)
	if err != nil {
		return fmt.Errorf("engine: list submitted attempts: %w", err)
	}
	outcomes := make(map[string]int)
	for i := range stuck {
		outcomes[e.reconcileSubmitted(ctx, &stuck[i])]++
	}

	orphans, err := e.ledger.InState(ctx, domain.TradeCreated)
	if err != nil {
		return fmt.Errorf("engine: list created attempts: %w", err)
	}
	for i := range orphans {
		a := &orphans[i]
		log := e.logger.With(
			slog.String("trade_id", a.ID),
			slog.String("pair", a.Pair),
		)
		e.abort(ctx, log, a, fmt.Errorf(
			"engine: attempt abandoned before submission: %w", domain.ErrReconciliation))
	}

	if n := len(stuck) + len(orphans); n > 0 {
		e.logger.Info("reconciliation finished",
			slog.Int("submitted", len(stuck)),
			slog.Int("created", len(orphans)),
		)
		e.auditReconcile(ctx, outcomes, len(orphans))
	}
	return nil
}

// auditReconcile leaves one audit row per reconciliation pass that had work.
func (e *Engine) auditReconcile(ctx context.Context, outcomes map[string]int, orphans int) {
	if e.audit == nil {
		return
	}
	detail := map[string]any{"orphans_aborted": orphans}
	for outcome, n := range outcomes {
		detail[outcome] = n
	}
	if err := e.audit.Log(ctx, "reconcile.run", detail); err != nil {
		e.logger.WarnContext(ctx, "reconcile audit write failed",
			slog.String("error", err.Error()),
		)
	}
}

// reconcileSubmitted reports what became of the attempt: "resolved" when a
// receipt settled it, "adopted" when a still-pending transaction was taken
// over and awaited, "failed" when the network never saw it, "unresolved"
// when chain state could not answer for it.
func (e *Engine) reconcileSubmitted(ctx context.Context, attempt *domain.TradeAttempt) string {
	log := e.logger.With(
		slog.String("trade_id", attempt.ID),
		slog.String("pair", attempt.Pair),
		slog.String("tx", attempt.TxHash),
	)

	if attempt.TxHash == "" {
		// Crashed between recording the submission and learning its hash;
		// whether the broadcast went out is unknowable.
		attempt.FailReason = domain.FailReconciliation
		e.settle(ctx, log, attempt, domain.TradeFailed)
		log.Warn("submitted attempt has no transaction hash, marked failed")
		e.events.Emit(ctx, domain.EventKindReconcile, domain.EventWarning, fmt.Sprintf(
			"trade %s from previous run has no transaction hash, marked failed", attempt.ID))
		return "failed"
	}

	hash := common.HexToHash(attempt.TxHash)
	receipt, err := e.confirm.Receipt(ctx, hash)
	if err == nil {
		log.Info("reconciling mined attempt")
		e.finalize(ctx, log, attempt, receipt)
		return "resolved"
	}
	if !errors.Is(err, domain.ErrNotFound) {
		e.keepUnresolved(ctx, log, attempt, err)
		return "unresolved"
	}

	pending, err := e.confirm.TransactionPending(ctx, hash)
	switch {
	case err == nil && pending:
		// Still in the mempool. Adopt it: hold the slot and wait for the
		// receipt like a freshly submitted attempt.
		e.slots.Reserve(attempt.Pair)
		log.Info("adopting still-pending attempt from previous run")
		e.events.Emit(ctx, domain.EventKindTradeSubmitted, domain.EventInfo, fmt.Sprintf(
			"trade %s still pending from previous run (tx %s), awaiting receipt",
			attempt.ID, attempt.TxHash))
		e.await(ctx, log, attempt)
		return "adopted"
	case err == nil:
		// Mined between the two lookups; the receipt must exist now.
		receipt, rerr := e.confirm.Receipt(ctx, hash)
		if rerr != nil {
			e.keepUnresolved(ctx, log, attempt, rerr)
			return "unresolved"
		}
		e.finalize(ctx, log, attempt, receipt)
		return "resolved"
	case errors.Is(err, domain.ErrNotFound):
		// The network has no record of the hash: dropped before mining.
		attempt.FailReason = domain.FailReconciliation
		e.settle(ctx, log, attempt, domain.TradeFailed)
		log.Warn("attempt dropped by the network, marked failed")
		e.events.Emit(ctx, domain.EventKindReconcile, domain.EventWarning, fmt.Sprintf(
			"trade %s from previous run was never mined (tx %s), marked failed",
			attempt.ID, attempt.TxHash))
		return "failed"
	default:
		e.keepUnresolved(ctx, log, attempt, err)
		return "unresolved"
	}
}

// keepUnresolved leaves an attempt Submitted when chain state cannot answer
// for it, reserving the pair slot until an operator or a later restart
// resolves it.
func (e *Engine) keepUnresolved(ctx context.Context, log *slog.Logger, attempt *domain.TradeAttempt, cause error) {
	e.slots.Reserve(attempt.Pair)
	log.Warn("attempt outcome unknown, left submitted",
		slog.String("error", cause.Error()),
	)
	e.events.Emit(ctx, domain.EventKindReconcile, domain.EventWarning, fmt.Sprintf(
		"trade %s could not be reconciled against chain state (tx %s), follow-up required",
		attempt.ID, attempt.TxHash))
}
