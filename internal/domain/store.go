package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists trade attempts and their state transitions. It is the
// durable half of the ledger: the in-memory aggregates are rebuilt from it
// at boot and every terminal transition lands here before the engine treats
// the trade as settled.
type TradeStore interface {
	// CreateAttempt inserts a new attempt in its initial state.
	CreateAttempt(ctx context.Context, t TradeAttempt) error

	// AppendTransition records one state change and updates the attempt
	// row, both in a single transaction. It returns false (and no error)
	// when the same (tradeID, to-state) transition was already recorded,
	// which makes duplicate delivery a no-op.
	AppendTransition(ctx context.Context, tr TradeTransition) (applied bool, err error)

	// GetAttempt returns a single attempt by ID.
	GetAttempt(ctx context.Context, id string) (TradeAttempt, error)

	// ListRecent returns terminal attempts most recent first. cursor is the
	// seq of the oldest row already seen (0 = start at the newest); the
	// returned next cursor is 0 when no older rows remain.
	ListRecent(ctx context.Context, limit int, cursor int64) ([]TradeAttempt, int64, error)

	// ListByState returns attempts currently in the given state, oldest
	// first. Used at restart to find submitted attempts to reconcile.
	ListByState(ctx context.Context, state TradeState) ([]TradeAttempt, error)

	// Aggregates folds the persisted terminal attempts into a summary.
	// Called once at boot to seed the in-memory counters, never per read.
	Aggregates(ctx context.Context) (LedgerSummary, error)

	// ListTerminalBefore returns terminal attempts whose terminal time is
	// strictly before the cutoff (for archiving).
	ListTerminalBefore(ctx context.Context, before time.Time) ([]TradeAttempt, error)

	// DeleteTerminalBefore removes terminal attempts older than the cutoff
	// after they have been archived. Returns the number deleted.
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of operational events:
// control actions, reconcile outcomes, breaker trips, archive runs.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
