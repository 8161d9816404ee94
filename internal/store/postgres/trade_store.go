package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/theatom/atombot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const attemptSelectCols = `id, opportunity_id, pair, borrow_asset, borrow_amount,
	state, tx_hash, submit_tries, realized_profit, gas_cost, fail_reason, created_at, terminal_at`

func scanAttempt(row pgx.Row) (domain.TradeAttempt, error) {
	var t domain.TradeAttempt
	err := row.Scan(
		&t.ID, &t.OpportunityID, &t.Pair, &t.BorrowAsset, &t.BorrowAmount,
		&t.State, &t.TxHash, &t.SubmitTries, &t.RealizedProfit, &t.GasCost, &t.FailReason,
		&t.CreatedAt, &t.TerminalAt,
	)
	return t, err
}

func scanAttemptRows(rows pgx.Rows) ([]domain.TradeAttempt, error) {
	var attempts []domain.TradeAttempt
	for rows.Next() {
		t, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, t)
	}
	return attempts, rows.Err()
}

// CreateAttempt inserts a new attempt in its initial state.
func (s *TradeStore) CreateAttempt(ctx context.Context, t domain.TradeAttempt) error {
	const query = `
		INSERT INTO trade_attempts (
			id, opportunity_id, pair, borrow_asset, borrow_amount,
			state, tx_hash, submit_tries, realized_profit, gas_cost, fail_reason,
			created_at, terminal_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.OpportunityID, t.Pair, t.BorrowAsset, t.BorrowAmount,
		t.State, t.TxHash, t.SubmitTries, t.RealizedProfit, t.GasCost, t.FailReason,
		t.CreatedAt, t.TerminalAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create attempt %s: %w", t.ID, err)
	}
	return nil
}

// AppendTransition records one state change and updates the attempt row in a
// single transaction. A transition that was already recorded (same trade_id
// and to_state) returns applied=false with no error, which makes duplicate
// delivery harmless.
func (s *TradeStore) AppendTransition(ctx context.Context, tr domain.TradeTransition) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("postgres: begin transition tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insert = `
		INSERT INTO trade_transitions (trade_id, from_state, to_state, occurred_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (trade_id, to_state) DO NOTHING`

	tag, err := tx.Exec(ctx, insert, tr.TradeID, tr.From, tr.To, tr.OccurredAt)
	if err != nil {
		return false, fmt.Errorf("postgres: insert transition %s->%s for %s: %w",
			tr.From, tr.To, tr.TradeID, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	const update = `
		UPDATE trade_attempts SET
			state = $2, tx_hash = $3, submit_tries = $4, realized_profit = $5,
			gas_cost = $6, fail_reason = $7, terminal_at = $8
		WHERE id = $1`

	a := tr.Attempt
	if _, err := tx.Exec(ctx, update,
		tr.TradeID, tr.To, a.TxHash, a.SubmitTries, a.RealizedProfit, a.GasCost,
		a.FailReason, a.TerminalAt,
	); err != nil {
		return false, fmt.Errorf("postgres: update attempt %s: %w", tr.TradeID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("postgres: commit transition %s: %w", tr.TradeID, err)
	}
	return true, nil
}

// GetAttempt returns a single attempt by ID. It returns domain.ErrNotFound
// when no such attempt exists.
func (s *TradeStore) GetAttempt(ctx context.Context, id string) (domain.TradeAttempt, error) {
	query := `SELECT ` + attemptSelectCols + ` FROM trade_attempts WHERE id = $1`

	t, err := scanAttempt(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradeAttempt{}, domain.ErrNotFound
		}
		return domain.TradeAttempt{}, fmt.Errorf("postgres: get attempt %s: %w", id, err)
	}
	return t, nil
}

// ListRecent returns terminal attempts most recent first. cursor is the seq
// of the oldest row the caller has already seen (0 starts at the newest);
// the returned cursor is 0 when no older rows remain.
func (s *TradeStore) ListRecent(ctx context.Context, limit int, cursor int64) ([]domain.TradeAttempt, int64, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT seq, ` + attemptSelectCols + ` FROM trade_attempts WHERE terminal_at IS NOT NULL`
	args := []any{}
	argIdx := 1

	if cursor > 0 {
		query += fmt.Sprintf(" AND seq < $%d", argIdx)
		args = append(args, cursor)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY seq DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list recent attempts: %w", err)
	}
	defer rows.Close()

	var (
		attempts []domain.TradeAttempt
		lastSeq  int64
	)
	for rows.Next() {
		var (
			seq int64
			t   domain.TradeAttempt
		)
		if err := rows.Scan(
			&seq,
			&t.ID, &t.OpportunityID, &t.Pair, &t.BorrowAsset, &t.BorrowAmount,
			&t.State, &t.TxHash, &t.SubmitTries, &t.RealizedProfit, &t.GasCost, &t.FailReason,
			&t.CreatedAt, &t.TerminalAt,
		); err != nil {
			return nil, 0, fmt.Errorf("postgres: scan recent attempt: %w", err)
		}
		attempts = append(attempts, t)
		lastSeq = seq
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("postgres: list recent attempts rows: %w", err)
	}

	next := int64(0)
	if len(attempts) == limit {
		next = lastSeq
	}
	return attempts, next, nil
}

// ListByState returns attempts currently in the given state, oldest first.
func (s *TradeStore) ListByState(ctx context.Context, state domain.TradeState) ([]domain.TradeAttempt, error) {
	query := `SELECT ` + attemptSelectCols + ` FROM trade_attempts WHERE state = $1 ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, state)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attempts by state %s: %w", state, err)
	}
	defer rows.Close()

	attempts, err := scanAttemptRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan attempts by state %s: %w", state, err)
	}
	return attempts, nil
}

// Aggregates folds the persisted terminal attempts into a summary: every
// terminal attempt counts, profit is confirmed realized profit net of all
// gas spent.
func (s *TradeStore) Aggregates(ctx context.Context) (domain.LedgerSummary, error) {
	const query = `
		SELECT
			COUNT(*) FILTER (WHERE terminal_at IS NOT NULL),
			COUNT(*) FILTER (WHERE state = 'confirmed'),
			COALESCE(SUM(realized_profit) FILTER (WHERE state = 'confirmed'), 0),
			COALESCE(SUM(gas_cost) FILTER (WHERE terminal_at IS NOT NULL), 0)
		FROM trade_attempts`

	var (
		sum   domain.LedgerSummary
		gross float64
	)
	err := s.pool.QueryRow(ctx, query).Scan(
		&sum.TotalTrades, &sum.SuccessfulTrades, &gross, &sum.TotalGasSpent,
	)
	if err != nil {
		return domain.LedgerSummary{}, fmt.Errorf("postgres: aggregate attempts: %w", err)
	}

	sum.TotalProfit = gross - sum.TotalGasSpent
	return sum, nil
}

// ListTerminalBefore returns terminal attempts whose terminal time is
// strictly before the cutoff, oldest first.
func (s *TradeStore) ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.TradeAttempt, error) {
	query := `SELECT ` + attemptSelectCols + ` FROM trade_attempts
		WHERE terminal_at IS NOT NULL AND terminal_at < $1
		ORDER BY terminal_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal attempts before %s: %w", before, err)
	}
	defer rows.Close()

	attempts, err := scanAttemptRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan terminal attempts: %w", err)
	}
	return attempts, nil
}

// DeleteTerminalBefore removes terminal attempts older than the cutoff.
// Transition rows go with them via the foreign key.
func (s *TradeStore) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM trade_attempts WHERE terminal_at IS NOT NULL AND terminal_at < $1`

	tag, err := s.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete terminal attempts before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
