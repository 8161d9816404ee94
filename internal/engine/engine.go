// Package engine executes approved opportunities as flash-loan trade
// attempts and drives each one to a terminal state. It owns the attempt
// state machine end to end: everything between gate approval and the
// ledger's terminal record happens here.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/theatom/atombot/internal/chain"
	"github.com/theatom/atombot/internal/domain"
)

// ErrQueueFull is returned by Enqueue when the backlog is at capacity. The
// caller should release the opportunity's in-flight slot and move on; a
// spread that survives will be detected again on the next scan.
var ErrQueueFull = errors.New("execution queue full")

// queueDepth bounds the backlog between gate approval and worker pickup.
const queueDepth = 64

// Config holds execution parameters.
type Config struct {
	// Workers is the number of concurrent execution workers.
	Workers int
	// BorrowAsset is the flash-loaned token contract address.
	BorrowAsset string
	// BorrowDecimals is the borrow asset's ERC-20 decimals.
	BorrowDecimals int
	// SubmitRetries bounds total broadcast tries per attempt.
	SubmitRetries int
	// RetryBackoff is the pause between broadcast tries.
	RetryBackoff time.Duration
	// FlashFeeRatio is the lending pool's flash-loan fee.
	FlashFeeRatio float64
	// SlippageBuffer shaves the expected edge before the profitability
	// re-check to absorb movement between approval and send.
	SlippageBuffer float64
	// GasQuoteRate converts native-token gas spend into quote units.
	GasQuoteRate float64
	// DedupTTL is how long consumed opportunity IDs are remembered.
	DedupTTL time.Duration
}

// QuoteSource supplies fresh quotes for the pre-send re-validation. The
// feed adapter satisfies it.
type QuoteSource interface {
	Latest(ctx context.Context, pair string) (domain.PairQuotes, error)
}

// Submitter prices and broadcasts flash-loan transactions. *chain.Executor
// satisfies it.
type Submitter interface {
	EstimateCost(ctx context.Context, asset common.Address, amount *big.Int, route chain.Route) (*big.Int, error)
	Submit(ctx context.Context, asset common.Address, amount *big.Int, route chain.Route) (*types.Transaction, error)
	ParseProfit(receipt *types.Receipt) (*big.Int, bool)
}

// Confirmer resolves transaction outcomes. *chain.Client satisfies it.
type Confirmer interface {
	WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	TransactionPending(ctx context.Context, hash common.Hash) (bool, error)
}

// Recorder is the ledger surface the engine writes through.
type Recorder interface {
	Create(ctx context.Context, attempt domain.TradeAttempt) error
	Record(ctx context.Context, tr domain.TradeTransition) error
	InState(ctx context.Context, state domain.TradeState) ([]domain.TradeAttempt, error)
}

// Slots adjusts the gate's per-pair in-flight accounting outside the normal
// settle callback: Release when an attempt never reaches the ledger,
// Reserve when reconciliation re-adopts a still-pending attempt at boot.
type Slots interface {
	Reserve(pair string)
	Release(pair string)
}

// EventSink receives operator-facing events.
type EventSink interface {
	Emit(ctx context.Context, kind string, level domain.EventLevel, message string) domain.LogEvent
}

// AuditSink records reconciliation outcomes for the audit trail. May be nil.
type AuditSink interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// Engine consumes approved opportunities from a bounded queue with a fixed
// worker pool. Same-pair execution never overlaps because the gate
// serializes it upstream; the workers only add cross-pair concurrency.
type Engine struct {
	cfg     Config
	feed    QuoteSource
	chain   Submitter
	confirm Confirmer
	ledger  Recorder
	slots   Slots
	events  EventSink
	audit   AuditSink
	logger  *slog.Logger
	now     func() time.Time

	asset common.Address
	queue chan domain.Opportunity
	dedup *dedup

	mu     sync.Mutex
	active map[string]domain.Opportunity
}

// Deps bundles the engine's collaborators. Audit may be nil.
type Deps struct {
	Feed    QuoteSource
	Chain   Submitter
	Confirm Confirmer
	Ledger  Recorder
	Slots   Slots
	Events  EventSink
	Audit   AuditSink
	Logger  *slog.Logger
}

// New creates an Engine.
func New(cfg Config, d Deps) (*Engine, error) {
	if !common.IsHexAddress(cfg.BorrowAsset) {
		return nil, fmt.Errorf("engine: invalid borrow asset address %q", cfg.BorrowAsset)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.SubmitRetries <= 0 {
		cfg.SubmitRetries = 1
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 2 * time.Minute
	}
	return &Engine{
		cfg:     cfg,
		feed:    d.Feed,
		chain:   d.Chain,
		confirm: d.Confirm,
		ledger:  d.Ledger,
		slots:   d.Slots,
		events:  d.Events,
		audit:   d.Audit,
		logger:  d.Logger.With(slog.String("component", "engine")),
		now:     time.Now,
		asset:   common.HexToAddress(cfg.BorrowAsset),
		queue:   make(chan domain.Opportunity, queueDepth),
		dedup:   newDedup(cfg.DedupTTL),
		active:  make(map[string]domain.Opportunity),
	}, nil
}

// Enqueue hands an approved opportunity to the worker pool. It implements
// the scanner's ExecutionSink. A duplicate or over-capacity enqueue returns
// an error and consumes nothing; the caller still holds the gate slot and
// must release it.
func (e *Engine) Enqueue(ctx context.Context, op domain.Opportunity) error {
	if e.dedup.Consume(op.ID) {
		return fmt.Errorf("engine: opportunity %s: %w", op.ID, domain.ErrAlreadyExists)
	}
	select {
	case e.queue <- op:
		e.track(op)
		return nil
	default:
		return fmt.Errorf("engine: opportunity %s: %w", op.ID, ErrQueueFull)
	}
}

// Run starts the worker pool and blocks until ctx is cancelled. Whatever is
// still queued on the way out is logged and dropped; nothing about a queued
// opportunity has been persisted yet.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started",
		slog.Int("workers", e.cfg.Workers),
		slog.String("borrow_asset", e.asset.Hex()),
	)
	defer e.logger.Info("engine stopped")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < e.cfg.Workers; i++ {
		g.Go(func() error { return e.worker(ctx) })
	}
	g.Go(func() error { return e.cleanupLoop(ctx) })

	err := g.Wait()
	e.drainQueue()
	return err
}

func (e *Engine) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case op := <-e.queue:
			e.execute(ctx, op)
		}
	}
}

// cleanupLoop garbage-collects the dedup window.
func (e *Engine) cleanupLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.dedup.Cleanup()
		}
	}
}

// drainQueue empties the backlog after shutdown, releasing the gate slots
// the dropped opportunities were still holding.
func (e *Engine) drainQueue() {
	for {
		select {
		case op := <-e.queue:
			e.logger.Warn("dropping queued opportunity on shutdown",
				slog.String("opportunity_id", op.ID),
				slog.String("pair", op.Pair),
			)
			e.untrack(op.ID)
			e.slots.Release(op.Pair)
		default:
			return
		}
	}
}

func (e *Engine) track(op domain.Opportunity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active[op.ID] = op
}

func (e *Engine) untrack(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, id)
}

// Active returns opportunities approved but not yet settled, newest first.
// The dashboard's opportunities panel reads this.
func (e *Engine) Active() []domain.Opportunity {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Opportunity, 0, len(e.active))
	for _, op := range e.active {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	return out
}
