package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/theatom/atombot/internal/chain"
	"github.com/theatom/atombot/internal/domain"
)

// settleTimeout bounds ledger writes issued after the run context is
// already cancelled, so shutdown cannot wedge on a dead store.
const settleTimeout = 5 * time.Second

// execute runs one attempt end to end. Terminal bookkeeping (slot release,
// breaker update, dashboard events) happens through the ledger's settle
// listeners, so every path out of here must either record a terminal
// transition or knowingly leave the attempt Submitted for reconciliation.
func (e *Engine) execute(ctx context.Context, op domain.Opportunity) {
	defer e.untrack(op.ID)

	log := e.logger.With(
		slog.String("opportunity_id", op.ID),
		slog.String("pair", op.Pair),
	)

	attempt := domain.TradeAttempt{
		ID:            uuid.New().String(),
		OpportunityID: op.ID,
		Pair:          op.Pair,
		BorrowAsset:   e.asset.Hex(),
		BorrowAmount:  op.TradeSize,
		State:         domain.TradeCreated,
		CreatedAt:     e.now().UTC(),
	}
	if err := e.ledger.Create(ctx, attempt); err != nil {
		log.Error("attempt create failed", slog.String("error", err.Error()))
		e.slots.Release(op.Pair) // no ledger row, so no settle callback will ever fire
		return
	}
	log = log.With(slog.String("trade_id", attempt.ID))

	amount := chain.ToBaseUnits(op.TradeSize, e.cfg.BorrowDecimals)
	route := chain.Route{Pair: op.Pair, BuyVenue: op.BuyVenue, SellVenue: op.SellVenue}

	// 1. Re-price on fresh quotes. Approval is already old news by the
	// time a worker picks the opportunity up.
	expected, err := e.revalidate(ctx, op)
	if err != nil {
		e.abort(ctx, log, &attempt, err)
		return
	}

	// 2. Project gas and refuse trades it would eat.
	gasQuote, err := e.projectGas(ctx, amount, route)
	if err != nil {
		e.abort(ctx, log, &attempt, err)
		return
	}
	if gasQuote >= expected {
		e.abort(ctx, log, &attempt, fmt.Errorf(
			"engine: projected gas %.4f against expected profit %.4f: %w",
			gasQuote, expected, domain.ErrInsufficientProfit))
		return
	}
	// The contract refuses to settle below this floor, so a landed trade
	// can lose at most its gas.
	route.MinProfit = chain.ToBaseUnits(gasQuote, e.cfg.BorrowDecimals)

	// 3. Broadcast, with bounded retries on transient errors.
	tx, tries, err := e.broadcast(ctx, log, amount, route)
	attempt.SubmitTries = tries
	if err != nil {
		if errors.Is(err, domain.ErrStaleOpportunity) {
			e.abort(ctx, log, &attempt, err)
			return
		}
		// An errored try may still have reached the network, so the
		// attempt passes through Submitted before it fails.
		attempt.FailReason = domain.Classify(err)
		if rerr := e.record(ctx, &attempt, domain.TradeSubmitted); rerr != nil {
			log.Error("submitted transition not recorded", slog.String("error", rerr.Error()))
		}
		e.settle(ctx, log, &attempt, domain.TradeFailed)
		log.Warn("attempt failed in submission",
			slog.Int("submit_tries", tries),
			slog.String("error", err.Error()),
		)
		return
	}

	attempt.TxHash = tx.Hash().Hex()
	if err := e.record(ctx, &attempt, domain.TradeSubmitted); err != nil {
		log.Error("submitted transition not recorded", slog.String("error", err.Error()))
	}
	e.events.Emit(ctx, domain.EventKindTradeSubmitted, domain.EventInfo, fmt.Sprintf(
		"trade %s submitted on %s (tx %s)", attempt.ID, op.Pair, attempt.TxHash))

	// 4. Wait for the chain to answer.
	e.await(ctx, log, &attempt)
}

// revalidate re-prices the opportunity on fresh quotes and returns the
// expected net profit in quote units after the flash fee and the slippage
// buffer. The spread must still exist between the same two venues.
func (e *Engine) revalidate(ctx context.Context, op domain.Opportunity) (float64, error) {
	pq, err := e.feed.Latest(ctx, op.Pair)
	if err != nil {
		return 0, fmt.Errorf("engine: refresh quotes: %w", err)
	}

	var buy, sell domain.Quote
	var haveBuy, haveSell bool
	for _, q := range pq.Quotes {
		switch q.Venue {
		case op.BuyVenue:
			buy, haveBuy = q, true
		case op.SellVenue:
			sell, haveSell = q, true
		}
	}
	if !haveBuy || !haveSell {
		return 0, fmt.Errorf("engine: venue quote gone at submission time: %w",
			domain.ErrStaleOpportunity)
	}
	if buy.Ask <= 0 || sell.Bid <= buy.Ask {
		return 0, fmt.Errorf("engine: spread closed (%s ask %.6f, %s bid %.6f): %w",
			op.BuyVenue, buy.Ask, op.SellVenue, sell.Bid, domain.ErrStaleOpportunity)
	}
	if depth := math.Min(buy.Depth, sell.Depth); depth > 0 && depth < op.TradeSize {
		return 0, fmt.Errorf("engine: depth %.2f below trade size %.2f: %w",
			depth, op.TradeSize, domain.ErrStaleOpportunity)
	}

	gross := (sell.Bid - buy.Ask) / buy.Ask * op.TradeSize
	net := gross - op.TradeSize*(e.cfg.FlashFeeRatio+e.cfg.SlippageBuffer)
	if net <= 0 {
		return 0, fmt.Errorf("engine: expected net %.4f on size %.2f after fees: %w",
			net, op.TradeSize, domain.ErrInsufficientProfit)
	}
	return net, nil
}

// projectGas prices the preflight gas estimate in quote units.
func (e *Engine) projectGas(ctx context.Context, amount *big.Int, route chain.Route) (float64, error) {
	costWei, err := e.chain.EstimateCost(ctx, e.asset, amount, route)
	if err != nil {
		return 0, err
	}
	return chain.WeiToQuote(costWei, e.cfg.GasQuoteRate), nil
}

// broadcast tries to get the transaction onto the network, up to
// SubmitRetries times with a fixed backoff between tries. Stale-route
// preflight reverts come back unretried; any other errored try may already
// have reached the network.
func (e *Engine) broadcast(ctx context.Context, log *slog.Logger, amount *big.Int, route chain.Route) (*types.Transaction, int, error) {
	var lastErr error
	for try := 1; try <= e.cfg.SubmitRetries; try++ {
		tx, err := e.chain.Submit(ctx, e.asset, amount, route)
		if err == nil {
			return tx, try, nil
		}
		if errors.Is(err, domain.ErrStaleOpportunity) {
			return nil, try, err
		}
		lastErr = err
		log.Warn("flash loan submission failed",
			slog.Int("try", try),
			slog.String("error", err.Error()),
		)
		if try == e.cfg.SubmitRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, try, fmt.Errorf("engine: submission cancelled: %w", ctx.Err())
		case <-time.After(e.cfg.RetryBackoff):
		}
	}
	return nil, e.cfg.SubmitRetries, fmt.Errorf(
		"engine: submission failed after %d tries: %w", e.cfg.SubmitRetries, lastErr)
}

// await resolves a submitted transaction to its terminal state.
func (e *Engine) await(ctx context.Context, log *slog.Logger, attempt *domain.TradeAttempt) {
	hash := common.HexToHash(attempt.TxHash)
	receipt, err := e.confirm.WaitReceipt(ctx, hash)
	if err == nil {
		e.finalize(ctx, log, attempt, receipt)
		return
	}

	switch {
	case ctx.Err() != nil:
		// Shutdown mid-wait. The transaction may still land; leave the
		// attempt Submitted for reconciliation at next boot.
		log.Warn("shutdown while awaiting receipt, attempt left for reconciliation",
			slog.String("tx", attempt.TxHash),
		)
	case errors.Is(err, domain.ErrReconciliation):
		// Confirm window lapsed. One last look before declaring failure,
		// in case the receipt raced the deadline.
		if receipt, rerr := e.confirm.Receipt(ctx, hash); rerr == nil {
			e.finalize(ctx, log, attempt, receipt)
			return
		}
		attempt.FailReason = domain.FailReconciliation
		e.settle(ctx, log, attempt, domain.TradeFailed)
		log.Warn("confirmation window lapsed", slog.String("tx", attempt.TxHash))
		e.events.Emit(ctx, domain.EventKindReconcile, domain.EventWarning, fmt.Sprintf(
			"trade %s unresolved after confirmation window (tx %s), marked failed",
			attempt.ID, attempt.TxHash))
	default:
		attempt.FailReason = domain.Classify(err)
		e.settle(ctx, log, attempt, domain.TradeFailed)
		log.Warn("receipt wait failed", slog.String("error", err.Error()))
	}
}

// finalize settles the attempt from its mined receipt.
func (e *Engine) finalize(ctx context.Context, log *slog.Logger, attempt *domain.TradeAttempt, receipt *types.Receipt) {
	attempt.GasCost = e.receiptGasCost(receipt)

	if receipt.Status != types.ReceiptStatusSuccessful {
		attempt.FailReason = domain.FailOnChainRevert
		e.settle(ctx, log, attempt, domain.TradeReverted)
		log.Warn("attempt reverted on-chain",
			slog.String("tx", attempt.TxHash),
			slog.Float64("gas_cost", attempt.GasCost),
		)
		return
	}

	if profit, ok := e.chain.ParseProfit(receipt); ok {
		attempt.RealizedProfit = chain.FromBaseUnits(profit, e.cfg.BorrowDecimals)
	} else {
		log.Warn("confirmed receipt missing profit event", slog.String("tx", attempt.TxHash))
	}
	e.settle(ctx, log, attempt, domain.TradeConfirmed)
	log.Info("attempt confirmed",
		slog.String("tx", attempt.TxHash),
		slog.Float64("realized_profit", attempt.RealizedProfit),
		slog.Float64("gas_cost", attempt.GasCost),
	)
}

// receiptGasCost prices the receipt's actual spend in quote units.
func (e *Engine) receiptGasCost(receipt *types.Receipt) float64 {
	if receipt.EffectiveGasPrice == nil {
		return 0
	}
	wei := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), receipt.EffectiveGasPrice)
	return chain.WeiToQuote(wei, e.cfg.GasQuoteRate)
}

// abort settles an attempt that never reached the network.
func (e *Engine) abort(ctx context.Context, log *slog.Logger, attempt *domain.TradeAttempt, cause error) {
	attempt.FailReason = domain.Classify(cause)
	e.settle(ctx, log, attempt, domain.TradeAborted)
	log.Info("attempt aborted",
		slog.String("reason", string(attempt.FailReason)),
		slog.String("error", cause.Error()),
	)
}

// settle records a terminal transition; the ledger's listeners then free
// the pair slot and update the breaker. A failed write frees the slot by
// hand so the pair cannot wedge.
func (e *Engine) settle(ctx context.Context, log *slog.Logger, attempt *domain.TradeAttempt, to domain.TradeState) {
	if err := e.record(ctx, attempt, to); err != nil {
		log.Error("terminal transition not recorded",
			slog.String("to", string(to)),
			slog.String("error", err.Error()),
		)
		e.slots.Release(attempt.Pair)
	}
}

// record writes one transition with the attempt's current field values as
// the snapshot. When the run context is already dead it swaps in a short
// grace window so settlement writes still reach the store.
func (e *Engine) record(ctx context.Context, attempt *domain.TradeAttempt, to domain.TradeState) error {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), settleTimeout)
		defer cancel()
	}

	from := attempt.State
	attempt.State = to
	if to.Terminal() && attempt.TerminalAt == nil {
		t := e.now().UTC()
		attempt.TerminalAt = &t
	}
	return e.ledger.Record(ctx, domain.TradeTransition{
		TradeID:    attempt.ID,
		From:       from,
		To:         to,
		Attempt:    *attempt,
		OccurredAt: e.now().UTC(),
	})
}
