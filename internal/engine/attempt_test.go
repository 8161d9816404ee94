package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theatom/atombot/internal/chain"
	"github.com/theatom/atombot/internal/domain"
)

func minedReceipt(status uint64) *types.Receipt {
	return &types.Receipt{
		Status:            status,
		GasUsed:           400000,
		EffectiveGasPrice: big.NewInt(1e10), // 0.004 native at rate 2000 = 8 quote units
	}
}

func TestEngine_ExecuteConfirmsProfitableTrade(t *testing.T) {
	h := newHarness(t, testConfig())
	h.confirm.waitReceipt = minedReceipt(types.ReceiptStatusSuccessful)
	h.chain.profit = big.NewInt(15_000_000) // 15.0 at 6 decimals
	h.chain.profitOK = true

	op := testOp("op-1")
	require.NoError(t, h.engine.Enqueue(context.Background(), op))
	h.engine.execute(context.Background(), op)

	require.Equal(t, []string{"created->submitted", "submitted->confirmed"}, h.ledger.edges())
	final := h.ledger.last().Attempt
	assert.Equal(t, domain.TradeConfirmed, final.State)
	assert.Equal(t, 1, final.SubmitTries)
	assert.Equal(t, h.chain.tx.Hash().Hex(), final.TxHash)
	assert.InDelta(t, 15.0, final.RealizedProfit, 1e-9)
	assert.InDelta(t, 8.0, final.GasCost, 1e-6)
	require.NotNil(t, final.TerminalAt)
	assert.Contains(t, h.events.emitted(), domain.EventKindTradeSubmitted)
	assert.Empty(t, h.slots.released, "settlement is the ledger's job, not a manual release")
	assert.Empty(t, h.engine.Active(), "settled opportunities leave the active set")
}

func TestEngine_ExecuteFailsAfterSubmitRetries(t *testing.T) {
	h := newHarness(t, testConfig())
	h.chain.submitErrs = []error{
		errors.New("connection reset by peer"),
		errors.New("connection reset by peer"),
		errors.New("connection reset by peer"),
	}

	h.engine.execute(context.Background(), testOp("op-1"))

	assert.Equal(t, 3, h.chain.submitCount(), "retries stop at the configured bound")
	require.Equal(t, []string{"created->submitted", "submitted->failed"}, h.ledger.edges())
	final := h.ledger.last().Attempt
	assert.Equal(t, domain.TradeFailed, final.State)
	assert.Equal(t, 3, final.SubmitTries)
	assert.Equal(t, domain.FailTransientNetwork, final.FailReason)
	assert.Empty(t, final.TxHash, "nothing ever reached the network")
	assert.NotContains(t, h.events.emitted(), domain.EventKindTradeSubmitted)
}

func TestEngine_ExecuteRecoversOnSecondTry(t *testing.T) {
	h := newHarness(t, testConfig())
	h.chain.submitErrs = []error{errors.New("nonce too low"), nil}
	h.confirm.waitReceipt = minedReceipt(types.ReceiptStatusSuccessful)
	h.chain.profit = big.NewInt(15_000_000)
	h.chain.profitOK = true

	h.engine.execute(context.Background(), testOp("op-1"))

	assert.Equal(t, 2, h.chain.submitCount())
	final := h.ledger.last().Attempt
	assert.Equal(t, domain.TradeConfirmed, final.State)
	assert.Equal(t, 2, final.SubmitTries)
}

func TestEngine_ExecuteAbortsWhenSpreadGone(t *testing.T) {
	h := newHarness(t, testConfig())
	pq := freshQuotes()
	pq.Quotes[1].Bid = 100.5 // sell side collapsed below the buy ask
	h.feed.pq = pq

	h.engine.execute(context.Background(), testOp("op-1"))

	require.Equal(t, []string{"created->aborted"}, h.ledger.edges())
	final := h.ledger.last().Attempt
	assert.Equal(t, domain.FailStaleOpportunity, final.FailReason)
	assert.Zero(t, h.chain.submitCount(), "no capital moves on a dead spread")
}

func TestEngine_ExecuteAbortsWhenVenueQuoteGone(t *testing.T) {
	h := newHarness(t, testConfig())
	pq := freshQuotes()
	pq.Quotes = pq.Quotes[:1] // sell venue stopped answering
	pq.Missing = []string{"sushiswap"}
	h.feed.pq = pq

	h.engine.execute(context.Background(), testOp("op-1"))

	require.Equal(t, []string{"created->aborted"}, h.ledger.edges())
	assert.Equal(t, domain.FailStaleOpportunity, h.ledger.last().Attempt.FailReason)
}

func TestEngine_ExecuteAbortsWhenDepthShrank(t *testing.T) {
	h := newHarness(t, testConfig())
	pq := freshQuotes()
	pq.Quotes[0].Depth = 200 // thinner than the 1000 trade size
	h.feed.pq = pq

	h.engine.execute(context.Background(), testOp("op-1"))

	require.Equal(t, []string{"created->aborted"}, h.ledger.edges())
	assert.Equal(t, domain.FailStaleOpportunity, h.ledger.last().Attempt.FailReason)
}

func TestEngine_ExecuteAbortsWhenGasEatsProfit(t *testing.T) {
	h := newHarness(t, testConfig())
	h.chain.estimate = big.NewInt(1e16) // 20 quote units against ~17.9 expected

	h.engine.execute(context.Background(), testOp("op-1"))

	require.Equal(t, []string{"created->aborted"}, h.ledger.edges())
	assert.Equal(t, domain.FailInsufficientProfit, h.ledger.last().Attempt.FailReason)
	assert.Zero(t, h.chain.submitCount())
}

func TestEngine_ExecuteAbortsOnStalePreflight(t *testing.T) {
	h := newHarness(t, testConfig())
	h.chain.submitErrs = []error{
		fmt.Errorf("chain: preflight revert: %w", domain.ErrStaleOpportunity),
	}

	h.engine.execute(context.Background(), testOp("op-1"))

	// A stale preflight never reached the network, so it aborts instead of
	// burning the remaining retries.
	assert.Equal(t, 1, h.chain.submitCount())
	require.Equal(t, []string{"created->aborted"}, h.ledger.edges())
	final := h.ledger.last().Attempt
	assert.Equal(t, domain.FailStaleOpportunity, final.FailReason)
	assert.Equal(t, 1, final.SubmitTries)
}

func TestEngine_ExecuteSetsMinProfitFloor(t *testing.T) {
	h := newHarness(t, testConfig())
	h.confirm.waitReceipt = minedReceipt(types.ReceiptStatusSuccessful)

	h.engine.execute(context.Background(), testOp("op-1"))

	h.chain.mu.Lock()
	routes := append([]chain.Route(nil), h.chain.routes...)
	h.chain.mu.Unlock()
	require.Len(t, routes, 1)
	require.NotNil(t, routes[0].MinProfit)
	// The floor is the projected gas cost (10 quote units) in base units.
	assert.InDelta(t, 10.0, chain.FromBaseUnits(routes[0].MinProfit, 6), 0.001)
}

func TestEngine_ExecuteRevertedOnChain(t *testing.T) {
	h := newHarness(t, testConfig())
	h.confirm.waitReceipt = minedReceipt(types.ReceiptStatusFailed)

	h.engine.execute(context.Background(), testOp("op-1"))

	require.Equal(t, []string{"created->submitted", "submitted->reverted"}, h.ledger.edges())
	final := h.ledger.last().Attempt
	assert.Equal(t, domain.FailOnChainRevert, final.FailReason)
	assert.InDelta(t, 8.0, final.GasCost, 1e-6, "the revert still burned its gas")
	assert.Zero(t, final.RealizedProfit)
}

func TestEngine_ExecuteConfirmedWithoutProfitEvent(t *testing.T) {
	h := newHarness(t, testConfig())
	h.confirm.waitReceipt = minedReceipt(types.ReceiptStatusSuccessful)
	h.chain.profitOK = false

	h.engine.execute(context.Background(), testOp("op-1"))

	final := h.ledger.last().Attempt
	assert.Equal(t, domain.TradeConfirmed, final.State)
	assert.Zero(t, final.RealizedProfit)
}

func TestEngine_ExecuteLastLookWinsReceiptRace(t *testing.T) {
	h := newHarness(t, testConfig())
	h.confirm.waitErr = fmt.Errorf("chain: no receipt within window: %w", domain.ErrReconciliation)
	h.confirm.receipts = []receiptResult{{receipt: minedReceipt(types.ReceiptStatusSuccessful)}}
	h.chain.profit = big.NewInt(15_000_000)
	h.chain.profitOK = true

	h.engine.execute(context.Background(), testOp("op-1"))

	final := h.ledger.last().Attempt
	assert.Equal(t, domain.TradeConfirmed, final.State)
	assert.InDelta(t, 15.0, final.RealizedProfit, 1e-9)
}

func TestEngine_ExecuteUnresolvedConfirmWindow(t *testing.T) {
	h := newHarness(t, testConfig())
	h.confirm.waitErr = fmt.Errorf("chain: no receipt within window: %w", domain.ErrReconciliation)

	h.engine.execute(context.Background(), testOp("op-1"))

	require.Equal(t, []string{"created->submitted", "submitted->failed"}, h.ledger.edges())
	final := h.ledger.last().Attempt
	assert.Equal(t, domain.FailReconciliation, final.FailReason)
	assert.Contains(t, h.events.emitted(), domain.EventKindReconcile)
}

func TestEngine_ExecuteReceiptWaitTransientFailure(t *testing.T) {
	h := newHarness(t, testConfig())
	h.confirm.waitErr = errors.New("rpc connection lost")

	h.engine.execute(context.Background(), testOp("op-1"))

	require.Equal(t, []string{"created->submitted", "submitted->failed"}, h.ledger.edges())
	assert.Equal(t, domain.FailTransientNetwork, h.ledger.last().Attempt.FailReason)
}

func TestEngine_ExecuteReleasesSlotWhenCreateFails(t *testing.T) {
	h := newHarness(t, testConfig())
	h.ledger.createErr = errors.New("connection refused")

	h.engine.execute(context.Background(), testOp("op-1"))

	assert.Equal(t, []string{"WETH/USDC"}, h.slots.released)
	assert.Empty(t, h.ledger.edges())
	assert.Zero(t, h.chain.submitCount())
}

func TestEngine_ExecuteReleasesSlotWhenSettleWriteFails(t *testing.T) {
	h := newHarness(t, testConfig())
	h.ledger.recordErr = errors.New("connection refused")
	pq := freshQuotes()
	pq.Quotes[1].Bid = 100.5
	h.feed.pq = pq

	h.engine.execute(context.Background(), testOp("op-1"))

	// The terminal write never landed, so no settle listener will ever fire;
	// the slot is handed back directly to keep the pair tradeable.
	assert.Equal(t, []string{"WETH/USDC"}, h.slots.released)
}
