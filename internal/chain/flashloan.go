package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/theatom/atombot/internal/domain"
)

// executorABIJSON is the on-chain arbitrage executor's surface: one entry
// point that takes out the flash loan and runs the route, and one event
// reporting the realized profit.
const executorABIJSON = `[
	{"type":"function","name":"requestFlashLoan","stateMutability":"nonpayable","inputs":[
		{"name":"asset","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"params","type":"bytes"}
	],"outputs":[]},
	{"type":"event","name":"ArbitrageExecuted","anonymous":false,"inputs":[
		{"name":"asset","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"profit","type":"uint256","indexed":false}
	]}
]`

// Route describes the swap the executor performs inside the flash loan.
// MinProfit is enforced on-chain: the contract reverts below it, so a route
// that went stale in flight costs gas but never loses principal.
type Route struct {
	Pair      string
	BuyVenue  string
	SellVenue string
	MinProfit *big.Int
}

// Executor submits flash-loan arbitrage transactions to the on-chain
// executor contract and decodes its execution results.
type Executor struct {
	client     *Client
	signer     *Signer
	parsed     abi.ABI
	paramsArgs abi.Arguments
	contract   common.Address
	logger     *slog.Logger
}

// NewExecutor binds an Executor to the given contract address.
func NewExecutor(client *Client, signer *Signer, contract string, logger *slog.Logger) (*Executor, error) {
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("chain: invalid executor contract address %q", contract)
	}

	parsed, err := abi.JSON(strings.NewReader(executorABIJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: parse executor abi: %w", err)
	}

	stringT, err := abi.NewType("string", "", nil)
	if err != nil {
		return nil, fmt.Errorf("chain: build params type: %w", err)
	}
	uint256T, err := abi.NewType("uint256", "", nil)
	if err != nil {
		return nil, fmt.Errorf("chain: build params type: %w", err)
	}

	return &Executor{
		client: client,
		signer: signer,
		parsed: parsed,
		paramsArgs: abi.Arguments{
			{Name: "pair", Type: stringT},
			{Name: "buyVenue", Type: stringT},
			{Name: "sellVenue", Type: stringT},
			{Name: "minProfit", Type: uint256T},
		},
		contract: common.HexToAddress(contract),
		logger:   logger.With(slog.String("component", "executor")),
	}, nil
}

// Contract returns the bound executor contract address.
func (e *Executor) Contract() common.Address {
	return e.contract
}

// CallData encodes the requestFlashLoan call for the given borrow and route.
func (e *Executor) CallData(asset common.Address, amount *big.Int, route Route) ([]byte, error) {
	minProfit := route.MinProfit
	if minProfit == nil {
		minProfit = big.NewInt(0)
	}

	params, err := e.paramsArgs.Pack(route.Pair, route.BuyVenue, route.SellVenue, minProfit)
	if err != nil {
		return nil, fmt.Errorf("chain: pack route params: %w", err)
	}

	data, err := e.parsed.Pack("requestFlashLoan", asset, amount, params)
	if err != nil {
		return nil, fmt.Errorf("chain: pack requestFlashLoan: %w", err)
	}
	return data, nil
}

// EstimateCost preflights the flash-loan call and projects its gas spend in
// wei at current fee-cap levels, with the same headroom Submit applies. A
// reverting preflight maps to domain.ErrStaleOpportunity.
func (e *Executor) EstimateCost(ctx context.Context, asset common.Address, amount *big.Int, route Route) (*big.Int, error) {
	data, err := e.CallData(asset, amount, route)
	if err != nil {
		return nil, err
	}

	from := e.signer.Address()
	gas, err := e.client.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &e.contract,
		Data: data,
	})
	if err != nil {
		if strings.Contains(err.Error(), "execution reverted") {
			return nil, fmt.Errorf("chain: flash loan preflight reverted: %w", domain.ErrStaleOpportunity)
		}
		return nil, err
	}
	gas += gas / 5

	_, feeCap, err := e.client.SuggestFees(ctx)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(gas), feeCap), nil
}

// Submit builds, signs, and broadcasts the flash-loan transaction. A
// preflight gas estimate that reverts maps to domain.ErrStaleOpportunity:
// the route no longer clears its minimum profit, so there is nothing to
// retry.
func (e *Executor) Submit(ctx context.Context, asset common.Address, amount *big.Int, route Route) (*types.Transaction, error) {
	data, err := e.CallData(asset, amount, route)
	if err != nil {
		return nil, err
	}

	from := e.signer.Address()

	nonce, err := e.client.PendingNonce(ctx, from)
	if err != nil {
		return nil, err
	}
	tipCap, feeCap, err := e.client.SuggestFees(ctx)
	if err != nil {
		return nil, err
	}

	gas, err := e.client.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &e.contract,
		Data: data,
	})
	if err != nil {
		if strings.Contains(err.Error(), "execution reverted") {
			return nil, fmt.Errorf("chain: flash loan preflight reverted: %w", domain.ErrStaleOpportunity)
		}
		return nil, err
	}
	gas += gas / 5 // headroom for state drift between estimate and inclusion

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.client.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &e.contract,
		Data:      data,
	})

	signed, err := e.signer.SignTx(tx)
	if err != nil {
		return nil, err
	}

	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "flash loan submitted",
		slog.String("tx", signed.Hash().Hex()),
		slog.String("pair", route.Pair),
		slog.String("buy_venue", route.BuyVenue),
		slog.String("sell_venue", route.SellVenue),
		slog.Uint64("gas_limit", gas),
	)
	return signed, nil
}

// ParseProfit extracts the realized profit (in borrow-asset base units) from
// the ArbitrageExecuted event in a successful receipt. It returns false when
// the receipt carries no such event.
func (e *Executor) ParseProfit(receipt *types.Receipt) (*big.Int, bool) {
	ev, ok := e.parsed.Events["ArbitrageExecuted"]
	if !ok {
		return nil, false
	}

	for _, lg := range receipt.Logs {
		if lg.Address != e.contract || len(lg.Topics) == 0 || lg.Topics[0] != ev.ID {
			continue
		}
		out, err := e.parsed.Unpack("ArbitrageExecuted", lg.Data)
		if err != nil || len(out) != 2 {
			continue
		}
		profit, ok := out[1].(*big.Int)
		if !ok {
			continue
		}
		return profit, true
	}
	return nil, false
}
