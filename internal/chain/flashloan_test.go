package chain

import (
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testContract = "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"
	testAsset    = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testExecutor builds an Executor without a live client; CallData and
// ParseProfit never touch the network.
func testExecutor(t *testing.T) *Executor {
	t.Helper()
	e, err := NewExecutor(nil, nil, testContract, testLogger())
	require.NoError(t, err)
	return e
}

func TestNewExecutor_RejectsBadContract(t *testing.T) {
	_, err := NewExecutor(nil, nil, "not-an-address", testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid executor contract")
}

func TestExecutor_CallDataEncodesRoute(t *testing.T) {
	e := testExecutor(t)
	asset := common.HexToAddress(testAsset)
	amount := big.NewInt(1_000_000_000) // 1000.0 at 6 decimals
	route := Route{
		Pair:      "WETH/USDC",
		BuyVenue:  "uniswap_v2",
		SellVenue: "sushiswap",
		MinProfit: big.NewInt(10_000_000),
	}

	data, err := e.CallData(asset, amount, route)
	require.NoError(t, err)

	method := e.parsed.Methods["requestFlashLoan"]
	require.Equal(t, method.ID, data[:4], "selector must match requestFlashLoan")

	// Decode back through the same ABI to prove the contract would see the
	// route we meant to send.
	outer, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, outer, 3)
	assert.Equal(t, asset, outer[0])
	assert.Zero(t, amount.Cmp(outer[1].(*big.Int)))

	inner, err := e.paramsArgs.Unpack(outer[2].([]byte))
	require.NoError(t, err)
	require.Len(t, inner, 4)
	assert.Equal(t, "WETH/USDC", inner[0])
	assert.Equal(t, "uniswap_v2", inner[1])
	assert.Equal(t, "sushiswap", inner[2])
	assert.Zero(t, route.MinProfit.Cmp(inner[3].(*big.Int)))
}

func TestExecutor_CallDataDefaultsMinProfitToZero(t *testing.T) {
	e := testExecutor(t)

	data, err := e.CallData(common.HexToAddress(testAsset), big.NewInt(1), Route{
		Pair:      "WETH/USDC",
		BuyVenue:  "uniswap_v2",
		SellVenue: "sushiswap",
	})
	require.NoError(t, err)

	outer, err := e.parsed.Methods["requestFlashLoan"].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	inner, err := e.paramsArgs.Unpack(outer[2].([]byte))
	require.NoError(t, err)
	assert.Zero(t, inner[3].(*big.Int).Sign())
}

// profitLog builds an ArbitrageExecuted log as the executor contract emits it.
func profitLog(t *testing.T, e *Executor, addr common.Address, amount, profit *big.Int) *types.Log {
	t.Helper()
	ev := e.parsed.Events["ArbitrageExecuted"]
	data, err := ev.Inputs.NonIndexed().Pack(amount, profit)
	require.NoError(t, err)
	return &types.Log{
		Address: addr,
		Topics: []common.Hash{
			ev.ID,
			common.HexToAddress(testAsset).Hash(),
		},
		Data: data,
	}
}

func TestExecutor_ParseProfitReadsExecutedEvent(t *testing.T) {
	e := testExecutor(t)
	receipt := &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		Logs: []*types.Log{
			profitLog(t, e, e.contract, big.NewInt(1_000_000_000), big.NewInt(15_000_000)),
		},
	}

	profit, ok := e.ParseProfit(receipt)
	require.True(t, ok)
	assert.Zero(t, profit.Cmp(big.NewInt(15_000_000)))
}

func TestExecutor_ParseProfitIgnoresForeignLogs(t *testing.T) {
	e := testExecutor(t)

	t.Run("no logs", func(t *testing.T) {
		_, ok := e.ParseProfit(&types.Receipt{})
		assert.False(t, ok)
	})

	t.Run("other contract", func(t *testing.T) {
		other := common.HexToAddress("0x000000000000000000000000000000000000bEEF")
		receipt := &types.Receipt{
			Logs: []*types.Log{
				profitLog(t, e, other, big.NewInt(1), big.NewInt(2)),
			},
		}
		_, ok := e.ParseProfit(receipt)
		assert.False(t, ok)
	})

	t.Run("other event", func(t *testing.T) {
		receipt := &types.Receipt{
			Logs: []*types.Log{{
				Address: e.contract,
				Topics:  []common.Hash{common.HexToHash("0x01")},
			}},
		}
		_, ok := e.ParseProfit(receipt)
		assert.False(t, ok)
	})

	t.Run("skips foreign then reads own", func(t *testing.T) {
		other := common.HexToAddress("0x000000000000000000000000000000000000bEEF")
		receipt := &types.Receipt{
			Logs: []*types.Log{
				profitLog(t, e, other, big.NewInt(1), big.NewInt(2)),
				profitLog(t, e, e.contract, big.NewInt(1_000_000_000), big.NewInt(9_000_000)),
			},
		}
		profit, ok := e.ParseProfit(receipt)
		require.True(t, ok)
		assert.Zero(t, profit.Cmp(big.NewInt(9_000_000)))
	})
}
