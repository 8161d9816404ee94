// Package chain wraps the JSON-RPC connection to the EVM network: fee
// estimation, transaction submission, and receipt tracking. It is mechanical
// on purpose; deciding what a failure means is the engine's job.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/theatom/atombot/internal/domain"
)

// ClientConfig holds connection and fee policy parameters.
type ClientConfig struct {
	RPCURL          string
	ChainID         int64
	MaxGasPriceGwei float64
	ConfirmTimeout  time.Duration
	ReceiptPoll     time.Duration
}

// Client wraps an ethclient connection.
type Client struct {
	eth     *ethclient.Client
	cfg     ClientConfig
	chainID *big.Int
	logger  *slog.Logger
}

// Dial connects to the RPC endpoint and verifies it serves the configured
// chain.
func Dial(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	id, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: query chain id: %w", err)
	}
	if id.Int64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("chain: endpoint serves chain %d, config expects %d", id.Int64(), cfg.ChainID)
	}

	return &Client{
		eth:     eth,
		cfg:     cfg,
		chainID: id,
		logger:  logger.With(slog.String("component", "chain")),
	}, nil
}

// ChainID returns the connected chain's ID.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Close tears down the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// BlockNumber returns the current head height. Used as the health probe.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: block number: %w", err)
	}
	return n, nil
}

// PendingNonce returns the next nonce for the given account including
// pending transactions.
func (c *Client) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	n, err := c.eth.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("chain: pending nonce %s: %w", addr, err)
	}
	return n, nil
}

// SuggestFees returns an EIP-1559 tip cap and fee cap for the next block.
// It fails when the resulting fee cap exceeds the configured gas ceiling;
// waiting out a fee spike is cheaper than paying it.
func (c *Client) SuggestFees(ctx context.Context) (tipCap, feeCap *big.Int, err error) {
	tipCap, err = c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: suggest tip cap: %w", err)
	}

	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: head header: %w", err)
	}

	// feeCap = 2*baseFee + tip absorbs one full base-fee doubling.
	feeCap = new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tipCap)

	ceiling := GweiToWei(c.cfg.MaxGasPriceGwei)
	if ceiling.Sign() > 0 && feeCap.Cmp(ceiling) > 0 {
		return nil, nil, fmt.Errorf("chain: fee cap %s wei exceeds ceiling %s wei", feeCap, ceiling)
	}
	return tipCap, feeCap, nil
}

// EstimateGas estimates gas for the given call.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := c.eth.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("chain: estimate gas: %w", err)
	}
	return gas, nil
}

// SendTransaction broadcasts a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("chain: send transaction %s: %w", tx.Hash(), err)
	}
	return nil
}

// WaitReceipt polls for the transaction receipt until the confirm timeout.
// When the timeout lapses with the outcome still unknown it returns an error
// wrapping domain.ErrReconciliation.
func (c *Client) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	deadline := time.NewTimer(c.cfg.ConfirmTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.ReceiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			// RPC hiccup; keep polling until the deadline decides.
			c.logger.WarnContext(ctx, "receipt poll failed",
				slog.String("tx", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("chain: no receipt for %s after %s: %w",
				hash.Hex(), c.cfg.ConfirmTimeout, domain.ErrReconciliation)
		case <-ticker.C:
		}
	}
}

// Receipt performs a single receipt lookup. It returns domain.ErrNotFound
// when the transaction has not been mined.
func (c *Client) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("chain: receipt %s: %w", hash.Hex(), err)
	}
	return receipt, nil
}

// TransactionPending reports whether the transaction is known to the network
// and still pending. Unknown transactions return domain.ErrNotFound.
func (c *Client) TransactionPending(ctx context.Context, hash common.Hash) (bool, error) {
	_, pending, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return false, domain.ErrNotFound
		}
		return false, fmt.Errorf("chain: transaction %s: %w", hash.Hex(), err)
	}
	return pending, nil
}
