package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPrivKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestNewSigner_DerivesStableAddress(t *testing.T) {
	s, err := NewSigner(testPrivKey, big.NewInt(1))
	require.NoError(t, err)
	assert.NotEqual(t, common.Address{}, s.Address())

	// The 0x prefix is cosmetic; the derived wallet is the same.
	prefixed, err := NewSigner("0x"+testPrivKey, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, s.Address(), prefixed.Address())
}

func TestNewSigner_RejectsBadKey(t *testing.T) {
	_, err := NewSigner("not-a-key", big.NewInt(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid private key")
}

func TestSigner_SignTxRecoversSender(t *testing.T) {
	chainID := big.NewInt(137)
	s, err := NewSigner(testPrivKey, chainID)
	require.NoError(t, err)

	to := common.HexToAddress(testContract)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     3,
		GasTipCap: big.NewInt(2e9),
		GasFeeCap: big.NewInt(40e9),
		Gas:       500000,
		To:        &to,
	})

	signed, err := s.SignTx(tx)
	require.NoError(t, err)

	from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), from, "the signature must recover to the execution wallet")
}
