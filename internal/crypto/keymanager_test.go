package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptKey_RoundTrip(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "correct horse battery staple")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)
}

func TestEncryptKey_AcceptsHexPrefix(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "pw")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "pw")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got, "the stored key is normalised without the prefix")
}

func TestEncryptKey_Validation(t *testing.T) {
	t.Run("empty password", func(t *testing.T) {
		_, err := EncryptKey(testKeyHex, "")
		assert.ErrorContains(t, err, "password")
	})

	t.Run("invalid hex", func(t *testing.T) {
		_, err := EncryptKey("not-hex", "pw")
		assert.ErrorContains(t, err, "invalid private key hex")
	})

	t.Run("wrong length", func(t *testing.T) {
		_, err := EncryptKey("deadbeef", "pw")
		assert.ErrorContains(t, err, "expected 32-byte key")
	})
}

func TestDecryptKey_WrongPassword(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "right")
	require.NoError(t, err)

	_, err = DecryptKey(blob, "wrong")
	assert.ErrorContains(t, err, "decryption failed")
}

func TestDecryptKey_UnsupportedVersion(t *testing.T) {
	_, err := DecryptKey([]byte(`{"version":99,"salt":"","nonce":"","ciphertext":""}`), "pw")
	assert.ErrorContains(t, err, "unsupported version")
}

func TestLoadKey_RawTakesPrecedence(t *testing.T) {
	got, err := LoadKey(KeyConfig{
		RawPrivateKey:    "0x" + testKeyHex,
		EncryptedKeyPath: "/nonexistent/key.json",
	})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)
}

func TestLoadKey_RejectsBadRawKey(t *testing.T) {
	_, err := LoadKey(KeyConfig{RawPrivateKey: "zz-not-hex"})
	assert.ErrorContains(t, err, "invalid private key hex")
}

func TestLoadKey_RejectsShortRawKey(t *testing.T) {
	_, err := LoadKey(KeyConfig{RawPrivateKey: "deadbeef"})
	assert.ErrorContains(t, err, "expected 32-byte key")
}

func TestLoadKey_FromEncryptedFile(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "pw")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "wallet.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)
}

func TestLoadKey_NoSourceConfigured(t *testing.T) {
	_, err := LoadKey(KeyConfig{})
	assert.ErrorContains(t, err, "no private key source")
}
