// Package crypto manages the execution wallet key: encrypting it at rest
// and resolving it from its configured source at startup.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// kdfIterations follows current OWASP guidance for PBKDF2-HMAC-SHA256.
	kdfIterations = 600_000
	saltLen       = 16
	aesKeyLen     = 32
	fileVersion   = 1
)

// kdfParams records how the file's encryption key was derived, so the
// iteration count can be raised later without breaking old files.
type kdfParams struct {
	Salt       string `json:"salt"` // base64
	Iterations int    `json:"iterations"`
}

// keyFile is the on-disk envelope for an encrypted private key.
type keyFile struct {
	Version    int       `json:"version"`
	KDF        kdfParams `json:"kdf"`
	Nonce      string    `json:"nonce"`      // base64
	Ciphertext string    `json:"ciphertext"` // base64
}

// KeyConfig carries the information LoadKey needs to resolve a private key.
// Populate the fields from environment variables or a config file.
type KeyConfig struct {
	// RawPrivateKey is the hex-encoded key, with or without an 0x prefix.
	// When set it wins over every other source.
	RawPrivateKey string

	// EncryptedKeyPath points at a file produced by EncryptKey.
	EncryptedKeyPath string

	// KeyPassword decrypts the file at EncryptedKeyPath.
	KeyPassword string
}

// normalizeKeyHex strips an optional 0x prefix and checks that the
// remainder decodes to a 32-byte secp256k1 scalar.
func normalizeKeyHex(privateKeyHex string) (string, []byte, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return "", nil, fmt.Errorf("crypto: invalid private key hex: %w", err)
	}
	if len(raw) != 32 {
		return "", nil, fmt.Errorf("crypto: expected 32-byte key, got %d bytes", len(raw))
	}
	return keyHex, raw, nil
}

// gcmFor derives the AES-256 key from the password and wraps it in GCM.
func gcmFor(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// EncryptKey seals a hex-encoded private key under the password with
// PBKDF2-derived AES-256-GCM and returns the JSON envelope for disk.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	_, raw, err := normalizeKeyHex(privateKeyHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := gcmFor(password, salt, kdfIterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	env := keyFile{
		Version: fileVersion,
		KDF: kdfParams{
			Salt:       base64.StdEncoding.EncodeToString(salt),
			Iterations: kdfIterations,
		},
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, raw, nil)),
	}
	return json.MarshalIndent(env, "", "  ")
}

// DecryptKey opens an EncryptKey envelope, returning the hex-encoded
// private key without the 0x prefix.
func DecryptKey(envelope []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var env keyFile
	if err := json.Unmarshal(envelope, &env); err != nil {
		return "", fmt.Errorf("crypto: parsing encrypted key JSON: %w", err)
	}
	if env.Version != fileVersion {
		return "", fmt.Errorf("crypto: unsupported version %d", env.Version)
	}
	if env.KDF.Iterations <= 0 {
		return "", fmt.Errorf("crypto: invalid KDF iteration count %d", env.KDF.Iterations)
	}

	salt, err := base64.StdEncoding.DecodeString(env.KDF.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := gcmFor(password, salt, env.KDF.Iterations)
	if err != nil {
		return "", err
	}
	raw, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// LoadKey resolves the execution key. A raw hex key wins, then an
// encrypted key file; with neither configured it fails.
func LoadKey(cfg KeyConfig) (string, error) {
	if cfg.RawPrivateKey != "" {
		keyHex, _, err := normalizeKeyHex(cfg.RawPrivateKey)
		if err != nil {
			return "", err
		}
		return keyHex, nil
	}

	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: reading encrypted key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}

	return "", errors.New("crypto: no private key source configured (set RawPrivateKey or EncryptedKeyPath)")
}
