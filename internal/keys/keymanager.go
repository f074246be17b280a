// Package keys resolves the signer's private key, either from a raw hex
// value or from a password-encrypted key file, and derives the signer
// identity used for nonce scoping and transaction signing.
package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"

	"github.com/vegas-max/Titan2.0-sub003/internal/domain"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	// currentVersion is the encrypted-key JSON schema version.
	currentVersion = 1
)

// encryptedKeyJSON is the on-disk format for an encrypted private key.
type encryptedKeyJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// KeyConfig carries the information Load needs to resolve a private key.
type KeyConfig struct {
	// RawPrivateKey is the hex-encoded private key, with or without 0x
	// prefix. If non-empty, Load uses it directly.
	RawPrivateKey string

	// EncryptedKeyPath is the path to a JSON file produced by Encrypt.
	EncryptedKeyPath string

	// KeyPassword decrypts the file at EncryptedKeyPath.
	KeyPassword string

	// ExpectedAddress, when non-empty, must match the address derived from
	// the resolved key. Catches a pasted key that belongs to the wrong
	// wallet before it scopes nonces or signs anything.
	ExpectedAddress string
}

// Encrypt encrypts a hex-encoded private key with a password using
// PBKDF2-HMAC-SHA256 key derivation and AES-256-GCM authenticated
// encryption, returning the JSON blob for writing to disk.
func Encrypt(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("keys: password must not be empty")
	}

	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("keys: invalid private key hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("keys: expected 32-byte key, got %d bytes", len(keyBytes))
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("keys: generating salt: %w", err)
	}
	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("keys: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keys: creating GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("keys: generating nonce: %w", err)
	}

	out := encryptedKeyJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// Decrypt decrypts a JSON blob produced by Encrypt, returning the
// hex-encoded private key without 0x prefix.
func Decrypt(encryptedJSON []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("keys: password must not be empty")
	}

	var stored encryptedKeyJSON
	if err := json.Unmarshal(encryptedJSON, &stored); err != nil {
		return "", fmt.Errorf("keys: parsing encrypted key JSON: %w", err)
	}
	if stored.Version != currentVersion {
		return "", fmt.Errorf("keys: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", fmt.Errorf("keys: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", fmt.Errorf("keys: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("keys: decoding ciphertext: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return "", fmt.Errorf("keys: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("keys: creating GCM: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("keys: decryption failed (wrong password?): %w", err)
	}
	return hex.EncodeToString(plaintext), nil
}

// Load resolves an ECDSA signing key from the configuration. A raw key takes
// precedence over an encrypted key file.
func Load(cfg KeyConfig) (*ecdsa.PrivateKey, error) {
	var keyHex string
	switch {
	case cfg.RawPrivateKey != "":
		keyHex = strings.TrimPrefix(cfg.RawPrivateKey, "0x")
	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("keys: reading encrypted key file: %w", err)
		}
		keyHex, err = Decrypt(data, cfg.KeyPassword)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("keys: no private key source configured (set RawPrivateKey or EncryptedKeyPath)")
	}

	key, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("keys: parse private key: %w", err)
	}
	if cfg.ExpectedAddress != "" {
		derived := ethcrypto.PubkeyToAddress(key.PublicKey)
		if derived != common.HexToAddress(cfg.ExpectedAddress) {
			return nil, fmt.Errorf("keys: key resolves to %s, configured address is %s: %w",
				derived.Hex(), cfg.ExpectedAddress, domain.ErrSignerMismatch)
		}
	}
	return key, nil
}

// Address derives the signer address from a private key.
func Address(key *ecdsa.PrivateKey) common.Address {
	return ethcrypto.PubkeyToAddress(key.PublicKey)
}
