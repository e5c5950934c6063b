// Package crypto handles the liquidator's wallet seed, request signing and
// gateway authentication.
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
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	seedLen          = 32
	currentVersion   = 1
)

// sealedSeed is the on-disk format for an encrypted wallet seed.
type sealedSeed struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// SeedConfig tells LoadSeed where the wallet seed comes from.
type SeedConfig struct {
	// RawSeed is a hex seed (optional 0x prefix). Takes precedence.
	RawSeed string
	// SealedPath is a file written by SealSeed.
	SealedPath string
	Password   string
}

// SealSeed encrypts a 32-byte hex wallet seed with PBKDF2-HMAC-SHA256 and
// AES-256-GCM and returns the JSON to write to disk.
func SealSeed(seedHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	seed, err := decodeSeed(seedHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	return json.MarshalIndent(sealedSeed{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, seed, nil)),
	}, "", "  ")
}

// OpenSeed reverses SealSeed and returns the hex seed without prefix.
func OpenSeed(sealed []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var stored sealedSeed
	if err := json.Unmarshal(sealed, &stored); err != nil {
		return "", fmt.Errorf("crypto: parsing sealed seed: %w", err)
	}
	if stored.Version != currentVersion {
		return "", fmt.Errorf("crypto: unsupported version %d", stored.Version)
	}

	var salt, nonce, ciphertext []byte
	for _, f := range []struct {
		name string
		in   string
		out  *[]byte
	}{
		{"salt", stored.Salt, &salt},
		{"nonce", stored.Nonce, &nonce},
		{"ciphertext", stored.Ciphertext, &ciphertext},
	} {
		b, err := base64.StdEncoding.DecodeString(f.in)
		if err != nil {
			return "", fmt.Errorf("crypto: decoding %s: %w", f.name, err)
		}
		*f.out = b
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return hex.EncodeToString(plain), nil
}

// LoadSeed resolves the wallet seed: the raw seed if set, otherwise the
// sealed file opened with the password.
func LoadSeed(cfg SeedConfig) (string, error) {
	if cfg.RawSeed != "" {
		seed, err := decodeSeed(cfg.RawSeed)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(seed), nil
	}
	if cfg.SealedPath != "" {
		data, err := os.ReadFile(cfg.SealedPath)
		if err != nil {
			return "", fmt.Errorf("crypto: reading sealed seed: %w", err)
		}
		return OpenSeed(data, cfg.Password)
	}
	return "", errors.New("crypto: no wallet seed configured (set wallet.seed or wallet.sealed_seed_path)")
}

func decodeSeed(seedHex string) ([]byte, error) {
	seed, err := hex.DecodeString(strings.TrimPrefix(seedHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid seed hex: %w", err)
	}
	if len(seed) != seedLen {
		return nil, fmt.Errorf("crypto: expected %d-byte seed, got %d bytes", seedLen, len(seed))
	}
	return seed, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
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
