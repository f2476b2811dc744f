package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize is the PBKDF2 salt length in bytes.
	SaltSize = 16
	// KDFIterations is the PBKDF2 round count.
	KDFIterations = 200_000
)

// DeriveKey derives a 32-byte AES key from a passphrase and salt using
// PBKDF2-HMAC-SHA-256. The passphrase itself is never persisted; callers
// store the salt and SHA256Hex of the derived key for later verification.
func DeriveKey(passphrase, salt []byte) []byte {
	return pbkdf2.Key(passphrase, salt, KDFIterations, KeySize, sha256.New)
}

// NewSalt returns a fresh random KDF salt.
func NewSalt() ([]byte, error) {
	return randomBytes(SaltSize)
}

// NewKey returns a fresh random 256-bit symmetric key.
func NewKey() ([]byte, error) {
	return randomBytes(KeySize)
}

// NewIV returns a fresh random 96-bit GCM initialization vector.
func NewIV() ([]byte, error) {
	return randomBytes(IVSize)
}

// SHA256Hex returns the SHA-256 digest of b as a lowercase hex string.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return b, nil
}
