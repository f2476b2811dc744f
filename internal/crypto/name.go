package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// LockedName is shown in place of an obfuscated filename when no key is
// available or decryption fails.
const LockedName = "<locked>"

// EncryptName obfuscates a single filename with a one-shot AES-GCM envelope:
// base64url(nonce || ciphertext || tag). This is intentionally a different
// format from the bulk archive stream so a name token can never be confused
// with archive ciphertext.
func EncryptName(name string, key []byte) (string, error) {
	aead, err := newNameAEAD(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating name nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(name), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// DecryptName reverses EncryptName. The second return value is false when
// the token is malformed or the key is wrong; callers should fall back to a
// locked display value rather than failing.
func DecryptName(token string, key []byte) (string, bool) {
	aead, err := newNameAEAD(key)
	if err != nil {
		return "", false
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) < aead.NonceSize() {
		return "", false
	}

	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	name, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", false
	}
	return string(name), true
}

// DisplayName resolves a stored node name for presentation: plain names pass
// through, obfuscated names decrypt when a key is supplied and degrade to
// LockedName otherwise.
func DisplayName(stored string, obfuscated bool, key []byte) string {
	if !obfuscated {
		return stored
	}
	if key == nil {
		return LockedName
	}
	name, ok := DecryptName(stored, key)
	if !ok {
		return LockedName
	}
	return name
}

func newNameAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key length %d, want %d", len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
