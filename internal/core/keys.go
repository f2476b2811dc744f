package core

import (
	"encoding/hex"
	"fmt"
	"path/filepath"

	"tapesafe/internal/crypto"
)

// tape_info keys holding a tape's crypto parameters. The passphrase and the
// plaintext symmetric key are never persisted anywhere.
const (
	infoKDFSalt    = "kdf_salt"     // hex PBKDF2 salt (passphrase method)
	infoKeyHash    = "sym_key_hash" // hex SHA-256 of the symmetric key
	infoWrappedKey = "enc_sym_key"  // hex RSA-OAEP wrapped key (RSA method)
)

// Key protection methods reported by KeyMethod.
const (
	KeyMethodNone       = ""
	KeyMethodPassphrase = "passphrase"
	KeyMethodRSA        = "rsa"
)

// KeyMethod reports how a tape's key is protected, based on which crypto
// parameters were stored at setup time.
func (s *Service) KeyMethod(tapeID string) (string, error) {
	if _, ok, err := s.store.GetTapeInfo(tapeID, infoWrappedKey); err != nil {
		return "", fmt.Errorf("loading wrapped key: %w", err)
	} else if ok {
		return KeyMethodRSA, nil
	}
	if _, ok, err := s.store.GetTapeInfo(tapeID, infoKDFSalt); err != nil {
		return "", fmt.Errorf("loading KDF salt: %w", err)
	} else if ok {
		return KeyMethodPassphrase, nil
	}
	return KeyMethodNone, nil
}

// SetupPassphraseKey configures encryption for a tape with a key derived
// from a passphrase. The salt and key hash are stored for later
// re-derivation and verification. Returns the unlocked key for immediate use.
func (s *Service) SetupPassphraseKey(tapeID string, passphrase []byte) ([]byte, error) {
	if _, err := s.requireTape(tapeID); err != nil {
		return nil, err
	}
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("passphrase must not be empty")
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, err
	}
	key := crypto.DeriveKey(passphrase, salt)

	if err := s.store.SetTapeInfo(tapeID, infoKDFSalt, hex.EncodeToString(salt)); err != nil {
		return nil, fmt.Errorf("storing KDF salt: %w", err)
	}
	if err := s.store.SetTapeInfo(tapeID, infoKeyHash, crypto.SHA256Hex(key)); err != nil {
		return nil, fmt.Errorf("storing key hash: %w", err)
	}

	s.logger.Info("passphrase key configured", "tape", tapeID)
	return key, nil
}

// SetupRSAKey configures encryption for a tape with a random 256-bit key
// wrapped by a freshly generated RSA-2048 key pair. The pair is written
// under keysDir/<tapeID>; when keyPassphrase is non-empty the private key is
// additionally encrypted at rest. Returns the unlocked key for immediate use.
func (s *Service) SetupRSAKey(tapeID, keysDir string, keyPassphrase []byte) ([]byte, error) {
	if _, err := s.requireTape(tapeID); err != nil {
		return nil, err
	}

	key, err := crypto.NewKey()
	if err != nil {
		return nil, err
	}

	keyDir := filepath.Join(keysDir, tapeID)
	pubPEM, err := crypto.GenerateKeyPair(keyDir, keyPassphrase)
	if err != nil {
		return nil, err
	}

	wrapped, err := crypto.WrapKey(key, pubPEM)
	if err != nil {
		return nil, err
	}

	if err := s.store.SetTapeInfo(tapeID, infoWrappedKey, hex.EncodeToString(wrapped)); err != nil {
		return nil, fmt.Errorf("storing wrapped key: %w", err)
	}
	if err := s.store.SetTapeInfo(tapeID, infoKeyHash, crypto.SHA256Hex(key)); err != nil {
		return nil, fmt.Errorf("storing key hash: %w", err)
	}

	s.logger.Info("RSA-wrapped key configured", "tape", tapeID, "key_dir", keyDir)
	return key, nil
}

// UnlockWithPassphrase re-derives a tape's key from a passphrase and
// verifies it against the stored key hash.
func (s *Service) UnlockWithPassphrase(tapeID string, passphrase []byte) ([]byte, error) {
	saltHex, ok, err := s.store.GetTapeInfo(tapeID, infoKDFSalt)
	if err != nil {
		return nil, fmt.Errorf("loading KDF salt: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: tape %s was not configured with a passphrase", ErrMissingCryptoMaterial, tapeID)
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed KDF salt", ErrMissingCryptoMaterial)
	}

	key := crypto.DeriveKey(passphrase, salt)
	return key, s.checkKeyHash(tapeID, key)
}

// UnlockWithPrivateKey unwraps a tape's key using an RSA private key file
// and verifies it against the stored key hash. keyPassphrase is needed only
// when the private key file is passphrase-protected.
func (s *Service) UnlockWithPrivateKey(tapeID, privPath string, keyPassphrase []byte) ([]byte, error) {
	wrappedHex, ok, err := s.store.GetTapeInfo(tapeID, infoWrappedKey)
	if err != nil {
		return nil, fmt.Errorf("loading wrapped key: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: tape %s was not configured with RSA", ErrMissingCryptoMaterial, tapeID)
	}
	wrapped, err := hex.DecodeString(wrappedHex)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed wrapped key", ErrMissingCryptoMaterial)
	}

	key, err := crypto.UnwrapKey(wrapped, privPath, keyPassphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, s.checkKeyHash(tapeID, key)
}

func (s *Service) checkKeyHash(tapeID string, key []byte) error {
	storedHash, ok, err := s.store.GetTapeInfo(tapeID, infoKeyHash)
	if err != nil {
		return fmt.Errorf("loading key hash: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: tape %s has no stored key hash", ErrMissingCryptoMaterial, tapeID)
	}
	if crypto.SHA256Hex(key) != storedHash {
		return ErrInvalidKey
	}
	return nil
}
