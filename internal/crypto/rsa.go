package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

const rsaKeyBits = 2048

// ageHeader is the first line of the age v1 file format; its presence in a
// private key file means the key is passphrase-protected at rest.
const ageHeader = "age-encryption.org/"

// PrivateKeyFile and PublicKeyFile are the on-disk names used for a tape's
// RSA key pair inside its key directory.
const (
	PrivateKeyFile = "private.pem"
	PublicKeyFile  = "public.pem"
)

// GenerateKeyPair creates a 2048-bit RSA key pair in dir and returns the
// public key PEM. The private key is written to private.pem; when a
// passphrase is provided it is encrypted at rest with age's scrypt-based
// passphrase encryption, otherwise it is plaintext PEM.
func GenerateKeyPair(dir string, passphrase []byte) ([]byte, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}

	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generating RSA key pair: %w", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshaling public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	if err := writePrivateKey(filepath.Join(dir, PrivateKeyFile), privPEM, passphrase); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, PublicKeyFile), pubPEM, 0644); err != nil {
		return nil, fmt.Errorf("writing public key: %w", err)
	}

	return pubPEM, nil
}

func writePrivateKey(path string, privPEM, passphrase []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating private key file: %w", err)
	}
	defer f.Close()

	if len(passphrase) == 0 {
		if _, err := f.Write(privPEM); err != nil {
			return fmt.Errorf("writing private key: %w", err)
		}
		return nil
	}

	recipient, err := age.NewScryptRecipient(string(passphrase))
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	w, err := age.Encrypt(f, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(privPEM); err != nil {
		return fmt.Errorf("writing encrypted private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted private key: %w", err)
	}
	return nil
}

// WrapKey encrypts a symmetric key with RSA-OAEP(SHA-256) under the public
// key PEM.
func WrapKey(symKey, pubPEM []byte) ([]byte, error) {
	block, _ := pem.Decode(pubPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, rsaPub, symKey, nil)
	if err != nil {
		return nil, fmt.Errorf("wrapping symmetric key: %w", err)
	}
	return wrapped, nil
}

// UnwrapKey decrypts an RSA-OAEP wrapped symmetric key using the private key
// file at privPath. If the file is age-encrypted, the passphrase is required
// to unlock it first.
func UnwrapKey(wrapped []byte, privPath string, passphrase []byte) ([]byte, error) {
	data, err := os.ReadFile(privPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}

	if strings.HasPrefix(string(data), ageHeader) {
		if len(passphrase) == 0 {
			return nil, fmt.Errorf("private key is passphrase-protected")
		}
		identity, err := age.NewScryptIdentity(string(passphrase))
		if err != nil {
			return nil, fmt.Errorf("creating scrypt identity: %w", err)
		}
		r, err := age.Decrypt(bytes.NewReader(data), identity)
		if err != nil {
			return nil, fmt.Errorf("decrypting private key: %w", err)
		}
		data, err = io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("reading decrypted private key: %w", err)
		}
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in private key")
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	symKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("unwrapping symmetric key: %w", err)
	}
	return symKey, nil
}
