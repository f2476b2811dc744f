package crypto

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWrapUnwrapKey(t *testing.T) {
	dir := t.TempDir()

	pubPEM, err := GenerateKeyPair(dir, nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	symKey := testKey()
	wrapped, err := WrapKey(symKey, pubPEM)
	if err != nil {
		t.Fatalf("WrapKey: %v", err)
	}
	if bytes.Contains(wrapped, symKey) {
		t.Error("wrapped key leaks the plaintext key")
	}

	got, err := UnwrapKey(wrapped, filepath.Join(dir, PrivateKeyFile), nil)
	if err != nil {
		t.Fatalf("UnwrapKey: %v", err)
	}
	if !bytes.Equal(got, symKey) {
		t.Error("unwrapped key differs from original")
	}
}

func TestProtectedPrivateKey(t *testing.T) {
	dir := t.TempDir()
	passphrase := []byte("vault passphrase")

	pubPEM, err := GenerateKeyPair(dir, passphrase)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	privPath := filepath.Join(dir, PrivateKeyFile)
	data, err := os.ReadFile(privPath)
	if err != nil {
		t.Fatalf("reading private key file: %v", err)
	}
	if !strings.HasPrefix(string(data), ageHeader) {
		t.Fatal("private key file is not age-encrypted")
	}
	if bytes.Contains(data, []byte("RSA PRIVATE KEY")) {
		t.Fatal("private key PEM visible in protected file")
	}

	symKey := testKey()
	wrapped, err := WrapKey(symKey, pubPEM)
	if err != nil {
		t.Fatalf("WrapKey: %v", err)
	}

	t.Run("correct passphrase", func(t *testing.T) {
		got, err := UnwrapKey(wrapped, privPath, passphrase)
		if err != nil {
			t.Fatalf("UnwrapKey: %v", err)
		}
		if !bytes.Equal(got, symKey) {
			t.Error("unwrapped key differs from original")
		}
	})

	t.Run("missing passphrase", func(t *testing.T) {
		if _, err := UnwrapKey(wrapped, privPath, nil); err == nil {
			t.Error("expected error without passphrase")
		}
	})

	t.Run("wrong passphrase", func(t *testing.T) {
		if _, err := UnwrapKey(wrapped, privPath, []byte("nope")); err == nil {
			t.Error("expected error with wrong passphrase")
		}
	})
}

func TestGenerateKeyPair_FilePermissions(t *testing.T) {
	dir := t.TempDir()
	if _, err := GenerateKeyPair(dir, nil); err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, PrivateKeyFile))
	if err != nil {
		t.Fatalf("stat private key: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("private key mode = %o, want 0600", perm)
	}
}
