package core_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"tapesafe/internal/core"
	"tapesafe/internal/crypto"
	"tapesafe/internal/testutil"
)

func TestPassphraseKeyLifecycle(t *testing.T) {
	svc, _ := testutil.NewTestService(t)
	testutil.RegisterTestTape(t, svc, "T001")

	key, err := svc.SetupPassphraseKey("T001", []byte("open sesame"))
	if err != nil {
		t.Fatalf("SetupPassphraseKey: %v", err)
	}
	if len(key) != crypto.KeySize {
		t.Fatalf("key length = %d, want %d", len(key), crypto.KeySize)
	}

	method, err := svc.KeyMethod("T001")
	if err != nil {
		t.Fatalf("KeyMethod: %v", err)
	}
	if method != core.KeyMethodPassphrase {
		t.Errorf("method = %q, want passphrase", method)
	}

	t.Run("correct passphrase unlocks the same key", func(t *testing.T) {
		got, err := svc.UnlockWithPassphrase("T001", []byte("open sesame"))
		if err != nil {
			t.Fatalf("UnlockWithPassphrase: %v", err)
		}
		if !bytes.Equal(got, key) {
			t.Error("unlocked key differs from setup key")
		}
	})

	t.Run("wrong passphrase is rejected", func(t *testing.T) {
		_, err := svc.UnlockWithPassphrase("T001", []byte("close sesame"))
		if !errors.Is(err, core.ErrInvalidKey) {
			t.Errorf("err = %v, want ErrInvalidKey", err)
		}
	})

	t.Run("empty passphrase is rejected at setup", func(t *testing.T) {
		if _, err := svc.SetupPassphraseKey("T001", nil); err == nil {
			t.Error("expected error for empty passphrase")
		}
	})
}

func TestRSAKeyLifecycle(t *testing.T) {
	svc, _ := testutil.NewTestService(t)
	testutil.RegisterTestTape(t, svc, "T001")
	keysDir := t.TempDir()

	key, err := svc.SetupRSAKey("T001", keysDir, nil)
	if err != nil {
		t.Fatalf("SetupRSAKey: %v", err)
	}

	method, err := svc.KeyMethod("T001")
	if err != nil {
		t.Fatalf("KeyMethod: %v", err)
	}
	if method != core.KeyMethodRSA {
		t.Errorf("method = %q, want rsa", method)
	}

	privPath := filepath.Join(keysDir, "T001", crypto.PrivateKeyFile)
	got, err := svc.UnlockWithPrivateKey("T001", privPath, nil)
	if err != nil {
		t.Fatalf("UnlockWithPrivateKey: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Error("unlocked key differs from setup key")
	}
}

func TestKeyMethod_Unconfigured(t *testing.T) {
	svc, _ := testutil.NewTestService(t)
	testutil.RegisterTestTape(t, svc, "T001")

	method, err := svc.KeyMethod("T001")
	if err != nil {
		t.Fatalf("KeyMethod: %v", err)
	}
	if method != core.KeyMethodNone {
		t.Errorf("method = %q, want none", method)
	}
}

func TestUnlock_MissingMaterial(t *testing.T) {
	svc, _ := testutil.NewTestService(t)
	testutil.RegisterTestTape(t, svc, "T001")

	if _, err := svc.UnlockWithPassphrase("T001", []byte("x")); !errors.Is(err, core.ErrMissingCryptoMaterial) {
		t.Errorf("passphrase err = %v, want ErrMissingCryptoMaterial", err)
	}
	if _, err := svc.UnlockWithPrivateKey("T001", "nowhere.pem", nil); !errors.Is(err, core.ErrMissingCryptoMaterial) {
		t.Errorf("rsa err = %v, want ErrMissingCryptoMaterial", err)
	}
}
