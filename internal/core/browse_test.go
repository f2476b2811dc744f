package core_test

import (
	"testing"

	"tapesafe/internal/core"
	"tapesafe/internal/crypto"
	"tapesafe/internal/model"
	"tapesafe/internal/testutil"
)

func TestBrowseNodes(t *testing.T) {
	svc, _ := testutil.NewTestService(t)
	testutil.RegisterTestTape(t, svc, "T001")

	src := testutil.WriteSourceTree(t, map[string][]byte{
		"a.txt":     []byte("one"),
		"sub/b.txt": []byte("two"),
	})
	if _, err := svc.RunBackup(core.BackupRequest{TapeID: "T001", Paths: []string{src}}); err != nil {
		t.Fatalf("RunBackup: %v", err)
	}

	roots, err := svc.BrowseNodes("T001", nil, nil)
	if err != nil {
		t.Fatalf("BrowseNodes: %v", err)
	}
	if len(roots) != 1 || !roots[0].Node.IsDir {
		t.Fatalf("root level = %+v, want the single source directory", roots)
	}

	children, err := svc.BrowseNodes("T001", &roots[0].Node.ID, nil)
	if err != nil {
		t.Fatalf("BrowseNodes(children): %v", err)
	}
	// Directories sort before files.
	if len(children) != 2 || children[0].DisplayName != "sub" || children[1].DisplayName != "a.txt" {
		t.Fatalf("children = %+v", children)
	}
}

func TestBrowseNodes_ObfuscatedNames(t *testing.T) {
	svc, _ := testutil.NewTestService(t)
	key := testTapeKey()

	// An encrypted tape stores obfuscated node names.
	if err := svc.RegisterTape(&model.Tape{ID: "T001", Generation: "L8", Encrypted: true}); err != nil {
		t.Fatalf("RegisterTape: %v", err)
	}

	src := testutil.WriteSourceTree(t, map[string][]byte{"secret.txt": []byte("x")})
	if _, err := svc.RunBackup(core.BackupRequest{TapeID: "T001", Paths: []string{src}, Key: key}); err != nil {
		t.Fatalf("RunBackup: %v", err)
	}

	t.Run("with key shows real names", func(t *testing.T) {
		roots, err := svc.BrowseNodes("T001", nil, key)
		if err != nil {
			t.Fatalf("BrowseNodes: %v", err)
		}
		children, err := svc.BrowseNodes("T001", &roots[0].Node.ID, key)
		if err != nil {
			t.Fatalf("BrowseNodes(children): %v", err)
		}
		if children[0].DisplayName != "secret.txt" {
			t.Errorf("display name = %q, want secret.txt", children[0].DisplayName)
		}
	})

	t.Run("without key shows locked markers", func(t *testing.T) {
		roots, err := svc.BrowseNodes("T001", nil, nil)
		if err != nil {
			t.Fatalf("BrowseNodes: %v", err)
		}
		if roots[0].DisplayName != crypto.LockedName {
			t.Errorf("display name = %q, want %q", roots[0].DisplayName, crypto.LockedName)
		}
	})
}
