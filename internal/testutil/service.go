package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"tapesafe/internal/core"
	"tapesafe/internal/medium"
	"tapesafe/internal/model"
)

// testCapacity maps every generation to 10 GB, plenty for test payloads.
func testCapacity(string) int64 { return 10_000_000_000 }

// NewTestService wires a Service against an in-memory store and medium.
// Returns the service plus the backing medium for direct inspection.
func NewTestService(t *testing.T) (*core.Service, *medium.MemoryMedium) {
	t.Helper()

	clock := FixedClock()
	store := NewTestStore(t, clock)
	med := medium.NewMemoryMedium()
	svc := core.NewService(store, med, core.NewNopLogger(), clock, testCapacity)
	return svc, med
}

// RegisterTestTape registers a tape with the given id on the service.
func RegisterTestTape(t *testing.T, svc *core.Service, tapeID string) {
	t.Helper()

	if err := svc.RegisterTape(&model.Tape{ID: tapeID, Generation: "L8"}); err != nil {
		t.Fatalf("failed to register tape: %v", err)
	}
}

// WriteSourceTree materializes files under a new temp directory and returns
// its path. Keys are slash-separated relative paths; parent directories are
// created as needed.
func WriteSourceTree(t *testing.T, files map[string][]byte) string {
	t.Helper()

	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create directory: %v", err)
		}
		if err := os.WriteFile(path, content, 0644); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}
	}
	return root
}
