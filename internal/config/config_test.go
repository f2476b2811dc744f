package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManagerRoundTrip(t *testing.T) {
	cfg := NewConfig("host-1234", "/var/lib/tapesafe")
	cfg.Medium = MediumConfig{
		Type:        "s3",
		S3Bucket:    "backups",
		S3Prefix:    "tapes/",
		S3Region:    "eu-central-1",
		S3AccessKey: "AKIA",
		S3SecretKey: "secret",
	}

	var buf bytes.Buffer
	m := &Manager{}
	if err := m.Write(&buf, cfg); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if got.HostID != "host-1234" {
		t.Errorf("host id = %q", got.HostID)
	}
	if got.Database.Type != "sqlite" || got.Database.DataDir != "/var/lib/tapesafe/db" {
		t.Errorf("database = %+v", got.Database)
	}
	if got.Medium != cfg.Medium {
		t.Errorf("medium = %+v, want %+v", got.Medium, cfg.Medium)
	}
	if got.Generations["L8"] != 12_000_000_000_000 {
		t.Errorf("L8 capacity = %d", got.Generations["L8"])
	}
}

func TestReadPartialConfig(t *testing.T) {
	// Hand-edited files commonly omit sections; decoding must fill
	// only what is present.
	input := `
host_id = "abc"

[medium]
type = "memory"
`
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if cfg.HostID != "abc" || cfg.Medium.Type != "memory" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Medium.Root != "" {
		t.Errorf("root = %q, want empty", cfg.Medium.Root)
	}
}

func TestGenerationCapacity(t *testing.T) {
	cfg := NewConfig("h", "/tmp/base")

	tests := []struct {
		gen  string
		want int64
	}{
		{"L5", 1_500_000_000_000},
		{"L8", 12_000_000_000_000},
		{"L10", 36_000_000_000_000},
		{"L99", 1_500_000_000_000}, // unknown falls back to L5
	}
	for _, tt := range tests {
		if got := cfg.GenerationCapacity(tt.gen); got != tt.want {
			t.Errorf("GenerationCapacity(%q) = %d, want %d", tt.gen, got, tt.want)
		}
	}

	t.Run("empty map uses defaults", func(t *testing.T) {
		bare := &Config{}
		if got := bare.GenerationCapacity("L6"); got != 2_500_000_000_000 {
			t.Errorf("capacity = %d", got)
		}
	})

	t.Run("override replaces defaults", func(t *testing.T) {
		cfg := NewConfig("h", "/tmp/base")
		cfg.Generations = map[string]int64{"L8": 100}
		if got := cfg.GenerationCapacity("L8"); got != 100 {
			t.Errorf("capacity = %d", got)
		}
	})
}

func TestKnownGeneration(t *testing.T) {
	cfg := NewConfig("h", "/tmp/base")
	if !cfg.KnownGeneration("L7") {
		t.Error("L7 must be known")
	}
	if cfg.KnownGeneration("LTO8") {
		t.Error("LTO8 must not be known")
	}
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "tapesafe.toml")
	cfg := NewConfig("host-1", filepath.Join(dir, "data"))

	if err := Init(path, cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file missing: %v", err)
	}

	got, err := ReadFromFile(path)
	if err != nil {
		t.Fatalf("ReadFromFile: %v", err)
	}
	if got.HostID != "host-1" {
		t.Errorf("host id = %q", got.HostID)
	}

	t.Run("refuses to overwrite", func(t *testing.T) {
		if err := Init(path, cfg); err == nil {
			t.Error("expected error for existing config")
		}
	})
}
