package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for tapesafe.
type Config struct {
	HostID      string           `toml:"host_id"`
	BaseDir     string           `toml:"base_dir"`
	LogDir      string           `toml:"log_dir"`
	KeysDir     string           `toml:"keys_dir"`
	Database    DatabaseConfig   `toml:"database"`
	Medium      MediumConfig     `toml:"medium"`
	Generations map[string]int64 `toml:"generations"`
}

// DatabaseConfig configures the index store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// MediumConfig configures the tape storage backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type MediumConfig struct {
	Type string `toml:"type"` // "filesystem", "s3", or "memory"

	// Filesystem-specific: each tape becomes a directory under Root.
	Root string `toml:"root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`
}

// defaultGenerations maps LTO generation codes to nominal byte capacities.
var defaultGenerations = map[string]int64{
	"L5":  1_500_000_000_000,
	"L6":  2_500_000_000_000,
	"L7":  6_000_000_000_000,
	"L8":  12_000_000_000_000,
	"L9":  18_000_000_000_000,
	"L10": 36_000_000_000_000,
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		KeysDir: filepath.Join(baseDir, "keys"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Medium: MediumConfig{
			Type: "filesystem",
			Root: filepath.Join(baseDir, "tapes"),
		},
		Generations: defaultGenerations,
	}
}

// GenerationCapacity returns the nominal byte capacity for a generation code.
// Unknown codes fall back to L5, matching the most conservative class.
func (c *Config) GenerationCapacity(gen string) int64 {
	gens := c.Generations
	if len(gens) == 0 {
		gens = defaultGenerations
	}
	if cap, ok := gens[gen]; ok {
		return cap
	}
	return gens["L5"]
}

// KnownGeneration reports whether gen is a configured capacity class.
func (c *Config) KnownGeneration(gen string) bool {
	gens := c.Generations
	if len(gens) == 0 {
		gens = defaultGenerations
	}
	_, ok := gens[gen]
	return ok
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
