package index

import (
	"fmt"
	"path/filepath"

	"tapesafe/internal/config"
	"tapesafe/internal/core"
)

// NewStoreFromConfig creates a Store implementation based on the database
// config type. The sqlite file is named after the host so several machines can
// share one data directory.
func NewStoreFromConfig(cfg config.DatabaseConfig, hostID string, clock core.Clock) (*SQLiteStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		dbPath := filepath.Join(cfg.DataDir, hostID+".db")
		return NewSQLiteStore(dbPath, clock)
	case "memory":
		return NewSQLiteStore(":memory:", clock)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
