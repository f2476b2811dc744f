package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"tapesafe/internal/config"
	"tapesafe/internal/core"
	"tapesafe/internal/crypto"
	"tapesafe/internal/index"
	"tapesafe/internal/medium"
)

// App is the application layer between the CLI and core.Service. It
// constructs all dependencies from config, exposes key-handling helpers that
// accept raw CLI inputs, and manages the index lifecycle on Close.
type App struct {
	cfg     *config.Config
	store   *index.SQLiteStore
	medium  core.Medium
	service *core.Service
	logFile *os.File
}

// NewApp creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "backup", "verify").
// The caller must call Close when done.
func NewApp(cfg *config.Config, operation string) (*App, error) {
	store, err := index.NewStoreFromConfig(cfg.Database, cfg.HostID, core.RealClock{})
	if err != nil {
		return nil, fmt.Errorf("creating index store: %w", err)
	}

	// The index is local sqlite owned by this binary, so pending migrations
	// are applied on startup rather than failing.
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrating index: %w", err)
	}
	if err := store.CheckMigrations(); err != nil {
		store.Close()
		return nil, fmt.Errorf("index schema out of date: %w", err)
	}

	med, err := medium.NewMediumFromConfig(cfg.Medium)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating medium: %w", err)
	}

	opID := fmt.Sprintf("%s-%s", operation, uuid.New().String()[:8])
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	svc := core.NewService(store, med, &slogAdapter{l: logger}, core.RealClock{}, cfg.GenerationCapacity)

	return &App{
		cfg:     cfg,
		store:   store,
		medium:  med,
		service: svc,
		logFile: logFile,
	}, nil
}

// Service returns the wired orchestration service.
func (a *App) Service() *core.Service {
	return a.service
}

// Config returns the loaded configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// SetupPassphraseEncryption derives and registers a passphrase-protected key
// for a tape, returning the derived key for immediate use.
func (a *App) SetupPassphraseEncryption(tapeID string, passphrase []byte) ([]byte, error) {
	return a.service.SetupPassphraseKey(tapeID, passphrase)
}

// SetupRSAEncryption generates a random tape key plus an RSA key pair under
// the configured keys directory, returning the tape key for immediate use.
// keyPassphrase, when non-empty, protects the private key file at rest.
func (a *App) SetupRSAEncryption(tapeID string, keyPassphrase []byte) ([]byte, error) {
	return a.service.SetupRSAKey(tapeID, a.cfg.KeysDir, keyPassphrase)
}

// UnlockWithPassphrase re-derives a tape's key from its passphrase.
func (a *App) UnlockWithPassphrase(tapeID string, passphrase []byte) ([]byte, error) {
	return a.service.UnlockWithPassphrase(tapeID, passphrase)
}

// UnlockWithPrivateKey unwraps a tape's key using the private key file under
// the configured keys directory, or an explicit path when keyPath is set.
func (a *App) UnlockWithPrivateKey(tapeID, keyPath string, keyPassphrase []byte) ([]byte, error) {
	if keyPath == "" {
		keyPath = filepath.Join(a.cfg.KeysDir, tapeID, crypto.PrivateKeyFile)
	}
	return a.service.UnlockWithPrivateKey(tapeID, keyPath, keyPassphrase)
}

// Close closes the index and the log file.
func (a *App) Close() error {
	var firstErr error

	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing index: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
