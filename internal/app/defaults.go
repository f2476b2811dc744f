package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - TAPESAFE_CONFIG_PATH: config file location (default: ~/.config/tapesafe.toml)
//   - TAPESAFE_HOME: base directory for tapesafe data (default: ~/.local/share/tapesafe)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"keys_dir":    filepath.Join(baseDir, "keys"),
	}, nil
}

func getConfigPath() (string, error) {
	if path := os.Getenv("TAPESAFE_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "tapesafe.toml"), nil
}

func getBaseDir() (string, error) {
	if path := os.Getenv("TAPESAFE_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "tapesafe"), nil
}
