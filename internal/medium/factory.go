package medium

import (
	"context"
	"fmt"

	"tapesafe/internal/config"
	"tapesafe/internal/core"
)

// NewMediumFromConfig creates a Medium implementation based on the medium
// config type.
func NewMediumFromConfig(cfg config.MediumConfig) (core.Medium, error) {
	switch cfg.Type {
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("root required for filesystem medium")
		}
		return NewFileSystemMedium(cfg.Root)
	case "s3":
		return NewS3Medium(context.Background(), cfg)
	case "memory":
		return NewMemoryMedium(), nil
	default:
		return nil, fmt.Errorf("unknown medium type: %s", cfg.Type)
	}
}
