// Package providers selects the storage.Client implementation from config.
package providers

import (
	"context"
	"fmt"

	"github.com/storytrim/server/internal/config"
	"github.com/storytrim/server/internal/storage"
	"github.com/storytrim/server/internal/storage/providers/local"
	"github.com/storytrim/server/internal/storage/providers/minio"
)

// New returns the configured backend.
func New(ctx context.Context, cfg config.Storage) (storage.Client, error) {
	switch cfg.Backend {
	case config.StorageBackendLocal, "":
		return local.NewClient(cfg.LocalDir)
	case config.StorageBackendMinIO:
		return minio.NewClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
