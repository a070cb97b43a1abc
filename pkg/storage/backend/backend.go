// Package backend selects the object store implementation named by
// CAROUSEL_STORAGE_DRIVER.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/carousel-backend/pkg/config"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
	"github.com/angelmondragon/carousel-backend/pkg/storage"
	"github.com/angelmondragon/carousel-backend/pkg/storage/gcs"
	"github.com/angelmondragon/carousel-backend/pkg/storage/s3"
)

// Open returns the configured store. Callers own Close.
func Open(ctx context.Context, cfg *config.Config, logg *logger.Logger) (storage.Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case config.StorageDriverGCS:
		client, err := gcs.NewClient(ctx, cfg.Storage, cfg.GCP, logg)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.StorageDriverS3:
		client, err := s3.New(ctx, cfg.Storage, cfg.S3, logg)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.StorageDriverMemory:
		if logg != nil {
			logg.Warn(ctx, "using in-memory object storage; cached media is lost on restart")
		}
		return storage.NewMemory(cfg.Storage.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}
