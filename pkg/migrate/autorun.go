package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/carousel-backend/pkg/config"
	"github.com/angelmondragon/carousel-backend/pkg/db"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
)

// MaybeRunDev brings a dev database up to date on boot when auto-migrate is
// enabled. Other environments run cmd/migrate as a deploy step.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if cfg == nil || !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	m, err := NewMigrator(sqlDB, DefaultDir)
	if err != nil {
		return err
	}
	applied, err := m.Up(ctx)
	if err != nil {
		return err
	}
	logg.Info(logg.WithFields(ctx, map[string]any{
		"serviceKind": cfg.Service.Kind,
		"applied":     len(applied),
	}), "dev migrations up to date")
	return nil
}
