package migrate

import (
	"context"
	"fmt"

	"github.com/whatsub/notifications/pkg/config"
	"github.com/whatsub/notifications/pkg/db"
	"github.com/whatsub/notifications/pkg/db/models"
	"github.com/whatsub/notifications/pkg/logger"
)

// MaybeRunDev prepares the schema at boot. The sqlite dialect is always
// auto-migrated from the models; Postgres runs goose only in dev with the
// AutoMigrate flag set.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if client.Dialect() != Dialect {
		ctx = logg.WithField(ctx, "dialect", client.Dialect())
		if err := AutoMigrateModels(ctx, client); err != nil {
			return err
		}
		logg.Info(ctx, "schema auto-migrated from models")
		return nil
	}

	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	fsys, err := Source("")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}

	ctx = logg.WithField(ctx, "env", cfg.App.Env)
	logg.Info(ctx, "running Goose migrations (dev auto-run)")

	if err := Run(ctx, sqlDB, fsys, CommandUp, logg); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	logg.Info(ctx, "Goose migrations completed")
	return nil
}

// AutoMigrateModels creates the tables straight from the gorm models.
func AutoMigrateModels(ctx context.Context, client *db.Client) error {
	if err := client.DB().WithContext(ctx).AutoMigrate(&models.Notification{}); err != nil {
		return fmt.Errorf("auto-migrating models: %w", err)
	}
	return nil
}
