package migrate

import (
	"context"
	"fmt"

	"github.com/pitlane-hq/pitlane-backend/pkg/config"
	"github.com/pitlane-hq/pitlane-backend/pkg/db"
	"github.com/pitlane-hq/pitlane-backend/pkg/logger"
)

func autoRunEnabled(cfg *config.Config) bool {
	return cfg != nil && cfg.App.IsDev() && cfg.FeatureFlags.AutoMigrate
}

// MaybeRunDev brings the schema up to date on boot. Only dev processes with
// PITLANE_AUTO_MIGRATE set do this; everything else runs cmd/migrate. The embedded
// migrations are applied so the working directory does not matter.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !autoRunEnabled(cfg) {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	from, err := Version(ctx, sqlDB)
	if err != nil {
		return err
	}
	src := Source{}
	ctx = logg.WithFields(ctx, map[string]any{"source": src.String(), "from_version": from})
	if err := Run(ctx, sqlDB, src, "up"); err != nil {
		return err
	}

	to, err := Version(ctx, sqlDB)
	if err != nil {
		return err
	}
	if to == from {
		logg.Debug(ctx, "schema already current")
		return nil
	}
	logg.Info(logg.WithField(ctx, "to_version", to), "dev migrations applied")
	return nil
}
