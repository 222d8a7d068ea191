package cmd

import (
	"context"

	"github.com/pixelbot/pixelbot/internal/config"
	"github.com/pixelbot/pixelbot/internal/core/store"
)

// openStore opens the configured database and brings its schema up to date.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// openConfiguredStore loads config and opens the store in one step for the
// maintenance commands.
func openConfiguredStore(ctx context.Context) (*config.Config, *store.Store, error) {
	cfg, err := loadConfig(ctx, nil)
	if err != nil {
		return nil, nil, invalidConfig(err)
	}
	db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}
