package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pixelbot/pixelbot/internal/ailink"
	"github.com/pixelbot/pixelbot/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long: `Verify the bot could start: version info, configuration, the store
and the image provider settings. The store check opens the database and
applies migrations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.CLILogger
		logger.Info("Running health check...")

		if versionInfo.Version == "" {
			logger.Error("❌ FAIL: Version information missing")
			return invalidConfig(errors.New("version information missing"))
		}
		logger.Debug("Version check passed", zap.String("version", versionInfo.Version))
		logger.Info("✅ Version information available")

		cfg, err := loadConfig(cmd.Context(), nil)
		if err != nil {
			logger.Error("❌ FAIL: Configuration could not be loaded", zap.Error(err))
			return invalidConfig(err)
		}
		if err := cfg.Validate(); err != nil {
			logger.Error("❌ FAIL: Configuration is incomplete", zap.Error(err))
			return invalidConfig(err)
		}
		logger.Info("✅ Configuration valid")

		if _, err := ailink.NewGenerator(cfg.Image); err != nil {
			logger.Error("❌ FAIL: Image provider", zap.Error(err))
			return invalidConfig(err)
		}
		logger.Info("✅ Image provider configured", zap.String("provider", cfg.Image.Provider), zap.String("host", ailink.ProviderHost(cfg.Image)))

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		db, err := openStore(ctx, cfg)
		if err != nil {
			logger.Error("❌ FAIL: Store unavailable", zap.Error(err))
			return fmt.Errorf("store: %w", err)
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup
		if err := db.CheckHealth(ctx); err != nil {
			logger.Error("❌ FAIL: Store ping failed", zap.Error(err))
			return fmt.Errorf("store: %w", err)
		}
		logger.Info("✅ Store reachable", zap.String("driver", db.Driver()))

		logger.Info("")
		logger.Info("✅ All health checks passed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
