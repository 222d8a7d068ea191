package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pixelbot/pixelbot/internal/ailink/driver"
	"github.com/pixelbot/pixelbot/internal/appid"
	"github.com/pixelbot/pixelbot/internal/config"
	"github.com/pixelbot/pixelbot/internal/observability"
)

var (
	cfgFile   string
	verbose   bool
	traceFile string

	// stopTrace closes the provider trace file opened by --trace.
	stopTrace func()

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   filepath.Base(os.Args[0]),
	Short: "Telegram image generation bot",
	Long: `Telegram image generation bot with per-user rate limiting and a
bounded pool of concurrent generation slots.

Use the subcommands to run the bot or inspect its state.`,
	SilenceUsage: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if stopTrace != nil {
			stopTrace()
			stopTrace = nil
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Disable global telemetry early so one-shot commands never emit metrics
	// to stdout. serve initializes the real system.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	identity := appid.Get()
	rootCmd.Use = identity.BinaryName
	rootCmd.Short = identity.Description
	rootCmd.Long = fmt.Sprintf("%s - %s\n\nUse the subcommands to run the bot or inspect its state.", identity.BinaryName, identity.Description)

	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default is $XDG_CONFIG_HOME/%s/config.yaml)", identity.ConfigName))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	rootCmd.PersistentFlags().StringVar(&traceFile, "trace", "", "trace image provider requests/responses to NDJSON file")
}

// initLogging sets up the CLI logger and optional provider tracing before
// any command runs.
func initLogging() {
	identity := appid.Get()
	observability.InitCLILogger(identity.BinaryName, verbose)

	if traceFile == "" {
		return
	}
	cleanup, err := driver.EnableTracing(traceFile)
	if err != nil {
		observability.CLILogger.Warn("Failed to enable tracing", zap.Error(err))
		return
	}
	stopTrace = cleanup
	observability.CLILogger.Debug("Provider tracing enabled", zap.String("file", traceFile))
}

// loadConfig resolves configuration from defaults, the config file, the
// environment and the given overrides.
func loadConfig(ctx context.Context, overrides map[string]any) (*config.Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(ctx, config.Options{ConfigFile: cfgFile, Overrides: overrides})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
