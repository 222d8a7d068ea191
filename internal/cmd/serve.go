package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pixelbot/pixelbot/internal/admission"
	"github.com/pixelbot/pixelbot/internal/appid"
	"github.com/pixelbot/pixelbot/internal/bot"
	"github.com/pixelbot/pixelbot/internal/config"
	"github.com/pixelbot/pixelbot/internal/core/store"
	errwrap "github.com/pixelbot/pixelbot/internal/errors"
	"github.com/pixelbot/pixelbot/internal/eventstats"
	"github.com/pixelbot/pixelbot/internal/imaging"
	"github.com/pixelbot/pixelbot/internal/metrics"
	"github.com/pixelbot/pixelbot/internal/observability"
	"github.com/pixelbot/pixelbot/internal/server"
	"github.com/pixelbot/pixelbot/internal/server/handlers"
)

// adminTokenEnv enables the authenticated /admin/signal endpoint when set.
const adminTokenEnv = "PIXELBOT_ADMIN_TOKEN"

var (
	serverPort int
	serverHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Telegram bot and its HTTP status server",
	Long: `Run the Telegram bot with admission control, plus an HTTP server for
health probes, version info, metrics and the read-only task API.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown (stop polling, drain tasks)
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read and validate configuration`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "", "HTTP server host (default: server.host)")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "HTTP server port (default: server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	overrides := map[string]any{}
	if cmd.Flags().Changed("host") {
		overrides["server.host"] = serverHost
	}
	if cmd.Flags().Changed("port") {
		overrides["server.port"] = serverPort
	}
	cfg, err := loadConfig(ctx, overrides)
	if err != nil {
		return invalidConfig(err)
	}
	if err := cfg.Validate(); err != nil {
		return invalidConfig(err)
	}

	identity := appid.Get()
	namespace := identity.TelemetryNamespace()
	observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, cfg.Environment, namespace)
	logger := observability.ServerLogger

	if cfg.Metrics.Enabled {
		if err := observability.InitMetrics(identity.BinaryName, cfg.Metrics.Port, namespace); err != nil {
			logger.Error("Failed to initialize metrics", zap.Error(err))
			return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
		}
	}

	logger.Info("Initializing bot",
		zap.String("service", identity.BinaryName),
		zap.String("namespace", namespace),
		zap.String("version", versionInfo.Version),
		zap.String("provider", cfg.Image.Provider),
		zap.Int("max_requests_per_minute", cfg.Admission.MaxRequestsPerMinute),
		zap.Int("max_active_tasks", cfg.Admission.MaxActiveTasks),
		zap.Int("metrics_port", observability.GetMetricsPort()))

	db, err := openStore(ctx, cfg)
	if err != nil {
		return errwrap.WrapDatabaseError(ctx, err, "store unavailable")
	}

	gen, err := newPacedGenerator(cfg.Image, db)
	if err != nil {
		_ = db.Close()
		return err
	}

	observers := admission.Observers{metrics.AdmissionObserver{}}
	recorder, closeStats, err := newStatsRecorder(ctx, cfg.Stats, logger)
	if err != nil {
		_ = db.Close()
		return errwrap.WrapExternalService(ctx, err, "stats backend unavailable")
	}
	if recorder != nil {
		observers = append(observers, recorder)
	}

	coord := admission.New(admission.Config{
		MaxRequestsPerMinute: cfg.Admission.MaxRequestsPerMinute,
		MaxActiveTasks:       cfg.Admission.MaxActiveTasks,
		Window:               cfg.Admission.Window,
	}, admission.WithLogger(logger), admission.WithObserver(observers))

	tg, err := bot.NewTelegram(cfg.Telegram, logger)
	if err != nil {
		_ = closeStats(context.Background())
		_ = db.Close()
		return errwrap.WrapExternalService(ctx, err, "telegram unavailable")
	}

	// Admitted tasks outlive the polling loop so shutdown can drain them.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	handler := bot.New(tg, coord, gen, db, imaging.New(cfg.Image.MaxSize, cfg.Image.SupportedFormats), logger, bot.Options{
		MaxRequestsPerMinute: cfg.Admission.MaxRequestsPerMinute,
		MaxActiveTasks:       cfg.Admission.MaxActiveTasks,
		Retention:            cfg.Admission.Retention,
		Timeout:              cfg.Image.Timeout,
		Width:                cfg.Image.Width,
		Height:               cfg.Image.Height,
		WorkContext:          workCtx,
	})

	var polling atomic.Bool
	hm := handlers.NewHealthManager(versionInfo.Version)
	hm.RegisterChecker("store", handlers.CheckFunc(db.CheckHealth))
	hm.RegisterChecker("admission", handlers.CheckFunc(func(context.Context) error {
		return admissionHealth(coord.Stats(""))
	}))
	hm.RegisterChecker("telegram", handlers.CheckFunc(func(context.Context) error {
		if !polling.Load() {
			return errors.New("telegram polling is not running")
		}
		return nil
	}))
	if cfg.Metrics.Enabled {
		hm.RegisterChecker("telemetry", handlers.CheckFunc(func(context.Context) error {
			if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
				return errwrap.NewInternalError("telemetry system not initialized")
			}
			return nil
		}))
	}

	srv := server.New(cfg.Server, server.Deps{
		Health:      hm,
		Tasks:       coord,
		AdminToken:  os.Getenv(adminTokenEnv),
		MetricsPort: cfg.Metrics.Port,
	})

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	janitorDone := coord.StartJanitor(janitorCtx, cfg.Admission.CleanupInterval, cfg.Admission.Retention)
	historyDone := startHistoryPruner(janitorCtx, db, cfg.Store.TaskRetention, logger)

	pollCtx, stopPolling := context.WithCancel(ctx)
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	// Shutdown handlers run LIFO: registration order is the reverse of the
	// order they execute in.
	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Flushing logger...")
		if err := logger.Sync(); err != nil {
			logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
		}
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Closing store...")
		if err := db.Close(); err != nil {
			return errwrap.WrapDatabaseError(ctx, err, "store close failed")
		}
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := closeStats(closeCtx); err != nil {
			logger.Warn("Stats recorder did not flush", zap.Error(err))
		}
		if err := observability.ShutdownMetrics(); err != nil {
			logger.Warn("Metrics exporter did not stop cleanly", zap.Error(err))
		}
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errwrap.WrapInternal(ctx, err, "server shutdown failed")
		}
		logger.Info("HTTP server stopped gracefully")
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Stopping bot and draining admitted tasks...",
			zap.Int("active_tasks", coord.Counts().Active))
		stopPolling()
		stopJanitor()
		<-janitorDone
		<-historyDone

		drainCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		err := coord.Wait(drainCtx)
		cancelWork()
		if err != nil {
			logger.Warn("Abandoning tasks still running after drain timeout",
				zap.Int("active_tasks", coord.Counts().Active),
				zap.Duration("timeout", shutdownTimeout))
			// Cancelled tasks still record their failure; give them a moment.
			graceCtx, graceCancel := context.WithTimeout(ctx, 2*time.Second)
			defer graceCancel()
			_ = coord.Wait(graceCtx)
		}
		return nil
	})

	signals.OnReload(func(ctx context.Context) error {
		logger.Info("Received SIGHUP: re-reading configuration")
		next, err := loadConfig(ctx, overrides)
		if err != nil {
			logger.Error("Failed to reload config", zap.Error(err))
			return errwrap.WrapInvalidInput(ctx, err, "config reload failed")
		}
		if err := next.Validate(); err != nil {
			logger.Error("Reloaded config is invalid", zap.Error(err))
			return errwrap.WrapInvalidInput(ctx, err, "config reload failed")
		}
		if changed := restartRequired(cfg, next); len(changed) > 0 {
			logger.Warn("Configuration changed; restart to apply", zap.Strings("settings", changed))
		} else {
			logger.Info("Configuration reloaded; no changes require a restart")
		}
		return nil
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}

	metrics.SetServerStartTime(time.Now().Unix())

	errChan := make(chan error, 3)
	go func() {
		logger.Info("Starting HTTP server...",
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go func() {
		polling.Store(true)
		defer polling.Store(false)
		logger.Info("Starting Telegram bot", zap.String("bot", tg.Username()))
		if err := tg.Run(pollCtx, handler.Handle); err != nil {
			errChan <- fmt.Errorf("telegram polling: %w", err)
		}
	}()

	go func() {
		err := signals.Listen(ctx)
		if err != nil {
			logger.Error("Signal handler error", zap.Error(err))
		}
		errChan <- err
	}()

	if err := <-errChan; err != nil {
		return errwrap.WrapInternal(ctx, err, "server error")
	}
	return nil
}

// admissionHealth reports degraded while every slot is taken.
func admissionHealth(snap admission.Snapshot) error {
	if snap.Capacity > 0 && snap.ActiveSlots >= snap.Capacity {
		return fmt.Errorf("all %d generation slots busy: %w", snap.Capacity, handlers.ErrDegraded)
	}
	return nil
}

// newStatsRecorder builds the admission event recorder for the configured
// backend. The returned close func flushes it and releases the backend.
func newStatsRecorder(ctx context.Context, cfg config.StatsConfig, logger admission.Logger) (*eventstats.Recorder, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	var backend eventstats.Store
	closeBackend := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "none":
		return nil, noop, nil
	case "memory":
		backend = eventstats.NewMemoryStore(eventstats.WithTrackRequestors(cfg.Redis.TrackRequestors))
	case "redis":
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		rdb, err := eventstats.Dial(dialCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, noop, err
		}
		backend = eventstats.NewRedisStore(rdb,
			eventstats.WithRedisPrefix(cfg.Redis.Prefix),
			eventstats.WithRedisTTL(cfg.Redis.TTL),
			eventstats.WithRedisBucket(cfg.Redis.Bucket),
			eventstats.WithRedisTrackRequestors(cfg.Redis.TrackRequestors),
		)
		closeBackend = rdb.Close
	default:
		return nil, noop, fmt.Errorf("stats backend %q is not supported", cfg.Backend)
	}

	recorder := eventstats.NewRecorder(backend, eventstats.WithBuffer(cfg.Buffer), eventstats.WithLogger(logger))
	closeFn := func(ctx context.Context) error {
		err := recorder.Close(ctx)
		if dropped := recorder.Dropped(); dropped > 0 {
			logger.Warn("Admission events dropped", zap.Int64("dropped", dropped), zap.Int64("failed", recorder.Failed()))
		}
		return errors.Join(err, closeBackend())
	}
	return recorder, closeFn, nil
}

// historyPruneInterval is how often persisted task history is trimmed.
const historyPruneInterval = time.Hour

// startHistoryPruner deletes task rows older than retention every
// historyPruneInterval. A non-positive retention disables it.
func startHistoryPruner(ctx context.Context, db *store.Store, retention time.Duration, logger admission.Logger) <-chan struct{} {
	done := make(chan struct{})
	if retention <= 0 {
		close(done)
		return done
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(historyPruneInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := db.CleanupOldTasks(ctx, time.Now().Add(-retention))
				if err != nil {
					logger.Warn("Task history cleanup failed", zap.Error(err))
					continue
				}
				if removed > 0 {
					logger.Info("Task history pruned", zap.Int64("removed", removed))
				}
			}
		}
	}()
	return done
}

// restartRequired lists settings whose change only takes effect on restart.
func restartRequired(current, next *config.Config) []string {
	var changed []string
	check := func(name string, differs bool) {
		if differs {
			changed = append(changed, name)
		}
	}
	check("admission.max_requests_per_minute", current.Admission.MaxRequestsPerMinute != next.Admission.MaxRequestsPerMinute)
	check("admission.max_active_tasks", current.Admission.MaxActiveTasks != next.Admission.MaxActiveTasks)
	check("admission.window", current.Admission.Window != next.Admission.Window)
	check("image.provider", current.Image.Provider != next.Image.Provider)
	check("image.timeout", current.Image.Timeout != next.Image.Timeout)
	check("server.port", current.Server.Port != next.Server.Port)
	check("stats.backend", current.Stats.Backend != next.Stats.Backend)
	check("logging.level", current.Logging.Level != next.Logging.Level)
	return changed
}
