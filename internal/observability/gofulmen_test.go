package observability_test

import (
	"testing"

	"github.com/fulmenhq/gofulmen/crucible"
	"go.uber.org/zap"

	"github.com/pixelbot/pixelbot/internal/admission"
	"github.com/pixelbot/pixelbot/internal/observability"
)

func TestLoggers(t *testing.T) {
	t.Run("CLI logger creation", func(t *testing.T) {
		observability.InitCLILogger("test-service", true)
		if observability.CLILogger == nil {
			t.Fatal("CLI logger should not be nil after initialization")
		}
		observability.CLILogger.Debug("Test CLI log message", zap.String("test", "value"))
	})

	t.Run("Structured logger creation", func(t *testing.T) {
		observability.InitServerLogger("test-service", "WARN", "test", "pixelbot")
		if observability.ServerLogger == nil {
			t.Fatal("Server logger should not be nil after initialization")
		}
		observability.ServerLogger.Warn("Test structured log message",
			zap.String("component", "test"),
			zap.Int("request_id", 123))
	})

	t.Run("Active prefers server logger", func(t *testing.T) {
		if observability.Active() != observability.ServerLogger {
			t.Fatal("expected server logger once initialized")
		}
	})

	t.Run("Satisfies admission logger", func(t *testing.T) {
		var logger admission.Logger = observability.Active()
		logger.Info("admission logger wiring", zap.String("k", "v"))
	})
}

func TestEmbeddedCrucible(t *testing.T) {
	version := crucible.GetVersion()
	if version.Gofulmen == "" {
		t.Error("Gofulmen version should not be empty")
	}
	if version.Crucible == "" {
		t.Error("Crucible version should not be empty")
	}
}

func TestMetricsLifecycle(t *testing.T) {
	if err := observability.InitMetrics("pixelbot-test", 0); err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		t.Fatal("expected telemetry system and exporter after init")
	}
	if observability.GetMetricsPort() <= 0 {
		t.Errorf("expected a bound port, got %d", observability.GetMetricsPort())
	}

	if err := observability.ShutdownMetrics(); err != nil {
		t.Fatalf("ShutdownMetrics: %v", err)
	}
	if observability.TelemetrySystem != nil || observability.PrometheusExporter != nil {
		t.Fatal("expected globals cleared after shutdown")
	}
	if err := observability.ShutdownMetrics(); err != nil {
		t.Fatalf("second ShutdownMetrics: %v", err)
	}
}
