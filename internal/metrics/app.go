package metrics

import (
	"time"

	"github.com/pixelbot/pixelbot/internal/observability"
)

// Process and bot metric names
const (
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"
	ServerStartTime     = "app_server_start_time_seconds"
	BotUpdatesTotal     = "bot_updates_total"
	GenerationDuration  = "image_generation_duration_ms"
)

func outcome(ok bool, good, bad string) string {
	if ok {
		return good
	}
	return bad
}

// RecordHealthCheck records one health check run and its latency.
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}
	_ = sys.Counter(HealthCheckTotal, 1, map[string]string{
		"check":  checkName,
		"status": outcome(healthy, "healthy", "unhealthy"),
	})
	_ = sys.Histogram(HealthCheckDuration, duration, map[string]string{"check": checkName})
}

// SetServerStartTime publishes the process start as a Unix timestamp.
func SetServerStartTime(timestamp int64) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Gauge(ServerStartTime, float64(timestamp), nil)
	}
}

// RecordBotUpdate counts an incoming chat update by kind (command name,
// "text" or "photo").
func RecordBotUpdate(kind string) {
	count(BotUpdatesTotal, map[string]string{"kind": kind})
}

// RecordGeneration records how long a provider call took.
func RecordGeneration(provider string, success bool, duration time.Duration) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Histogram(GenerationDuration, duration, map[string]string{
			"provider": provider,
			"status":   outcome(success, "success", "failure"),
		})
	}
}
