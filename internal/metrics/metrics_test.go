package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelbot/pixelbot/internal/admission"
	"github.com/pixelbot/pixelbot/internal/observability"
)

func withCollector(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()
	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })
	return collector
}

func TestAdmissionObserver(t *testing.T) {
	collector := withCollector(t)
	obs := AdmissionObserver{}

	obs.Observe(admission.Event{Decision: admission.DecisionAdmitted, Kind: admission.KindGeneration, ActiveSlots: 1})
	obs.Observe(admission.Event{Decision: admission.DecisionRateLimited, Kind: admission.KindEdit})
	obs.Observe(admission.Event{
		Decision: admission.DecisionCompleted,
		Kind:     admission.KindGeneration,
		Status:   admission.StatusSucceeded,
		Duration: 1200 * time.Millisecond,
	})
	obs.Observe(admission.Event{Decision: admission.DecisionSlotViolation})

	for _, name := range []string{
		AdmissionDecisionsTotal, TaskCompletionsTotal, TaskDuration, SlotViolationsTotal, AdmissionActiveSlots,
	} {
		assert.Greater(t, collector.CountMetricsByName(name), 0, "expected %s", name)
	}
}

func TestRecordersEmit(t *testing.T) {
	collector := withCollector(t)

	RecordBotUpdate("imagine")
	RecordGeneration("openai", false, 3*time.Second)
	RecordHealthCheck("store", true, time.Millisecond)
	SetServerStartTime(time.Now().Unix())
	RecordError("RATE_LIMITED", http.StatusTooManyRequests)
	RecordErrorByEndpoint("/v1/tasks", "RATE_LIMITED")
	RecordPanic()
	RecordHTTPRequest(HTTPRequest{Method: http.MethodGet, Endpoint: "/v1/tasks", Status: http.StatusBadGateway})

	for _, name := range []string{
		BotUpdatesTotal, GenerationDuration, HealthCheckTotal, HealthCheckDuration,
		ServerStartTime, ErrorsTotalName, ErrorsByEndpointName, PanicsTotalName,
		HTTPRequestsTotal, HTTPErrorsTotal,
	} {
		assert.Greater(t, collector.CountMetricsByName(name), 0, "expected %s", name)
	}
}

func TestRecordersWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	assert.NotPanics(t, func() {
		RecordBotUpdate("text")
		RecordPanic()
		AdmissionObserver{}.Observe(admission.Event{Decision: admission.DecisionCapacity})
	})
}
