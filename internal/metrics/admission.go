package metrics

import (
	"github.com/pixelbot/pixelbot/internal/admission"
	"github.com/pixelbot/pixelbot/internal/observability"
)

// Admission metric names
const (
	AdmissionDecisionsTotal = "admission_decisions_total"
	AdmissionActiveSlots    = "admission_active_slots"
	TaskCompletionsTotal    = "task_completions_total"
	TaskDuration            = "task_duration_ms"
	SlotViolationsTotal     = "slot_release_violations_total"
)

// AdmissionObserver turns admission events into telemetry.
type AdmissionObserver struct{}

// Observe implements admission.Observer.
func (AdmissionObserver) Observe(ev admission.Event) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}

	switch ev.Decision {
	case admission.DecisionSlotViolation:
		_ = sys.Counter(SlotViolationsTotal, 1, nil)
		return
	case admission.DecisionCompleted:
		_ = sys.Counter(TaskCompletionsTotal, 1, map[string]string{
			"kind":   string(ev.Kind),
			"status": string(ev.Status),
		})
		_ = sys.Histogram(TaskDuration, ev.Duration, map[string]string{
			"kind": string(ev.Kind),
		})
	default:
		_ = sys.Counter(AdmissionDecisionsTotal, 1, map[string]string{
			"decision": string(ev.Decision),
			"kind":     string(ev.Kind),
		})
	}

	_ = sys.Gauge(AdmissionActiveSlots, float64(ev.ActiveSlots), nil)
}
