// Package eventstats records admission decisions for later inspection.
//
// Stores are best-effort: a failed write is logged and never affects the
// admission result. The Recorder decouples the admission path from store I/O.
package eventstats

import (
	"context"

	"github.com/pixelbot/pixelbot/internal/admission"
)

// Store persists admission events.
type Store interface {
	Record(ctx context.Context, ev admission.Event) error
}

// Counters aggregates events by outcome.
type Counters struct {
	Admitted    int64 `json:"admitted"`
	RateLimited int64 `json:"rate_limited"`
	Capacity    int64 `json:"capacity_exceeded"`
	Succeeded   int64 `json:"succeeded"`
	Failed      int64 `json:"failed"`
	Violations  int64 `json:"slot_violations"`
}

func (c *Counters) apply(ev admission.Event) {
	switch field(ev) {
	case "admitted":
		c.Admitted++
	case "rate_limited":
		c.RateLimited++
	case "capacity_exceeded":
		c.Capacity++
	case "succeeded":
		c.Succeeded++
	case "failed":
		c.Failed++
	case "slot_violation":
		c.Violations++
	}
}

// field maps an event to the counter it increments.
func field(ev admission.Event) string {
	if ev.Decision == admission.DecisionCompleted {
		if ev.Status == admission.StatusSucceeded {
			return "succeeded"
		}
		return "failed"
	}
	return string(ev.Decision)
}

// countersFromHash rebuilds counters from a redis hash.
func countersFromHash(values map[string]int64) Counters {
	return Counters{
		Admitted:    values["admitted"],
		RateLimited: values["rate_limited"],
		Capacity:    values["capacity_exceeded"],
		Succeeded:   values["succeeded"],
		Failed:      values["failed"],
		Violations:  values["slot_violation"],
	}
}
