package admission

import "time"

// Decision is the kind of event an Observer receives.
type Decision string

const (
	DecisionAdmitted      Decision = "admitted"
	DecisionRateLimited   Decision = "rate_limited"
	DecisionCapacity      Decision = "capacity_exceeded"
	DecisionCompleted     Decision = "completed"
	DecisionSlotViolation Decision = "slot_violation"
)

// Event is emitted for every admission decision and completion.
type Event struct {
	Requestor   RequestorID
	Decision    Decision
	TaskID      TaskID
	Kind        Kind
	Status      Status
	At          time.Time
	Duration    time.Duration
	ActiveSlots int
}

// Observer receives admission events. Observe runs on the admission path
// outside every lock and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

// Observers fans an event out to each non-nil observer in order.
type Observers []Observer

func (o Observers) Observe(ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ev)
		}
	}
}
