package admission

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimitExceeded is returned when the requestor's one-minute budget is spent.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrCapacityExceeded is returned when every task slot is taken.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrSlotReleaseInvariant signals a release with no active slot (a leak or double release).
	ErrSlotReleaseInvariant = errors.New("slot release invariant violated")
	// ErrTaskNotFound is returned for unknown task ids.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskFinalized is returned when a task is completed more than once.
	ErrTaskFinalized = errors.New("task already finalized")

	errUnknownFailure = errors.New("task failed")
)

// Reason names the gate that rejected a request.
type Reason string

const (
	ReasonRateLimited Reason = "rate_limited"
	ReasonCapacity    Reason = "capacity"
)

// AdmissionError describes a rejected submission. It unwraps to
// ErrRateLimitExceeded or ErrCapacityExceeded.
type AdmissionError struct {
	Reason    Reason
	Requestor RequestorID
	// RetryAfter is a hint only; zero means unknown.
	RetryAfter time.Duration
}

func (e *AdmissionError) Error() string {
	if e == nil {
		return "admission rejected"
	}
	msg := fmt.Sprintf("admission rejected for %s: %v", e.Requestor, e.Unwrap())
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter.Round(time.Second))
	}
	return msg
}

func (e *AdmissionError) Unwrap() error {
	if e == nil {
		return nil
	}
	switch e.Reason {
	case ReasonRateLimited:
		return ErrRateLimitExceeded
	case ReasonCapacity:
		return ErrCapacityExceeded
	default:
		return nil
	}
}

// CancelledError marks work that stopped because its context ended.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("cancelled: %v", e.Cause)
}

func (e *CancelledError) Unwrap() error {
	return e.Cause
}

// IsTransient reports whether err is a rejection the caller may retry later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimitExceeded) || errors.Is(err, ErrCapacityExceeded)
}
