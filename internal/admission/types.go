// Package admission decides whether an incoming image request may start now.
//
// Two gates are applied in order: a per-requestor sliding one-minute rate
// window and a process-wide ceiling on in-flight tasks. Admitted requests get
// a TaskHandle from the Registry; every handle must be completed exactly once,
// which returns its slot to the pool.
package admission

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RequestorID identifies the originator of a request (a chat user id).
type RequestorID string

// TaskID identifies one admitted unit of work.
type TaskID string

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Final reports whether the status is terminal.
func (s Status) Final() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Kind describes what an admitted task does downstream.
type Kind string

const (
	KindGeneration  Kind = "generation"
	KindEnhancement Kind = "enhancement"
	KindEdit        Kind = "edit"
)

// TaskHandle is a snapshot of an admitted task.
type TaskHandle struct {
	ID          TaskID      `json:"id"`
	Requestor   RequestorID `json:"requestor"`
	Kind        Kind        `json:"kind"`
	Prompt      string      `json:"prompt,omitempty"`
	Status      Status      `json:"status"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// Active reports whether the task still holds a slot.
func (h TaskHandle) Active() bool {
	return !h.Status.Final()
}

// Outcome is the result reported when a task completes.
type Outcome struct {
	Status Status
	Err    error
}

// Succeeded returns a successful outcome.
func Succeeded() Outcome {
	return Outcome{Status: StatusSucceeded}
}

// Failed returns a failed outcome carrying err.
func Failed(err error) Outcome {
	if err == nil {
		err = errUnknownFailure
	}
	return Outcome{Status: StatusFailed, Err: err}
}

// Cancelled returns a failed outcome for work abandoned through its context.
func Cancelled(cause error) Outcome {
	if cause == nil {
		cause = context.Canceled
	}
	return Outcome{Status: StatusFailed, Err: &CancelledError{Cause: cause}}
}

// Clock returns the current time.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

// Logger is the logging surface used by this package. Both the gofulmen
// logger and *zap.Logger satisfy it.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...zap.Field) {}
func (nopLogger) Info(string, ...zap.Field)  {}
func (nopLogger) Warn(string, ...zap.Field)  {}
func (nopLogger) Error(string, ...zap.Field) {}
