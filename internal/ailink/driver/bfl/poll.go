package bfl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/pixelbot/pixelbot/internal/ailink/driver"
)

// Result statuses reported by the get_result endpoint.
const (
	StatusReady            = "Ready"
	StatusPending          = "Pending"
	StatusRequestModerated = "Request Moderated"
	StatusContentModerated = "Content Moderated"
	StatusError            = "Error"
	StatusFailed           = "Failed"
	StatusTaskNotFound     = "Task not found"
)

// ErrPollTimeout is returned when a job is still pending after Timeout.
var ErrPollTimeout = errors.New("bfl result polling timed out")

// Result is one get_result response.
type Result struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result struct {
		Sample string  `json:"sample"`
		Prompt string  `json:"prompt"`
		Seed   int64   `json:"seed"`
		Width  int     `json:"width"`
		Height int     `json:"height"`
		Start  float64 `json:"start_time"`
		End    float64 `json:"end_time"`
	} `json:"result"`
	Progress *float64 `json:"progress,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// JobError reports a job that settled without an image.
type JobError struct {
	JobID  string
	Status string
	Detail string
}

func (e *JobError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("bfl job %s: %s: %s", e.JobID, e.Status, e.Detail)
	}
	return fmt.Sprintf("bfl job %s: %s", e.JobID, e.Status)
}

// Unwrap exposes moderation outcomes as driver.ErrModerated.
func (e *JobError) Unwrap() error {
	if e.Status == StatusContentModerated {
		return driver.ErrModerated
	}
	return nil
}

// PollResult polls a job every PollInterval until it is Ready or settles as
// failed. Pending and Request Moderated keep polling. When Timeout elapses
// first, ErrPollTimeout is returned; cancellation of ctx is returned as is.
func (c *Client) PollResult(ctx context.Context, job *Job) (*Result, error) {
	interval := c.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	pollCtx := ctx
	var own time.Time
	if c.Timeout > 0 {
		own = time.Now().Add(c.Timeout)
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithDeadline(ctx, own)
		defer cancel()
	}

	pace := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := pace.Wait(pollCtx); err != nil {
			return nil, c.pollStopped(ctx, job, own)
		}

		result, err := c.GetResult(pollCtx, job)
		if err != nil {
			if pollCtx.Err() != nil {
				return nil, c.pollStopped(ctx, job, own)
			}
			return nil, err
		}

		switch result.Status {
		case StatusReady:
			if result.Result.Sample == "" {
				return result, &JobError{JobID: job.ID, Status: result.Status, Detail: "no sample url"}
			}
			return result, nil
		case StatusPending, StatusRequestModerated:
			continue
		default:
			return result, &JobError{JobID: job.ID, Status: result.Status, Detail: result.Error}
		}
	}
}

// pollStopped attributes an early stop either to the caller's context or to
// the poll timeout. rate.Limiter gives up before a deadline it cannot meet,
// so the caller's deadline is compared rather than only its Err.
func (c *Client) pollStopped(parent context.Context, job *Job, own time.Time) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if deadline, ok := parent.Deadline(); ok && (own.IsZero() || deadline.Before(own)) {
		return context.DeadlineExceeded
	}
	return fmt.Errorf("job %s after %s: %w", job.ID, c.Timeout, ErrPollTimeout)
}
