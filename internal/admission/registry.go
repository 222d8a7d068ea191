package admission

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry tracks admitted tasks for the lifetime of the process.
//
// Only the Coordinator mutates task state; everything exported here is
// read-only apart from PurgeCompleted.
type Registry struct {
	mu    sync.RWMutex
	tasks map[TaskID]*TaskHandle
	newID func() TaskID
}

// RegistryCounts summarises registry contents.
type RegistryCounts struct {
	Active    int `json:"active"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[TaskID]*TaskHandle),
		newID: func() TaskID { return TaskID(uuid.NewString()) },
	}
}

// Get returns a snapshot of the task.
func (r *Registry) Get(id TaskID) (TaskHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return TaskHandle{}, false
	}
	return *task, true
}

// ListActive returns non-final tasks ordered by creation time. An empty
// requestor lists every requestor's tasks.
func (r *Registry) ListActive(requestor RequestorID) []TaskHandle {
	r.mu.RLock()
	out := make([]TaskHandle, 0)
	for _, task := range r.tasks {
		if !task.Active() {
			continue
		}
		if requestor != "" && task.Requestor != requestor {
			continue
		}
		out = append(out, *task)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// PurgeCompleted removes finalized tasks completed before olderThan.
func (r *Registry) PurgeCompleted(olderThan time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, task := range r.tasks {
		if task.CompletedAt == nil || !task.CompletedAt.Before(olderThan) {
			continue
		}
		delete(r.tasks, id)
		removed++
	}
	return removed
}

// Counts returns task totals by state.
func (r *Registry) Counts() RegistryCounts {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var counts RegistryCounts
	for _, task := range r.tasks {
		switch task.Status {
		case StatusSucceeded:
			counts.Succeeded++
		case StatusFailed:
			counts.Failed++
		default:
			counts.Active++
		}
	}
	return counts
}

func (r *Registry) create(requestor RequestorID, kind Kind, prompt string, now time.Time) TaskHandle {
	task := &TaskHandle{
		ID:        r.newID(),
		Requestor: requestor,
		Kind:      kind,
		Prompt:    prompt,
		Status:    StatusPending,
		CreatedAt: now,
	}

	r.mu.Lock()
	r.tasks[task.ID] = task
	r.mu.Unlock()

	return *task
}

func (r *Registry) markRunning(id TaskID) (TaskHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return TaskHandle{}, ErrTaskNotFound
	}
	if task.Status.Final() {
		return *task, ErrTaskFinalized
	}
	task.Status = StatusRunning
	return *task, nil
}

// finalize moves a task to its terminal state. The check and the transition
// happen under one lock so only the first caller wins.
func (r *Registry) finalize(id TaskID, outcome Outcome, now time.Time) (TaskHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return TaskHandle{}, ErrTaskNotFound
	}
	if task.Status.Final() {
		return *task, ErrTaskFinalized
	}

	status := outcome.Status
	if !status.Final() {
		status = StatusFailed
	}
	task.Status = status
	if outcome.Err != nil {
		task.Error = outcome.Err.Error()
	}
	completed := now
	task.CompletedAt = &completed
	return *task, nil
}
