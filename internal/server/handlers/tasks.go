package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pixelbot/pixelbot/internal/admission"
	apperrors "github.com/pixelbot/pixelbot/internal/errors"
)

// TaskReader is the read side of the admission coordinator.
type TaskReader interface {
	Get(id admission.TaskID) (admission.TaskHandle, bool)
	ListActive(id admission.RequestorID) []admission.TaskHandle
	Stats(id admission.RequestorID) admission.Snapshot
	Counts() admission.RegistryCounts
}

// TaskHandlers serve the read-only task API.
type TaskHandlers struct {
	reader TaskReader
}

// NewTaskHandlers binds handlers to reader.
func NewTaskHandlers(reader TaskReader) *TaskHandlers {
	return &TaskHandlers{reader: reader}
}

// TaskView is a task as the unauthenticated API shows it. Prompts are user
// content and stay out of it.
type TaskView struct {
	ID          admission.TaskID      `json:"id"`
	Requestor   admission.RequestorID `json:"requestor"`
	Kind        admission.Kind        `json:"kind"`
	Status      admission.Status      `json:"status"`
	Error       string                `json:"error,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

func viewOf(task admission.TaskHandle) TaskView {
	return TaskView{
		ID:          task.ID,
		Requestor:   task.Requestor,
		Kind:        task.Kind,
		Status:      task.Status,
		Error:       task.Error,
		CreatedAt:   task.CreatedAt,
		CompletedAt: task.CompletedAt,
	}
}

// TaskListResponse is the body of GET /v1/tasks.
type TaskListResponse struct {
	Requestor admission.RequestorID `json:"requestor"`
	Count     int                   `json:"count"`
	Tasks     []TaskView            `json:"tasks"`
}

// OverviewResponse is the body of GET /v1/admission.
type OverviewResponse struct {
	Tasks admission.RegistryCounts `json:"tasks"`
}

// List returns the active tasks of ?requestor=.
func (h *TaskHandlers) List(w http.ResponseWriter, r *http.Request) {
	requestor := strings.TrimSpace(r.URL.Query().Get("requestor"))
	if requestor == "" {
		apperrors.RespondWithError(w, r, apperrors.NewInvalidInputError("requestor query parameter is required"))
		return
	}
	active := h.reader.ListActive(admission.RequestorID(requestor))
	tasks := make([]TaskView, 0, len(active))
	for _, task := range active {
		tasks = append(tasks, viewOf(task))
	}
	writeJSON(w, http.StatusOK, TaskListResponse{
		Requestor: admission.RequestorID(requestor),
		Count:     len(tasks),
		Tasks:     tasks,
	})
}

// Get returns one task, active or recently finished.
func (h *TaskHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, ok := h.reader.Get(admission.TaskID(id))
	if !ok {
		apperrors.RespondWithError(w, r, fmt.Errorf("task %s: %w", id, admission.ErrTaskNotFound))
		return
	}
	writeJSON(w, http.StatusOK, viewOf(task))
}

// Stats returns the admission snapshot for one requestor.
func (h *TaskHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	id := admission.RequestorID(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, h.reader.Stats(id))
}

// Overview returns registry counts.
func (h *TaskHandlers) Overview(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, OverviewResponse{Tasks: h.reader.Counts()})
}
