package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/pixelbot/pixelbot/internal/admission"
	apperrors "github.com/pixelbot/pixelbot/internal/errors"
)

func taskRouter(reader TaskReader) http.Handler {
	h := NewTaskHandlers(reader)
	r := chi.NewRouter()
	r.Get("/v1/admission", h.Overview)
	r.Get("/v1/tasks", h.List)
	r.Get("/v1/tasks/{id}", h.Get)
	r.Get("/v1/requestors/{id}/stats", h.Stats)
	return r
}

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestTaskRoutes(t *testing.T) {
	coord := admission.New(admission.Config{MaxRequestsPerMinute: 5, MaxActiveTasks: 2})
	task, err := coord.Submit(context.Background(), "42", admission.WithPrompt("a fox"))
	require.NoError(t, err)
	router := taskRouter(coord)

	t.Run("list", func(t *testing.T) {
		rec := serve(t, router, "/v1/tasks?requestor=42")
		require.Equal(t, http.StatusOK, rec.Code)

		var body TaskListResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.Equal(t, 1, body.Count)
		require.Equal(t, task.ID, body.Tasks[0].ID)
		require.Equal(t, admission.KindGeneration, body.Tasks[0].Kind)
		require.NotContains(t, rec.Body.String(), "a fox")
		require.NotContains(t, rec.Body.String(), `"prompt"`)
	})

	t.Run("list empty is an array", func(t *testing.T) {
		rec := serve(t, router, "/v1/tasks?requestor=7")
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"requestor":"7","count":0,"tasks":[]}`, rec.Body.String())
	})

	t.Run("list requires requestor", func(t *testing.T) {
		rec := serve(t, router, "/v1/tasks")
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get", func(t *testing.T) {
		rec := serve(t, router, "/v1/tasks/"+string(task.ID))
		require.Equal(t, http.StatusOK, rec.Code)

		require.NotContains(t, rec.Body.String(), "a fox")
		var body TaskView
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.Equal(t, admission.StatusRunning, body.Status)
		require.Equal(t, admission.RequestorID("42"), body.Requestor)
	})

	t.Run("get unknown", func(t *testing.T) {
		rec := serve(t, router, "/v1/tasks/nope")
		require.Equal(t, http.StatusNotFound, rec.Code)

		var body apperrors.HTTPErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.Equal(t, apperrors.CodeNotFound, body.Error.Code)
	})

	t.Run("stats", func(t *testing.T) {
		rec := serve(t, router, "/v1/requestors/42/stats")
		require.Equal(t, http.StatusOK, rec.Code)

		var snap admission.Snapshot
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
		require.Equal(t, 1, snap.Rate.Recent)
		require.Equal(t, 5, snap.Rate.Max)
		require.Equal(t, 1, snap.ActiveTasks)
		require.Equal(t, 2, snap.Capacity)
	})

	t.Run("overview", func(t *testing.T) {
		rec := serve(t, router, "/v1/admission")
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"tasks":{"active":1,"succeeded":0,"failed":0}}`, rec.Body.String())
	})
}
