package output

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pixelbot/pixelbot/internal/admission"
	"github.com/pixelbot/pixelbot/internal/core"
	"github.com/pixelbot/pixelbot/internal/core/store"
)

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("md")
	require.NoError(t, err)
	require.Equal(t, FormatMarkdown, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func TestTaskRecordsRender(t *testing.T) {
	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []core.TaskRecord{{
		TaskID:       "0123456789abcdef",
		UserID:       42,
		TaskType:     core.ImageTypeGeneration,
		Status:       "failed",
		Prompt:       "a lighthouse\nat dusk",
		ErrorMessage: "provider timeout",
		UpdatedAt:    updated,
	}}

	table, err := Render(FormatTable, TaskRecords(records))
	require.NoError(t, err)
	require.Contains(t, table, "01234567")
	require.Contains(t, table, "failed: provider timeout")
	require.Contains(t, table, "a lighthouse at dusk")
	require.Contains(t, table, "2026-03-01 12:00:00")
	require.Contains(t, table, "1 tasks")

	md, err := Render(FormatMarkdown, TaskRecords(records))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(md, "| "), md)

	js, err := Render(FormatJSON, TaskRecords(records))
	require.NoError(t, err)
	require.Contains(t, js, `"task_id": "0123456789abcdef"`)
}

func TestEmptyDatasets(t *testing.T) {
	table, err := Render(FormatTable, ImageRecords(nil))
	require.NoError(t, err)
	require.Empty(t, table)

	js, err := Render(FormatJSON, ImageRecords(nil))
	require.NoError(t, err)
	require.Equal(t, "[]", js)
}

func TestActiveTasksAndPacing(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	active := ActiveTasks([]admission.TaskHandle{{
		ID:        "abc",
		Requestor: "cli",
		Kind:      admission.KindEdit,
		Status:    admission.StatusRunning,
		Prompt:    strings.Repeat("x", 80),
		CreatedAt: now.Add(-90 * time.Second),
	}}, now)
	require.Len(t, active.Rows, 1)
	require.Equal(t, "1m30s", active.Rows[0][5])
	require.Len(t, []rune(active.Rows[0][4].(string)), promptWidth)

	until := now.Add(30 * time.Second)
	pacing := PacingEntries([]store.PacingEntry{{
		Host:  "api.bfl.ai",
		State: core.RateLimitState{RequestCount: 3, WindowStart: now, BackoffUntil: &until},
	}}, now)
	require.Equal(t, "30s", pacing.Rows[0][3])
	require.Equal(t, "-", pacing.Rows[0][4])
}
