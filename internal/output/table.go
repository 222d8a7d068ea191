package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/pixelbot/pixelbot/internal/admission"
	"github.com/pixelbot/pixelbot/internal/core"
	"github.com/pixelbot/pixelbot/internal/core/store"
)

const promptWidth = 48

func newTable(ds Dataset) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)

	header := make(table.Row, 0, len(ds.Header))
	for _, h := range ds.Header {
		header = append(header, h)
	}
	t.AppendHeader(header)
	for _, row := range ds.Rows {
		t.AppendRow(table.Row(row))
	}
	if len(ds.Footer) > 0 {
		t.AppendFooter(table.Row(ds.Footer))
	}
	return t
}

// TaskRecords lists persisted task history.
func TaskRecords(records []core.TaskRecord) Dataset {
	ds := Dataset{
		Header: []string{"Task", "User", "Type", "Status", "Prompt", "Updated"},
		Value:  nonNil(records),
	}
	for _, rec := range records {
		status := rec.Status
		if rec.ErrorMessage != "" {
			status += ": " + clip(rec.ErrorMessage, 32)
		}
		ds.Rows = append(ds.Rows, []any{
			shortID(rec.TaskID),
			rec.UserID,
			string(rec.TaskType),
			status,
			clip(rec.Prompt, promptWidth),
			timestamp(rec.UpdatedAt),
		})
	}
	if len(records) > 0 {
		ds.Footer = []any{"", "", "", fmt.Sprintf("%d tasks", len(records)), "", ""}
	}
	return ds
}

// ImageRecords lists generated images.
func ImageRecords(records []core.ImageRecord) Dataset {
	ds := Dataset{
		Header: []string{"ID", "User", "Type", "Prompt", "Created"},
		Value:  nonNil(records),
	}
	for _, rec := range records {
		ds.Rows = append(ds.Rows, []any{
			rec.ID,
			rec.UserID,
			string(rec.ImageType),
			clip(rec.Prompt, promptWidth),
			timestamp(rec.CreatedAt),
		})
	}
	return ds
}

// ActiveTasks lists in-flight admitted tasks.
func ActiveTasks(tasks []admission.TaskHandle, now time.Time) Dataset {
	ds := Dataset{
		Header: []string{"Task", "Requestor", "Kind", "Status", "Prompt", "Age"},
		Value:  nonNil(tasks),
	}
	for _, task := range tasks {
		ds.Rows = append(ds.Rows, []any{
			shortID(string(task.ID)),
			string(task.Requestor),
			string(task.Kind),
			string(task.Status),
			clip(task.Prompt, promptWidth),
			now.Sub(task.CreatedAt).Round(time.Second).String(),
		})
	}
	return ds
}

// PacingEntries lists persisted provider pacing state.
func PacingEntries(entries []store.PacingEntry, now time.Time) Dataset {
	ds := Dataset{
		Header: []string{"Host", "Requests", "Window Start", "Backoff", "Last 429"},
		Value:  nonNil(entries),
	}
	for _, entry := range entries {
		backoff := "-"
		if until := entry.State.BackoffUntil; until != nil && until.After(now) {
			backoff = until.Sub(now).Round(time.Second).String()
		}
		last429 := "-"
		if entry.State.Last429At != nil {
			last429 = timestamp(*entry.State.Last429At)
		}
		ds.Rows = append(ds.Rows, []any{
			entry.Host,
			entry.State.RequestCount,
			timestamp(entry.State.WindowStart),
			backoff,
			last429,
		})
	}
	return ds
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func clip(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
