//go:build cgo

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pixelbot/pixelbot/internal/config"
	"github.com/pixelbot/pixelbot/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, config.StoreConfig{Driver: "libsql", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	user, err := s.GetOrCreateUser(ctx, UserProfile{TelegramID: 42, Username: "ada", FirstName: "Ada"})
	require.NoError(t, err)
	require.Equal(t, core.DefaultPreferences(), user.Preferences)
	require.Zero(t, user.UsageStats.TotalGenerations)

	again, err := s.GetOrCreateUser(ctx, UserProfile{TelegramID: 42, Username: "ada_l", FirstName: "Ada"})
	require.NoError(t, err)
	require.Equal(t, "ada_l", again.Username)
	require.Equal(t, user.CreatedAt, again.CreatedAt)

	require.NoError(t, s.IncrementUsageStat(ctx, 42, core.StatTotalGenerations))
	require.NoError(t, s.IncrementUsageStat(ctx, 42, core.StatTotalGenerations))
	require.NoError(t, s.IncrementUsageStat(ctx, 42, core.StatTotalEdits))

	prefs := core.Preferences{DefaultStyle: "anime", ImageQuality: "standard"}
	require.NoError(t, s.UpdateUserPreferences(ctx, 42, prefs))

	loaded, err := s.GetUser(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, 2, loaded.UsageStats.TotalGenerations)
	require.Equal(t, 1, loaded.UsageStats.TotalEdits)
	require.NotNil(t, loaded.UsageStats.LastUsed)
	require.Equal(t, prefs, loaded.Preferences)

	missing, err := s.GetUser(ctx, 7)
	require.NoError(t, err)
	require.Nil(t, missing)
	require.ErrorIs(t, s.IncrementUsageStat(ctx, 7, core.StatTotalEdits), ErrNotFound)
	require.ErrorIs(t, s.UpdateUserPreferences(ctx, 7, prefs), ErrNotFound)
}

func TestImages(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, prompt := range []string{"a cat", "a dog", "a fox"} {
		_, err := s.SaveImageRecord(ctx, &core.ImageRecord{
			UserID:    42,
			Prompt:    prompt,
			ImageURL:  "https://cdn.example/" + prompt,
			TaskID:    "t" + prompt,
			Metadata:  map[string]any{"provider": "bfl"},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err := s.SaveImageRecord(ctx, &core.ImageRecord{UserID: 7, Prompt: "x", ImageURL: "u", TaskID: "t"})
	require.NoError(t, err)

	images, err := s.ListUserImages(ctx, 42, 2)
	require.NoError(t, err)
	require.Len(t, images, 2)
	require.Equal(t, "a fox", images[0].Prompt)
	require.Equal(t, "a dog", images[1].Prompt)
	require.Equal(t, core.ImageTypeGeneration, images[0].ImageType)
	require.Equal(t, "bfl", images[0].Metadata["provider"])

	latest, err := s.LatestUserImage(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, "a fox", latest.Prompt)

	none, err := s.LatestUserImage(ctx, 99)
	require.NoError(t, err)
	require.Nil(t, none)

	_, err = s.SaveImageRecord(ctx, &core.ImageRecord{UserID: 1})
	require.Error(t, err)
}

func TestTasks(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	old := time.Now().UTC().Add(-10 * 24 * time.Hour)

	require.NoError(t, s.SaveTaskRecord(ctx, &core.TaskRecord{
		TaskID: "old", UserID: 42, TaskType: core.ImageTypeGeneration, Status: "succeeded", CreatedAt: old,
	}))
	require.NoError(t, s.SaveTaskRecord(ctx, &core.TaskRecord{
		TaskID: "new", UserID: 42, TaskType: core.ImageTypeEdit, Status: "running", Prompt: "edit me",
	}))
	require.NoError(t, s.SaveTaskRecord(ctx, &core.TaskRecord{
		TaskID: "other", UserID: 7, TaskType: core.ImageTypeGeneration, Status: "running",
	}))

	require.NoError(t, s.UpdateTaskStatus(ctx, "new", "succeeded", "https://cdn.example/new", ""))
	require.NoError(t, s.UpdateTaskStatus(ctx, "other", "failed", "", "moderated"))
	require.ErrorIs(t, s.UpdateTaskStatus(ctx, "nope", "failed", "", ""), ErrNotFound)

	rec, err := s.GetTaskRecord(ctx, "new")
	require.NoError(t, err)
	require.Equal(t, "succeeded", rec.Status)
	require.Equal(t, "https://cdn.example/new", rec.ResultURL)
	require.Equal(t, "edit me", rec.Prompt)
	require.Equal(t, core.ImageTypeEdit, rec.TaskType)

	rec, err = s.GetTaskRecord(ctx, "other")
	require.NoError(t, err)
	require.Equal(t, "moderated", rec.ErrorMessage)

	rec, err = s.GetTaskRecord(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, rec)

	mine, err := s.ListTaskRecords(ctx, TaskQuery{UserID: 42})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	require.Equal(t, "new", mine[0].TaskID)

	failed, err := s.ListTaskRecords(ctx, TaskQuery{Status: "failed"})
	require.NoError(t, err)
	require.Len(t, failed, 1)

	cutoff := time.Now().UTC().Add(-7 * 24 * time.Hour)
	pending, err := s.CountTasksBefore(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(1), pending)

	removed, err := s.CleanupOldTasks(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	all, err := s.ListTaskRecords(ctx, TaskQuery{})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestPacingState(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	backoff := start.Add(30 * time.Second)

	state, err := s.GetRateLimit(ctx, "api.bfl.ai")
	require.NoError(t, err)
	require.Nil(t, state)

	require.NoError(t, s.UpdateRateLimit(ctx, "api.bfl.ai", &core.RateLimitState{RequestCount: 3, WindowStart: start, BackoffUntil: &backoff}))
	require.NoError(t, s.UpdateRateLimit(ctx, "api.openai.com", &core.RateLimitState{RequestCount: 1, WindowStart: start}))

	state, err = s.GetRateLimit(ctx, "api.bfl.ai")
	require.NoError(t, err)
	require.Equal(t, 3, state.RequestCount)
	require.Equal(t, backoff, *state.BackoffUntil)
	require.Nil(t, state.Last429At)

	entries, err := s.ListRateLimits(ctx, PacingQuery{Prefix: "api.b"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "api.bfl.ai", entries[0].Host)

	_, err = s.ListRateLimits(ctx, PacingQuery{})
	require.Error(t, err)

	removed, err := s.ResetRateLimits(ctx, PacingQuery{All: true})
	require.NoError(t, err)
	require.Equal(t, int64(2), removed)
}
