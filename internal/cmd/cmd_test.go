package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pixelbot/pixelbot/internal/admission"
	"github.com/pixelbot/pixelbot/internal/config"
	"github.com/pixelbot/pixelbot/internal/output"
	"github.com/pixelbot/pixelbot/internal/server/handlers"
)

func TestGenerateRequest(t *testing.T) {
	kind, prompt, err := generateRequest("Generation", []string{"  a red fox  "}, "")
	require.NoError(t, err)
	assert.Equal(t, admission.KindGeneration, kind)
	assert.Equal(t, "a red fox", prompt)

	_, _, err = generateRequest("generation", nil, "")
	require.Error(t, err)

	_, _, err = generateRequest("generation", []string{"fox"}, "in.png")
	require.ErrorContains(t, err, "--input")

	_, _, err = generateRequest("edit", []string{"make it snowy"}, "")
	require.Error(t, err)

	kind, prompt, err = generateRequest("enhancement", nil, "in.png")
	require.NoError(t, err)
	assert.Equal(t, admission.KindEnhancement, kind)
	assert.NotEmpty(t, prompt)

	_, _, err = generateRequest("upscale", []string{"x"}, "")
	require.ErrorContains(t, err, "unsupported kind")
}

func TestOutputImagePath(t *testing.T) {
	assert.Equal(t, "explicit.png", outputImagePath("explicit.png", "ignored", "p", "id", "png"))
	assert.Equal(t,
		filepath.Join("out", "a-red-fox-1234abcd.jpg"),
		outputImagePath("", "out", "A red fox!", "1234abcd-ffff", imageExtension("jpeg")))
	assert.Equal(t, "output-id.webp", outputImagePath("", "", "   ", "id", imageExtension("WEBP")))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "history.images.42", sanitizeFilename("History.Images.42"))
	assert.Equal(t, "output", sanitizeFilename("..."))
}

func TestAdmissionHealth(t *testing.T) {
	require.NoError(t, admissionHealth(admission.Snapshot{ActiveSlots: 1, Capacity: 2}))

	err := admissionHealth(admission.Snapshot{ActiveSlots: 2, Capacity: 2})
	require.ErrorIs(t, err, handlers.ErrDegraded)
}

func TestRestartRequired(t *testing.T) {
	current := &config.Config{Admission: config.AdmissionConfig{MaxActiveTasks: 5}}
	next := *current
	assert.Empty(t, restartRequired(current, &next))

	next.Admission.MaxActiveTasks = 8
	next.Logging.Level = "debug"
	assert.Equal(t, []string{"admission.max_active_tasks", "logging.level"}, restartRequired(current, &next))
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, foundry.ExitConfigInvalid, ExitCodeFor(fmt.Errorf("serve: %w", invalidConfig(errors.New("bad")))))
	assert.Equal(t, foundry.ExitFileNotFound, ExitCodeFor(fmt.Errorf("read: %w", os.ErrNotExist)))
	assert.Equal(t, foundry.ExitFailure, ExitCodeFor(errors.New("boom")))
	assert.Nil(t, invalidConfig(nil))
}

func TestWriteRateLimitResetResult(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeRateLimitResetResult(output.FormatTable, &buf, 3, 0, true))
	assert.Equal(t, "Would clear pacing state for 3 host(s)\n", buf.String())

	buf.Reset()
	require.NoError(t, writeRateLimitResetResult(output.FormatJSON, &buf, 2, 2, false))
	assert.JSONEq(t, `{"matched":2,"deleted":2,"dry_run":false}`, buf.String())
}

func TestNewStatsRecorder(t *testing.T) {
	ctx := context.Background()

	recorder, closeFn, err := newStatsRecorder(ctx, config.StatsConfig{Backend: "none"}, nil)
	require.NoError(t, err)
	assert.Nil(t, recorder)
	require.NoError(t, closeFn(ctx))

	recorder, closeFn, err = newStatsRecorder(ctx, config.StatsConfig{Backend: "Memory", Buffer: 4}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, recorder)
	recorder.Observe(admission.Event{Decision: admission.DecisionAdmitted, At: time.Now()})
	require.NoError(t, closeFn(ctx))

	_, _, err = newStatsRecorder(ctx, config.StatsConfig{Backend: "kafka"}, zap.NewNop())
	require.ErrorContains(t, err, "not supported")
}
