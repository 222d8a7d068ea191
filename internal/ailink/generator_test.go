package ailink

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pixelbot/pixelbot/internal/ailink/content"
	"github.com/pixelbot/pixelbot/internal/ailink/driver"
	"github.com/pixelbot/pixelbot/internal/ailink/driver/bfl"
	"github.com/pixelbot/pixelbot/internal/ailink/driver/openai"
	"github.com/pixelbot/pixelbot/internal/config"
	"github.com/pixelbot/pixelbot/internal/core"
	"github.com/pixelbot/pixelbot/internal/core/pacing"
)

type memoryPacing struct {
	state map[string]core.RateLimitState
	// backoffErr fails writes that carry a 429 timestamp.
	backoffErr error
}

func (m *memoryPacing) GetRateLimit(_ context.Context, host string) (*core.RateLimitState, error) {
	if v, ok := m.state[host]; ok {
		return &v, nil
	}
	return nil, nil
}

func (m *memoryPacing) UpdateRateLimit(_ context.Context, host string, state *core.RateLimitState) error {
	if m.backoffErr != nil && state.Last429At != nil {
		return m.backoffErr
	}
	if m.state == nil {
		m.state = map[string]core.RateLimitState{}
	}
	m.state[host] = *state
	return nil
}

type stubGenerator struct {
	calls int
	err   error
}

func (s *stubGenerator) Name() string { return "stub" }

func (s *stubGenerator) GenerateImage(context.Context, *driver.ImageRequest) (*driver.ImageResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &driver.ImageResponse{Images: []content.ContentBlock{{Type: content.ContentTypeURL, Text: "u"}}}, nil
}

func TestNewGenerator(t *testing.T) {
	gen, err := NewGenerator(config.ImageConfig{
		Provider:     "bfl",
		PollInterval: time.Second,
		Timeout:      time.Minute,
		BFL:          config.BFLConfig{APIKey: "k", Model: "flux-dev", SafetyTolerance: 4},
	})
	require.NoError(t, err)
	client, ok := gen.(*bfl.Client)
	require.True(t, ok)
	require.Equal(t, "flux-dev", client.Model)
	require.Equal(t, time.Second, client.PollInterval)
	require.Equal(t, 4, client.SafetyTolerance)

	gen, err = NewGenerator(config.ImageConfig{Provider: "OpenAI", OpenAI: config.OpenAIConfig{APIKey: "k", Model: "dall-e-3"}})
	require.NoError(t, err)
	require.IsType(t, &openai.Client{}, gen)

	_, err = NewGenerator(config.ImageConfig{Provider: "midjourney"})
	require.Error(t, err)

	require.Equal(t, "api.bfl.ai", ProviderHost(config.ImageConfig{}))
	require.Equal(t, "api.openai.com", ProviderHost(config.ImageConfig{Provider: "openai"}))
}

func TestPacedBudgetAndBackoff(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &memoryPacing{}
	stub := &stubGenerator{}
	paced := &Paced{
		Generator: stub,
		Host:      "api.example",
		Limiter: &pacing.Limiter{
			Store:   store,
			Budgets: map[string]pacing.Budget{"api.example": {Requests: 1, Window: time.Minute}},
			Clock:   func() time.Time { return now },
		},
	}

	_, err := paced.GenerateImage(ctx, &driver.ImageRequest{Prompt: "x"})
	require.NoError(t, err)

	_, err = paced.GenerateImage(ctx, &driver.ImageRequest{Prompt: "x"})
	require.ErrorIs(t, err, ErrProviderBusy)
	var busy *BusyError
	require.ErrorAs(t, err, &busy)
	require.Equal(t, time.Minute, busy.Wait)
	require.Equal(t, 1, stub.calls)

	now = now.Add(2 * time.Minute)
	stub.err = &driver.ProviderError{Provider: "stub", StatusCode: http.StatusTooManyRequests, RetryAfter: 45 * time.Second}
	_, err = paced.GenerateImage(ctx, &driver.ImageRequest{Prompt: "x"})
	require.ErrorIs(t, err, driver.ErrProviderRateLimited)

	state := store.state["api.example"]
	require.NotNil(t, state.BackoffUntil)
	require.Equal(t, now.Add(45*time.Second), *state.BackoffUntil)
	require.Equal(t, "stub", paced.Name())
}

func TestPacedSurfacesLostBackoff(t *testing.T) {
	diskFull := errors.New("disk full")
	store := &memoryPacing{backoffErr: diskFull}
	paced := &Paced{
		Generator: &stubGenerator{err: &driver.ProviderError{Provider: "stub", StatusCode: http.StatusTooManyRequests, RetryAfter: time.Minute}},
		Host:      "api.example",
		Limiter:   &pacing.Limiter{Store: store},
	}

	resp, err := paced.GenerateImage(context.Background(), &driver.ImageRequest{Prompt: "x"})
	require.Nil(t, resp)
	require.ErrorIs(t, err, driver.ErrProviderRateLimited)
	require.ErrorIs(t, err, diskFull)
	require.ErrorContains(t, err, "store provider backoff")
	require.Equal(t, 1, store.state["api.example"].RequestCount)
	require.Nil(t, store.state["api.example"].BackoffUntil)
}
