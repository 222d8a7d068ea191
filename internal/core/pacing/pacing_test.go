package pacing

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pixelbot/pixelbot/internal/core"
)

type memoryStore struct {
	state map[string]core.RateLimitState
}

func (m *memoryStore) GetRateLimit(_ context.Context, host string) (*core.RateLimitState, error) {
	if val, ok := m.state[host]; ok {
		return &val, nil
	}
	return nil, nil
}

func (m *memoryStore) UpdateRateLimit(_ context.Context, host string, state *core.RateLimitState) error {
	if m.state == nil {
		m.state = make(map[string]core.RateLimitState)
	}
	m.state[host] = *state
	return nil
}

func TestLimiterWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := &Limiter{
		Store:   &memoryStore{},
		Budgets: map[string]Budget{"api.example": {Requests: 2, Window: time.Minute}},
		Clock:   func() time.Time { return now },
	}

	for i := 0; i < 2; i++ {
		ok, _, err := limiter.Allow(ctx, "api.example")
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, limiter.Record(ctx, "api.example"))
	}

	ok, wait, err := limiter.Allow(ctx, "api.example")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, time.Minute, wait)

	now = now.Add(61 * time.Second)
	ok, _, err = limiter.Allow(ctx, "api.example")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, limiter.Record(ctx, "api.example"))
	state, _ := limiter.Store.GetRateLimit(ctx, "api.example")
	require.Equal(t, 1, state.RequestCount)
	require.Equal(t, now, state.WindowStart)
}

// slowStore is safe for concurrent use and widens the gap between a read and
// the write that follows it.
type slowStore struct {
	mu    sync.Mutex
	inner memoryStore
}

func (s *slowStore) GetRateLimit(ctx context.Context, host string) (*core.RateLimitState, error) {
	time.Sleep(time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.GetRateLimit(ctx, host)
}

func (s *slowStore) UpdateRateLimit(ctx context.Context, host string, state *core.RateLimitState) error {
	time.Sleep(time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.UpdateRateLimit(ctx, host, state)
}

func TestLimiterAcquireConcurrent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &slowStore{}
	limiter := &Limiter{
		Store:   store,
		Budgets: map[string]Budget{"api.example": {Requests: 2, Window: time.Minute}},
		Clock:   func() time.Time { return now },
	}

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := limiter.Acquire(ctx, "api.example")
			if err == nil && ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(2), allowed.Load())
	state, err := store.GetRateLimit(ctx, "api.example")
	require.NoError(t, err)
	require.Equal(t, 2, state.RequestCount)

	ok, wait, err := limiter.Acquire(ctx, "api.example")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, time.Minute, wait)
}

func TestLimiterBackoff(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := &Limiter{Store: &memoryStore{}, Clock: func() time.Time { return now }}

	require.NoError(t, limiter.Record429(ctx, "api.bfl.ai", 30*time.Second))

	ok, wait, err := limiter.Allow(ctx, "api.bfl.ai")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 30*time.Second, wait)

	now = now.Add(31 * time.Second)
	ok, _, err = limiter.Allow(ctx, "api.bfl.ai")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLimiterMarginAndOverride(t *testing.T) {
	limiter := &Limiter{Margin: 0.5}
	require.Equal(t, 12, limiter.budget("api.bfl.ai").Requests)

	limiter.Override(map[string]int{"api.openai.com": 5, "": 3, "api.bfl.ai": 0})
	require.Equal(t, Budget{Requests: 2, Window: time.Minute}, limiter.budget("api.openai.com"))
	require.Equal(t, 12, limiter.budget("api.bfl.ai").Requests)
	require.Equal(t, 15, limiter.budget("unknown.example").Requests)
}

func TestNilLimiterAllows(t *testing.T) {
	var limiter *Limiter
	ok, _, err := limiter.Allow(context.Background(), "x")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, limiter.Record(context.Background(), "x"))
	ok, _, err = limiter.Acquire(context.Background(), "x")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHostOf(t *testing.T) {
	require.Equal(t, "api.bfl.ai", HostOf("https://api.bfl.ai/v1"))
	require.Equal(t, "127.0.0.1", HostOf("http://127.0.0.1:8080"))
	require.Equal(t, "plain", HostOf("plain"))
}
