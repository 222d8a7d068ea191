package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingObserver) Observe(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingObserver) decisions() []Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Decision, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Decision)
	}
	return out
}

func newTestCoordinator(t *testing.T, rate, slots int, opts ...Option) (*Coordinator, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now), WithLogger(zap.NewNop())}, opts...)
	return New(Config{MaxRequestsPerMinute: rate, MaxActiveTasks: slots}, opts...), clock
}

func TestSubmitRateLimited(t *testing.T) {
	coord, clock := newTestCoordinator(t, 2, 10)
	ctx := context.Background()

	var results []error
	for i := 0; i < 3; i++ {
		_, err := coord.Submit(ctx, "x")
		results = append(results, err)
		clock.Advance(300 * time.Millisecond)
	}

	require.NoError(t, results[0])
	require.NoError(t, results[1])
	require.ErrorIs(t, results[2], ErrRateLimitExceeded)

	var admissionErr *AdmissionError
	require.True(t, errors.As(results[2], &admissionErr))
	require.Equal(t, ReasonRateLimited, admissionErr.Reason)
	require.Equal(t, RequestorID("x"), admissionErr.Requestor)
	require.Greater(t, admissionErr.RetryAfter, time.Duration(0))
	require.True(t, IsTransient(results[2]))
}

func TestSubmitCapacityThenComplete(t *testing.T) {
	coord, _ := newTestCoordinator(t, 10, 1)
	ctx := context.Background()

	x, err := coord.Submit(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, x.Status)

	_, err = coord.Submit(ctx, "y")
	require.ErrorIs(t, err, ErrCapacityExceeded)

	done, err := coord.Complete(x.ID, Succeeded())
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, done.Status)
	require.NotNil(t, done.CompletedAt)

	y, err := coord.Submit(ctx, "y")
	require.NoError(t, err)
	require.Equal(t, RequestorID("y"), y.Requestor)
}

func TestSubmitWindowBoundary(t *testing.T) {
	coord, clock := newTestCoordinator(t, 1, 10)
	ctx := context.Background()

	_, err := coord.Submit(ctx, "x")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = coord.Submit(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, 1, coord.WindowLen("x"))
}

func TestCapacityRejectionConsumesRateQuota(t *testing.T) {
	coord, _ := newTestCoordinator(t, 5, 1)
	ctx := context.Background()

	_, err := coord.Submit(ctx, "x")
	require.NoError(t, err)

	before := coord.WindowLen("y")
	_, err = coord.Submit(ctx, "y")
	require.ErrorIs(t, err, ErrCapacityExceeded)
	require.Equal(t, before+1, coord.WindowLen("y"))
}

func TestCompleteTwiceDoesNotReleaseAgain(t *testing.T) {
	coord, _ := newTestCoordinator(t, 10, 2)
	ctx := context.Background()

	a, err := coord.Submit(ctx, "x")
	require.NoError(t, err)
	_, err = coord.Submit(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, 2, coord.Stats("x").ActiveSlots)

	_, err = coord.Complete(a.ID, Succeeded())
	require.NoError(t, err)
	require.Equal(t, 1, coord.Stats("x").ActiveSlots)

	got, err := coord.Complete(a.ID, Failed(errors.New("late")))
	require.ErrorIs(t, err, ErrTaskFinalized)
	require.Equal(t, StatusSucceeded, got.Status)
	require.Equal(t, 1, coord.Stats("x").ActiveSlots)

	_, err = coord.Complete("unknown", Succeeded())
	require.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRunCompletesOnEveryPath(t *testing.T) {
	coord, _ := newTestCoordinator(t, 100, 1)
	ctx := context.Background()

	task, err := coord.Run(ctx, "x", func(ctx context.Context, task TaskHandle) error {
		require.Equal(t, StatusRunning, task.Status)
		return nil
	}, WithKind(KindEnhancement), WithPrompt("sharpen"))
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, task.Status)
	require.Equal(t, KindEnhancement, task.Kind)
	require.Equal(t, "sharpen", task.Prompt)

	boom := errors.New("provider down")
	task, err = coord.Run(ctx, "x", func(context.Context, TaskHandle) error { return boom })
	require.ErrorIs(t, err, boom)
	require.Equal(t, StatusFailed, task.Status)
	require.Equal(t, "provider down", task.Error)

	cctx, cancel := context.WithCancel(ctx)
	task, err = coord.Run(cctx, "x", func(ctx context.Context, _ TaskHandle) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StatusFailed, task.Status)
	require.Contains(t, task.Error, "cancelled")

	require.PanicsWithValue(t, "kaboom", func() {
		_, _ = coord.Run(ctx, "x", func(context.Context, TaskHandle) error { panic("kaboom") })
	})

	require.Equal(t, 0, coord.Stats("x").ActiveSlots)
	require.Empty(t, coord.ListActive(""))
	require.Equal(t, RegistryCounts{Succeeded: 1, Failed: 3}, coord.Counts())
}

func TestRunRejectedDoesNotRunWork(t *testing.T) {
	coord, _ := newTestCoordinator(t, 0, 1)

	called := false
	_, err := coord.Run(context.Background(), "x", func(context.Context, TaskHandle) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrRateLimitExceeded)
	require.False(t, called)
}

func TestSubmitCancelledContext(t *testing.T) {
	coord, _ := newTestCoordinator(t, 10, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := coord.Submit(ctx, "x")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, coord.WindowLen("x"))
}

func TestGoRunsAsynchronously(t *testing.T) {
	coord, _ := newTestCoordinator(t, 10, 1)
	ctx := context.Background()

	release := make(chan struct{})
	task, err := coord.Go(ctx, "x", func(context.Context, TaskHandle) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	active := coord.ListActive("x")
	require.Len(t, active, 1)
	require.Equal(t, task.ID, active[0].ID)

	_, err = coord.Go(ctx, "y", func(context.Context, TaskHandle) error { return nil })
	require.ErrorIs(t, err, ErrCapacityExceeded)

	close(release)
	require.NoError(t, coord.Wait(ctx))

	got, ok := coord.Get(task.ID)
	require.True(t, ok)
	require.Equal(t, StatusSucceeded, got.Status)
	require.Equal(t, 0, coord.Stats("x").ActiveSlots)
}

func TestGoRecoversPanic(t *testing.T) {
	coord, _ := newTestCoordinator(t, 10, 1)
	ctx := context.Background()

	task, err := coord.Go(ctx, "x", func(context.Context, TaskHandle) error { panic("bad") })
	require.NoError(t, err)
	require.NoError(t, coord.Wait(ctx))

	got, ok := coord.Get(task.ID)
	require.True(t, ok)
	require.Equal(t, StatusFailed, got.Status)
	require.Contains(t, got.Error, "bad")
	require.Equal(t, 0, coord.Stats("x").ActiveSlots)
}

func TestConcurrentSubmitNeverExceedsCapacity(t *testing.T) {
	coord, _ := newTestCoordinator(t, 1000, 4)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				task, err := coord.Submit(ctx, RequestorID("r"))
				if err != nil {
					continue
				}
				if active := coord.Stats("").ActiveSlots; active > 4 {
					t.Errorf("active slots %d exceeds capacity", active)
				}
				if _, err := coord.Complete(task.ID, Succeeded()); err != nil {
					t.Errorf("complete: %v", err)
				}
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 0, coord.Stats("").ActiveSlots)
}

func TestObserverEvents(t *testing.T) {
	obs := &recordingObserver{}
	coord, _ := newTestCoordinator(t, 1, 1, WithObserver(obs))
	ctx := context.Background()

	task, err := coord.Submit(ctx, "x")
	require.NoError(t, err)
	_, err = coord.Submit(ctx, "x")
	require.Error(t, err)
	_, err = coord.Submit(ctx, "y")
	require.Error(t, err)
	_, err = coord.Complete(task.ID, Succeeded())
	require.NoError(t, err)

	require.Equal(t, []Decision{
		DecisionAdmitted,
		DecisionRateLimited,
		DecisionCapacity,
		DecisionCompleted,
	}, obs.decisions())
}

func TestSweepPurgesCompleted(t *testing.T) {
	coord, clock := newTestCoordinator(t, 10, 2)
	ctx := context.Background()

	task, err := coord.Submit(ctx, "x")
	require.NoError(t, err)
	_, err = coord.Complete(task.ID, Succeeded())
	require.NoError(t, err)

	clock.Advance(11 * time.Minute)
	requestors, tasks := coord.Sweep(10 * time.Minute)
	require.Equal(t, 1, requestors)
	require.Equal(t, 1, tasks)

	_, ok := coord.Get(task.ID)
	require.False(t, ok)
}

func TestStartJanitorStopsWithContext(t *testing.T) {
	coord, _ := newTestCoordinator(t, 10, 2)
	ctx, cancel := context.WithCancel(context.Background())

	done := coord.StartJanitor(ctx, 5*time.Millisecond, time.Minute)
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
