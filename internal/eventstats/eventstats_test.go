package eventstats

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/pixelbot/pixelbot/internal/admission"
)

func sampleEvents() []admission.Event {
	at := time.Date(2025, 1, 1, 12, 30, 0, 0, time.UTC)
	return []admission.Event{
		{Requestor: "x", Decision: admission.DecisionAdmitted, Kind: admission.KindGeneration, At: at},
		{Requestor: "x", Decision: admission.DecisionRateLimited, Kind: admission.KindGeneration, At: at},
		{Requestor: "y", Decision: admission.DecisionCapacity, Kind: admission.KindEdit, At: at},
		{Requestor: "x", Decision: admission.DecisionCompleted, Kind: admission.KindGeneration, Status: admission.StatusSucceeded, At: at},
		{Requestor: "y", Decision: admission.DecisionCompleted, Kind: admission.KindEdit, Status: admission.StatusFailed, At: at},
		{Decision: admission.DecisionSlotViolation, At: at},
	}
}

func TestMemoryStoreCounts(t *testing.T) {
	store := NewMemoryStore(WithTrackRequestors(true))
	for _, ev := range sampleEvents() {
		require.NoError(t, store.Record(context.Background(), ev))
	}

	require.Equal(t, Counters{
		Admitted:    1,
		RateLimited: 1,
		Capacity:    1,
		Succeeded:   1,
		Failed:      1,
		Violations:  1,
	}, store.Total())

	byKind := store.ByKind()
	require.Equal(t, int64(1), byKind[admission.KindEdit].Capacity)
	require.Equal(t, int64(1), byKind[admission.KindGeneration].Succeeded)

	byRequestor := store.ByRequestor()
	require.Len(t, byRequestor, 2)
	require.Equal(t, int64(1), byRequestor["x"].RateLimited)
}

func TestMemoryStoreSkipsRequestorsByDefault(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Record(context.Background(), sampleEvents()[0]))
	require.Empty(t, store.ByRequestor())
}

type failingStore struct {
	mu    sync.Mutex
	calls int
}

func (f *failingStore) Record(context.Context, admission.Event) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return errors.New("unavailable")
}

func TestRecorderDeliversAndDrains(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, WithBuffer(16))

	for _, ev := range sampleEvents() {
		rec.Observe(ev)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rec.Close(ctx))

	require.Equal(t, int64(1), store.Total().Admitted)
	require.Zero(t, rec.Dropped())

	rec.Observe(sampleEvents()[0])
	require.Equal(t, int64(1), rec.Dropped())
	require.NoError(t, rec.Close(ctx))
}

func TestRecorderCountsFailures(t *testing.T) {
	store := &failingStore{}
	rec := NewRecorder(store)

	rec.Observe(sampleEvents()[0])
	rec.Observe(sampleEvents()[1])

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rec.Close(ctx))
	require.Equal(t, int64(2), rec.Failed())
}

func TestRecorderCloseWhileObserving(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, WithBuffer(4096))

	const observers, perObserver = 8, 200
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < observers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < perObserver; j++ {
				rec.Observe(sampleEvents()[0])
			}
		}()
	}

	close(start)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rec.Close(ctx))
	wg.Wait()

	require.Equal(t, int64(observers*perObserver), store.Total().Admitted+rec.Dropped())

	rec.Observe(sampleEvents()[0])
	require.Equal(t, int64(observers*perObserver)+1, store.Total().Admitted+rec.Dropped())
	require.NoError(t, rec.Close(ctx))
}

func TestRecorderAsCoordinatorObserver(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store)
	coord := admission.New(admission.Config{MaxRequestsPerMinute: 1, MaxActiveTasks: 1}, admission.WithObserver(rec))

	_, err := coord.Run(context.Background(), "x", func(context.Context, admission.TaskHandle) error { return nil })
	require.NoError(t, err)
	_, err = coord.Submit(context.Background(), "x")
	require.ErrorIs(t, err, admission.ErrRateLimitExceeded)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rec.Close(ctx))

	total := store.Total()
	require.Equal(t, int64(1), total.Admitted)
	require.Equal(t, int64(1), total.Succeeded)
	require.Equal(t, int64(1), total.RateLimited)
}

// redisForTest returns a client for PIXELBOT_TEST_REDIS_ADDR when set, and
// otherwise for an in-process miniredis. The server is nil for a real Redis.
func redisForTest(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	ctx := context.Background()

	if addr := os.Getenv("PIXELBOT_TEST_REDIS_ADDR"); addr != "" {
		rdb, err := Dial(ctx, addr, "", 0)
		require.NoError(t, err)
		t.Cleanup(func() { _ = rdb.Close() })
		return rdb, nil
	}

	srv := miniredis.RunT(t)
	rdb, err := Dial(ctx, srv.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, srv
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	rdb, srv := redisForTest(t)

	prefix := "pixelbot:test:" + time.Now().Format("150405.000000000")
	store := NewRedisStore(rdb, WithRedisPrefix(prefix), WithRedisTTL(time.Minute), WithRedisTrackRequestors(true))
	t.Cleanup(func() {
		keys, _ := rdb.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			_ = rdb.Del(ctx, keys...).Err()
		}
	})

	for _, ev := range sampleEvents() {
		require.NoError(t, store.Record(ctx, ev))
	}

	total, err := store.Total(ctx)
	require.NoError(t, err)
	require.Equal(t, Counters{
		Admitted:    1,
		RateLimited: 1,
		Capacity:    1,
		Succeeded:   1,
		Failed:      1,
		Violations:  1,
	}, total)

	minute, err := store.Minute(ctx, sampleEvents()[0].At)
	require.NoError(t, err)
	require.Equal(t, total, minute)

	x, err := store.Requestor(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, Counters{Admitted: 1, RateLimited: 1, Succeeded: 1}, x)
	y, err := store.Requestor(ctx, "y")
	require.NoError(t, err)
	require.Equal(t, Counters{Capacity: 1, Failed: 1}, y)

	kinds, err := rdb.HGetAll(ctx, prefix+":kind").Result()
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"generation:admitted":     "1",
		"generation:rate_limited": "1",
		"generation:succeeded":    "1",
		"edit:capacity_exceeded":  "1",
		"edit:failed":             "1",
	}, kinds)

	ttl, err := rdb.TTL(ctx, store.bucketKey(sampleEvents()[0].At)).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
	ttl, err = rdb.TTL(ctx, store.totalKey()).Result()
	require.NoError(t, err)
	require.Equal(t, time.Duration(-1), ttl)

	if srv != nil {
		srv.FastForward(2 * time.Minute)
		require.False(t, srv.Exists(store.requestorKey("x")))
		require.False(t, srv.Exists(store.bucketKey(sampleEvents()[0].At)))
		require.True(t, srv.Exists(store.totalKey()))
	}
}

func TestRedisStoreWithoutBuckets(t *testing.T) {
	ctx := context.Background()
	rdb, _ := redisForTest(t)

	prefix := "pixelbot:test:nobucket:" + time.Now().Format("150405.000000000")
	store := NewRedisStore(rdb, WithRedisPrefix(prefix), WithRedisBucket("none"))
	t.Cleanup(func() {
		keys, _ := rdb.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			_ = rdb.Del(ctx, keys...).Err()
		}
	})

	require.NoError(t, store.Record(ctx, sampleEvents()[0]))

	keys, err := rdb.Keys(ctx, prefix+"*").Result()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{store.totalKey(), prefix + ":kind"}, keys)
}

func TestRedisStoreCorruptCounter(t *testing.T) {
	ctx := context.Background()
	rdb, _ := redisForTest(t)

	prefix := "pixelbot:test:corrupt:" + time.Now().Format("150405.000000000")
	store := NewRedisStore(rdb, WithRedisPrefix(prefix))
	t.Cleanup(func() { _ = rdb.Del(ctx, store.totalKey()).Err() })

	require.NoError(t, rdb.HSet(ctx, store.totalKey(), "admitted", "many").Err())
	_, err := store.Total(ctx)
	require.ErrorContains(t, err, "parse")
}

func TestRedisStoreKeys(t *testing.T) {
	store := NewRedisStore(nil, WithRedisPrefix(":bot:stats:"))
	at := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

	require.Equal(t, "bot:stats:total", store.totalKey())
	require.Equal(t, "bot:stats:minute:202503040506", store.bucketKey(at))
	require.Equal(t, "bot:stats:requestor:42", store.requestorKey("42"))
	require.NoError(t, store.Record(context.Background(), sampleEvents()[0]))
}
