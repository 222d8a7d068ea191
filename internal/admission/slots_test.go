package admission

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSlotPoolBounds(t *testing.T) {
	pool := NewSlotPool(2)

	require.True(t, pool.TryAcquire())
	require.True(t, pool.TryAcquire())
	require.False(t, pool.TryAcquire())
	require.Equal(t, 2, pool.Active())
	require.Equal(t, 0, pool.Available())

	require.NoError(t, pool.Release())
	require.Equal(t, 1, pool.Active())
	require.True(t, pool.TryAcquire())
}

func TestSlotPoolReleaseAtZero(t *testing.T) {
	var violations int
	pool := NewSlotPool(1, WithSlotLogger(zap.NewNop()), WithViolationHook(func() { violations++ }))

	require.ErrorIs(t, pool.Release(), ErrSlotReleaseInvariant)
	require.Equal(t, 0, pool.Active())
	require.Equal(t, 1, violations)
}

func TestSlotPoolZeroCapacity(t *testing.T) {
	pool := NewSlotPool(0)
	require.False(t, pool.TryAcquire())
	require.Equal(t, 0, pool.Capacity())
}

func TestSlotPoolConcurrentNeverExceedsCapacity(t *testing.T) {
	const capacity = 3
	pool := NewSlotPool(capacity)

	var inFlight, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if !pool.TryAcquire() {
					continue
				}
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				inFlight.Add(-1)
				if err := pool.Release(); err != nil {
					t.Errorf("release: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, peak.Load(), int64(capacity))
	require.Equal(t, 0, pool.Active())
}
