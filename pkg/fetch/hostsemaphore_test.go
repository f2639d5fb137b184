package fetch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(limit int) *HostSemaphorePool {
	return NewHostSemaphorePool(limit, testLogger())
}

func TestHostSemaphore_AcquireRelease(t *testing.T) {
	pool := newTestPool(2)
	ctx := context.Background()

	require.NoError(t, pool.Acquire(ctx, "cdn.example.com"))
	require.NoError(t, pool.Acquire(ctx, "cdn.example.com"))

	// Third permit is unavailable while both are held
	timeoutCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.Error(t, pool.Acquire(timeoutCtx, "cdn.example.com"))

	pool.Release("cdn.example.com")
	require.NoError(t, pool.Acquire(ctx, "cdn.example.com"))

	pool.Release("cdn.example.com")
	pool.Release("cdn.example.com")
}

func TestHostSemaphore_HostsAreIndependent(t *testing.T) {
	pool := newTestPool(1)
	ctx := context.Background()

	require.NoError(t, pool.Acquire(ctx, "a.example.com"))
	require.NoError(t, pool.Acquire(ctx, "b.example.com"))
	assert.Equal(t, 2, pool.Len())

	pool.Release("a.example.com")
	pool.Release("b.example.com")
}

func TestHostSemaphore_InvalidLimitDefaults(t *testing.T) {
	pool := newTestPool(0)
	ctx := context.Background()
	for range 4 {
		require.NoError(t, pool.Acquire(ctx, "h"))
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.Error(t, pool.Acquire(timeoutCtx, "h"))
}

func TestHostSemaphore_EvictIdle(t *testing.T) {
	pool := newTestPool(1)
	ctx := context.Background()

	// held stays, released goes
	require.NoError(t, pool.Acquire(ctx, "held.example.com"))
	require.NoError(t, pool.Acquire(ctx, "done.example.com"))
	pool.Release("done.example.com")

	time.Sleep(5 * time.Millisecond)
	pool.evictIdle(time.Millisecond)
	assert.Equal(t, 1, pool.Len())

	pool.Release("held.example.com")
	time.Sleep(5 * time.Millisecond)
	pool.evictIdle(time.Millisecond)
	assert.Equal(t, 0, pool.Len())
}

func TestHostSemaphore_FailedAcquireRollsBack(t *testing.T) {
	pool := newTestPool(1)
	require.NoError(t, pool.Acquire(context.Background(), "h"))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, pool.Acquire(cancelled, "h"))

	pool.Release("h")
	time.Sleep(5 * time.Millisecond)
	pool.evictIdle(time.Millisecond)
	assert.Equal(t, 0, pool.Len(), "the failed waiter must not pin the entry")
}

func TestHostSemaphore_RunEvictionStopsOnCancel(t *testing.T) {
	pool := newTestPool(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		pool.RunEviction(ctx, time.Minute)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunEviction did not return after cancellation")
	}
}

func TestHostSemaphore_ConcurrentUse(t *testing.T) {
	pool := newTestPool(3)
	var wg sync.WaitGroup
	var mu sync.Mutex
	current, peak := 0, 0

	for range 30 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pool.Acquire(context.Background(), "busy.example.com"); err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
			pool.Release("busy.example.com")
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, 3)
}
