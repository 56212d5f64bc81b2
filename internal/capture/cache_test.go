package capture_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/camwatch/internal/capture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestRefreshIfStaleServesFreshEntry(t *testing.T) {
	clock := newFakeClock()
	cache := capture.NewCache(clock.Now)
	ctx := context.Background()

	var calls int32
	fn := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "/uploads/cam1_a.jpg", nil
	}

	first, err := cache.RefreshIfStale(ctx, 1, 5*time.Second, fn)
	require.NoError(t, err)
	assert.Equal(t, "/uploads/cam1_a.jpg", first.PhotoRef)

	clock.Advance(4 * time.Second)

	second, err := cache.RefreshIfStale(ctx, 1, 5*time.Second, fn)
	require.NoError(t, err)
	assert.Equal(t, first, second, "Fresh entry must be returned unchanged")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "Fresh hit must not capture")
}

func TestRefreshIfStaleRecapturesAfterWindow(t *testing.T) {
	clock := newFakeClock()
	cache := capture.NewCache(clock.Now)
	ctx := context.Background()

	var calls int32
	fn := func(context.Context) (string, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return "/uploads/first.jpg", nil
		}
		return "/uploads/second.jpg", nil
	}

	first, err := cache.RefreshIfStale(ctx, 1, 5*time.Second, fn)
	require.NoError(t, err)

	clock.Advance(5 * time.Second)

	second, err := cache.RefreshIfStale(ctx, 1, 5*time.Second, fn)
	require.NoError(t, err)
	assert.Equal(t, "/uploads/second.jpg", second.PhotoRef)
	assert.True(t, second.CapturedAt.After(first.CapturedAt) || second.CapturedAt.Equal(first.CapturedAt.Add(5*time.Second)),
		"CapturedAt must not decrease")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRefreshIfStaleCollapsesConcurrentRefreshers(t *testing.T) {
	cache := capture.NewCache(nil)
	ctx := context.Background()

	var calls int32
	fn := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond) // hold the refresh so all callers pile up
		return "/uploads/cam1_only.jpg", nil
	}

	const callers = 8
	refs := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, err := cache.RefreshIfStale(ctx, 1, 5*time.Second, fn)
			assert.NoError(t, err)
			refs[i] = entry.PhotoRef
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls),
		"Concurrent refreshers within one window must trigger exactly one capture")
	for _, ref := range refs {
		assert.Equal(t, "/uploads/cam1_only.jpg", ref, "All callers must see the same photo")
	}
}

func TestRefreshIfStaleIndependentDevices(t *testing.T) {
	cache := capture.NewCache(nil)
	ctx := context.Background()

	var calls int32
	fn := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "/uploads/x.jpg", nil
	}

	_, err := cache.RefreshIfStale(ctx, 1, time.Minute, fn)
	require.NoError(t, err)
	_, err = cache.RefreshIfStale(ctx, 2, time.Minute, fn)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls),
		"Devices are independent units of work")
}

func TestRefreshIfStaleFailureLeavesStaleEntry(t *testing.T) {
	clock := newFakeClock()
	cache := capture.NewCache(clock.Now)
	ctx := context.Background()

	ok := func(context.Context) (string, error) { return "/uploads/old.jpg", nil }
	fail := func(context.Context) (string, error) { return "", assert.AnError }

	stale, err := cache.RefreshIfStale(ctx, 1, 5*time.Second, ok)
	require.NoError(t, err)

	clock.Advance(10 * time.Second)

	_, err = cache.RefreshIfStale(ctx, 1, 5*time.Second, fail)
	require.Error(t, err, "Failure must propagate to the triggering caller")

	got, found := cache.Get(1)
	require.True(t, found)
	assert.Equal(t, stale, got, "Failed refresh must leave the stale entry untouched")

	// A later caller is not poisoned by the earlier failure
	recovered := func(context.Context) (string, error) { return "/uploads/new.jpg", nil }
	entry, err := cache.RefreshIfStale(ctx, 1, 5*time.Second, recovered)
	require.NoError(t, err)
	assert.Equal(t, "/uploads/new.jpg", entry.PhotoRef)
}

func TestGetMissesWithoutEntry(t *testing.T) {
	cache := capture.NewCache(nil)

	_, found := cache.Get(1)
	assert.False(t, found)
}
