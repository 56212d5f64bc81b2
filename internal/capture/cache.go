package capture

import (
	"context"
	"sync"
	"time"
)

// Cache is the single source of truth for "is this device's photo
// fresh enough". It owns its locking discipline: a cache-wide mutex
// guards the entry map, and a per-device mutex serializes refreshes so
// at most one capture is in flight per device at any instant.
type Cache struct {
	mu    sync.Mutex
	slots map[int64]*slot
	now   func() time.Time
}

type slot struct {
	refreshMu sync.Mutex
	entry     *Entry // guarded by Cache.mu
}

// NewCache returns an empty cache. A nil clock means time.Now; tests
// inject a fake clock for deterministic staleness.
func NewCache(clock func() time.Time) *Cache {
	if clock == nil {
		clock = time.Now
	}

	return &Cache{
		slots: make(map[int64]*slot),
		now:   clock,
	}
}

// Get returns the cached entry for a device without blocking on any
// in-flight refresh
func (c *Cache) Get(deviceID int64) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[deviceID]
	if !ok || s.entry == nil {
		return Entry{}, false
	}

	return *s.entry, true
}

// RefreshIfStale returns the cached entry when its age is below
// staleAfter, otherwise invokes fn under the device's refresh lock and
// stores the result. Concurrent callers observing staleness collapse
// onto a single fn invocation: losers of the lock race re-check under
// the lock and see the winner's fresh entry. When fn fails, the stale
// entry (if any) is left untouched and the failure propagates only to
// the caller that triggered this refresh.
func (c *Cache) RefreshIfStale(ctx context.Context, deviceID int64, staleAfter time.Duration, fn CaptureFunc) (Entry, error) {
	if entry, ok := c.freshEntry(deviceID, staleAfter); ok {
		return entry, nil
	}

	s := c.slot(deviceID)
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	// Re-check: a concurrent refresher may have completed while we
	// waited on the lock
	if entry, ok := c.freshEntry(deviceID, staleAfter); ok {
		return entry, nil
	}

	ref, err := fn(ctx)
	if err != nil {
		return Entry{}, err
	}

	entry := Entry{
		DeviceID:   deviceID,
		PhotoRef:   ref,
		CapturedAt: c.now(),
	}

	c.mu.Lock()
	s.entry = &entry
	c.mu.Unlock()

	return entry, nil
}

func (c *Cache) slot(deviceID int64) *slot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[deviceID]
	if !ok {
		s = &slot{}
		c.slots[deviceID] = s
	}

	return s
}

func (c *Cache) freshEntry(deviceID int64, staleAfter time.Duration) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[deviceID]
	if !ok || s.entry == nil {
		return Entry{}, false
	}
	if c.now().Sub(s.entry.CapturedAt) >= staleAfter {
		return Entry{}, false
	}

	return *s.entry, true
}
