package capture

import (
	"context"
	"time"

	"codeberg.org/mutker/camwatch/internal/directory"
)

// Entry is the cached photo state for one device. At most one entry per
// device exists at any time; CapturedAt is the completion time of the
// capture that produced it.
type Entry struct {
	DeviceID   int64
	PhotoRef   string
	CapturedAt time.Time
}

// CaptureFunc produces a fresh photo reference for a device. The cache
// guarantees at most one in-flight invocation per device.
type CaptureFunc func(ctx context.Context) (string, error)

// Refresher refreshes a device's cached photo when it is older than
// staleAfter. Implemented by Service; the scheduler depends on this
// interface so ticks can be tested without network captures.
type Refresher interface {
	Refresh(ctx context.Context, device directory.Device, staleAfter time.Duration) (Entry, error)
}
