package telemetry

import (
	"context"
	"time"
)

// Reading is one temperature/humidity sample from a device. Immutable
// once written.
type Reading struct {
	ID          int64
	DeviceID    int64
	Temperature float64
	Humidity    float64
	Timestamp   time.Time
}

// Store is the append-only store of sensor readings
type Store interface {
	// Append records a reading for a known device. Fails with
	// device_not_found when the device id does not resolve; no orphaned
	// readings are ever written.
	Append(ctx context.Context, deviceID int64, temperature, humidity float64) error

	// Latest returns the most recent reading, or nil when the device
	// has none
	Latest(ctx context.Context, deviceID int64) (*Reading, error)

	// Recent returns up to limit of the most recent readings in
	// chronological order (oldest first), as chart consumers expect
	Recent(ctx context.Context, deviceID int64, limit int) ([]Reading, error)

	// Clear removes all readings for a device and returns the count removed
	Clear(ctx context.Context, deviceID int64) (int64, error)
}
