package history

import (
	"context"
	"encoding/json"
	"time"
)

// Photo is one archived photo reference inside a snapshot
type Photo struct {
	URL       string
	Timestamp time.Time
}

// Snapshot is an immutable archived bundle of chart, photo(s) and
// sensor data captured at one point in time. Photos are deleted
// transactionally with their parent.
type Snapshot struct {
	ID           int64
	DeviceID     int64
	ChartImage   string
	PrimaryPhoto string
	Photos       []Photo
	SensorData   json.RawMessage
	CreatedAt    time.Time
}

// Archiver persists and serves history snapshots
type Archiver interface {
	// Save writes the chart image to blob storage and persists the
	// snapshot row plus one child row per photo in a single
	// transaction; nothing partially visible on failure.
	Save(ctx context.Context, deviceID int64, chartPNG []byte, sensorData json.RawMessage, primaryPhoto string, photos []Photo) (Snapshot, error)

	// List returns snapshots newest first, each with its photos loaded
	// newest first. A nil deviceID lists across all devices.
	List(ctx context.Context, deviceID *int64, limit int) ([]Snapshot, error)

	// Delete removes a snapshot and its photos in a single transaction
	Delete(ctx context.Context, id int64) error
}
