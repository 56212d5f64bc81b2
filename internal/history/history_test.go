package history_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/camwatch/internal/blob"
	"codeberg.org/mutker/camwatch/internal/directory"
	"codeberg.org/mutker/camwatch/internal/errors"
	"codeberg.org/mutker/camwatch/internal/history"
	"codeberg.org/mutker/camwatch/internal/logger"
	"codeberg.org/mutker/camwatch/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*sql.DB, directory.Device, history.Archiver) {
	t.Helper()
	logger.Init(false, false, false)

	tempDir := t.TempDir()
	db, err := store.Open(filepath.Join(tempDir, "camwatch.db"), logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	blobs, err := blob.NewStore(filepath.Join(tempDir, "uploads"))
	require.NoError(t, err)

	dir := directory.NewRepository(db, logger.Default())
	device, err := dir.ResolveOrRegister(context.Background(), "AA:BB:CC", "1.2.3.4")
	require.NoError(t, err)

	return db, device, history.NewRepository(db, blobs, logger.Default())
}

func sensorJSON(t *testing.T) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(map[string]float64{"temperature": 24.5, "humidity": 40})
	require.NoError(t, err)
	return data
}

func TestSaveAndList(t *testing.T) {
	_, device, archiver := setup(t)
	ctx := context.Background()

	photos := []history.Photo{
		{URL: "/uploads/cam1_a.jpg", Timestamp: time.Unix(1_700_000_000, 0)},
		{URL: "/uploads/cam1_b.jpg", Timestamp: time.Unix(1_700_000_060, 0)},
	}

	saved, err := archiver.Save(ctx, device.ID, []byte("png"), sensorJSON(t), "/uploads/cam1_b.jpg", photos)
	require.NoError(t, err)
	assert.Regexp(t, `^chart_cam1_\d{14}\.png$`, saved.ChartImage)

	snapshots, err := archiver.List(ctx, &device.ID, 0)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)

	got := snapshots[0]
	assert.Equal(t, saved.ID, got.ID)
	assert.Equal(t, device.ID, got.DeviceID)
	assert.Equal(t, "/uploads/cam1_b.jpg", got.PrimaryPhoto)
	assert.JSONEq(t, string(sensorJSON(t)), string(got.SensorData))

	require.Len(t, got.Photos, 2)
	assert.Equal(t, "/uploads/cam1_b.jpg", got.Photos[0].URL, "Photos load newest first")
	assert.Equal(t, "/uploads/cam1_a.jpg", got.Photos[1].URL)
}

func TestListNewestFirstAndLimit(t *testing.T) {
	db, device, archiver := setup(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		saved, err := archiver.Save(ctx, device.ID, []byte("png"), nil, "", nil)
		require.NoError(t, err)
		// Spread created_at so ordering does not depend on insert ids alone
		_, err = db.Exec(`UPDATE history SET created_at = ? WHERE id = ?`,
			1_700_000_000+int64(i)*60, saved.ID)
		require.NoError(t, err)
	}

	snapshots, err := archiver.List(ctx, nil, 2)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.True(t, snapshots[0].CreatedAt.After(snapshots[1].CreatedAt), "Newest first")
}

func TestSaveUnknownDeviceRollsBack(t *testing.T) {
	db, _, archiver := setup(t)
	ctx := context.Background()

	_, err := archiver.Save(ctx, 99, nil, nil, "", []history.Photo{
		{URL: "/uploads/x.jpg", Timestamp: time.Now()},
	})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrPersistenceFailed))

	var parents, children int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM history`).Scan(&parents))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM history_photos`).Scan(&children))
	assert.Zero(t, parents, "Nothing partially visible after a failed save")
	assert.Zero(t, children)
}

func TestDeleteRemovesChildren(t *testing.T) {
	db, device, archiver := setup(t)
	ctx := context.Background()

	saved, err := archiver.Save(ctx, device.ID, nil, nil, "", []history.Photo{
		{URL: "/uploads/a.jpg", Timestamp: time.Now()},
		{URL: "/uploads/b.jpg", Timestamp: time.Now()},
	})
	require.NoError(t, err)

	require.NoError(t, archiver.Delete(ctx, saved.ID))

	snapshots, err := archiver.List(ctx, &device.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, snapshots)

	var orphans int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM history_photos WHERE history_id = ?`, saved.ID,
	).Scan(&orphans))
	assert.Zero(t, orphans, "Delete must not leave orphaned photo rows")
}

func TestDeleteUnknownSnapshot(t *testing.T) {
	_, _, archiver := setup(t)

	err := archiver.Delete(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrResourceNotFound))
}
