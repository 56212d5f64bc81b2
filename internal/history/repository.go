package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"codeberg.org/mutker/camwatch/internal/blob"
	"codeberg.org/mutker/camwatch/internal/errors"
	"codeberg.org/mutker/camwatch/internal/logger"
)

const defaultListLimit = 10

type repository struct {
	db    *sql.DB
	blobs *blob.Store
	log   logger.Logger
}

func NewRepository(db *sql.DB, blobs *blob.Store, log logger.Logger) Archiver {
	return &repository{
		db:    db,
		blobs: blobs,
		log:   log,
	}
}

func (r *repository) Save(ctx context.Context, deviceID int64, chartPNG []byte, sensorData json.RawMessage, primaryPhoto string, photos []Photo) (Snapshot, error) {
	errFactory := errors.New()

	var chartFile string
	if len(chartPNG) > 0 {
		filename, err := r.blobs.SaveChart(deviceID, chartPNG)
		if err != nil {
			return Snapshot{}, err
		}
		chartFile = filename
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, errFactory.Wrap(ErrStorageAccess, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				r.log.Debug().Err(err).Msg("Failed to rollback snapshot save")
			}
		}
	}()

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
        INSERT INTO history (device_id, chart_image, primary_photo, sensor_data, created_at)
        VALUES (?, ?, NULLIF(?, ''), ?, ?)
    `, deviceID, chartFile, primaryPhoto, string(sensorData), now.Unix())
	if err != nil {
		return Snapshot{}, errFactory.Wrap(ErrStorageAccess, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Snapshot{}, errFactory.Wrap(ErrStorageAccess, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO history_photos (history_id, url, timestamp)
        VALUES (?, ?, ?)
    `)
	if err != nil {
		return Snapshot{}, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer stmt.Close()

	for _, photo := range photos {
		if _, err := stmt.ExecContext(ctx, id, photo.URL, photo.Timestamp.Unix()); err != nil {
			return Snapshot{}, errFactory.Wrap(ErrStorageAccess, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Snapshot{}, errFactory.Wrap(ErrStorageAccess, err)
	}
	committed = true

	r.log.Info().
		Int64("snapshot_id", id).
		Int64("device_id", deviceID).
		Int("photos", len(photos)).
		Msg("History snapshot saved")

	return Snapshot{
		ID:           id,
		DeviceID:     deviceID,
		ChartImage:   chartFile,
		PrimaryPhoto: primaryPhoto,
		Photos:       photos,
		SensorData:   sensorData,
		CreatedAt:    now,
	}, nil
}

func (r *repository) List(ctx context.Context, deviceID *int64, limit int) ([]Snapshot, error) {
	errFactory := errors.New()

	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
        SELECT id, device_id, chart_image, COALESCE(primary_photo, ''), COALESCE(sensor_data, ''), created_at
        FROM history
    `
	args := []any{}
	if deviceID != nil {
		query += ` WHERE device_id = ?`
		args = append(args, *deviceID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var snapshot Snapshot
		var sensorData string
		var createdAt int64
		if err := rows.Scan(
			&snapshot.ID,
			&snapshot.DeviceID,
			&snapshot.ChartImage,
			&snapshot.PrimaryPhoto,
			&sensorData,
			&createdAt,
		); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		snapshot.SensorData = json.RawMessage(sensorData)
		snapshot.CreatedAt = time.Unix(createdAt, 0)
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	for i := range snapshots {
		photos, err := r.photosFor(ctx, snapshots[i].ID)
		if err != nil {
			return nil, err
		}
		snapshots[i].Photos = photos
	}

	return snapshots, nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	errFactory := errors.New()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				r.log.Debug().Err(err).Msg("Failed to rollback snapshot delete")
			}
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM history_photos WHERE history_id = ?`, id); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM history WHERE id = ?`, id)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	if affected == 0 {
		return errFactory.WithData(ErrSnapshotNotFound, id)
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	committed = true

	r.log.Info().Int64("snapshot_id", id).Msg("History snapshot deleted")

	return nil
}

func (r *repository) photosFor(ctx context.Context, snapshotID int64) ([]Photo, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, `
        SELECT url, timestamp
        FROM history_photos
        WHERE history_id = ?
        ORDER BY timestamp DESC, id DESC
    `, snapshotID)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var photos []Photo
	for rows.Next() {
		var photo Photo
		var ts int64
		if err := rows.Scan(&photo.URL, &ts); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		photo.Timestamp = time.Unix(ts, 0)
		photos = append(photos, photo)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return photos, nil
}
