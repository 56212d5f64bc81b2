package telemetry

import (
	"context"
	"database/sql"
	"time"

	"codeberg.org/mutker/camwatch/internal/errors"
	"codeberg.org/mutker/camwatch/internal/logger"
)

const defaultRecentLimit = 20

type repository struct {
	db  *sql.DB
	log logger.Logger
}

func NewRepository(db *sql.DB, log logger.Logger) Store {
	return &repository{
		db:  db,
		log: log,
	}
}

func (r *repository) Append(ctx context.Context, deviceID int64, temperature, humidity float64) error {
	errFactory := errors.New()

	// Insert-where-exists keeps the existence check and the write in one
	// statement, so a reading can never land without its device
	res, err := r.db.ExecContext(ctx, `
        INSERT INTO readings (device_id, temperature, humidity, timestamp)
        SELECT id, ?, ?, ? FROM devices WHERE id = ?
    `, temperature, humidity, time.Now().Unix(), deviceID)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	if affected == 0 {
		return errFactory.WithData(ErrDeviceNotFound, deviceID)
	}

	r.log.Debug().
		Int64("device_id", deviceID).
		Float64("temperature", temperature).
		Float64("humidity", humidity).
		Msg("Reading appended")

	return nil
}

func (r *repository) Latest(ctx context.Context, deviceID int64) (*Reading, error) {
	errFactory := errors.New()

	row := r.db.QueryRowContext(ctx, `
        SELECT id, device_id, temperature, humidity, timestamp
        FROM readings
        WHERE device_id = ?
        ORDER BY timestamp DESC, id DESC
        LIMIT 1
    `, deviceID)

	reading, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return &reading, nil
}

func (r *repository) Recent(ctx context.Context, deviceID int64, limit int) ([]Reading, error) {
	errFactory := errors.New()

	if limit <= 0 {
		limit = defaultRecentLimit
	}

	rows, err := r.db.QueryContext(ctx, `
        SELECT id, device_id, temperature, humidity, timestamp
        FROM readings
        WHERE device_id = ?
        ORDER BY timestamp DESC, id DESC
        LIMIT ?
    `, deviceID, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	// The index serves newest-first; charts want oldest-first
	for i, j := 0, len(readings)-1; i < j; i, j = i+1, j-1 {
		readings[i], readings[j] = readings[j], readings[i]
	}

	return readings, nil
}

func (r *repository) Clear(ctx context.Context, deviceID int64) (int64, error) {
	errFactory := errors.New()

	res, err := r.db.ExecContext(ctx, `DELETE FROM readings WHERE device_id = ?`, deviceID)
	if err != nil {
		return 0, errFactory.Wrap(ErrStorageAccess, err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, errFactory.Wrap(ErrStorageAccess, err)
	}

	r.log.Info().
		Int64("device_id", deviceID).
		Int64("removed", removed).
		Msg("Readings cleared")

	return removed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (Reading, error) {
	var reading Reading
	var ts int64
	if err := row.Scan(
		&reading.ID,
		&reading.DeviceID,
		&reading.Temperature,
		&reading.Humidity,
		&ts,
	); err != nil {
		return Reading{}, err
	}
	reading.Timestamp = time.Unix(ts, 0)

	return reading, nil
}
