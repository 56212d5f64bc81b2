package directory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/camwatch/internal/errors"
	"codeberg.org/mutker/camwatch/internal/logger"
)

type repository struct {
	db  *sql.DB
	log logger.Logger

	// Serializes upsert-by-identity so a device reboot race cannot
	// create two records for one hardware identity. The UNIQUE index on
	// hardware_identity backs this up at the storage layer.
	mu sync.Mutex
}

func NewRepository(db *sql.DB, log logger.Logger) Directory {
	return &repository{
		db:  db,
		log: log,
	}
}

func (r *repository) ResolveOrRegister(ctx context.Context, hardwareIdentity, observedAddress string) (Device, error) {
	errFactory := errors.New()

	hardwareIdentity = strings.TrimSpace(hardwareIdentity)
	if hardwareIdentity == "" {
		return Device{}, errFactory.WithMessage(ErrMissingIdentity, "hardware identity is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	device, err := r.byIdentity(ctx, hardwareIdentity)
	if err == nil {
		if _, err := r.db.ExecContext(ctx,
			`UPDATE devices SET network_address = ? WHERE id = ?`,
			observedAddress, device.ID,
		); err != nil {
			return Device{}, errFactory.Wrap(ErrStorageAccess, err)
		}
		device.NetworkAddress = observedAddress

		r.log.Debug().
			Int64("device_id", device.ID).
			Str("address", observedAddress).
			Msg("Device address updated")

		return device, nil
	}
	if !errors.HasCode(err, ErrDeviceNotFound) {
		return Device{}, err
	}

	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices`).Scan(&count); err != nil {
		return Device{}, errFactory.Wrap(ErrStorageAccess, err)
	}

	now := time.Now()
	name := fmt.Sprintf("Camera %d", count+1)
	res, err := r.db.ExecContext(ctx, `
        INSERT INTO devices (name, network_address, location, hardware_identity, created_at)
        VALUES (?, ?, ?, ?, ?)
    `, name, observedAddress, "New Device", hardwareIdentity, now.Unix())
	if err != nil {
		// Lost a race the mutex could not see (another process); fall
		// back to the record the winner created
		if device, lookupErr := r.byIdentity(ctx, hardwareIdentity); lookupErr == nil {
			return device, nil
		}
		return Device{}, errFactory.Wrap(ErrStorageAccess, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Device{}, errFactory.Wrap(ErrStorageAccess, err)
	}

	r.log.Info().
		Int64("device_id", id).
		Str("name", name).
		Str("address", observedAddress).
		Msg("New device registered")

	return Device{
		ID:               id,
		Name:             name,
		NetworkAddress:   observedAddress,
		Location:         "New Device",
		HardwareIdentity: hardwareIdentity,
		CreatedAt:        now,
	}, nil
}

func (r *repository) Get(ctx context.Context, id int64) (Device, error) {
	errFactory := errors.New()

	row := r.db.QueryRowContext(ctx, `
        SELECT id, name, network_address, location, COALESCE(hardware_identity, ''), created_at
        FROM devices
        WHERE id = ?
    `, id)

	device, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, errFactory.WithData(ErrDeviceNotFound, id)
	}
	if err != nil {
		return Device{}, errFactory.Wrap(ErrStorageAccess, err)
	}

	return device, nil
}

func (r *repository) List(ctx context.Context) ([]Device, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, `
        SELECT id, name, network_address, location, COALESCE(hardware_identity, ''), created_at
        FROM devices
        ORDER BY id
    `)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		devices = append(devices, device)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return devices, nil
}

func (r *repository) Rename(ctx context.Context, id int64, name, location string) error {
	errFactory := errors.New()

	res, err := r.db.ExecContext(ctx, `
        UPDATE devices
        SET name = COALESCE(NULLIF(?, ''), name),
            location = COALESCE(NULLIF(?, ''), location)
        WHERE id = ?
    `, name, location, id)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	if affected == 0 {
		return errFactory.WithData(ErrDeviceNotFound, id)
	}

	return nil
}

func (r *repository) byIdentity(ctx context.Context, hardwareIdentity string) (Device, error) {
	errFactory := errors.New()

	row := r.db.QueryRowContext(ctx, `
        SELECT id, name, network_address, location, COALESCE(hardware_identity, ''), created_at
        FROM devices
        WHERE hardware_identity = ?
    `, hardwareIdentity)

	device, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, errFactory.WithData(ErrDeviceNotFound, hardwareIdentity)
	}
	if err != nil {
		return Device{}, errFactory.Wrap(ErrStorageAccess, err)
	}

	return device, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (Device, error) {
	var device Device
	var createdAt int64
	if err := row.Scan(
		&device.ID,
		&device.Name,
		&device.NetworkAddress,
		&device.Location,
		&device.HardwareIdentity,
		&createdAt,
	); err != nil {
		return Device{}, err
	}
	device.CreatedAt = time.Unix(createdAt, 0)

	return device, nil
}
