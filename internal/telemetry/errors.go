package telemetry

import "codeberg.org/mutker/camwatch/internal/errors"

const (
	ErrDeviceNotFound = errors.ErrDeviceNotFound
	ErrStorageAccess  = errors.ErrPersistenceFailed
	ErrInvalidLimit   = errors.ErrInvalidArgument
)
