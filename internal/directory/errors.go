package directory

import "codeberg.org/mutker/camwatch/internal/errors"

const (
	ErrDeviceNotFound  = errors.ErrDeviceNotFound
	ErrMissingIdentity = errors.ErrValidationFailed
	ErrStorageAccess   = errors.ErrPersistenceFailed
)
