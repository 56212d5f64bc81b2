package capture

import "codeberg.org/mutker/camwatch/internal/errors"

const (
	ErrDeviceUnreachable = errors.ErrDeviceUnreachable
	ErrCaptureFailed     = errors.ErrCaptureFailed
	ErrDeviceNotFound    = errors.ErrDeviceNotFound
)
