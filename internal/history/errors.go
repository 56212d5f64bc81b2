package history

import "codeberg.org/mutker/camwatch/internal/errors"

const (
	ErrSnapshotNotFound = errors.ErrResourceNotFound
	ErrStorageAccess    = errors.ErrPersistenceFailed
)
