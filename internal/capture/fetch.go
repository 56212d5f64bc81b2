package capture

import (
	"context"
	"time"

	"codeberg.org/mutker/camwatch/internal/blob"
	"codeberg.org/mutker/camwatch/internal/directory"
	"codeberg.org/mutker/camwatch/internal/errors"
	"codeberg.org/mutker/camwatch/internal/logger"
)

// FetchFreshness is the fixed staleness window for foreground photo
// requests. Kept short relative to the scheduler's adaptive intervals
// so user-triggered fetches feel responsive while still riding a
// scheduler-primed cache.
const FetchFreshness = 5 * time.Second

// Placeholder references returned when a capture degrades instead of
// failing the request
const (
	PlaceholderUnreachable = "https://placehold.co/320x240?text=Connection+Refused"
	PlaceholderError       = "https://placehold.co/320x240?text=Camera+Error"
)

// Service ties the capture client, the cache and the blob store
// together: one refresh fetches the photo, persists it and caches its
// reference. Shared by the scheduler and foreground requests so both
// collapse onto the same per-device refresh lock.
type Service struct {
	directory directory.Directory
	cache     *Cache
	client    *Client
	blobs     *blob.Store
	timeout   time.Duration
	log       logger.Logger
}

func NewService(dir directory.Directory, cache *Cache, client *Client, blobs *blob.Store, timeout time.Duration, log logger.Logger) *Service {
	return &Service{
		directory: dir,
		cache:     cache,
		client:    client,
		blobs:     blobs,
		timeout:   timeout,
		log:       log,
	}
}

// Refresh re-captures the device's photo when the cached one is older
// than staleAfter. The capture call is bounded by the service timeout
// regardless of the caller's context.
func (s *Service) Refresh(ctx context.Context, device directory.Device, staleAfter time.Duration) (Entry, error) {
	return s.cache.RefreshIfStale(ctx, device.ID, staleAfter, func(ctx context.Context) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		data, err := s.client.Capture(ctx, device.NetworkAddress)
		if err != nil {
			return "", err
		}

		filename, err := s.blobs.SavePhoto(device.ID, data)
		if err != nil {
			return "", err
		}

		return "/uploads/" + filename, nil
	})
}

// Fetch serves a foreground photo request. Unknown devices propagate
// device_not_found; capture failures degrade to a placeholder
// reference instead of surfacing the raw error to the UI.
func (s *Service) Fetch(ctx context.Context, deviceID int64) (string, error) {
	device, err := s.directory.Get(ctx, deviceID)
	if err != nil {
		return "", err
	}

	entry, err := s.Refresh(ctx, device, FetchFreshness)
	if err != nil {
		switch errors.CodeOf(err) {
		case ErrDeviceUnreachable:
			s.log.Warn().
				Int64("device_id", deviceID).
				Err(err).
				Msg("Device unreachable, serving placeholder")
			return PlaceholderUnreachable, nil
		case ErrCaptureFailed:
			s.log.Warn().
				Int64("device_id", deviceID).
				Err(err).
				Msg("Capture failed, serving placeholder")
			return PlaceholderError, nil
		}
		return "", err
	}

	return entry.PhotoRef, nil
}
