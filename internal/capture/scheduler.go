package capture

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/camwatch/internal/directory"
	"codeberg.org/mutker/camwatch/internal/errors"
	"codeberg.org/mutker/camwatch/internal/logger"
	"codeberg.org/mutker/camwatch/internal/telemetry"
)

// RefreshInterval maps a device's latest temperature to how long its
// cached photo stays fresh. Hotter devices produce photo evidence more
// often.
func RefreshInterval(temperature float64) time.Duration {
	switch {
	case temperature >= 28:
		return 5 * time.Second
	case temperature >= 24:
		return 10 * time.Second
	case temperature >= 20:
		return 20 * time.Second
	default:
		return 30 * time.Second
	}
}

// Scheduler is the perpetual background task that re-captures device
// photos at a rate derived from their latest sensor readings.
type Scheduler struct {
	directory directory.Directory
	readings  telemetry.Store
	refresher Refresher
	interval  time.Duration
	log       logger.Logger
}

func NewScheduler(dir directory.Directory, readings telemetry.Store, refresher Refresher, interval time.Duration, log logger.Logger) *Scheduler {
	return &Scheduler{
		directory: dir,
		readings:  readings,
		refresher: refresher,
		interval:  interval,
		log:       log,
	}
}

// Run ticks until ctx is cancelled. A failed capture never stops the
// loop; the in-flight tick finishes before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().
		Dur("interval", s.interval).
		Msg("Capture scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Capture scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick processes every known device once. Devices are independent
// units of work and are refreshed concurrently, so one unresponsive
// device cannot starve the others within a tick.
func (s *Scheduler) Tick(ctx context.Context) {
	devices, err := s.directory.List(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list devices for tick")
		return
	}

	var wg sync.WaitGroup
	for _, device := range devices {
		wg.Add(1)
		go func(device directory.Device) {
			defer wg.Done()
			s.refreshDevice(ctx, device)
		}(device)
	}
	wg.Wait()
}

func (s *Scheduler) refreshDevice(ctx context.Context, device directory.Device) {
	latest, err := s.readings.Latest(ctx, device.ID)
	if err != nil {
		s.log.Error().
			Int64("device_id", device.ID).
			Err(err).
			Msg("Failed to read latest telemetry")
		return
	}
	if latest == nil {
		// No telemetry yet, nothing to adapt on
		return
	}

	staleAfter := RefreshInterval(latest.Temperature)
	if _, err := s.refresher.Refresh(ctx, device, staleAfter); err != nil {
		s.log.Warn().
			Int64("device_id", device.ID).
			Str("error_code", string(errors.CodeOf(err))).
			Err(err).
			Msg("Device capture failed")
		return
	}

	s.log.Debug().
		Int64("device_id", device.ID).
		Float64("temperature", latest.Temperature).
		Dur("stale_after", staleAfter).
		Msg("Device refreshed")
}
