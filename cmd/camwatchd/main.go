package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/camwatch/internal/blob"
	"codeberg.org/mutker/camwatch/internal/capture"
	"codeberg.org/mutker/camwatch/internal/config"
	"codeberg.org/mutker/camwatch/internal/directory"
	"codeberg.org/mutker/camwatch/internal/errors"
	"codeberg.org/mutker/camwatch/internal/history"
	"codeberg.org/mutker/camwatch/internal/logger"
	"codeberg.org/mutker/camwatch/internal/pid"
	"codeberg.org/mutker/camwatch/internal/server"
	"codeberg.org/mutker/camwatch/internal/store"
	"codeberg.org/mutker/camwatch/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	logger.Debug().Msg("Config loaded")
	log := logger.Default()

	if err := pid.Write(); err != nil {
		logger.Fatal().Err(err).Msg("failed to write PID file")
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	db, err := store.Open(cfg.Database, log)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer func() {
		if err := store.Close(db, log); err != nil {
			logger.Error().Err(err).Msg("failed to close store")
		}
	}()

	blobs, err := blob.NewStore(cfg.Uploads)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize blob store")
	}

	dir := directory.NewRepository(db, log)
	readings := telemetry.NewRepository(db, log)
	photos := capture.NewService(
		dir,
		capture.NewCache(nil),
		capture.NewClient(log),
		blobs,
		time.Duration(cfg.CaptureTimeout)*time.Second,
		log,
	)
	archiver := history.NewRepository(db, blobs, log)
	scheduler := capture.NewScheduler(dir, readings, photos,
		time.Duration(cfg.Interval)*time.Second, log)
	srv := server.New(dir, readings, photos, archiver, blobs.Dir(), log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := scheduler.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("scheduler stopped with error")
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("listen", cfg.Listen).Msg("HTTP server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Received termination signal.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shut down HTTP server")
	}

	logger.Info().Msg("Exiting...")
}
