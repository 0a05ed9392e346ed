package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dashgate-dev/dashgate/internal/config"
	"github.com/dashgate-dev/dashgate/internal/host"
	"github.com/dashgate-dev/dashgate/internal/logger"
	"github.com/dashgate-dev/dashgate/internal/session"
)

var version = "dev" // Will be set during build with -ldflags

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.Init(cfg.Logging.Level, cfg.Logging.Format)

	store, closeStore, err := session.Open(session.Options{
		Backend:      cfg.Session.Backend,
		Path:         cfg.Session.Path,
		RedisAddress: cfg.Session.RedisAddress,
		RedisKey:     cfg.Session.RedisKey,
		PollInterval: cfg.Session.PollInterval,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open session store")
	}
	defer closeStore()

	ctx := context.Background()
	tracker := session.NewTracker(store, log)
	if err := tracker.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start session tracker")
	}
	defer tracker.Stop()

	// Create server
	srv, err := host.New(cfg, tracker, log, version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create server")
	}

	log.Info().Str("version", version).Msg("Starting Dashgate server...")

	// Start HTTP server (this blocks)
	if err := srv.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		os.Exit(1)
	}
}
