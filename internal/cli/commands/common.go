package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dashgate-dev/dashgate/internal/config"
	"github.com/dashgate-dev/dashgate/internal/logger"
	"github.com/dashgate-dev/dashgate/internal/session"
)

// loadConfig loads the configuration and initializes logging from it.
// This is common logic used by every command.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, logger.Init(cfg.Logging.Level, cfg.Logging.Format), nil
}

// openTracker opens the configured session store and starts following it.
// The returned function stops the tracker and releases the store.
func openTracker(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*session.Tracker, func(), error) {
	store, closeStore, err := session.Open(session.Options{
		Backend:      cfg.Session.Backend,
		Path:         cfg.Session.Path,
		RedisAddress: cfg.Session.RedisAddress,
		RedisKey:     cfg.Session.RedisKey,
		PollInterval: cfg.Session.PollInterval,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session store: %w", err)
	}

	tracker := session.NewTracker(store, log)
	if err := tracker.Start(ctx); err != nil {
		_ = closeStore()
		return nil, nil, err
	}

	return tracker, func() {
		tracker.Stop()
		if err := closeStore(); err != nil {
			log.Warn().Err(err).Msg("Error closing session store")
		}
	}, nil
}
