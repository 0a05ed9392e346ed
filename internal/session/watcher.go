package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultPollInterval = time.Second

// Loader reads the current persisted record
type Loader func(ctx context.Context) (Session, error)

// Watcher turns a Loader into change notifications by polling it.
// Stores without a native notification channel use it to implement Subscribe.
type Watcher struct {
	load     Loader
	interval time.Duration
	logger   zerolog.Logger
}

// NewWatcher creates a poll-based watcher. A non-positive interval uses the default of one second.
func NewWatcher(load Loader, interval time.Duration, logger zerolog.Logger) *Watcher {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Watcher{
		load:     load,
		interval: interval,
		logger:   logger,
	}
}

// Subscribe records the current snapshot as a baseline and calls onChange
// whenever a later poll observes a different record.
func (w *Watcher) Subscribe(ctx context.Context, onChange func(Session)) (func(), error) {
	last, err := w.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline session: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				current, err := w.load(ctx)
				if err != nil {
					if ctx.Err() == nil {
						w.logger.Debug().Err(err).Msg("Session poll failed")
					}
					continue
				}
				if current == last {
					continue
				}
				last = current
				onChange(current)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}, nil
}
