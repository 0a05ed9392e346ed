package session

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Backends accepted by Open
const (
	BackendFile    = "file"
	BackendKeyring = "keyring"
	BackendSQLite  = "sqlite"
	BackendRedis   = "redis"
	BackendMemory  = "memory"
)

// Options selects and configures a Store backend
type Options struct {
	Backend      string
	Path         string // file and sqlite backends
	RedisAddress string
	RedisKey     string
	PollInterval time.Duration
}

// Open builds the configured Store. The returned close function releases backend resources.
func Open(opts Options, logger zerolog.Logger) (Store, func() error, error) {
	noop := func() error { return nil }
	logger = logger.With().Str("session_backend", opts.Backend).Logger()

	switch opts.Backend {
	case "", BackendFile:
		path := opts.Path
		if path == "" {
			var err error
			if path, err = DefaultFilePath(); err != nil {
				return nil, nil, err
			}
		}
		return NewFileStore(path, opts.PollInterval, logger), noop, nil

	case BackendKeyring:
		return NewKeyringStore(opts.PollInterval, logger), noop, nil

	case BackendSQLite:
		if opts.Path == "" {
			return nil, nil, fmt.Errorf("session path is required for the sqlite backend")
		}
		store, err := OpenSQLStore(opts.Path, opts.PollInterval, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	case BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: opts.RedisAddress})
		return NewRedisStore(rdb, opts.RedisKey, logger), rdb.Close, nil

	case BackendMemory:
		return NewMemoryStore(), noop, nil

	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", opts.Backend)
	}
}
