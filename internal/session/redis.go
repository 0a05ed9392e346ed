package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultRedisKey = "dashgate:session"

	fieldAuthenticated = "authenticated"
	fieldRole          = "role"
	fieldIdentity      = "identity"
)

// RedisStore keeps the session as a Redis hash and announces writes on a pub/sub channel
type RedisStore struct {
	rdb     *redis.Client
	key     string
	channel string
	logger  zerolog.Logger
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store on top of an existing client. An empty key uses "dashgate:session".
func NewRedisStore(rdb *redis.Client, key string, logger zerolog.Logger) *RedisStore {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisStore{
		rdb:     rdb,
		key:     key,
		channel: key + ":changed",
		logger:  logger,
	}
}

// Load reads the hash; any missing field yields the logged-out session
func (s *RedisStore) Load(ctx context.Context) (Session, error) {
	values, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return LoggedOut(), nil
		}
		return LoggedOut(), fmt.Errorf("failed to load session: %w", err)
	}

	authenticated, err := strconv.ParseBool(values[fieldAuthenticated])
	if err != nil {
		return LoggedOut(), nil
	}

	return normalize(Session{
		Authenticated: authenticated,
		Role:          Role(values[fieldRole]),
		Identity:      values[fieldIdentity],
	}), nil
}

// Save replaces the hash in a MULTI/EXEC block and publishes a change
func (s *RedisStore) Save(ctx context.Context, role Role, identity string) error {
	sess, err := LoggedIn(role, identity)
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		pipe.HSet(ctx, s.key,
			fieldAuthenticated, strconv.FormatBool(sess.Authenticated),
			fieldRole, string(sess.Role),
			fieldIdentity, sess.Identity,
		)
		pipe.Publish(ctx, s.channel, "save")
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Clear deletes the hash and publishes a change
func (s *RedisStore) Clear(ctx context.Context) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		pipe.Publish(ctx, s.channel, "clear")
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Subscribe listens on the change channel and re-reads the record on every message
func (s *RedisStore) Subscribe(ctx context.Context, onChange func(Session)) (func(), error) {
	pubsub := s.rdb.Subscribe(ctx, s.channel)
	// Wait for the subscription to be confirmed so no write is missed after we return
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to session changes: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-messages:
				if !ok {
					return
				}
				sess, err := s.Load(ctx)
				if err != nil {
					s.logger.Warn().Err(err).Msg("Failed to reload session after change notification")
					continue
				}
				onChange(sess)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			pubsub.Close()
			wg.Wait()
		})
	}, nil
}
