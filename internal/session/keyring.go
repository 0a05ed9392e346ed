package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/zalando/go-keyring"
)

const (
	keyringService = "dashgate-cli"
	keyringUser    = "session"
)

// KeyringStore keeps the session triple as one secret in the OS keychain/credential manager
type KeyringStore struct {
	service string
	user    string
	watcher *Watcher
}

var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a keychain-backed store polling for external changes every pollInterval
func NewKeyringStore(pollInterval time.Duration, logger zerolog.Logger) *KeyringStore {
	s := &KeyringStore{
		service: keyringService,
		user:    keyringUser,
	}
	s.watcher = NewWatcher(s.Load, pollInterval, logger)
	return s
}

// Load retrieves the session from the keychain
func (s *KeyringStore) Load(ctx context.Context) (Session, error) {
	secret, err := keyring.Get(s.service, s.user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return LoggedOut(), nil
		}
		return LoggedOut(), fmt.Errorf("failed to load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(secret), &sess); err != nil {
		return LoggedOut(), nil
	}

	return normalize(sess), nil
}

// Save persists the session in a single keychain entry
func (s *KeyringStore) Save(ctx context.Context, role Role, identity string) error {
	sess, err := LoggedIn(role, identity)
	if err != nil {
		return err
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := keyring.Set(s.service, s.user, string(data)); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Clear removes the keychain entry
func (s *KeyringStore) Clear(ctx context.Context) error {
	if err := keyring.Delete(s.service, s.user); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil // Already logged out
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Subscribe polls the keychain for changes made by other processes
func (s *KeyringStore) Subscribe(ctx context.Context, onChange func(Session)) (func(), error) {
	return s.watcher.Subscribe(ctx, onChange)
}
