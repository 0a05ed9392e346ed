package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ChangeFunc observes a transition of the local session state
type ChangeFunc func(prev, next Session)

// Tracker is the in-memory session state of this process.
// It follows the persisted record: external changes are adopted as-is
// and are never written back to the store.
type Tracker struct {
	store  Store
	logger zerolog.Logger

	mu          sync.RWMutex
	current     Session
	writes      uint64 // local Login/Logout completions
	listeners   []ChangeFunc
	unsubscribe func()
}

// NewTracker creates a tracker over store. Call Start to begin following external changes.
func NewTracker(store Store, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger,
	}
}

// Start loads the persisted record and subscribes to external changes
func (t *Tracker) Start(ctx context.Context) error {
	if _, err := t.Refresh(ctx); err != nil {
		return err
	}

	unsubscribe, err := t.store.Subscribe(ctx, t.reconcile)
	if err != nil {
		return fmt.Errorf("failed to subscribe to session store: %w", err)
	}

	t.mu.Lock()
	t.unsubscribe = unsubscribe
	t.mu.Unlock()
	return nil
}

// Stop ends the subscription
func (t *Tracker) Stop() {
	t.mu.Lock()
	unsubscribe := t.unsubscribe
	t.unsubscribe = nil
	t.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// OnChange registers fn to run after every local state transition
func (t *Tracker) OnChange(fn ChangeFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Current returns the in-memory snapshot without touching the store
func (t *Tracker) Current() Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Refresh reads the authoritative record and reconciles local state with it.
// On a load error the last known snapshot is returned along with the error.
// A record loaded before a concurrent local Login or Logout finished is stale
// and is dropped in favour of the local write.
func (t *Tracker) Refresh(ctx context.Context) (Session, error) {
	t.mu.RLock()
	writes := t.writes
	t.mu.RUnlock()

	sess, err := t.store.Load(ctx)
	if err != nil {
		return t.Current(), fmt.Errorf("failed to refresh session: %w", err)
	}

	sess = normalize(sess)
	if !t.apply(sess, func() bool { return t.writes == writes }) {
		t.logger.Debug().Msg("Dropping session record loaded before a local write")
		return t.Current(), nil
	}
	return sess, nil
}

// Login persists a new session and adopts it locally
func (t *Tracker) Login(ctx context.Context, role Role, identity string) (Session, error) {
	sess, err := LoggedIn(role, identity)
	if err != nil {
		return LoggedOut(), err
	}
	if err := t.store.Save(ctx, role, identity); err != nil {
		return LoggedOut(), err
	}
	t.write(sess)
	return sess, nil
}

// Logout clears the persisted session and the local state
func (t *Tracker) Logout(ctx context.Context) error {
	if err := t.store.Clear(ctx); err != nil {
		return err
	}
	t.write(LoggedOut())
	return nil
}

// reconcile adopts a record observed in the store
func (t *Tracker) reconcile(external Session) {
	t.apply(normalize(external), nil)
}

// write adopts the result of a local store write
func (t *Tracker) write(next Session) {
	t.apply(next, func() bool {
		t.writes++
		return true
	})
}

// apply sets next as the local state when accept, run under the lock, allows it
func (t *Tracker) apply(next Session, accept func() bool) bool {
	t.mu.Lock()
	if accept != nil && !accept() {
		t.mu.Unlock()
		return false
	}
	prev := t.current
	t.current = next
	listeners := append([]ChangeFunc(nil), t.listeners...)
	t.mu.Unlock()

	if prev == next {
		return true
	}
	if prev.Authenticated && !next.Authenticated {
		t.logger.Info().
			Str("role", string(prev.Role)).
			Str("identity", prev.Identity).
			Msg("Session cleared, logging out")
	}
	for _, fn := range listeners {
		fn(prev, next)
	}
	return true
}
