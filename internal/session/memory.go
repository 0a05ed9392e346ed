package session

import (
	"context"
	"sync"
)

// MemoryStore is a process-local Store. Every write is broadcast to subscribers,
// which makes it a stand-in for "another tab" in tests and for the --ephemeral serve mode.
type MemoryStore struct {
	mu          sync.Mutex
	record      Session
	nextID      int
	subscribers map[int]func(Session)
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subscribers: make(map[int]func(Session))}
}

func (m *MemoryStore) Load(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record, nil
}

func (m *MemoryStore) Save(ctx context.Context, role Role, identity string) error {
	sess, err := LoggedIn(role, identity)
	if err != nil {
		return err
	}
	m.publish(sess)
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.publish(LoggedOut())
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, onChange func(Session)) (func(), error) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = onChange
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}, nil
}

func (m *MemoryStore) publish(sess Session) {
	m.mu.Lock()
	m.record = sess
	subscribers := make([]func(Session), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subscribers = append(subscribers, fn)
	}
	m.mu.Unlock()

	for _, fn := range subscribers {
		fn(sess)
	}
}
