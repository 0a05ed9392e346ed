package host

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dashgate-dev/dashgate/internal/assert"
	"github.com/dashgate-dev/dashgate/internal/embed"
)

// Descriptor is what the browser needs to render the embedded dashboard in a slot
type Descriptor struct {
	MountID        string         `json:"mount_id"`
	DashboardID    string         `json:"dashboard_id"`
	SupersetDomain string         `json:"superset_domain"`
	UI             embed.UIConfig `json:"ui"`
	token          string
}

// Slot is a mount point the browser renders at /slots/:id
type Slot struct {
	id string

	mu      sync.Mutex
	current *Descriptor
}

var _ embed.MountPoint = (*Slot)(nil)

func (s *Slot) ID() string {
	return s.id
}

// Clear drops whatever is mounted in the slot
func (s *Slot) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}

// Descriptor returns the mounted dashboard, if any
func (s *Slot) Descriptor() (Descriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Descriptor{}, false
	}
	return *s.current, true
}

// Token returns the guest token of the mounted dashboard, if any
func (s *Slot) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", false
	}
	return s.current.token, true
}

func (s *Slot) mount(d *Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = d
}

// unmount removes d if it is still the mounted descriptor
func (s *Slot) unmount(d *Descriptor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != d {
		return false
	}
	s.current = nil
	return true
}

// Slots registers mount slots by id
type Slots struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	slots   map[string]*Slot
}

// NewSlots creates an empty registry
func NewSlots() *Slots {
	return &Slots{
		entropy: ulid.Monotonic(rand.Reader, 0),
		slots:   make(map[string]*Slot),
	}
}

// New creates and registers a slot with a fresh ULID
func (r *Slots) New() *Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), r.entropy).String()
	assert.ULID(id)
	slot := &Slot{id: id}
	r.slots[id] = slot
	return slot
}

// Get looks up a slot
func (r *Slots) Get(id string) (*Slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.slots[id]
	return slot, ok
}

// Remove forgets a slot
func (r *Slots) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, id)
}

// Len returns the number of registered slots
func (r *Slots) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}
