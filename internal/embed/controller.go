// Package embed owns the lifecycle of the embedded dashboard widget.
//
// A Controller holds a single mount slot and sequences
//
//	Idle -> Scheduled -> Mounting -> Mounted -> Idle
//
// Scheduling starts only when both a guest token and a mount point are present and
// waits for a short debounce so that rapid input changes mount once. Every attempt
// runs under a generation number; teardown bumps the generation, so a mount call
// that resolves after a teardown is recognised as stale and its handle unmounted.
// At most one handle is live at any time.
package embed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultDelay is the debounce applied between scheduling and mounting
const DefaultDelay = 50 * time.Millisecond

// State of the controller
type State int

const (
	Idle State = iota
	Scheduled
	Mounting
	Mounted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Mounting:
		return "mounting"
	case Mounted:
		return "mounted"
	default:
		return "unknown"
	}
}

// Options are the fixed parts of every widget Config
type Options struct {
	DashboardID    string
	SupersetDomain string
	UI             UIConfig
	Delay          time.Duration // zero uses DefaultDelay
}

// Inputs are the dependencies of a mount. Any change tears down the current mount.
type Inputs struct {
	Token      string
	Mode       string
	Identity   string
	MountPoint MountPoint
}

func (in Inputs) ready() bool {
	return in.Token != "" && in.MountPoint != nil
}

// Snapshot is a point-in-time view of the controller
type Snapshot struct {
	State      State
	Generation uint64
	Err        error
}

// Controller sequences widget mounts. It is safe for concurrent use; calls that
// change inputs are serialised.
type Controller struct {
	widget Widget
	opts   Options
	logger zerolog.Logger

	// seq serialises SetInputs, Teardown and Close so each completes its
	// unmount before the next mount can be scheduled
	seq sync.Mutex

	mu         sync.Mutex
	state      State
	generation uint64
	inputs     Inputs
	timer      *time.Timer
	handle     Handle
	err        error
	listeners  []ChangeFunc
}

// NewController creates an idle controller mounting through widget
func NewController(widget Widget, opts Options, logger zerolog.Logger) *Controller {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	return &Controller{
		widget: widget,
		opts:   opts,
		logger: logger,
	}
}

// ChangeFunc observes controller state transitions
type ChangeFunc func(Snapshot)

// OnChange registers fn to receive a snapshot after every state transition.
// fn runs on the goroutine that caused the transition and must not block.
func (c *Controller) OnChange(fn ChangeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Snapshot returns the current state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// SetInputs replaces the mount dependencies. Identical inputs are a no-op;
// anything else tears down and, when token and mount point are both present,
// schedules a new mount.
func (c *Controller) SetInputs(in Inputs) {
	c.seq.Lock()
	defer c.seq.Unlock()

	c.mu.Lock()
	if in == c.inputs {
		c.mu.Unlock()
		return
	}
	handle, changed := c.teardownLocked()
	c.inputs = in
	c.mu.Unlock()

	if handle != nil {
		c.unmount(handle, "inputs_changed")
	}

	c.mu.Lock()
	if in.ready() {
		c.scheduleLocked()
		changed = true
	}
	c.mu.Unlock()

	if changed {
		c.notify()
	}
}

// Teardown returns the controller to Idle, cancelling a pending mount and
// unmounting a live handle. Inputs are kept. Calling it when already idle does nothing.
func (c *Controller) Teardown(reason string) {
	c.seq.Lock()
	defer c.seq.Unlock()

	c.mu.Lock()
	handle, changed := c.teardownLocked()
	c.mu.Unlock()

	if handle != nil {
		c.unmount(handle, reason)
	}
	if changed {
		c.notify()
	}
}

// Close tears down and forgets the inputs and last error
func (c *Controller) Close() {
	c.seq.Lock()
	defer c.seq.Unlock()

	c.mu.Lock()
	handle, _ := c.teardownLocked()
	c.inputs = Inputs{}
	c.err = nil
	c.mu.Unlock()

	if handle != nil {
		c.unmount(handle, "closed")
	}
	c.notify()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:      c.state,
		Generation: c.generation,
		Err:        c.err,
	}
}

// teardownLocked invalidates any in-flight attempt and detaches the live handle.
// The caller unmounts the returned handle after releasing c.mu.
func (c *Controller) teardownLocked() (Handle, bool) {
	if c.state == Idle && c.timer == nil && c.handle == nil {
		return nil, false
	}

	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	handle := c.handle
	c.handle = nil
	c.state = Idle
	return handle, true
}

func (c *Controller) scheduleLocked() {
	c.generation++
	gen := c.generation
	c.state = Scheduled
	c.err = nil
	c.timer = time.AfterFunc(c.opts.Delay, func() {
		c.mount(gen)
	})

	c.logger.Debug().
		Uint64("generation", gen).
		Str("mode", c.inputs.Mode).
		Str("identity", c.inputs.Identity).
		Dur("delay", c.opts.Delay).
		Msg("Scheduled dashboard embedding")
}

// mount runs when the debounce timer for gen fires
func (c *Controller) mount(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.state != Scheduled {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.state = Mounting
	in := c.inputs
	c.mu.Unlock()
	c.notify()

	log := c.logger.With().
		Uint64("generation", gen).
		Str("mode", in.Mode).
		Str("identity", in.Identity).
		Str("mount_point", in.MountPoint.ID()).
		Logger()

	token := in.Token
	cfg := Config{
		DashboardID:    c.opts.DashboardID,
		SupersetDomain: c.opts.SupersetDomain,
		MountPoint:     in.MountPoint,
		FetchGuestToken: func(context.Context) (string, error) {
			return token, nil
		},
		UI: c.opts.UI,
	}

	in.MountPoint.Clear()
	log.Info().Msg("Starting embed")
	handle, err := c.embed(cfg)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		log.Info().Msg("Embed resolved after teardown, discarding")
		if handle != nil {
			c.unmount(handle, "superseded")
		}
		return
	}

	if err == nil && handle == nil {
		err = errors.New("widget returned no handle")
	}
	if err != nil {
		kind := KindRejected
		if errors.Is(err, ErrWidgetUnavailable) {
			kind = KindUnavailable
		}
		c.err = &EmbedError{Kind: kind, Generation: gen, Err: err}
		c.state = Idle
		c.mu.Unlock()
		log.Error().Err(err).Str("kind", string(kind)).Msg("Embedding failed")
		c.notify()
		return
	}

	c.handle = handle
	c.state = Mounted
	c.mu.Unlock()
	log.Info().Msg("Dashboard embedded")
	c.notify()
}

// embed calls the widget, turning a panic into an error
func (c *Controller) embed(cfg Config) (handle Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			handle = nil
			err = fmt.Errorf("widget panicked: %v", r)
		}
	}()
	return c.widget.Embed(context.Background(), cfg)
}

// unmount calls Unmount on a handle, logging and swallowing any failure
func (c *Controller) unmount(handle Handle, reason string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("reason", reason).Msg("Widget panicked during unmount")
		}
	}()

	c.logger.Debug().Str("reason", reason).Msg("Unmounting dashboard")
	if err := handle.Unmount(); err != nil {
		c.logger.Error().Err(err).Str("reason", reason).Msg("Error during widget unmount")
	}
}

func (c *Controller) notify() {
	c.mu.Lock()
	snap := c.snapshotLocked()
	listeners := append([]ChangeFunc(nil), c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}
