// Package dashboard ties guest token fetching to the embed controller for one
// dashboard page.
package dashboard

import (
	"context"
	"fmt"
	"sync"

	"github.com/dashgate-dev/dashgate/internal/embed"
	"github.com/dashgate-dev/dashgate/internal/guesttoken"
	"github.com/rs/zerolog"
)

// Fetcher obtains a guest token for a route
type Fetcher interface {
	Fetch(ctx context.Context, mode guesttoken.Mode, identity string) (guesttoken.Credential, error)
}

var _ Fetcher = (*guesttoken.Fetcher)(nil)

// Route identifies what the view shows
type Route struct {
	Mode     guesttoken.Mode
	Identity string
}

// Title is the heading shown above the dashboard
func (r Route) Title() string {
	if r.Mode == guesttoken.ModeRLS {
		identity := r.Identity
		if identity == "" {
			identity = "Unknown Manufacturer"
		}
		return fmt.Sprintf("Dashboard View: Filtered for %s", identity)
	}
	return "Dashboard View: Full Access"
}

// Snapshot is the renderable state of a view
type Snapshot struct {
	Title      string `json:"title"`
	Mode       string `json:"mode"`
	Identity   string `json:"identity"`
	Loading    bool   `json:"loading"`
	HasToken   bool   `json:"has_token"`
	Mounted    bool   `json:"mounted"`
	EmbedState string `json:"embed_state"`
	Generation uint64 `json:"generation"`
	Error      string `json:"error,omitempty"`
}

// View is one dashboard page. Every Navigate is a fresh navigation: the previous
// token is dropped, the widget is detached and a new token is fetched. Results of
// superseded fetches are never observed.
type View struct {
	fetcher Fetcher
	ctrl    *embed.Controller
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	latest guesttoken.Latest

	// seq orders every hand-off to the controller
	seq sync.Mutex

	mu         sync.Mutex
	route      Route
	mountPoint embed.MountPoint
	closed     bool
}

// NewView creates a view driving ctrl
func NewView(fetcher Fetcher, ctrl *embed.Controller, logger zerolog.Logger) *View {
	ctx, cancel := context.WithCancel(context.Background())
	return &View{
		fetcher: fetcher,
		ctrl:    ctrl,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Navigate starts a fresh navigation to route
func (v *View) Navigate(route Route) {
	v.seq.Lock()
	defer v.seq.Unlock()

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.route = route
	v.mu.Unlock()

	gen := v.latest.Begin()
	v.ctrl.SetInputs(embed.Inputs{})

	v.logger.Debug().
		Uint64("fetch_generation", gen).
		Str("mode", string(route.Mode)).
		Str("identity", route.Identity).
		Msg("Navigating dashboard view")

	v.wg.Add(1)
	go v.fetch(gen, route)
}

func (v *View) fetch(gen uint64, route Route) {
	defer v.wg.Done()

	cred, err := v.fetcher.Fetch(v.ctx, route.Mode, route.Identity)

	v.seq.Lock()
	defer v.seq.Unlock()

	if !v.latest.Resolve(gen, cred, err) {
		v.logger.Debug().Uint64("fetch_generation", gen).Msg("Discarding superseded guest token result")
		return
	}
	if err != nil {
		return
	}
	v.applyLocked()
}

// applyLocked hands the current token and mount point to the controller. Caller holds seq.
func (v *View) applyLocked() {
	v.mu.Lock()
	route, mp, closed := v.route, v.mountPoint, v.closed
	v.mu.Unlock()
	if closed {
		return
	}

	result := v.latest.Current()
	if result.Loading || result.Err != nil || result.Credential.Token == "" {
		v.ctrl.SetInputs(embed.Inputs{})
		return
	}
	v.ctrl.SetInputs(embed.Inputs{
		Token:      result.Credential.Token,
		Mode:       string(route.Mode),
		Identity:   route.Identity,
		MountPoint: mp,
	})
}

// AttachMountPoint records that the container for the widget exists
func (v *View) AttachMountPoint(mp embed.MountPoint) {
	v.seq.Lock()
	defer v.seq.Unlock()

	v.mu.Lock()
	v.mountPoint = mp
	v.mu.Unlock()
	v.applyLocked()
}

// DetachMountPoint records that the container went away
func (v *View) DetachMountPoint() {
	v.AttachMountPoint(nil)
}

// MountPoint returns the attached container, or nil
func (v *View) MountPoint() embed.MountPoint {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mountPoint
}

// Route returns the route of the latest navigation
func (v *View) Route() Route {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.route
}

// Token returns the guest token currently held, if any
func (v *View) Token() (string, bool) {
	result := v.latest.Current()
	if result.Loading || result.Err != nil || result.Credential.Token == "" {
		return "", false
	}
	return result.Credential.Token, true
}

// Snapshot returns the renderable state
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	route := v.route
	v.mu.Unlock()

	result := v.latest.Current()
	embedSnap := v.ctrl.Snapshot()

	snap := Snapshot{
		Title:      route.Title(),
		Mode:       string(route.Mode),
		Identity:   route.Identity,
		Loading:    result.Loading,
		HasToken:   result.Credential.Token != "",
		Mounted:    embedSnap.State == embed.Mounted,
		EmbedState: embedSnap.State.String(),
		Generation: embedSnap.Generation,
	}
	switch {
	case result.Err != nil:
		snap.Error = result.Err.Error()
	case embedSnap.Err != nil:
		snap.Error = embedSnap.Err.Error()
	}
	return snap
}

// Close tears down the widget and abandons any in-flight fetch
func (v *View) Close() {
	v.seq.Lock()
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		v.seq.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()

	v.latest.Invalidate()
	v.cancel()
	v.ctrl.Close()
	v.seq.Unlock()

	v.wg.Wait()
}
