package dashboard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dashgate-dev/dashgate/internal/embed"
	"github.com/dashgate-dev/dashgate/internal/guesttoken"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fetchCall struct {
	mode     guesttoken.Mode
	identity string
}

// scriptedFetcher answers fetches from a function, optionally holding each call
// until released
type scriptedFetcher struct {
	mu      sync.Mutex
	calls   []fetchCall
	gates   map[string]chan struct{}
	respond func(mode guesttoken.Mode, identity string) (guesttoken.Credential, error)
}

func (f *scriptedFetcher) Fetch(ctx context.Context, mode guesttoken.Mode, identity string) (guesttoken.Credential, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{mode: mode, identity: identity})
	gate := f.gates[identity]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return guesttoken.Credential{}, ctx.Err()
		}
	}
	return f.respond(mode, identity)
}

func (f *scriptedFetcher) recorded() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchCall(nil), f.calls...)
}

func (f *scriptedFetcher) hold(identity string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gates == nil {
		f.gates = map[string]chan struct{}{}
	}
	ch := make(chan struct{})
	f.gates[identity] = ch
	return ch
}

func tokenFor(mode guesttoken.Mode, identity string) (guesttoken.Credential, error) {
	return guesttoken.Credential{Token: "tok:" + identity, Mode: mode, Identity: identity}, nil
}

type slot struct{ id string }

func (s *slot) ID() string { return s.id }
func (s *slot) Clear()     {}

type recordingHandle struct {
	w *recordingWidget
}

func (h *recordingHandle) Unmount() error {
	h.w.mu.Lock()
	defer h.w.mu.Unlock()
	h.w.live--
	return nil
}

type recordingWidget struct {
	mu     sync.Mutex
	tokens []string
	live   int
}

func (w *recordingWidget) Embed(ctx context.Context, cfg embed.Config) (embed.Handle, error) {
	token, err := cfg.FetchGuestToken(ctx)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tokens = append(w.tokens, token)
	w.live++
	return &recordingHandle{w: w}, nil
}

func (w *recordingWidget) mounted() ([]string, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.tokens...), w.live
}

func newTestView(t *testing.T, fetcher Fetcher) (*View, *embed.Controller, *recordingWidget) {
	t.Helper()
	widget := &recordingWidget{}
	ctrl := embed.NewController(widget, embed.Options{
		DashboardID:    "dash-1",
		SupersetDomain: "http://superset:8088",
		Delay:          10 * time.Millisecond,
	}, zerolog.Nop())
	view := NewView(fetcher, ctrl, zerolog.Nop())
	t.Cleanup(view.Close)
	return view, ctrl, widget
}

func waitMounted(t *testing.T, view *View) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		return view.Snapshot().Mounted
	}, 2*time.Second, 2*time.Millisecond)
	return view.Snapshot()
}

func TestRoute_Title(t *testing.T) {
	assert.Equal(t, "Dashboard View: Filtered for Cipla Ltd", Route{Mode: guesttoken.ModeRLS, Identity: "Cipla Ltd"}.Title())
	assert.Equal(t, "Dashboard View: Full Access", Route{Mode: guesttoken.ModeFull, Identity: "admin"}.Title())
}

func TestView_ManufacturerLoginMountsFilteredDashboard(t *testing.T) {
	fetcher := &scriptedFetcher{respond: tokenFor}
	view, _, widget := newTestView(t, fetcher)

	view.AttachMountPoint(&slot{id: "slot-1"})
	view.Navigate(Route{Mode: guesttoken.ModeRLS, Identity: "Cipla Ltd"})

	snap := waitMounted(t, view)
	assert.Equal(t, "Dashboard View: Filtered for Cipla Ltd", snap.Title)
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Error)

	tokens, live := widget.mounted()
	assert.Equal(t, []string{"tok:Cipla Ltd"}, tokens)
	assert.Equal(t, 1, live)
	assert.Equal(t, []fetchCall{{mode: guesttoken.ModeRLS, identity: "Cipla Ltd"}}, fetcher.recorded())
}

func TestView_FetchFailureNeverSchedulesMount(t *testing.T) {
	fetcher := &scriptedFetcher{respond: func(mode guesttoken.Mode, identity string) (guesttoken.Credential, error) {
		return guesttoken.Credential{}, &guesttoken.FetchError{
			Kind:       guesttoken.KindHTTP,
			Mode:       mode,
			StatusCode: 401,
			Message:    "invalid manufacturer",
		}
	}}
	view, ctrl, widget := newTestView(t, fetcher)

	var mu sync.Mutex
	var states []embed.State
	ctrl.OnChange(func(s embed.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s.State)
	})

	view.AttachMountPoint(&slot{id: "slot-1"})
	view.Navigate(Route{Mode: guesttoken.ModeRLS, Identity: "Unknown Pharma"})

	require.Eventually(t, func() bool {
		return view.Snapshot().Error != ""
	}, 2*time.Second, 2*time.Millisecond)

	snap := view.Snapshot()
	assert.Equal(t, "Error fetching guest token: invalid manufacturer.", snap.Error)
	assert.False(t, snap.Loading)
	assert.False(t, snap.HasToken)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, states, embed.Scheduled)
	tokens, _ := widget.mounted()
	assert.Empty(t, tokens)
}

func TestView_StaleFetchIsNeverObserved(t *testing.T) {
	fetcher := &scriptedFetcher{respond: tokenFor}
	slow := fetcher.hold("Cipla Ltd")
	view, _, widget := newTestView(t, fetcher)
	view.AttachMountPoint(&slot{id: "slot-1"})

	view.Navigate(Route{Mode: guesttoken.ModeRLS, Identity: "Cipla Ltd"})
	assert.True(t, view.Snapshot().Loading)

	view.Navigate(Route{Mode: guesttoken.ModeRLS, Identity: "Lupin Ltd"})
	waitMounted(t, view)

	close(slow)
	time.Sleep(50 * time.Millisecond)

	tokens, live := widget.mounted()
	assert.Equal(t, []string{"tok:Lupin Ltd"}, tokens)
	assert.Equal(t, 1, live)
	assert.Equal(t, "Dashboard View: Filtered for Lupin Ltd", view.Snapshot().Title)
}

func TestView_RenavigationWithSameTokenRemounts(t *testing.T) {
	fetcher := &scriptedFetcher{respond: func(mode guesttoken.Mode, identity string) (guesttoken.Credential, error) {
		return guesttoken.Credential{Token: "same-token", Mode: mode, Identity: identity}, nil
	}}
	view, _, widget := newTestView(t, fetcher)
	view.AttachMountPoint(&slot{id: "slot-1"})

	view.Navigate(Route{Mode: guesttoken.ModeFull, Identity: "admin"})
	first := waitMounted(t, view)

	view.Navigate(Route{Mode: guesttoken.ModeFull, Identity: "admin"})
	require.Eventually(t, func() bool {
		snap := view.Snapshot()
		return snap.Mounted && snap.Generation > first.Generation
	}, 2*time.Second, 2*time.Millisecond)

	tokens, live := widget.mounted()
	assert.Equal(t, []string{"same-token", "same-token"}, tokens)
	assert.Equal(t, 1, live)
}

func TestView_WaitsForMountPoint(t *testing.T) {
	fetcher := &scriptedFetcher{respond: tokenFor}
	view, _, widget := newTestView(t, fetcher)

	view.Navigate(Route{Mode: guesttoken.ModeFull, Identity: "admin"})
	require.Eventually(t, func() bool {
		return view.Snapshot().HasToken
	}, 2*time.Second, 2*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	tokens, _ := widget.mounted()
	assert.Empty(t, tokens)

	view.AttachMountPoint(&slot{id: "late"})
	waitMounted(t, view)

	view.DetachMountPoint()
	assert.Equal(t, embed.Idle.String(), view.Snapshot().EmbedState)
	_, live := widget.mounted()
	assert.Zero(t, live)
}

func TestView_CloseTearsDownAndIgnoresLateResults(t *testing.T) {
	fetcher := &scriptedFetcher{respond: tokenFor}
	view, _, widget := newTestView(t, fetcher)
	view.AttachMountPoint(&slot{id: "slot-1"})

	view.Navigate(Route{Mode: guesttoken.ModeFull, Identity: "admin"})
	waitMounted(t, view)

	hold := fetcher.hold("other")
	view.Navigate(Route{Mode: guesttoken.ModeFull, Identity: "other"})
	view.Close()
	close(hold)

	tokens, live := widget.mounted()
	assert.Equal(t, []string{"tok:admin"}, tokens)
	assert.Zero(t, live)

	// Navigating a closed view does nothing
	view.Navigate(Route{Mode: guesttoken.ModeFull, Identity: "admin"})
	assert.Len(t, fetcher.recorded(), 2)
}

func TestView_EmbedErrorSurfaces(t *testing.T) {
	fetcher := &scriptedFetcher{respond: tokenFor}
	ctrl := embed.NewController(unavailableWidget{}, embed.Options{Delay: time.Millisecond}, zerolog.Nop())
	view := NewView(fetcher, ctrl, zerolog.Nop())
	t.Cleanup(view.Close)

	view.AttachMountPoint(&slot{id: "slot-1"})
	view.Navigate(Route{Mode: guesttoken.ModeFull, Identity: "admin"})

	require.Eventually(t, func() bool {
		return view.Snapshot().Error != ""
	}, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, "Error: Superset Embedded SDK not loaded correctly.", view.Snapshot().Error)
}

type unavailableWidget struct{}

func (unavailableWidget) Embed(context.Context, embed.Config) (embed.Handle, error) {
	return nil, embed.ErrWidgetUnavailable
}
