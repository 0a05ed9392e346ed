package embed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDelay = 20 * time.Millisecond

type fakeMountPoint struct {
	mu     sync.Mutex
	id     string
	clears int
}

func (m *fakeMountPoint) ID() string { return m.id }

func (m *fakeMountPoint) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears++
}

func (m *fakeMountPoint) clearCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

type fakeHandle struct {
	widget *fakeWidget
	token  string
}

func (h *fakeHandle) Unmount() error {
	w := h.widget
	w.mu.Lock()
	defer w.mu.Unlock()
	w.live--
	w.unmounts++
	if w.unmountPanic {
		panic("sdk exploded")
	}
	return w.unmountErr
}

type fakeWidget struct {
	mu           sync.Mutex
	unavailable  bool
	rejectErr    error
	unmountErr   error
	unmountPanic bool
	block        chan struct{}
	entered      chan struct{}

	embeds    int
	unmounts  int
	live      int
	maxLive   int
	lastToken string
}

func (w *fakeWidget) Embed(ctx context.Context, cfg Config) (Handle, error) {
	w.mu.Lock()
	block, entered := w.block, w.entered
	w.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}

	token, err := cfg.FetchGuestToken(ctx)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.embeds++
	if w.unavailable {
		return nil, ErrWidgetUnavailable
	}
	if w.rejectErr != nil {
		return nil, w.rejectErr
	}
	w.live++
	if w.live > w.maxLive {
		w.maxLive = w.live
	}
	w.lastToken = token
	return &fakeHandle{widget: w, token: token}, nil
}

func (w *fakeWidget) stats() (embeds, unmounts, live, maxLive int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.embeds, w.unmounts, w.live, w.maxLive
}

func newTestController(w Widget) *Controller {
	return NewController(w, Options{
		DashboardID:    "dash-1",
		SupersetDomain: "http://superset:8088",
		UI:             UIConfig{HideTitle: true},
		Delay:          testDelay,
	}, zerolog.Nop())
}

func waitForState(t *testing.T, c *Controller, want State) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.Snapshot().State == want
	}, 2*time.Second, 2*time.Millisecond, "controller never reached %s", want)
	return c.Snapshot()
}

func TestController_MountsAfterDebounce(t *testing.T) {
	w := &fakeWidget{}
	c := newTestController(w)
	mp := &fakeMountPoint{id: "slot-1"}

	c.SetInputs(Inputs{Token: "tok", Mode: "rls", Identity: "Cipla Ltd", MountPoint: mp})
	assert.Equal(t, Scheduled, c.Snapshot().State)

	waitForState(t, c, Mounted)
	embeds, _, live, _ := w.stats()
	assert.Equal(t, 1, embeds)
	assert.Equal(t, 1, live)
	assert.Equal(t, "tok", w.lastToken)
	assert.Equal(t, 1, mp.clearCount())
}

func TestController_WaitsForTokenAndMountPoint(t *testing.T) {
	w := &fakeWidget{}
	c := newTestController(w)

	c.SetInputs(Inputs{Token: "tok", Mode: "full"})
	assert.Equal(t, Idle, c.Snapshot().State)

	c.SetInputs(Inputs{Mode: "full", MountPoint: &fakeMountPoint{id: "slot"}})
	assert.Equal(t, Idle, c.Snapshot().State)

	time.Sleep(3 * testDelay)
	embeds, _, _, _ := w.stats()
	assert.Zero(t, embeds)
}

func TestController_DebounceAbsorbsFlicker(t *testing.T) {
	w := &fakeWidget{}
	c := newTestController(w)
	mp := &fakeMountPoint{id: "slot"}

	for _, identity := range []string{"Cipla Ltd", "Lupin Ltd", "Intas Pharmaceuticals Ltd"} {
		c.SetInputs(Inputs{Token: "tok-" + identity, Mode: "rls", Identity: identity, MountPoint: mp})
	}

	waitForState(t, c, Mounted)
	embeds, unmounts, _, _ := w.stats()
	assert.Equal(t, 1, embeds)
	assert.Zero(t, unmounts)
	assert.Equal(t, "tok-Intas Pharmaceuticals Ltd", w.lastToken)
}

func TestController_SameInputsIsNoop(t *testing.T) {
	w := &fakeWidget{}
	c := newTestController(w)
	in := Inputs{Token: "tok", Mode: "full", Identity: "admin", MountPoint: &fakeMountPoint{id: "slot"}}

	c.SetInputs(in)
	first := waitForState(t, c, Mounted)
	c.SetInputs(in)

	assert.Equal(t, first, c.Snapshot())
	_, unmounts, _, _ := w.stats()
	assert.Zero(t, unmounts)
}

func TestController_TeardownIsIdempotent(t *testing.T) {
	w := &fakeWidget{}
	c := newTestController(w)
	c.SetInputs(Inputs{Token: "tok", MountPoint: &fakeMountPoint{id: "slot"}})
	waitForState(t, c, Mounted)

	c.Teardown("test")
	gen := c.Snapshot().Generation
	c.Teardown("test")

	_, unmounts, live, _ := w.stats()
	assert.Equal(t, 1, unmounts)
	assert.Zero(t, live)
	assert.Equal(t, Idle, c.Snapshot().State)
	assert.Equal(t, gen, c.Snapshot().Generation, "a no-op teardown must not advance the generation")
}

func TestController_TeardownCancelsPendingTimer(t *testing.T) {
	w := &fakeWidget{}
	c := newTestController(w)
	c.SetInputs(Inputs{Token: "tok", MountPoint: &fakeMountPoint{id: "slot"}})
	c.Teardown("navigated_away")

	time.Sleep(3 * testDelay)
	embeds, _, _, _ := w.stats()
	assert.Zero(t, embeds)
	assert.Equal(t, Idle, c.Snapshot().State)
}

func TestController_DiscardsMountResolvedAfterTeardown(t *testing.T) {
	w := &fakeWidget{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	c := newTestController(w)
	c.SetInputs(Inputs{Token: "tok", MountPoint: &fakeMountPoint{id: "slot"}})

	<-w.entered
	assert.Equal(t, Mounting, c.Snapshot().State)

	c.Teardown("identity_changed")
	assert.Equal(t, Idle, c.Snapshot().State)
	close(w.block)

	require.Eventually(t, func() bool {
		_, unmounts, live, _ := w.stats()
		return unmounts == 1 && live == 0
	}, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, Idle, c.Snapshot().State)
}

func TestController_NeverMoreThanOneLiveHandle(t *testing.T) {
	w := &fakeWidget{}
	c := newTestController(w)
	mp := &fakeMountPoint{id: "slot"}

	for i, token := range []string{"a", "b", "c", "d"} {
		c.SetInputs(Inputs{Token: token, MountPoint: mp})
		waitForState(t, c, Mounted)
		embeds, unmounts, live, _ := w.stats()
		assert.Equal(t, i+1, embeds)
		assert.Equal(t, i, unmounts)
		assert.Equal(t, 1, live)
	}

	c.Close()
	_, _, live, maxLive := w.stats()
	assert.Zero(t, live)
	assert.Equal(t, 1, maxLive)
}

func TestController_UnavailableWidgetThenRecovers(t *testing.T) {
	w := &fakeWidget{unavailable: true}
	c := newTestController(w)
	mp := &fakeMountPoint{id: "slot"}

	c.SetInputs(Inputs{Token: "tok-1", Mode: "rls", Identity: "Cipla Ltd", MountPoint: mp})
	require.Eventually(t, func() bool {
		return c.Snapshot().Err != nil
	}, 2*time.Second, 2*time.Millisecond)

	snap := c.Snapshot()
	assert.Equal(t, Idle, snap.State)
	var embedErr *EmbedError
	require.ErrorAs(t, snap.Err, &embedErr)
	assert.Equal(t, KindUnavailable, embedErr.Kind)
	assert.Contains(t, embedErr.Error(), "not loaded")

	// No automatic retry
	time.Sleep(3 * testDelay)
	embeds, _, _, _ := w.stats()
	assert.Equal(t, 1, embeds)

	// The SDK shows up and the user navigates again
	w.mu.Lock()
	w.unavailable = false
	w.mu.Unlock()
	c.SetInputs(Inputs{Token: "tok-2", Mode: "rls", Identity: "Cipla Ltd", MountPoint: mp})

	snap = waitForState(t, c, Mounted)
	assert.NoError(t, snap.Err)
	assert.Equal(t, "tok-2", w.lastToken)
}

func TestController_RejectedMount(t *testing.T) {
	w := &fakeWidget{rejectErr: errors.New("dashboard not found")}
	c := newTestController(w)
	c.SetInputs(Inputs{Token: "tok", MountPoint: &fakeMountPoint{id: "slot"}})

	require.Eventually(t, func() bool {
		return c.Snapshot().Err != nil
	}, 2*time.Second, 2*time.Millisecond)

	var embedErr *EmbedError
	require.ErrorAs(t, c.Snapshot().Err, &embedErr)
	assert.Equal(t, KindRejected, embedErr.Kind)
	assert.Equal(t, "Failed to embed dashboard: dashboard not found", embedErr.Error())

	// Teardown with no live handle is still safe
	c.Teardown("after_error")
	_, unmounts, _, _ := w.stats()
	assert.Zero(t, unmounts)
}

func TestController_UnmountFailuresAreSwallowed(t *testing.T) {
	for _, tt := range []struct {
		name   string
		widget *fakeWidget
	}{
		{name: "error", widget: &fakeWidget{unmountErr: errors.New("iframe gone")}},
		{name: "panic", widget: &fakeWidget{unmountPanic: true}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController(tt.widget)
			c.SetInputs(Inputs{Token: "tok", MountPoint: &fakeMountPoint{id: "slot"}})
			waitForState(t, c, Mounted)

			assert.NotPanics(t, func() { c.Teardown("test") })
			assert.Equal(t, Idle, c.Snapshot().State)
			_, unmounts, _, _ := tt.widget.stats()
			assert.Equal(t, 1, unmounts)
		})
	}
}

func TestController_OnChangeSeesEveryState(t *testing.T) {
	w := &fakeWidget{}
	c := newTestController(w)

	var mu sync.Mutex
	seen := map[State]bool{}
	c.OnChange(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen[s.State] = true
	})

	c.SetInputs(Inputs{Token: "tok", MountPoint: &fakeMountPoint{id: "slot"}})
	waitForState(t, c, Mounted)
	c.Close()

	mu.Lock()
	defer mu.Unlock()
	for _, s := range []State{Scheduled, Mounting, Mounted, Idle} {
		assert.True(t, seen[s], "missing %s", s)
	}
}

func TestController_ListenerMayRegisterListener(t *testing.T) {
	w := &fakeWidget{}
	c := newTestController(w)

	var mu sync.Mutex
	var late []State
	var once sync.Once
	c.OnChange(func(s Snapshot) {
		once.Do(func() {
			c.OnChange(func(s Snapshot) {
				mu.Lock()
				defer mu.Unlock()
				late = append(late, s.State)
			})
		})
	})

	c.SetInputs(Inputs{Token: "tok", MountPoint: &fakeMountPoint{id: "slot"}})
	waitForState(t, c, Mounted)
	c.Close()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, late, "a listener added during a notification sees later transitions")
	assert.Equal(t, Idle, late[len(late)-1])
}
