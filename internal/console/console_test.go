package console

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpconsole-go/internal/config"
	"mcpconsole-go/internal/contextbar"
	"mcpconsole-go/internal/events"
	"mcpconsole-go/internal/profile"
	"mcpconsole-go/internal/router"
	"mcpconsole-go/internal/session"
	"mcpconsole-go/internal/storage"
	"mcpconsole-go/internal/upstream/types"
)

type fakeServers struct {
	mu      sync.Mutex
	servers []types.Server
}

func (f *fakeServers) Servers() []types.Server {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Server(nil), f.servers...)
}

func (f *fakeServers) set(servers ...types.Server) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servers = servers
}

type fakeProfiles struct {
	mu     sync.Mutex
	active *profile.ActiveState
}

func (f *fakeProfiles) Active() (profile.ActiveState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return profile.ActiveState{}, false
	}
	return *f.active, true
}

func (f *fakeProfiles) activate(members ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := profile.Profile{ID: "p", Name: "Focus"}
	for _, id := range members {
		p.Members = append(p.Members, config.ProfileMember{ServerID: id})
	}
	f.active = &profile.ActiveState{Profile: p}
}

func server(id string, status types.ConnectionStatus, caps ...types.Capability) types.Server {
	return types.Server{
		ID:           id,
		Config:       types.ServerInfo{Name: id},
		Status:       status,
		Capabilities: types.NewCapabilitySet(caps...),
	}
}

func scenarioServers() *fakeServers {
	return &fakeServers{servers: []types.Server{
		server("X", types.StatusConnected, types.CapabilityTools, types.CapabilityResources),
		server("Y", types.StatusDisconnected, types.CapabilityPrompts),
	}}
}

func TestConsole_SelectServerFallsBack(t *testing.T) {
	c := New(scenarioServers(), &fakeProfiles{}, zap.NewNop())

	state := c.SetView(router.ViewTools)
	assert.Equal(t, router.State{View: router.ViewTools, SelectedServerID: "X"}, state, "selector mode auto-selects")

	res := c.SelectServer("Y")
	assert.True(t, res.Selected)
	assert.True(t, res.FellBack)
	assert.Equal(t, router.State{View: router.ViewPrompts, SelectedServerID: "Y"}, c.State())

	res = c.SelectServer("ghost")
	assert.False(t, res.Selected)
	assert.Equal(t, router.State{View: router.ViewPrompts, SelectedServerID: "Y"}, c.State())
}

func TestConsole_SetView(t *testing.T) {
	servers := &fakeServers{servers: []types.Server{
		server("tools", types.StatusConnected, types.CapabilityTools),
		server("sampler", types.StatusConnected, types.CapabilitySampling),
	}}
	c := New(servers, &fakeProfiles{}, zap.NewNop(), WithInitialView(router.ViewDashboard))

	assert.Equal(t, router.State{View: router.ViewSampling}, c.SetView(router.ViewSampling), "filter mode never forces")

	c.SelectServer("sampler")
	assert.Equal(t, router.State{View: router.ViewSampling, SelectedServerID: "sampler"}, c.State())

	assert.Equal(t, router.State{View: router.ViewResources}, c.SetView(router.ViewResources), "nothing qualifies")
	assert.Equal(t, router.State{View: router.ViewTools, SelectedServerID: "tools"}, c.SetView(router.ViewTools))
	assert.Equal(t, router.State{View: router.ViewDashboard, SelectedServerID: "tools"}, c.SetView(router.ViewDashboard))

	assert.Equal(t, router.State{View: router.ViewDashboard, SelectedServerID: "tools"}, c.SetView(router.View("bogus")))
}

func TestConsole_ProfileScopesSelection(t *testing.T) {
	servers := &fakeServers{servers: []types.Server{
		server("a", types.StatusConnected, types.CapabilityTools),
		server("b", types.StatusConnected, types.CapabilityTools),
	}}
	profiles := &fakeProfiles{}
	c := New(servers, profiles, zap.NewNop(), WithInitialView(router.ViewTools))

	assert.Equal(t, "a", c.Reconcile().SelectedServerID)

	profiles.activate("b")
	assert.Equal(t, []string{"b"}, serverIDs(c.DisplayServers()))
	assert.Equal(t, "b", c.Reconcile().SelectedServerID, "stale selection outside the profile is replaced")

	res := c.SelectServer("a")
	assert.False(t, res.Selected, "servers outside the active profile cannot be selected")

	c.SetView(router.ViewSettings)
	profiles.activate()
	assert.Empty(t, c.Reconcile().SelectedServerID, "views without a context bar drop servers that left the display set")
}

func TestConsole_Snapshot(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	servers := &fakeServers{servers: []types.Server{
		server("a", types.StatusConnected, types.CapabilityTools),
		server("b", types.StatusConnected),
		server("c", types.StatusError),
	}}
	profiles := &fakeProfiles{}
	c := New(servers, profiles, zap.NewNop(), WithClock(func() time.Time { return now }))
	c.SetView(router.ViewTools)

	snap := c.Snapshot()
	assert.Equal(t, router.ViewTools, snap.View)
	assert.Equal(t, "a", snap.SelectedServerID)
	assert.Equal(t, types.CapabilityTools, snap.RequiredCapability)
	assert.Equal(t, ContextBar{Shown: true, Mode: contextbar.ModeSelector}, snap.ContextBar)
	assert.Len(t, snap.Servers, 3)
	assert.Equal(t, session.TierPartial, snap.Summary.GlobalTier)
	assert.Nil(t, snap.Summary.ActiveProfile)

	profiles.activate("a", "b")
	profiles.mu.Lock()
	profiles.active.ActivatedAt = now.Add(-90 * time.Minute)
	profiles.mu.Unlock()

	snap = c.Snapshot()
	assert.Len(t, snap.Servers, 2)
	require.NotNil(t, snap.Summary.ActiveProfile)
	assert.Equal(t, session.TierConnected, snap.Summary.ActiveProfile.Tier)
	assert.Equal(t, "1h 30m ago", snap.Summary.ActiveProfile.Elapsed)
}

func TestConsole_PersistsAndRestoresViewState(t *testing.T) {
	dir := t.TempDir()
	manager, err := storage.NewManager(dir, zap.NewNop().Sugar())
	require.NoError(t, err)

	c := New(scenarioServers(), &fakeProfiles{}, zap.NewNop(), WithViewStore(manager))
	c.SetView(router.ViewResources)
	require.NoError(t, manager.Close())

	manager, err = storage.NewManager(dir, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer manager.Close()

	restored := New(scenarioServers(), &fakeProfiles{}, zap.NewNop(), WithViewStore(manager))
	require.NoError(t, restored.Restore())
	assert.Equal(t, router.State{View: router.ViewResources, SelectedServerID: "X"}, restored.State())
}

func TestConsole_RunReconcilesOnEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	servers := &fakeServers{servers: []types.Server{
		server("a", types.StatusConnecting, types.CapabilityTools),
	}}
	c := New(servers, &fakeProfiles{}, zap.NewNop(), WithEventBus(bus), WithInitialView(router.ViewTools))
	viewChanges := bus.Subscribe(events.ViewChanged)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, func() bool {
		return bus.TotalSubscribers() == 2
	}, time.Second, 5*time.Millisecond)

	servers.set(server("a", types.StatusConnected, types.CapabilityTools))
	bus.Publish(events.Event{Type: events.ServerStateChanged, ServerID: "a"})

	require.Eventually(t, func() bool {
		return c.State().SelectedServerID == "a"
	}, time.Second, 5*time.Millisecond)

	select {
	case ev := <-viewChanges:
		data, ok := ev.Data.(events.ViewChangeData)
		require.True(t, ok)
		assert.Equal(t, "a", data.SelectedServerID)
	case <-time.After(time.Second):
		t.Fatal("no view change published")
	}
}

// idleConnector backs a real profile registry whose members are never connected
type idleConnector struct {
	servers *fakeServers
}

func (c idleConnector) Get(id string) (types.Server, bool) {
	return types.FindServer(c.servers.Servers(), id)
}

func (idleConnector) ConnectWithEnv(context.Context, string, map[string]string) error {
	return nil
}

func (c idleConnector) AwaitSettled(_ context.Context, id string) types.ConnectionStatus {
	s, _ := c.Get(id)
	return s.Status
}

func TestConsole_StartCatchesActivationRightAfterIt(t *testing.T) {
	for i := 0; i < 50; i++ {
		bus := events.NewBus()

		servers := &fakeServers{servers: []types.Server{
			server("X", types.StatusConnected, types.CapabilityTools),
			server("Y", types.StatusDisconnected, types.CapabilityTools),
		}}
		off := false
		profiles := profile.NewRegistry(idleConnector{servers: servers}, zap.NewNop(), profile.WithEventBus(bus))
		profiles.Replace([]*config.ProfileConfig{{
			ID:      "p",
			Name:    "Focus",
			Members: []config.ProfileMember{{ServerID: "Y", AutoConnect: &off}},
		}})

		c := New(servers, profiles, zap.NewNop(), WithEventBus(bus), WithInitialView(router.ViewTools))
		require.True(t, c.SelectServer("X").Selected)

		ctx, cancel := context.WithCancel(context.Background())
		done := c.Start(ctx)
		require.Equal(t, 1, bus.TotalSubscribers(), "console is subscribed once Start returns")

		act := profiles.Activate(context.Background(), "p")
		require.NotNil(t, act)
		<-act.Done()

		require.Eventually(t, func() bool {
			return c.State().SelectedServerID == ""
		}, time.Second, 2*time.Millisecond, "selection outside the active profile must be dropped")
		assert.Equal(t, []string{"Y"}, serverIDs(c.DisplayServers()))

		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("console loop did not stop")
		}
		bus.Close()
	}
}

func TestConsole_StartWithoutBusWaitsForContext(t *testing.T) {
	c := New(scenarioServers(), &fakeProfiles{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := c.Start(ctx)

	select {
	case <-done:
		t.Fatal("loop exited before cancel")
	default:
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after cancel")
	}
}

func serverIDs(servers []types.Server) []string {
	out := make([]string, 0, len(servers))
	for _, s := range servers {
		out = append(out, s.ID)
	}
	return out
}
