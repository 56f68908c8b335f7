// Package console owns the view state and keeps it consistent with the
// server and profile registries.
package console

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"mcpconsole-go/internal/contextbar"
	"mcpconsole-go/internal/events"
	"mcpconsole-go/internal/profile"
	"mcpconsole-go/internal/router"
	"mcpconsole-go/internal/session"
	"mcpconsole-go/internal/storage"
	"mcpconsole-go/internal/upstream/types"
)

// ServerSource provides registry snapshots
type ServerSource interface {
	Servers() []types.Server
}

// ProfileSource reports the active profile
type ProfileSource interface {
	Active() (profile.ActiveState, bool)
}

// ViewStore remembers the view across restarts. *storage.Manager implements it.
type ViewStore interface {
	SaveViewState(record *storage.ViewStateRecord) error
	LoadViewState() (*storage.ViewStateRecord, error)
}

// ContextBar describes the context bar of the current view
type ContextBar struct {
	Shown bool            `json:"shown"`
	Mode  contextbar.Mode `json:"mode"`
}

// Snapshot is every derived value the shell renders, computed from one set
// of registry snapshots
type Snapshot struct {
	View               router.View      `json:"current_view"`
	SelectedServerID   string           `json:"selected_server_id,omitempty"`
	RequiredCapability types.Capability `json:"required_capability,omitempty"`
	ContextBar         ContextBar       `json:"context_bar"`
	Servers            []types.Server   `json:"display_servers"`
	Summary            session.Summary  `json:"summary"`
}

// Console serializes all view state changes. Derived values are recomputed
// from fresh registry snapshots on every call and never cached.
type Console struct {
	mu    sync.Mutex
	state router.State

	servers  ServerSource
	profiles ProfileSource
	store    ViewStore
	bus      *events.Bus
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Console
type Option func(*Console)

// WithViewStore persists the view state
func WithViewStore(store ViewStore) Option {
	return func(c *Console) {
		c.store = store
	}
}

// WithEventBus publishes view changes and drives reconciliation from bus
func WithEventBus(bus *events.Bus) Option {
	return func(c *Console) {
		c.bus = bus
	}
}

// WithClock overrides the time source used for elapsed times
func WithClock(now func() time.Time) Option {
	return func(c *Console) {
		c.now = now
	}
}

// WithInitialView sets the view shown before anything is restored
func WithInitialView(v router.View) Option {
	return func(c *Console) {
		if v.IsValid() {
			c.state.View = v
		}
	}
}

// New creates a console showing the dashboard
func New(servers ServerSource, profiles ProfileSource, logger *zap.Logger, opts ...Option) *Console {
	c := &Console{
		state:    router.State{View: router.ViewDashboard},
		servers:  servers,
		profiles: profiles,
		logger:   logger.Named("console"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current view and selection
func (c *Console) State() router.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// DisplayServers returns the servers currently in view
func (c *Console) DisplayServers() []types.Server {
	return c.display()
}

func (c *Console) display() []types.Server {
	all := c.servers.Servers()
	if active, ok := c.profiles.Active(); ok {
		return session.DisplayServers(all, &active.Profile)
	}
	return session.DisplayServers(all, nil)
}

// Snapshot derives everything the shell shows
func (c *Console) Snapshot() Snapshot {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	all := c.servers.Servers()
	var active *profile.ActiveState
	displayed := session.DisplayServers(all, nil)
	if a, ok := c.profiles.Active(); ok {
		active = &a
		displayed = session.DisplayServers(all, &a.Profile)
	}

	need, _ := router.RequiredCapability(state.View)
	return Snapshot{
		View:               state.View,
		SelectedServerID:   state.SelectedServerID,
		RequiredCapability: need,
		ContextBar: ContextBar{
			Shown: contextbar.ShowContextBar(state.View),
			Mode:  contextbar.ModeFor(state.View),
		},
		Servers: displayed,
		Summary: session.Summarize(all, active, c.now()),
	}
}

// SelectServer selects a displayed server, moving the view when the server
// cannot serve it. Servers outside the displayed set are unknown here.
func (c *Console) SelectServer(serverID string) router.Result {
	c.mu.Lock()
	displayed := c.display()
	old := c.state
	res := router.SelectServer(old, serverID, displayed)
	if res.Selected {
		next := res.State
		next.SelectedServerID = contextbar.AutoSelect(next.View, next.SelectedServerID, displayed)
		res.State = next
		c.applyLocked(old, next, res.FellBack)
	}
	c.mu.Unlock()

	if !res.Selected {
		c.logger.Debug("Select ignored for server outside display set", zap.String("server", serverID))
		return res
	}
	if res.FellBack {
		c.logger.Info("View adapted to selected server",
			zap.String("server", serverID),
			zap.String("from", string(old.View)),
			zap.String("to", string(res.State.View)))
	}
	return res
}

// SetView switches view and reconciles the selection for it
func (c *Console) SetView(v router.View) router.State {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.state
	if !v.IsValid() {
		return old
	}
	displayed := c.display()
	next := router.State{
		View:             v,
		SelectedServerID: contextbar.AutoSelect(v, old.SelectedServerID, displayed),
	}
	c.applyLocked(old, next, false)
	return next
}

// Reconcile re-runs automatic selection against fresh registry state
func (c *Console) Reconcile() router.State {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.state
	displayed := c.display()
	next := router.State{
		View:             old.View,
		SelectedServerID: contextbar.AutoSelect(old.View, old.SelectedServerID, displayed),
	}
	c.applyLocked(old, next, false)
	return next
}

// Restore loads the last persisted view and selection, then reconciles
func (c *Console) Restore() error {
	if c.store == nil {
		c.Reconcile()
		return nil
	}
	record, err := c.store.LoadViewState()
	if err != nil {
		c.Reconcile()
		return err
	}
	if record != nil {
		c.mu.Lock()
		if v, err := router.ParseView(record.CurrentView); err == nil {
			c.state.View = v
		}
		c.state.SelectedServerID = record.SelectedServerID
		c.mu.Unlock()
		c.logger.Info("Restored view state",
			zap.String("view", record.CurrentView),
			zap.String("server", record.SelectedServerID))
	}
	c.Reconcile()
	return nil
}

// Start subscribes to the bus before returning, reconciles once against the
// current registries, then reconciles on every server or profile change until
// ctx is done. Changes published after Start returns are never missed. The
// returned channel is closed when the loop exits.
func (c *Console) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if c.bus == nil {
		go func() {
			defer close(done)
			<-ctx.Done()
		}()
		return done
	}

	ch := c.bus.SubscribeAll()
	c.Reconcile()

	go func() {
		defer close(done)
		defer c.bus.UnsubscribeAll(ch)
		c.loop(ctx, ch)
	}()
	return done
}

// Run is Start followed by waiting for the loop to exit
func (c *Console) Run(ctx context.Context) {
	<-c.Start(ctx)
}

func (c *Console) loop(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.Type {
			case events.ServerStateChanged,
				events.ServersReplaced,
				events.ProfileActivationStarted,
				events.ProfileActivated,
				events.ProfileDeactivated,
				events.ProfilesReplaced:
				c.Reconcile()
			}
		}
	}
}

// applyLocked stores next and, when it differs from old, publishes and
// persists it. Callers hold c.mu so changes land in order.
func (c *Console) applyLocked(old, next router.State, fellBack bool) {
	c.state = next
	if old == next {
		return
	}

	if c.bus != nil {
		c.bus.Publish(events.Event{
			Type:     events.ViewChanged,
			ServerID: next.SelectedServerID,
			Data: events.ViewChangeData{
				OldView:          string(old.View),
				NewView:          string(next.View),
				SelectedServerID: next.SelectedServerID,
				FellBack:         fellBack,
			},
		})
	}

	if c.store != nil {
		err := c.store.SaveViewState(&storage.ViewStateRecord{
			CurrentView:      string(next.View),
			SelectedServerID: next.SelectedServerID,
			Updated:          c.now(),
		})
		if err != nil {
			c.logger.Warn("Failed to persist view state", zap.Error(err))
		}
	}
}
