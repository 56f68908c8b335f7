package upstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mcpconsole-go/internal/config"
	"mcpconsole-go/internal/events"
	"mcpconsole-go/internal/upstream/types"
)

// entry is the registry's private, mutable record for one server
type entry struct {
	cfg           *config.ServerConfig
	server        types.Server
	session       Session
	discovered    bool          // capabilities came from a handshake
	generation    uint64        // bumped whenever an in-flight attempt must be ignored
	settled       chan struct{} // closed when the pending connect attempt resolves
	disconnecting bool
}

// Registry is the single owner of live server state. Status only changes
// through Connect and Disconnect; everyone else reads snapshots.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	order     []string
	transport Transport
	notifier  *NotificationManager
	bus       *events.Bus
	recorder  TrafficRecorder
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Registry
type Option func(*Registry)

// WithEventBus publishes state changes and notifications on bus
func WithEventBus(bus *events.Bus) Option {
	return func(r *Registry) {
		r.bus = bus
		r.notifier.AddHandler(NewEventBusHandler(bus))
	}
}

// WithTrafficRecorder records connect, ping and close traffic
func WithTrafficRecorder(recorder TrafficRecorder) Option {
	return func(r *Registry) {
		r.recorder = recorder
	}
}

// WithNotificationHandler adds a notification sink
func WithNotificationHandler(handler NotificationHandler) Option {
	return func(r *Registry) {
		r.notifier.AddHandler(handler)
	}
}

// WithClock overrides the time source used for ConnectedAt
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates an empty registry connecting through transport
func NewRegistry(transport Transport, logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		entries:   make(map[string]*entry),
		transport: transport,
		notifier:  NewNotificationManager(),
		recorder:  nopRecorder{},
		logger:    logger.Named("registry"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddNotificationHandler adds a notification handler to receive connection outcomes
func (r *Registry) AddNotificationHandler(handler NotificationHandler) {
	r.notifier.AddHandler(handler)
}

func serverID(cfg *config.ServerConfig) string {
	if cfg.ID != "" {
		return cfg.ID
	}
	return cfg.Name
}

// Replace swaps in a whole new server collection. New ids start
// disconnected, removed ids are destroyed (closing any live session) and
// retained ids keep their live state while picking up the new config.
func (r *Registry) Replace(configs []*config.ServerConfig) {
	r.mu.Lock()

	next := make(map[string]*entry, len(configs))
	order := make([]string, 0, len(configs))
	var added []string
	for _, cfg := range configs {
		if cfg == nil {
			continue
		}
		id := serverID(cfg)
		if _, dup := next[id]; dup {
			r.logger.Warn("Ignoring duplicate server id", zap.String("server", id))
			continue
		}
		if e, ok := r.entries[id]; ok {
			e.cfg = cfg
			e.server.Config = cfg.Info()
			if !e.discovered {
				e.server.Capabilities = cfg.DeclaredCapabilities()
			}
			next[id] = e
		} else {
			next[id] = &entry{
				cfg: cfg,
				server: types.Server{
					ID:           id,
					Config:       cfg.Info(),
					Status:       types.StatusDisconnected,
					Capabilities: cfg.DeclaredCapabilities(),
				},
			}
			added = append(added, id)
		}
		order = append(order, id)
	}

	var removed []string
	var sessions []Session
	for id, e := range r.entries {
		if _, ok := next[id]; ok {
			continue
		}
		removed = append(removed, id)
		e.generation++
		if e.settled != nil {
			close(e.settled)
			e.settled = nil
		}
		if e.session != nil {
			sessions = append(sessions, e.session)
			e.session = nil
		}
	}

	r.entries = next
	r.order = order
	r.mu.Unlock()

	// Close removed sessions asynchronously so a slow server cannot block reloads
	for _, s := range sessions {
		go r.closeSession(s, "")
	}

	r.logger.Info("Server collection replaced",
		zap.Int("servers", len(order)),
		zap.Strings("added", added),
		zap.Strings("removed", removed))

	r.publish(events.Event{
		Type: events.ServersReplaced,
		Data: map[string]interface{}{
			"added":   added,
			"removed": removed,
		},
	})
}

// Servers returns snapshots of every server in configuration order
func (r *Registry) Servers() []types.Server {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Server, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].server)
	}
	return out
}

// Get returns a snapshot of one server
func (r *Registry) Get(id string) (types.Server, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return types.Server{}, false
	}
	return e.server, true
}

// ServerConfig returns the configuration a server was registered with
func (r *Registry) ServerConfig(id string) (*config.ServerConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.cfg, true
}

// Connect moves a disconnected or failed server to connecting and then to
// connected or error. It is a no-op for unknown ids and for servers already
// connecting or connected. The returned error is the ConnectionFailure, if
// any; it has already been recorded on the server and notified.
func (r *Registry) Connect(ctx context.Context, id string) error {
	return r.ConnectWithEnv(ctx, id, nil)
}

// ConnectWithEnv is Connect with env merged over the server's transport env
// for this attempt only. The stored configuration is unchanged.
func (r *Registry) ConnectWithEnv(ctx context.Context, id string, env map[string]string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("Connect ignored for unknown server", zap.String("server", id))
		return nil
	}
	if e.server.Status == types.StatusConnecting || e.server.Status == types.StatusConnected {
		r.mu.Unlock()
		return nil
	}

	ev, ok := r.transitionLocked(e, types.StatusConnecting)
	if !ok {
		r.mu.Unlock()
		return nil
	}
	e.server.LastError = ""
	e.server.Metrics = types.Metrics{}
	e.generation++
	gen := e.generation
	e.settled = make(chan struct{})
	settled := e.settled
	cfg := e.cfg
	name := e.server.Name()
	r.mu.Unlock()
	r.publish(ev)

	if len(env) > 0 {
		cfg = cfg.WithEnv(env)
	}

	r.logger.Info("Connecting to server",
		zap.String("server", id),
		zap.String("transport", string(cfg.Transport.Type)),
		zap.Int("env_overrides", len(env)))

	connectCtx, cancel := context.WithTimeout(ctx, cfg.GetConnectionTimeout())
	defer cancel()

	start := time.Now()
	requestID := r.recorder.LogRequest(id, "initialize", map[string]interface{}{
		"transport": string(cfg.Transport.Type),
	}, nil)
	session, handshake, err := r.transport.Connect(connectCtx, cfg)
	if err == nil && (session == nil || handshake == nil) {
		err = errors.New("transport returned no session")
	}
	if err != nil {
		r.recorder.LogError(id, "initialize", err, time.Since(start), requestID)
	} else {
		r.recorder.LogResponse(id, "initialize", handshake, time.Since(start), requestID)
	}

	r.mu.Lock()
	if current, still := r.entries[id]; !still || current != e || e.generation != gen {
		r.mu.Unlock()
		if err == nil {
			r.logger.Info("Discarding late connection result",
				zap.String("server", id))
			r.closeSession(session, id)
		}
		return nil
	}
	close(settled)
	e.settled = nil

	if err != nil {
		connErr := newConnectionError(id, name, "connect", err)
		ev, _ := r.transitionLocked(e, types.StatusError)
		e.server.LastError = err.Error()
		ev.Data = connectionInfo(e)
		r.mu.Unlock()

		r.logger.Warn("Failed to connect to server",
			zap.String("server", id),
			zap.String("category", connErr.Category),
			zap.Error(err))
		r.publish(ev)
		r.notifier.SendNotification(connectFailedNotification(id, name, connErr))
		return connErr
	}

	ev, _ = r.transitionLocked(e, types.StatusConnected)
	e.session = session
	e.discovered = true
	e.server.Capabilities = handshake.Capabilities.Set()
	e.server.ServerVersion = types.NormalizeVersion(handshake.ServerVersion)
	e.server.ConnectedAt = r.now()
	ev.Data = connectionInfo(e)
	caps := e.server.Capabilities
	r.mu.Unlock()

	r.logger.Info("Connected to server",
		zap.String("server", id),
		zap.String("version", handshake.ServerVersion),
		zap.Any("capabilities", caps.List()),
		zap.Duration("elapsed", time.Since(start)))
	r.publish(ev)
	r.notifier.SendNotification(connectedNotification(id, name))
	return nil
}

// Disconnect moves a connected or connecting server to disconnected. It is a
// no-op, without notification, for unknown ids and servers already
// disconnected. A disconnect issued while a connect is pending wins.
func (r *Registry) Disconnect(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}

	switch e.server.Status {
	case types.StatusDisconnected:
		r.mu.Unlock()
		return nil

	case types.StatusError:
		// Nothing is open; just clear the failure
		ev, _ := r.transitionLocked(e, types.StatusDisconnected)
		r.mu.Unlock()
		r.publish(ev)
		return nil

	case types.StatusConnecting:
		e.generation++
		if e.settled != nil {
			close(e.settled)
			e.settled = nil
		}
		ev, _ := r.transitionLocked(e, types.StatusDisconnected)
		name := e.server.Name()
		r.mu.Unlock()

		r.logger.Info("Cancelled pending connection", zap.String("server", id))
		r.publish(ev)
		r.notifier.SendNotification(disconnectedNotification(id, name))
		return nil
	}

	// Connected
	if e.disconnecting {
		r.mu.Unlock()
		return nil
	}
	e.disconnecting = true
	session := e.session
	gen := e.generation
	name := e.server.Name()
	r.mu.Unlock()

	closeCtx, cancel := context.WithTimeout(ctx, config.ServerDisconnectTimeout)
	defer cancel()

	start := time.Now()
	requestID := r.recorder.LogRequest(id, "close", nil, nil)
	var err error
	if session != nil {
		err = session.Close(closeCtx)
	}
	if err != nil {
		r.recorder.LogError(id, "close", err, time.Since(start), requestID)
	} else {
		r.recorder.LogResponse(id, "close", nil, time.Since(start), requestID)
	}

	r.mu.Lock()
	e.disconnecting = false
	if current, still := r.entries[id]; !still || current != e || e.generation != gen {
		r.mu.Unlock()
		return nil
	}
	e.session = nil

	if err != nil {
		connErr := newConnectionError(id, name, "disconnect", err)
		ev, _ := r.transitionLocked(e, types.StatusError)
		e.server.LastError = err.Error()
		ev.Data = connectionInfo(e)
		r.mu.Unlock()

		r.logger.Warn("Failed to disconnect from server",
			zap.String("server", id),
			zap.Error(err))
		r.publish(ev)
		r.notifier.SendNotification(disconnectFailedNotification(id, name, connErr))
		return connErr
	}

	ev, _ := r.transitionLocked(e, types.StatusDisconnected)
	r.mu.Unlock()

	r.logger.Info("Disconnected from server", zap.String("server", id))
	r.publish(ev)
	r.notifier.SendNotification(disconnectedNotification(id, name))
	return nil
}

// AwaitSettled blocks until any pending connect attempt for id resolves, or
// ctx is done, and returns the status at that point.
func (r *Registry) AwaitSettled(ctx context.Context, id string) types.ConnectionStatus {
	r.mu.RLock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.RUnlock()
		return types.StatusDisconnected
	}
	settled := e.settled
	status := e.server.Status
	r.mu.RUnlock()

	if settled == nil {
		return status
	}

	select {
	case <-settled:
	case <-ctx.Done():
	}

	server, ok := r.Get(id)
	if !ok {
		return types.StatusDisconnected
	}
	return server.Status
}

// Ping sends a health probe to a connected server. Counters advance only
// while the server stays connected. A failed ping is counted and returned
// but never changes the server's status.
func (r *Registry) Ping(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	if e.server.Status != types.StatusConnected || e.disconnecting || e.session == nil {
		r.mu.Unlock()
		return ErrNotConnected
	}
	session := e.session
	gen := e.generation
	e.server.Metrics.RequestsSent++
	r.mu.Unlock()

	pingCtx, cancel := context.WithTimeout(ctx, config.QuickOperationTimeout)
	defer cancel()

	start := time.Now()
	requestID := r.recorder.LogRequest(id, "ping", nil, nil)
	err := session.Ping(pingCtx)
	if err != nil {
		r.recorder.LogError(id, "ping", err, time.Since(start), requestID)
	} else {
		r.recorder.LogResponse(id, "ping", nil, time.Since(start), requestID)
	}

	r.mu.Lock()
	if current, still := r.entries[id]; !still || current != e || e.generation != gen ||
		e.server.Status != types.StatusConnected {
		r.mu.Unlock()
		return err
	}
	if err != nil {
		e.server.Metrics.ErrorCount++
	} else {
		e.server.Metrics.ResponsesReceived++
	}
	metrics := e.server.Metrics
	r.mu.Unlock()

	r.publish(events.Event{
		Type:     events.ServerMetricsUpdated,
		ServerID: id,
		Data:     metrics,
	})

	if err != nil {
		r.logger.Warn("Health ping failed",
			zap.String("server", id),
			zap.Error(err))
		return fmt.Errorf("ping %s: %w", id, err)
	}
	return nil
}

// DisconnectAll disconnects every connected or connecting server in parallel,
// waiting at most until ctx is done, and joins the failures.
func (r *Registry) DisconnectAll(ctx context.Context) error {
	r.mu.RLock()
	var ids []string
	for _, id := range r.order {
		switch r.entries[id].server.Status {
		case types.StatusConnected, types.StatusConnecting:
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	if len(ids) == 0 {
		return nil
	}

	type disconnectResult struct {
		id  string
		err error
	}
	results := make(chan disconnectResult, len(ids))
	for _, id := range ids {
		go func(id string) {
			results <- disconnectResult{id: id, err: r.Disconnect(ctx, id)}
		}(id)
	}

	var errs []error
	for i := 0; i < len(ids); i++ {
		select {
		case result := <-results:
			if result.err != nil {
				errs = append(errs, result.err)
			}
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("timeout waiting for %d servers to disconnect", len(ids)-i))
			return errors.Join(errs...)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) transitionLocked(e *entry, to types.ConnectionStatus) (events.Event, bool) {
	from := e.server.Status
	if err := types.ValidateTransition(from, to); err != nil {
		r.logger.Error("Rejected status transition",
			zap.String("server", e.server.ID),
			zap.Error(err))
		return events.Event{}, false
	}
	e.server.Status = to
	return events.Event{
		Type:     events.ServerStateChanged,
		ServerID: e.server.ID,
		OldState: from.String(),
		NewState: to.String(),
		Data:     connectionInfo(e),
	}, true
}

func connectionInfo(e *entry) types.ConnectionInfo {
	return types.ConnectionInfo{
		Status:        e.server.Status,
		LastError:     e.server.LastError,
		ConnectedAt:   e.server.ConnectedAt,
		ServerVersion: e.server.ServerVersion,
	}
}

func (r *Registry) closeSession(s Session, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), config.ServerDisconnectTimeout)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		r.logger.Debug("Failed to close discarded session",
			zap.String("server", id),
			zap.Error(err))
	}
}

func (r *Registry) publish(ev events.Event) {
	if r.bus == nil || ev.Type == "" {
		return
	}
	r.bus.Publish(ev)
}
