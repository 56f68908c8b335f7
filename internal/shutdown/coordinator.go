// Package shutdown tears the console down in a fixed order: listeners first so
// no new operator requests arrive, then event streams, profile runs, upstream
// sessions, background monitors, storage and finally the log sinks.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"mcpconsole-go/internal/config"

	"go.uber.org/zap"
)

// Phase groups handlers that may run once every earlier phase has finished.
type Phase int

const (
	// PhaseListeners stops the HTTP API from accepting requests
	PhaseListeners Phase = iota
	// PhaseStreams closes WebSocket event streams
	PhaseStreams
	// PhaseActivations stops in-flight profile activations
	PhaseActivations
	// PhaseUpstreams disconnects upstream servers
	PhaseUpstreams
	// PhaseMonitors stops the health monitor, config watcher and console loop
	PhaseMonitors
	// PhaseStorage closes the bolt database and the protocol log
	PhaseStorage
	// PhaseLogs flushes log sinks
	PhaseLogs
)

var phaseOrder = []Phase{
	PhaseListeners,
	PhaseStreams,
	PhaseActivations,
	PhaseUpstreams,
	PhaseMonitors,
	PhaseStorage,
	PhaseLogs,
}

var phaseNames = map[Phase]string{
	PhaseListeners:   "Listeners",
	PhaseStreams:     "Streams",
	PhaseActivations: "Activations",
	PhaseUpstreams:   "Upstreams",
	PhaseMonitors:    "Monitors",
	PhaseStorage:     "Storage",
	PhaseLogs:        "Logs",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "Unknown"
}

// Func performs one piece of teardown work within the handler deadline.
type Func func(ctx context.Context) error

// Handler is a named teardown step.
type Handler struct {
	Name     string
	Phase    Phase
	Priority int // higher runs first within a phase
	Fn       Func
	Timeout  time.Duration
}

// Progress is emitted once per executed handler.
type Progress struct {
	Phase    Phase
	Handler  string
	Err      error
	Duration time.Duration
}

// Completed reports whether the handler finished without error.
func (p Progress) Completed() bool { return p.Err == nil }

// Coordinator runs registered handlers phase by phase under one overall deadline.
type Coordinator struct {
	mu       sync.RWMutex
	handlers map[Phase][]*Handler
	logger   *zap.Logger

	once     sync.Once
	done     chan struct{}
	err      error
	stopping atomic.Bool

	handlerTimeout time.Duration
	totalTimeout   time.Duration

	progress chan Progress
}

// NewCoordinator creates a coordinator with the console's default deadlines.
func NewCoordinator(logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		handlers:       make(map[Phase][]*Handler),
		logger:         logger.Named("shutdown"),
		done:           make(chan struct{}),
		handlerTimeout: config.ServerDisconnectTimeout,
		totalTimeout:   config.ShutdownTimeout,
		progress:       make(chan Progress, 64),
	}
}

// Register adds a handler. Handlers with equal priority keep registration order.
func (c *Coordinator) Register(h *Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h.Timeout <= 0 {
		h.Timeout = c.handlerTimeout
	}
	list := append(c.handlers[h.Phase], h)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Priority > list[j].Priority })
	c.handlers[h.Phase] = list

	c.logger.Debug("Registered shutdown handler",
		zap.String("name", h.Name),
		zap.Stringer("phase", h.Phase),
		zap.Int("priority", h.Priority))
}

// RegisterFunc registers fn with default priority and timeout.
func (c *Coordinator) RegisterFunc(name string, phase Phase, fn Func) {
	c.Register(&Handler{Name: name, Phase: phase, Fn: fn})
}

// Unregister removes the first handler registered under name.
func (c *Coordinator) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for phase, list := range c.handlers {
		for i, h := range list {
			if h.Name != name {
				continue
			}
			c.handlers[phase] = append(list[:i:i], list[i+1:]...)
			c.logger.Debug("Unregistered shutdown handler", zap.String("name", name))
			return
		}
	}
}

// IsShuttingDown reports whether Shutdown has been called.
func (c *Coordinator) IsShuttingDown() bool {
	return c.stopping.Load()
}

// Done is closed once every phase has run.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Progress delivers one entry per executed handler and is closed with Done.
// Entries are dropped when nobody reads them.
func (c *Coordinator) Progress() <-chan Progress {
	return c.progress
}

// Shutdown runs every phase once. Later calls return the first call's result.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.stopping.Store(true)
		c.err = c.run(ctx)
		close(c.done)
		close(c.progress)
	})
	return c.err
}

func (c *Coordinator) run(ctx context.Context) error {
	c.mu.RLock()
	total := c.totalTimeout
	c.mu.RUnlock()

	start := time.Now()
	c.logger.Info("Shutting down", zap.Duration("deadline", total))

	runCtx, cancel := context.WithTimeout(ctx, total)
	defer cancel()

	var errs []error
	for _, phase := range phaseOrder {
		if err := c.runPhase(runCtx, phase); err != nil {
			errs = append(errs, fmt.Errorf("phase %s: %w", phase, err))
		}
		if runCtx.Err() != nil {
			c.logger.Warn("Shutdown deadline reached, skipping remaining phases",
				zap.Stringer("stopped_after", phase),
				zap.Duration("elapsed", time.Since(start)))
			errs = append(errs, fmt.Errorf("shutdown deadline: %w", runCtx.Err()))
			break
		}
	}

	if len(errs) > 0 {
		c.logger.Warn("Shutdown finished with errors",
			zap.Duration("duration", time.Since(start)),
			zap.Int("error_count", len(errs)))
		return errors.Join(errs...)
	}
	c.logger.Info("Shutdown finished", zap.Duration("duration", time.Since(start)))
	return nil
}

func (c *Coordinator) runPhase(ctx context.Context, phase Phase) error {
	c.mu.RLock()
	list := append([]*Handler(nil), c.handlers[phase]...)
	c.mu.RUnlock()

	if len(list) == 0 {
		return nil
	}
	c.logger.Debug("Running shutdown phase",
		zap.Stringer("phase", phase),
		zap.Int("handlers", len(list)))

	var errs []error
	for _, h := range list {
		if err := c.runHandler(ctx, h); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) runHandler(ctx context.Context, h *Handler) error {
	start := time.Now()
	hctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- h.Fn(hctx) }()

	var err error
	select {
	case err = <-result:
	case <-hctx.Done():
		err = fmt.Errorf("timed out after %v", h.Timeout)
	}
	elapsed := time.Since(start)

	select {
	case c.progress <- Progress{Phase: h.Phase, Handler: h.Name, Err: err, Duration: elapsed}:
	default:
	}

	if err != nil {
		c.logger.Warn("Shutdown handler failed",
			zap.String("name", h.Name),
			zap.Duration("duration", elapsed),
			zap.Error(err))
		return err
	}
	c.logger.Debug("Shutdown handler finished",
		zap.String("name", h.Name),
		zap.Duration("duration", elapsed))
	return nil
}

// SetTotalTimeout overrides the overall deadline.
func (c *Coordinator) SetTotalTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalTimeout = d
}

// SetHandlerTimeout overrides the deadline applied to handlers registered afterwards without one.
func (c *Coordinator) SetHandlerTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlerTimeout = d
}

// HandlerCount returns the number of registered handlers.
func (c *Coordinator) HandlerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, list := range c.handlers {
		n += len(list)
	}
	return n
}

// PhaseHandlers lists handler names for phase in execution order.
func (c *Coordinator) PhaseHandlers(phase Phase) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.handlers[phase]))
	for _, h := range c.handlers[phase] {
		names = append(names, h.Name)
	}
	return names
}
