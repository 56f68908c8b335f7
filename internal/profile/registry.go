package profile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mcpconsole-go/internal/config"
	"mcpconsole-go/internal/events"
	"mcpconsole-go/internal/storage"
)

const defaultWorkerCount = 10

type activeProfile struct {
	profile     Profile
	generation  uint64
	activating  bool
	activatedAt time.Time
	activation  *Activation
	cancel      context.CancelFunc // stops remaining waves and delays
}

// Registry holds profiles and tracks which one, if any, is active.
// At most one profile is active at any time.
type Registry struct {
	mu         sync.RWMutex
	profiles   map[string]Profile
	order      []string
	active     *activeProfile
	generation uint64

	connector   Connector
	store       ActivationStore
	bus         *events.Bus
	logger      *zap.Logger
	now         func() time.Time
	workerCount int
}

// Option configures a Registry
type Option func(*Registry)

// WithStore persists activation records and the active profile
func WithStore(store ActivationStore) Option {
	return func(r *Registry) {
		r.store = store
	}
}

// WithEventBus publishes profile lifecycle events on bus
func WithEventBus(bus *events.Bus) Option {
	return func(r *Registry) {
		r.bus = bus
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithWorkerCount bounds how many members of one wave connect at once
func WithWorkerCount(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.workerCount = n
		}
	}
}

// NewRegistry creates an empty profile registry driving connector
func NewRegistry(connector Connector, logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		profiles:    make(map[string]Profile),
		connector:   connector,
		logger:      logger.Named("profiles"),
		now:         time.Now,
		workerCount: defaultWorkerCount,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Replace swaps in a whole new profile collection. An active profile that
// disappears is deactivated; one that remains picks up its new definition.
func (r *Registry) Replace(configs []*config.ProfileConfig) {
	r.mu.Lock()

	next := make(map[string]Profile, len(configs))
	order := make([]string, 0, len(configs))
	for _, c := range configs {
		if c == nil {
			continue
		}
		if _, dup := next[c.ID]; dup {
			r.logger.Warn("Ignoring duplicate profile id", zap.String("profile", c.ID))
			continue
		}
		next[c.ID] = fromConfig(c)
		order = append(order, c.ID)
	}
	r.profiles = next
	r.order = order

	var dropped *activeProfile
	if r.active != nil {
		if p, ok := next[r.active.profile.ID]; ok {
			r.active.profile = p
		} else {
			dropped = r.clearActiveLocked()
		}
	}
	r.mu.Unlock()

	r.logger.Info("Profile collection replaced", zap.Int("profiles", len(order)))
	r.publish(events.Event{Type: events.ProfilesReplaced})

	if dropped != nil {
		r.logger.Info("Active profile removed from configuration",
			zap.String("profile", dropped.profile.ID))
		r.finishDeactivation(dropped)
	}
}

// Profiles returns every profile in configuration order
func (r *Registry) Profiles() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Profile, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.profiles[id])
	}
	return out
}

// Get returns one profile
func (r *Registry) Get(id string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	return p, ok
}

// Active returns the active profile state, if any
func (r *Registry) Active() (ActiveState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.active == nil {
		return ActiveState{}, false
	}
	return ActiveState{
		Profile:      r.active.profile,
		ActivationID: r.active.activation.ID(),
		IsActivating: r.active.activating,
		ActivatedAt:  r.active.activatedAt,
	}, true
}

// Activate makes profileID the active profile and connects its members in
// startup-order waves. The profile is active and activating when Activate
// returns; the returned handle reports when every attempt has resolved.
// Unknown ids are a silent no-op and return nil.
func (r *Registry) Activate(ctx context.Context, profileID string) *Activation {
	r.mu.Lock()
	p, ok := r.profiles[profileID]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("Activate ignored for unknown profile", zap.String("profile", profileID))
		return nil
	}

	previous := r.clearActiveLocked()

	r.generation++
	gen := r.generation
	now := r.now()
	act := newActivation(storage.ActivationRecord{
		ID:          uuid.NewString(),
		ProfileID:   p.ID,
		ProfileName: p.Name,
		ActivatedAt: now,
	})

	// Connects outlive the caller's request; only waves and delays stop early
	connectCtx := context.WithoutCancel(ctx)
	runCtx, cancel := context.WithCancel(connectCtx)

	r.active = &activeProfile{
		profile:    p,
		generation: gen,
		activating: true,
		activation: act,
		cancel:     cancel,
	}
	r.saveActiveLocked(act.ID(), now)
	r.mu.Unlock()

	if previous != nil {
		r.finishDeactivation(previous)
	}

	if _, err := act.update(r.store, func(*storage.ActivationRecord) {}); err != nil {
		r.logger.Warn("Failed to save activation record", zap.Error(err))
	}

	r.logger.Info("Activating profile",
		zap.String("profile", p.ID),
		zap.String("name", p.Name),
		zap.Strings("members", p.MemberIDs()))
	r.publish(events.Event{
		Type:      events.ProfileActivationStarted,
		ProfileID: p.ID,
	})

	go r.run(connectCtx, runCtx, gen, p, act)
	return act
}

// Deactivate clears the active profile. Member connections are left alone.
func (r *Registry) Deactivate() {
	r.mu.Lock()
	previous := r.clearActiveLocked()
	r.mu.Unlock()

	if previous != nil {
		r.finishDeactivation(previous)
	}
}

// Halt stops an in-flight activation from starting further waves and waits,
// bounded by ctx, for the running wave to resolve. Unlike Deactivate the
// profile stays active and persisted, so Restore brings it back on the next
// start.
func (r *Registry) Halt(ctx context.Context) error {
	r.mu.Lock()
	active := r.active
	r.mu.Unlock()
	if active == nil {
		return nil
	}

	active.cancel()
	select {
	case <-active.activation.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Restore re-activates the persisted active profile, or else the first
// profile marked auto_activate. It returns nil when nothing was activated.
func (r *Registry) Restore(ctx context.Context) *Activation {
	if r.store != nil {
		state, err := r.store.LoadActiveProfile()
		if err != nil {
			r.logger.Warn("Failed to load persisted active profile", zap.Error(err))
		}
		if state != nil {
			if _, ok := r.Get(state.ProfileID); ok {
				r.logger.Info("Restoring active profile", zap.String("profile", state.ProfileID))
				return r.Activate(ctx, state.ProfileID)
			}
			r.logger.Info("Persisted active profile no longer exists",
				zap.String("profile", state.ProfileID))
			if err := r.store.ClearActiveProfile(); err != nil {
				r.logger.Warn("Failed to clear persisted active profile", zap.Error(err))
			}
		}
	}

	for _, p := range r.Profiles() {
		if p.AutoActivate {
			r.logger.Info("Auto-activating profile", zap.String("profile", p.ID))
			return r.Activate(ctx, p.ID)
		}
	}
	return nil
}

func (r *Registry) run(ctx, runCtx context.Context, gen uint64, p Profile, act *Activation) {
	defer close(act.done)
	start := time.Now()

	waves := planWaves(p.Members)
	for i, wave := range waves {
		if runCtx.Err() != nil {
			skipped := 0
			for _, rest := range waves[i:] {
				skipped += len(rest)
			}
			r.logger.Info("Profile activation stopped before all waves ran",
				zap.String("profile", p.ID),
				zap.Int("skipped", skipped))
			r.recordResults(act, nil, skipped)
			break
		}

		r.logger.Debug("Starting activation wave",
			zap.String("profile", p.ID),
			zap.Int("wave", i+1),
			zap.Int("waves", len(waves)),
			zap.Int("members", len(wave)))

		results := r.processWave(ctx, i+1, wave)
		r.recordResults(act, results, 0)
		r.applyStartupDelays(runCtx, i+1, wave, results)
	}

	completed := r.now()
	r.mu.Lock()
	current := r.active != nil && r.active.generation == gen
	if current {
		r.active.activating = false
		r.active.activatedAt = completed
		r.saveActiveLocked(act.ID(), completed)
	}
	r.mu.Unlock()

	record, err := act.update(r.store, func(rec *storage.ActivationRecord) {
		rec.CompletedAt = &completed
	})
	if err != nil {
		r.logger.Warn("Failed to save activation record", zap.Error(err))
	}

	r.logger.Info("Profile activation completed",
		zap.String("profile", p.ID),
		zap.Duration("duration", time.Since(start)),
		zap.Int("connected", record.SuccessCount),
		zap.Int("failed", record.FailureCount),
		zap.Int("skipped", record.SkippedCount))

	if current {
		r.publish(events.Event{
			Type:      events.ProfileActivated,
			ProfileID: p.ID,
			Data:      record,
		})
	}
}

func (r *Registry) recordResults(act *Activation, results []memberResult, extraSkipped int) {
	_, err := act.update(r.store, func(rec *storage.ActivationRecord) {
		rec.SkippedCount += extraSkipped
		for _, res := range results {
			switch res.outcome {
			case outcomeConnected:
				rec.SuccessCount++
			case outcomeSkipped:
				rec.SkippedCount++
				if res.err != nil {
					rec.Errors = append(rec.Errors, fmt.Sprintf("%s: %v", res.member.ServerID, res.err))
				}
			case outcomeFailed:
				rec.FailureCount++
				msg := fmt.Sprintf("%s: %v", res.member.ServerID, res.err)
				if res.member.Required {
					msg = "required member " + msg
				}
				rec.Errors = append(rec.Errors, msg)
			}
		}
	})
	if err != nil {
		r.logger.Warn("Failed to save activation record", zap.Error(err))
	}
}

// clearActiveLocked detaches the active profile and returns it for
// finishDeactivation once the lock is released
func (r *Registry) clearActiveLocked() *activeProfile {
	previous := r.active
	if previous == nil {
		return nil
	}
	r.active = nil
	r.generation++
	previous.cancel()
	if r.store != nil {
		if err := r.store.ClearActiveProfile(); err != nil {
			r.logger.Warn("Failed to clear persisted active profile", zap.Error(err))
		}
	}
	return previous
}

func (r *Registry) finishDeactivation(previous *activeProfile) {
	now := r.now()
	if _, err := previous.activation.update(r.store, func(rec *storage.ActivationRecord) {
		rec.DeactivatedAt = &now
	}); err != nil {
		r.logger.Warn("Failed to close activation record", zap.Error(err))
	}

	r.logger.Info("Profile deactivated", zap.String("profile", previous.profile.ID))
	r.publish(events.Event{
		Type:      events.ProfileDeactivated,
		ProfileID: previous.profile.ID,
	})
}

func (r *Registry) saveActiveLocked(activationID string, at time.Time) {
	if r.store == nil || r.active == nil {
		return
	}
	err := r.store.SaveActiveProfile(&storage.ActiveProfileState{
		ProfileID:    r.active.profile.ID,
		ActivationID: activationID,
		ActivatedAt:  at,
	})
	if err != nil {
		r.logger.Warn("Failed to persist active profile", zap.Error(err))
	}
}

func (r *Registry) publish(ev events.Event) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(ev)
}
