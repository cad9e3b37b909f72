// Package orchestrator is the stateful core of the runtime. It resolves
// which module satisfies a requested capability, drives each module through
// its lifecycle, tracks activity and idleness, degrades and quarantines
// unreliable modules, and responds to system-wide pressure by shedding load.
//
// Every failure mode is local: rejections and lifecycle failures surface as
// bus events and nil results, never as errors thrown at the host UI.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/soulmesh/soulmesh"
	"github.com/soulmesh/soulmesh/eventbus"
	"github.com/soulmesh/soulmesh/registry"
	"github.com/soulmesh/soulmesh/toggles"
)

// Orchestrator owns the module instance table and the current Telos. It is
// safe for concurrent use; a single mutex guards all instance state so no
// partial transition is externally observable.
type Orchestrator struct {
	bus      *eventbus.Bus
	registry *registry.Registry
	toggles  *toggles.Store
	logger   soulmesh.Logger
	opts     Options

	mu           sync.Mutex
	started      bool
	instances    map[string]*instanceRecord
	currentTelos *soulmesh.Telos
	userState    *soulmesh.UserState

	cron         *cron.Cron
	subs         []*eventbus.Subscription
	unsubToggles func()
}

// New wires an orchestrator to its collaborators. All four are required
// except the logger, which may be nil.
func New(bus *eventbus.Bus, reg *registry.Registry, tog *toggles.Store, logger soulmesh.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = soulmesh.NopLogger{}
	}
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &Orchestrator{
		bus:       bus,
		registry:  reg,
		toggles:   tog,
		logger:    logger,
		opts:      options,
		instances: make(map[string]*instanceRecord),
	}
}

// Start subscribes the orchestrator to the bus, hooks toggle changes, and
// begins the purge cycle.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return soulmesh.ErrOrchestratorAlreadyStarted
	}
	o.started = true
	o.mu.Unlock()

	o.subs = append(o.subs,
		o.bus.Subscribe("*", o.onActivity),
		o.bus.Subscribe(PatternModuleErrors, o.onModuleError),
		o.bus.Subscribe(TopicMemoryPressure, o.onMemoryPressure),
		o.bus.Subscribe(TopicIntegrityWarning, o.onIntegrityWarning),
	)
	o.unsubToggles = o.toggles.SubscribeToChanges(o.onToggleChanged)

	o.cron = cron.New()
	if _, err := o.cron.AddFunc(fmt.Sprintf("@every %s", o.opts.PurgeInterval), o.runPurgeCycle); err != nil {
		return fmt.Errorf("schedule purge cycle: %w", err)
	}
	o.cron.Start()

	o.logger.Info("orchestrator started",
		"integrityFloor", o.opts.IntegrityFloor,
		"idleTimeout", o.opts.IdleTimeout,
		"purgeInterval", o.opts.PurgeInterval)
	return nil
}

// Stop tears down subscriptions and timers and destroys all resident
// instances.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return soulmesh.ErrOrchestratorNotStarted
	}
	o.started = false
	ids := make([]string, 0, len(o.instances))
	for id := range o.instances {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, sub := range o.subs {
		sub.Cancel()
	}
	o.subs = nil
	if o.unsubToggles != nil {
		o.unsubToggles()
		o.unsubToggles = nil
	}
	if o.cron != nil {
		o.cron.Stop()
	}

	sort.Strings(ids)
	for _, id := range ids {
		o.destroy(ctx, id, "shutdown")
	}
	o.logger.Info("orchestrator stopped")
	return nil
}

// EnsureModuleWithCapability returns a live module exposing the capability,
// loading the best-scored candidate when none is active. Returns nil when
// nothing suitable exists or the load was rejected.
//
// With a current Telos set, candidates below the integrity floor are
// filtered out and the rest sorted by a total order: Telos alignment
// descending, then essence resonance with the Telos descending, then
// integrity descending, with ties broken by registry registration order.
// Without a Telos, candidates sort by integrity alone.
func (o *Orchestrator) EnsureModuleWithCapability(ctx context.Context, capability string) soulmesh.Module {
	o.mu.Lock()
	for _, rec := range o.instances {
		if rec.state == StateActive && rec.instance != nil && rec.manifest.HasCapability(capability) {
			inst := rec.instance
			o.mu.Unlock()
			return inst
		}
	}
	telos := o.currentTelos
	o.mu.Unlock()

	candidates := o.registry.FindByCapability(capability)
	// Integrity scores mutate under o.mu (decay on error events), so take
	// one snapshot here instead of racing the comparator against writers.
	scores := make(map[string]float64, len(candidates))
	o.mu.Lock()
	for _, m := range candidates {
		scores[m.ID] = m.IntegrityScore
	}
	o.mu.Unlock()
	if telos != nil {
		filtered := candidates[:0:0]
		for _, m := range candidates {
			if scores[m.ID] >= o.opts.IntegrityFloor {
				filtered = append(filtered, m)
			}
		}
		candidates = filtered
	}
	if len(candidates) == 0 {
		o.logger.Debug("no candidates for capability", "capability", capability)
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if telos != nil {
			aa, ba := a.AlignmentFor(telos.ID), b.AlignmentFor(telos.ID)
			if aa != ba {
				return aa > ba
			}
			ar := soulmesh.Resonance(a.EssenceLabels, telos.EssenceLabels)
			br := soulmesh.Resonance(b.EssenceLabels, telos.EssenceLabels)
			if ar != br {
				return ar > br
			}
		}
		return scores[a.ID] > scores[b.ID]
	})

	top := candidates[0]
	o.logger.Debug("resolved capability candidate",
		"capability", capability, "module", top.ID)
	return o.LoadModule(ctx, top.ID)
}

// LoadModule drives a module to ACTIVE. It returns the live instance, or
// nil when the load was rejected (toggle disabled, integrity below floor)
// or failed; rejections and failures are reported on the bus, never as
// errors to the caller.
func (o *Orchestrator) LoadModule(ctx context.Context, id string) soulmesh.Module {
	manifest := o.registry.Manifest(id)
	if manifest == nil {
		o.logger.Warn("load requested for unknown module", "module", id)
		return nil
	}
	if !o.toggles.IsEnabled(id) {
		o.logger.Info("load rejected", "module", id, "reason", ReasonDisabledByToggle)
		o.publishModule(TopicLoadRejected, id, map[string]any{"reason": ReasonDisabledByToggle})
		return nil
	}
	o.mu.Lock()
	integrity := manifest.IntegrityScore
	o.mu.Unlock()
	if integrity < o.opts.IntegrityFloor {
		o.logger.Info("load rejected", "module", id,
			"reason", ReasonLowIntegrity, "integrity", integrity)
		o.publishModule(TopicLoadRejected, id, map[string]any{
			"reason":    ReasonLowIntegrity,
			"integrity": integrity,
		})
		return nil
	}

	o.mu.Lock()
	if rec, ok := o.instances[id]; ok {
		switch {
		case rec.state == StateActive && rec.instance != nil:
			inst := rec.instance
			o.mu.Unlock()
			return inst
		case (rec.state == StateDeactivated || rec.state == StateDisabled) && rec.instance != nil:
			inst := rec.instance
			o.mu.Unlock()
			return o.reactivate(ctx, id, rec, inst)
		default:
			// ERROR or a half-finished record from a failed load: discard
			// and rebuild from scratch.
			rec.stopIdleTimer()
			delete(o.instances, id)
		}
	}
	rec := &instanceRecord{
		manifest:     manifest,
		state:        StateRegistered,
		lastActivity: time.Now(),
	}
	o.instances[id] = rec
	o.mu.Unlock()

	o.publishModule(TopicLifecycleRegistered, id, nil)

	inst, ok := o.registry.CreateInstance(id)
	if !ok {
		o.failLoad(id, rec, "no implementation wired for manifest")
		return nil
	}

	o.mu.Lock()
	rec.instance = inst
	rec.state = StateLoaded
	rec.loadedAt = time.Now()
	o.mu.Unlock()
	o.publishModule(TopicLifecycleLoaded, id, nil)

	if err := inst.Initialize(ctx); err != nil {
		o.failLoad(id, rec, err.Error())
		return nil
	}
	if err := inst.Activate(ctx); err != nil {
		o.failLoad(id, rec, err.Error())
		return nil
	}

	o.mu.Lock()
	rec.state = StateActive
	rec.lastActivity = time.Now()
	o.resetIdleTimerLocked(id, rec)
	o.mu.Unlock()

	o.logger.Info("module activated", "module", id, "version", manifest.Version)
	o.publishModule(TopicLifecycleActivated, id, nil)
	return inst
}

// reactivate revives a resident deactivated or disabled instance.
func (o *Orchestrator) reactivate(ctx context.Context, id string, rec *instanceRecord, inst soulmesh.Module) soulmesh.Module {
	if err := inst.Activate(ctx); err != nil {
		o.failLoad(id, rec, err.Error())
		return nil
	}

	o.mu.Lock()
	rec.state = StateActive
	rec.lastActivity = time.Now()
	o.resetIdleTimerLocked(id, rec)
	o.mu.Unlock()

	o.logger.Info("module reactivated", "module", id)
	o.publishModule(TopicLifecycleActivated, id, map[string]any{"reactivated": true})
	return inst
}

// failLoad parks the record in ERROR and reports the failure on the bus.
func (o *Orchestrator) failLoad(id string, rec *instanceRecord, msg string) {
	o.mu.Lock()
	rec.state = StateError
	rec.stopIdleTimer()
	o.mu.Unlock()

	o.logger.Error("module load failed", "module", id, "error", msg)
	o.publishModule(TopicLoadFailed, id, map[string]any{"error": msg})
}

// deactivate suspends an ACTIVE instance, parking it in finalState
// (StateDeactivated or StateDisabled). A deactivation failure parks the
// record in ERROR instead.
func (o *Orchestrator) deactivate(ctx context.Context, id, reason string, finalState InstanceState) bool {
	o.mu.Lock()
	rec, ok := o.instances[id]
	if !ok || rec.state != StateActive || rec.instance == nil {
		o.mu.Unlock()
		return false
	}
	inst := rec.instance
	rec.stopIdleTimer()
	o.mu.Unlock()

	if err := inst.Deactivate(ctx); err != nil {
		o.mu.Lock()
		rec.state = StateError
		o.mu.Unlock()
		o.logger.Error("module deactivation failed", "module", id, "error", err)
		o.publishModule(TopicLifecycleFailed, id, map[string]any{
			"operation": "deactivate",
			"error":     err.Error(),
		})
		return false
	}

	o.mu.Lock()
	rec.state = finalState
	rec.lastActivity = time.Now()
	o.mu.Unlock()

	o.logger.Info("module deactivated", "module", id, "reason", reason)
	o.publishModule(TopicLifecycleDeactivated, id, map[string]any{"reason": reason})
	return true
}

// destroy removes the instance record entirely and releases the module.
func (o *Orchestrator) destroy(ctx context.Context, id, reason string) {
	o.mu.Lock()
	rec, ok := o.instances[id]
	if !ok {
		o.mu.Unlock()
		return
	}
	delete(o.instances, id)
	rec.stopIdleTimer()
	inst := rec.instance
	o.mu.Unlock()

	if inst != nil {
		if err := inst.Destroy(ctx); err != nil {
			o.logger.Error("module destroy failed", "module", id, "error", err)
			o.publishModule(TopicLifecycleFailed, id, map[string]any{
				"operation": "destroy",
				"error":     err.Error(),
			})
		}
	}
	o.logger.Info("module destroyed", "module", id, "reason", reason)
	o.publishModule(TopicLifecycleDestroyed, id, map[string]any{"reason": reason})
}

// SetTelos replaces the current Telos and re-evaluates every ACTIVE
// instance against it: an instance whose alignment is below 0.3 and whose
// resonance with the new Telos is exactly zero is deactivated. Either a
// reasonable alignment or any resonance at all is enough to survive.
func (o *Orchestrator) SetTelos(ctx context.Context, telos *soulmesh.Telos) {
	o.mu.Lock()
	prev := o.currentTelos
	o.currentTelos = telos
	actives := o.activeIDsLocked()
	o.mu.Unlock()

	payload := map[string]any{}
	if prev != nil {
		payload["previous"] = prev.ID
	}
	if telos != nil {
		payload["current"] = telos.ID
	}
	o.logger.Info("telos changed", "previous", telosID(prev), "current", telosID(telos))
	o.bus.Publish(eventbus.NewEvent(TopicTelosChanged, sourceOS, payload))

	if telos == nil {
		return
	}
	for _, id := range actives {
		manifest := o.registry.Manifest(id)
		if manifest == nil {
			continue
		}
		alignment := manifest.AlignmentFor(telos.ID)
		resonance := soulmesh.Resonance(manifest.EssenceLabels, telos.EssenceLabels)
		if alignment < telosSweepAlignment && resonance == 0 {
			o.deactivate(ctx, id, "telos_misaligned", StateDeactivated)
		}
	}
}

// SetTelosByID resolves a Telos from the catalog and makes it current.
func (o *Orchestrator) SetTelosByID(ctx context.Context, id string) error {
	telos := o.registry.Telos(id)
	if telos == nil {
		return fmt.Errorf("set telos %q: %w", id, soulmesh.ErrTelosNotFound)
	}
	o.SetTelos(ctx, telos)
	return nil
}

// SetUserState stores the externally supplied user state and re-selects the
// Telos that best resonates with it: the catalog entry maximizing
// resonance(state labels, telos labels) + priority/100. The Telos only
// switches when the winner differs from the current one.
func (o *Orchestrator) SetUserState(ctx context.Context, state *soulmesh.UserState) {
	o.mu.Lock()
	o.userState = state
	current := o.currentTelos
	o.mu.Unlock()

	payload := map[string]any{}
	if state != nil {
		payload["userId"] = state.ID
		payload["context"] = state.Context
	}
	o.bus.Publish(eventbus.NewEvent(TopicUserStateChanged, sourceOS, payload))

	if state == nil {
		return
	}

	var best *soulmesh.Telos
	bestScore := 0.0
	for _, t := range o.registry.AllTelosOptions() {
		score := soulmesh.Resonance(state.EssenceLabels, t.EssenceLabels) + t.Priority/100
		if best == nil || score > bestScore {
			best = t
			bestScore = score
		}
	}
	if best == nil {
		return
	}
	if current != nil && current.ID == best.ID {
		return
	}
	o.logger.Info("user state selected new telos",
		"user", state.ID, "telos", best.ID, "score", bestScore)
	o.SetTelos(ctx, best)
}

// CurrentTelos returns the current Telos, or nil when none is set.
func (o *Orchestrator) CurrentTelos() *soulmesh.Telos {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentTelos
}

// CurrentUserState returns the last supplied user state, or nil.
func (o *Orchestrator) CurrentUserState() *soulmesh.UserState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.userState
}

// InstanceState reports the lifecycle state of a module's instance record.
// The second return is false when no record exists.
func (o *Orchestrator) InstanceState(id string) (InstanceState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.instances[id]
	if !ok {
		return "", false
	}
	return rec.state, true
}

// onActivity refreshes the activity clock and idle timer of any live
// instance named by an event's source id.
func (o *Orchestrator) onActivity(e eventbus.Event) {
	if e.SourceID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.instances[e.SourceID]
	if !ok {
		return
	}
	rec.lastActivity = time.Now()
	if rec.state == StateActive {
		o.resetIdleTimerLocked(e.SourceID, rec)
	}
}

// resetIdleTimerLocked re-arms the idle timer. Caller holds the mutex.
func (o *Orchestrator) resetIdleTimerLocked(id string, rec *instanceRecord) {
	rec.stopIdleTimer()
	rec.idleTimer = time.AfterFunc(o.opts.IdleTimeout, func() {
		o.onIdleExpired(id)
	})
}

// onIdleExpired deactivates an instance that went the full idle window
// without observed activity.
func (o *Orchestrator) onIdleExpired(id string) {
	o.mu.Lock()
	rec, ok := o.instances[id]
	if !ok || rec.state != StateActive || time.Since(rec.lastActivity) < o.opts.IdleTimeout {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	o.logger.Info("module idle timeout", "module", id)
	o.deactivate(context.Background(), id, "idle_timeout", StateDeactivated)
}

// onToggleChanged mirrors toggle-store changes onto the bus and parks any
// ACTIVE instance whose flag flipped off in DISABLED.
func (o *Orchestrator) onToggleChanged(id string, enabled bool) {
	o.bus.Publish(eventbus.NewEvent(TopicToggleChanged, id, map[string]any{"enabled": enabled}))
	if enabled {
		return
	}
	o.deactivate(context.Background(), id, ReasonDisabledByToggle, StateDisabled)
}

// activeIDsLocked snapshots the ids of ACTIVE instances in sorted order.
// Caller holds the mutex.
func (o *Orchestrator) activeIDsLocked() []string {
	ids := make([]string, 0, len(o.instances))
	for id, rec := range o.instances {
		if rec.state == StateActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// publishModule emits an orchestrator event sourced from a module id.
func (o *Orchestrator) publishModule(topic, moduleID string, payload map[string]any) {
	o.bus.Publish(eventbus.NewEvent(topic, moduleID, payload))
}

func telosID(t *soulmesh.Telos) string {
	if t == nil {
		return ""
	}
	return t.ID
}
