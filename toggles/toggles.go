// Package toggles persists a user-scoped enabled/disabled flag per module id
// and notifies subscribers on change. The store degrades gracefully: a module
// that was never toggled is enabled, and persistence failures never block the
// runtime — reads fall back to defaults and writes are fire-and-forget.
package toggles

import (
	"context"
	"sync"

	"github.com/soulmesh/soulmesh"
)

// ChangeFunc is invoked after a toggle flips, with the module id and the new
// flag. Callbacks run synchronously on the toggling goroutine.
type ChangeFunc func(moduleID string, enabled bool)

// Store holds the in-memory toggle state for a single user, backed by a
// StateStore for durability.
type Store struct {
	store  StateStore
	userID string
	logger soulmesh.Logger

	mu     sync.RWMutex
	states map[string]bool
	subs   map[int]ChangeFunc
	nextID int
}

// New creates a toggle store for a user. A nil StateStore keeps state purely
// in memory; a nil logger discards log output.
func New(store StateStore, userID string, logger soulmesh.Logger) *Store {
	if store == nil {
		store = NewMemoryStateStore()
	}
	if logger == nil {
		logger = soulmesh.NopLogger{}
	}
	return &Store{
		store:  store,
		userID: userID,
		logger: logger,
		states: make(map[string]bool),
		subs:   make(map[int]ChangeFunc),
	}
}

// InitializeFromStorage loads persisted toggle state once at startup. A read
// failure leaves the defaults (everything enabled) in effect; it is logged,
// never fatal.
func (s *Store) InitializeFromStorage(ctx context.Context) {
	persisted, err := s.store.Load(ctx, s.userID)
	if err != nil {
		s.logger.Warn("toggle state load failed, assuming defaults",
			"user", s.userID, "error", err)
		return
	}

	s.mu.Lock()
	for id, enabled := range persisted {
		s.states[id] = enabled
	}
	s.mu.Unlock()
	s.logger.Debug("toggle state loaded", "user", s.userID, "entries", len(persisted))
}

// IsEnabled reports the flag for a module id. Modules never toggled
// default to enabled.
func (s *Store) IsEnabled(moduleID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	enabled, ok := s.states[moduleID]
	if !ok {
		return true
	}
	return enabled
}

// Toggle sets the flag for a module id, persists it in the background, and
// notifies subscribers when the effective value changed.
func (s *Store) Toggle(ctx context.Context, moduleID string, enabled bool) {
	s.mu.Lock()
	prev, had := s.states[moduleID]
	s.states[moduleID] = enabled
	callbacks := s.snapshotSubsLocked()
	s.mu.Unlock()

	s.persist(ctx, moduleID, enabled)

	changed := !had && !enabled || had && prev != enabled
	if !changed {
		return
	}
	for _, fn := range callbacks {
		fn(moduleID, enabled)
	}
}

// BatchToggle applies several flags at once, persisting each and firing
// change notifications only for flags whose effective value changed.
func (s *Store) BatchToggle(ctx context.Context, updates map[string]bool) {
	type change struct {
		id      string
		enabled bool
	}

	s.mu.Lock()
	var changes []change
	for id, enabled := range updates {
		prev, had := s.states[id]
		s.states[id] = enabled
		if (!had && !enabled) || (had && prev != enabled) {
			changes = append(changes, change{id: id, enabled: enabled})
		}
	}
	callbacks := s.snapshotSubsLocked()
	s.mu.Unlock()

	for id, enabled := range updates {
		s.persist(ctx, id, enabled)
	}
	for _, c := range changes {
		for _, fn := range callbacks {
			fn(c.id, c.enabled)
		}
	}
}

// AllStates returns a copy of every explicitly set flag.
func (s *Store) AllStates() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.states))
	for id, enabled := range s.states {
		out[id] = enabled
	}
	return out
}

// SubscribeToChanges registers a callback fired on every effective toggle
// change. The returned function deregisters it and is idempotent.
func (s *Store) SubscribeToChanges(fn ChangeFunc) func() {
	if fn == nil {
		return func() {}
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// persist writes one flag through the StateStore. Failures are logged and
// swallowed: durability is best-effort from the caller's point of view.
func (s *Store) persist(ctx context.Context, moduleID string, enabled bool) {
	if err := s.store.Save(ctx, s.userID, moduleID, enabled); err != nil {
		s.logger.Warn("toggle persist failed",
			"user", s.userID, "module", moduleID, "error", err)
	}
}

func (s *Store) snapshotSubsLocked() []ChangeFunc {
	out := make([]ChangeFunc, 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}
