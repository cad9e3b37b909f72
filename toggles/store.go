package toggles

import (
	"context"
	"sync"
)

// StateStore is the durable key-value boundary behind the toggle store,
// keyed by (user id, module id). Implementations must tolerate concurrent
// callers.
type StateStore interface {
	// Load returns every persisted flag for a user. An error leaves the
	// caller on defaults; it must not be treated as fatal.
	Load(ctx context.Context, userID string) (map[string]bool, error)

	// Save persists one flag. Callers treat failures as best-effort.
	Save(ctx context.Context, userID, moduleID string, enabled bool) error
}

// MemoryStateStore is an in-process StateStore for tests and ephemeral runs.
type MemoryStateStore struct {
	mu    sync.RWMutex
	flags map[string]map[string]bool
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{flags: make(map[string]map[string]bool)}
}

// Load returns a copy of the user's flags.
func (m *MemoryStateStore) Load(_ context.Context, userID string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.flags[userID]))
	for id, enabled := range m.flags[userID] {
		out[id] = enabled
	}
	return out, nil
}

// Save stores one flag.
func (m *MemoryStateStore) Save(_ context.Context, userID, moduleID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flags[userID] == nil {
		m.flags[userID] = make(map[string]bool)
	}
	m.flags[userID][moduleID] = enabled
	return nil
}
