// Package registry holds the declarative manifest catalog: module manifests,
// Telos definitions, and the factory table that turns a manifest id into a
// live module instance. The registry is purely descriptive — lifecycle is the
// orchestrator's job.
package registry

import (
	"fmt"
	"sync"

	"github.com/soulmesh/soulmesh"
)

// Registry indexes module manifests and Telos definitions. Iteration order
// over manifests is first-registration order and is part of the contract:
// the orchestrator breaks candidate-scoring ties on it.
type Registry struct {
	logger soulmesh.Logger

	mu        sync.RWMutex
	manifests map[string]*soulmesh.Manifest
	order     []string
	telos     map[string]*soulmesh.Telos
	telosIDs  []string
	factories map[string]soulmesh.ModuleFactory
}

// New creates an empty registry. A nil logger discards log output.
func New(logger soulmesh.Logger) *Registry {
	if logger == nil {
		logger = soulmesh.NopLogger{}
	}
	return &Registry{
		logger:    logger,
		manifests: make(map[string]*soulmesh.Manifest),
		telos:     make(map[string]*soulmesh.Telos),
		factories: make(map[string]soulmesh.ModuleFactory),
	}
}

// RegisterManifest upserts a manifest. Re-registering an id replaces the
// descriptor but keeps its original position in iteration order.
func (r *Registry) RegisterManifest(manifest *soulmesh.Manifest) error {
	if manifest == nil || manifest.ID == "" {
		return fmt.Errorf("register manifest: %w", soulmesh.ErrManifestIDEmpty)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.manifests[manifest.ID]; !exists {
		r.order = append(r.order, manifest.ID)
	}
	r.manifests[manifest.ID] = manifest
	r.logger.Debug("manifest registered", "module", manifest.ID, "version", manifest.Version)
	return nil
}

// Manifest returns the manifest for an id, or nil when unknown.
func (r *Registry) Manifest(id string) *soulmesh.Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.manifests[id]
}

// AllManifests returns every known manifest in registration order.
func (r *Registry) AllManifests() []*soulmesh.Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*soulmesh.Manifest, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.manifests[id])
	}
	return out
}

// FindByCapability returns, in registration order, every manifest that
// declares the given capability.
func (r *Registry) FindByCapability(capability string) []*soulmesh.Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*soulmesh.Manifest
	for _, id := range r.order {
		if m := r.manifests[id]; m.HasCapability(capability) {
			out = append(out, m)
		}
	}
	return out
}

// RegisterTelos upserts a Telos definition into the catalog.
func (r *Registry) RegisterTelos(t *soulmesh.Telos) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("register telos: %w", soulmesh.ErrTelosIDEmpty)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.telos[t.ID]; !exists {
		r.telosIDs = append(r.telosIDs, t.ID)
	}
	r.telos[t.ID] = t
	return nil
}

// Telos returns the Telos for an id, or nil when unknown.
func (r *Registry) Telos(id string) *soulmesh.Telos {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.telos[id]
}

// AllTelosOptions returns the Telos catalog in registration order.
func (r *Registry) AllTelosOptions() []*soulmesh.Telos {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*soulmesh.Telos, 0, len(r.telosIDs))
	for _, id := range r.telosIDs {
		out = append(out, r.telos[id])
	}
	return out
}

// RegisterFactory wires a concrete implementation for a manifest id.
func (r *Registry) RegisterFactory(id string, factory soulmesh.ModuleFactory) {
	if id == "" || factory == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = factory
}

// CreateInstance builds a module instance for a manifest id. The second
// return is false when no concrete implementation is wired for that id.
func (r *Registry) CreateInstance(id string) (soulmesh.Module, bool) {
	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return factory(), true
}
