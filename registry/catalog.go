package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/soulmesh/soulmesh"
)

// Catalog is the on-disk declarative form of the registry: a YAML document
// listing module manifests and the Telos catalog.
//
// Example:
//
//	manifests:
//	  - id: journal
//	    name: Soul Journal
//	    version: 1.2.0
//	    capabilities: [journal, reflection]
//	    essenceLabels: [heart, stillness]
//	    telosAlignment:
//	      grounding: primary
//	      expansion: 0.4
//	    integrityScore: 0.95
//	    resourceFootprintMB: 24
//	telos:
//	  - id: grounding
//	    description: Return to center
//	    priority: 10
//	    essenceLabels: [heart, earth]
type Catalog struct {
	Manifests []*soulmesh.Manifest `yaml:"manifests"`
	Telos     []*soulmesh.Telos    `yaml:"telos"`
}

// LoadCatalog reads a YAML catalog file and upserts its contents into the
// registry. Entries already registered keep their iteration-order position.
func (r *Registry) LoadCatalog(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}

	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return fmt.Errorf("parse catalog: %w", err)
	}

	for _, m := range cat.Manifests {
		if err := r.RegisterManifest(m); err != nil {
			return fmt.Errorf("catalog manifest: %w", err)
		}
	}
	for _, t := range cat.Telos {
		if err := r.RegisterTelos(t); err != nil {
			return fmt.Errorf("catalog telos: %w", err)
		}
	}

	r.logger.Info("catalog loaded", "path", path,
		"manifests", len(cat.Manifests), "telos", len(cat.Telos))
	return nil
}

// Watch re-loads the catalog whenever the file changes, until the context is
// cancelled. Writes are debounced so editors that write in bursts trigger a
// single reload. Reload failures are logged and the previous catalog stays
// in effect.
func (r *Registry) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}

	// Watch the directory: editors commonly replace the file wholesale,
	// which drops inode-level watches.
	dir := filepath.Dir(filepath.Clean(path))
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch catalog dir: %w", err)
	}

	go func() {
		defer watcher.Close()

		const debounce = 250 * time.Millisecond
		var pending *time.Timer
		target := filepath.Clean(path)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(debounce, func() {
					if err := r.LoadCatalog(path); err != nil {
						r.logger.Error("catalog reload failed", "path", path, "error", err)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Error("catalog watcher error", "path", path, "error", err)
			}
		}
	}()

	return nil
}
