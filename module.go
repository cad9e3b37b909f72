// Package soulmesh provides the module runtime behind a spiritual-wellness
// application: a lifecycle orchestrator that discovers, loads, scores,
// activates, deactivates and garbage-collects pluggable feature units
// ("modules") based on a declared purpose (Telos), a capability taxonomy,
// and a decaying reliability (integrity) score.
//
// The runtime is composed of four explicitly constructed services — an event
// bus, a manifest registry, a toggle store and the orchestrator — wired
// together by dependency injection rather than process-wide singletons, so
// several independent runtimes can coexist in one process and tests stay
// isolated.
//
// Basic usage:
//
//	bus := eventbus.New(logger)
//	reg := registry.New(logger)
//	tog := toggles.New(store, "user-1", logger)
//	os := orchestrator.New(bus, reg, tog, logger)
//	if err := os.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	mod := os.EnsureModuleWithCapability(ctx, "journal")
package soulmesh

import "context"

// Module is the capability contract every pluggable feature unit implements.
// The orchestrator drives instances of this interface through their
// lifecycle; feature modules otherwise interact with the runtime only
// through the event bus.
type Module interface {
	// Manifest returns the static descriptor for this module. The returned
	// manifest must be the same object the registry holds so integrity
	// adjustments are visible to the instance.
	Manifest() *Manifest

	// Initialize prepares the module for activation. It must be idempotent:
	// a second call on an already-initialized module returns nil without
	// side effects.
	Initialize(ctx context.Context) error

	// Activate brings the module live. It must fail with ErrNotInitialized
	// (or a wrapped equivalent) when called before Initialize.
	Activate(ctx context.Context) error

	// Deactivate suspends the module. The instance stays resident and can be
	// re-activated without a fresh Initialize.
	Deactivate(ctx context.Context) error

	// Destroy releases all resources held by the module. After Destroy the
	// instance is never reused; a fresh load creates a new instance.
	Destroy(ctx context.Context) error

	// Ping reports liveness. A false return means the instance is wedged
	// and should not be trusted with new work.
	Ping() bool

	// ExposedItems returns the capability-indexed surface the host UI uses
	// to obtain feature-specific services or components.
	ExposedItems() map[string]any
}

// ModuleFactory constructs a concrete module instance for a manifest id.
// Factories are registered with the manifest registry by the host; a
// manifest without a factory is declarative-only and can never be loaded.
type ModuleFactory func() Module
