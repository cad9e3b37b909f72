package orchestrator

import (
	"time"

	"github.com/soulmesh/soulmesh"
)

// InstanceState is a module instance's position in the lifecycle state
// machine: REGISTERED → LOADED → ACTIVE ⇄ DEACTIVATED, with ERROR reachable
// from any load or activation failure and DISABLED reachable from ACTIVE
// when the toggle flips off. Destruction removes the record entirely; a
// fresh load re-creates it.
type InstanceState string

const (
	// StateRegistered means a load attempt has created the record but no
	// instance exists yet.
	StateRegistered InstanceState = "registered"
	// StateLoaded means the instance exists but has not been activated.
	StateLoaded InstanceState = "loaded"
	// StateActive means the instance is live and serving its capabilities.
	StateActive InstanceState = "active"
	// StateDeactivated means the instance is suspended but resident; it can
	// be reactivated without re-initialization.
	StateDeactivated InstanceState = "deactivated"
	// StateError means initialize/activate/deactivate failed; only a fresh
	// load recovers the module.
	StateError InstanceState = "error"
	// StateDisabled means the toggle flipped off while the instance was
	// active; re-enabling and re-loading revives it.
	StateDisabled InstanceState = "disabled"
)

// instanceRecord is the orchestrator-owned runtime entity for one module.
// All fields are guarded by the orchestrator mutex.
type instanceRecord struct {
	manifest     *soulmesh.Manifest
	instance     soulmesh.Module
	state        InstanceState
	lastActivity time.Time
	loadedAt     time.Time
	idleTimer    *time.Timer
}

// stopIdleTimer cancels the outstanding idle timer, if any. Caller holds
// the orchestrator mutex.
func (r *instanceRecord) stopIdleTimer() {
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}
}
