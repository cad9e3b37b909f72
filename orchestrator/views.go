package orchestrator

import (
	"strings"
	"time"

	"github.com/soulmesh/soulmesh"
	"github.com/soulmesh/soulmesh/eventbus"
)

// OSState is the aggregate snapshot of the runtime.
type OSState struct {
	CurrentTelos      *soulmesh.Telos       `json:"currentTelos,omitempty"`
	UserState         *soulmesh.UserState   `json:"userState,omitempty"`
	ModuleCounts      map[InstanceState]int `json:"moduleCounts"`
	ActiveFootprintMB float64               `json:"activeFootprintMB"`
	LoadedFootprintMB float64               `json:"loadedFootprintMB"`
	RecordStats       eventbus.RecordStats  `json:"recordStats"`
}

// State returns the current Telos and user state, per-state instance
// counts, the declared footprint of active and of all resident instances,
// and Record statistics.
func (o *Orchestrator) State() OSState {
	o.mu.Lock()
	state := OSState{
		CurrentTelos: o.currentTelos,
		UserState:    o.userState,
		ModuleCounts: make(map[InstanceState]int),
	}
	for _, rec := range o.instances {
		state.ModuleCounts[rec.state]++
		if rec.instance == nil {
			continue
		}
		state.LoadedFootprintMB += rec.manifest.ResourceFootprintMB
		if rec.state == StateActive {
			state.ActiveFootprintMB += rec.manifest.ResourceFootprintMB
		}
	}
	o.mu.Unlock()

	state.RecordStats = o.bus.Stats()
	return state
}

// Error-summary status thresholds: more than 10 errors in the window is
// critical, more than 3 degraded, otherwise stable.
const (
	ErrorStatusStable   = "stable"
	ErrorStatusDegraded = "degraded"
	ErrorStatusCritical = "critical"
)

// Activity-summary status thresholds: more than 50 events in the window is
// active, more than 10 dormant, otherwise idle.
const (
	ActivityStatusActive  = "active"
	ActivityStatusDormant = "dormant"
	ActivityStatusIdle    = "idle"
)

// ModuleSummary aggregates Record events for one module over a window.
type ModuleSummary struct {
	Count  int    `json:"count"`
	Status string `json:"status"`
}

// ErrorSummary aggregates error events per module over the last `hours`
// hours of the Record and derives a qualitative status.
func (o *Orchestrator) ErrorSummary(hours int) map[string]ModuleSummary {
	counts := make(map[string]int)
	for _, e := range o.recordWindow(hours) {
		if strings.HasPrefix(e.Type, "module:error") && e.SourceID != "" {
			counts[e.SourceID]++
		}
	}

	out := make(map[string]ModuleSummary, len(counts))
	for id, n := range counts {
		status := ErrorStatusStable
		switch {
		case n > 10:
			status = ErrorStatusCritical
		case n > 3:
			status = ErrorStatusDegraded
		}
		out[id] = ModuleSummary{Count: n, Status: status}
	}
	return out
}

// ActivitySummary aggregates all events sourced by known modules over the
// last `hours` hours of the Record and derives a qualitative status.
func (o *Orchestrator) ActivitySummary(hours int) map[string]ModuleSummary {
	known := make(map[string]struct{})
	for _, m := range o.registry.AllManifests() {
		known[m.ID] = struct{}{}
	}

	counts := make(map[string]int)
	for _, e := range o.recordWindow(hours) {
		if _, ok := known[e.SourceID]; ok {
			counts[e.SourceID]++
		}
	}

	out := make(map[string]ModuleSummary, len(counts))
	for id, n := range counts {
		status := ActivityStatusIdle
		switch {
		case n > 50:
			status = ActivityStatusActive
		case n > 10:
			status = ActivityStatusDormant
		}
		out[id] = ModuleSummary{Count: n, Status: status}
	}
	return out
}

func (o *Orchestrator) recordWindow(hours int) []eventbus.Event {
	if hours <= 0 {
		hours = 24
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	return o.bus.QueryRecord(eventbus.RecordFilter{Since: since})
}
