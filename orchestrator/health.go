package orchestrator

import "time"

// HealthStatus is the liveness of one resident instance.
type HealthStatus struct {
	State      InstanceState `json:"state"`
	Responsive bool          `json:"responsive"`
	IdleFor    time.Duration `json:"idleFor"`
}

// HealthReport aggregates instance liveness across the runtime.
type HealthReport struct {
	Healthy bool                    `json:"healthy"`
	Modules map[string]HealthStatus `json:"modules"`
}

// Health pings every resident instance. The runtime counts as healthy
// when no ACTIVE instance fails its ping; instances parked in other
// states report their liveness but do not drag the aggregate down.
func (o *Orchestrator) Health() HealthReport {
	type probe struct {
		id    string
		state InstanceState
		idle  time.Duration
		inst  interface{ Ping() bool }
	}

	o.mu.Lock()
	probes := make([]probe, 0, len(o.instances))
	for id, rec := range o.instances {
		if rec.instance == nil {
			continue
		}
		probes = append(probes, probe{
			id:    id,
			state: rec.state,
			idle:  time.Since(rec.lastActivity),
			inst:  rec.instance,
		})
	}
	o.mu.Unlock()

	// Pings run outside the mutex: a module's Ping may touch the bus or
	// the orchestrator.
	report := HealthReport{Healthy: true, Modules: make(map[string]HealthStatus, len(probes))}
	for _, p := range probes {
		ok := p.inst.Ping()
		report.Modules[p.id] = HealthStatus{State: p.state, Responsive: ok, IdleFor: p.idle}
		if p.state == StateActive && !ok {
			report.Healthy = false
		}
	}
	return report
}
