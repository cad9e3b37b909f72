package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/soulmesh/soulmesh/eventbus"
)

// runPurgeCycle destroys DEACTIVATED instances that sat idle past the purge
// age, sparing any whose alignment with the current Telos exceeds the
// protection threshold.
func (o *Orchestrator) runPurgeCycle() {
	o.mu.Lock()
	telos := o.currentTelos
	var stale []string
	for id, rec := range o.instances {
		if rec.state != StateDeactivated {
			continue
		}
		if time.Since(rec.lastActivity) > o.opts.PurgeAge {
			stale = append(stale, id)
		}
	}
	o.mu.Unlock()

	sort.Strings(stale)
	purged := 0
	for _, id := range stale {
		if telos != nil {
			if m := o.registry.Manifest(id); m != nil && m.AlignmentFor(telos.ID) > purgeProtectAlignment {
				o.logger.Debug("purge spared aligned module", "module", id, "telos", telos.ID)
				continue
			}
		}
		o.destroy(context.Background(), id, "purged")
		purged++
	}
	if purged > 0 {
		o.logger.Info("purge cycle completed", "purged", purged)
	}
}

// onMemoryPressure sheds roughly half of the ACTIVE instances, worst first:
// ascending Telos alignment, then descending declared footprint, so poorly
// aligned memory hogs go before anything the current purpose relies on.
// Best-effort and non-fatal.
func (o *Orchestrator) onMemoryPressure(_ eventbus.Event) {
	ranked := o.rankedActives(func(a, b *activeInfo) bool {
		if a.alignment != b.alignment {
			return a.alignment < b.alignment
		}
		return a.footprint > b.footprint
	})
	if len(ranked) == 0 {
		return
	}

	shed := (len(ranked) + 1) / 2
	var shedIDs []string
	for _, info := range ranked[:shed] {
		if o.deactivate(context.Background(), info.id, "memory_pressure", StateDeactivated) {
			shedIDs = append(shedIDs, info.id)
		}
	}

	o.logger.Warn("memory pressure shed", "deactivated", len(shedIDs))
	o.bus.Publish(eventbus.NewEvent(TopicSelfHealing, sourceOS, map[string]any{
		"action":  "memory_pressure_shed",
		"modules": shedIDs,
	}))
}

// onIntegrityWarning responds to a degraded system-integrity report by
// deactivating up to half of the ACTIVE instances, skipping core-tagged
// manifests and anything well aligned with the current Telos. Best-effort
// and non-fatal.
func (o *Orchestrator) onIntegrityWarning(e eventbus.Event) {
	level, ok := e.Payload["level"].(float64)
	if !ok || level >= integrityWarningLevel {
		return
	}

	ranked := o.rankedActives(func(a, b *activeInfo) bool {
		return a.alignment < b.alignment
	})
	if len(ranked) == 0 {
		return
	}

	limit := (len(ranked) + 1) / 2
	var shedIDs []string
	for _, info := range ranked {
		if len(shedIDs) >= limit {
			break
		}
		if info.core || info.alignment >= integrityShedAlignment {
			continue
		}
		if o.deactivate(context.Background(), info.id, "integrity_pressure", StateDeactivated) {
			shedIDs = append(shedIDs, info.id)
		}
	}

	o.logger.Warn("integrity pressure shed", "level", level, "deactivated", len(shedIDs))
	o.bus.Publish(eventbus.NewEvent(TopicSelfHealing, sourceOS, map[string]any{
		"action":  "integrity_pressure_shed",
		"level":   level,
		"modules": shedIDs,
	}))
}

// activeInfo is a scoring snapshot of one ACTIVE instance.
type activeInfo struct {
	id        string
	alignment float64
	footprint float64
	core      bool
}

// rankedActives snapshots ACTIVE instances and sorts them with the given
// ordering. Alignment is computed against the current Telos (0 with none
// set); snapshot order seeds the sort deterministically by id.
func (o *Orchestrator) rankedActives(less func(a, b *activeInfo) bool) []*activeInfo {
	o.mu.Lock()
	telos := o.currentTelos
	infos := make([]*activeInfo, 0, len(o.instances))
	for id, rec := range o.instances {
		if rec.state != StateActive {
			continue
		}
		info := &activeInfo{
			id:        id,
			footprint: rec.manifest.ResourceFootprintMB,
			core:      rec.manifest.IsCore(),
		}
		if telos != nil {
			info.alignment = rec.manifest.AlignmentFor(telos.ID)
		}
		infos = append(infos, info)
	}
	o.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].id < infos[j].id })
	sort.SliceStable(infos, func(i, j int) bool { return less(infos[i], infos[j]) })
	return infos
}
