package orchestrator

import (
	"context"

	"github.com/soulmesh/soulmesh/eventbus"
)

// onModuleError applies integrity decay for an error event about a module.
// The base penalty is scaled by severity (critical ×2, warning ×0.5) and by
// subtype (semantic ×1.5, resource violation ×1.2), then subtracted from the
// manifest's integrity, clamped at 0. Crossing the quarantine floor destroys
// the instance unconditionally.
func (o *Orchestrator) onModuleError(e eventbus.Event) {
	manifest := o.registry.Manifest(e.SourceID)
	if manifest == nil {
		return
	}

	penalty := o.opts.BasePenalty
	switch metaString(e.Metadata, "severity") {
	case SeverityCritical:
		penalty *= 2
	case SeverityWarning:
		penalty *= 0.5
	}
	switch metaString(e.Metadata, "errorType") {
	case ErrorTypeSemantic:
		penalty *= 1.5
	case ErrorTypeResourceViolation:
		penalty *= 1.2
	}

	o.mu.Lock()
	prev := manifest.IntegrityScore
	next := prev - penalty
	if next < 0 {
		next = 0
	}
	manifest.IntegrityScore = next
	_, hasInstance := o.instances[e.SourceID]
	o.mu.Unlock()

	o.logger.Debug("integrity adjusted",
		"module", e.SourceID, "penalty", penalty, "integrity", next)
	o.publishModule(TopicIntegrityAdjusted, e.SourceID, map[string]any{
		"previous": prev,
		"current":  next,
		"penalty":  penalty,
	})

	if next >= o.opts.QuarantineFloor {
		return
	}
	// Announce quarantine once per crossing, or whenever an instance is
	// actually resident to tear down.
	if !hasInstance && prev < o.opts.QuarantineFloor {
		return
	}

	o.logger.Warn("module quarantined", "module", e.SourceID, "integrity", next)
	o.publishModule(TopicQuarantineStarted, e.SourceID, map[string]any{"integrity": next})
	o.destroy(context.Background(), e.SourceID, "quarantine")
}

// metaString reads a string field out of event metadata.
func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	s, _ := meta[key].(string)
	return s
}
