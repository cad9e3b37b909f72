package orchestrator

import "time"

// Options carries the orchestrator's tunable thresholds. All of them are
// configuration values, not invariants; the defaults suit a single-user
// runtime.
type Options struct {
	// IntegrityFloor is the minimum manifest integrity for a module to be
	// loadable or considered as a capability candidate.
	IntegrityFloor float64

	// QuarantineFloor is the integrity level below which an instance is
	// quarantined (destroyed unconditionally).
	QuarantineFloor float64

	// IdleTimeout is how long an ACTIVE instance may go without observed
	// activity before it is deactivated.
	IdleTimeout time.Duration

	// PurgeInterval is how often the purge cycle runs.
	PurgeInterval time.Duration

	// PurgeAge is how long a DEACTIVATED instance may sit idle before the
	// purge cycle destroys it.
	PurgeAge time.Duration

	// BasePenalty is the integrity reduction applied per observed error
	// before severity and subtype scaling.
	BasePenalty float64
}

// DefaultOptions returns the stock thresholds.
func DefaultOptions() Options {
	return Options{
		IntegrityFloor:  0.6,
		QuarantineFloor: 0.3,
		IdleTimeout:     5 * time.Minute,
		PurgeInterval:   2 * time.Minute,
		PurgeAge:        10 * time.Minute,
		BasePenalty:     0.05,
	}
}

// Option overrides a single threshold.
type Option func(*Options)

// WithIntegrityFloor sets the minimum loadable integrity.
func WithIntegrityFloor(v float64) Option {
	return func(o *Options) { o.IntegrityFloor = v }
}

// WithQuarantineFloor sets the quarantine threshold.
func WithQuarantineFloor(v float64) Option {
	return func(o *Options) { o.QuarantineFloor = v }
}

// WithIdleTimeout sets the activity timeout for ACTIVE instances.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.IdleTimeout = d
		}
	}
}

// WithPurgeInterval sets how often the purge cycle runs.
func WithPurgeInterval(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.PurgeInterval = d
		}
	}
}

// WithPurgeAge sets the idle age at which deactivated instances are purged.
func WithPurgeAge(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.PurgeAge = d
		}
	}
}

// WithBasePenalty sets the unscaled per-error integrity penalty.
func WithBasePenalty(v float64) Option {
	return func(o *Options) { o.BasePenalty = v }
}

// Fixed scoring constants. These are part of the resolution semantics
// rather than tunables.
const (
	// telosSweepAlignment: on a Telos change, an ACTIVE instance below this
	// alignment AND with zero resonance is deactivated.
	telosSweepAlignment = 0.3

	// purgeProtectAlignment: deactivated instances aligned above this with
	// the current Telos survive the purge cycle.
	purgeProtectAlignment = 0.8

	// integrityShedAlignment: integrity-pressure shedding skips instances
	// aligned at or above this.
	integrityShedAlignment = 0.7

	// integrityWarningLevel: system integrity reports below this trigger
	// shedding.
	integrityWarningLevel = 0.5
)
