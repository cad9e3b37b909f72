package orchestrator

// Topics published by the orchestrator. All follow the runtime's
// colon-delimited hierarchy so wildcard subscriptions compose naturally
// ("module:lifecycle:*", "os:*:*").
const (
	TopicLifecycleRegistered  = "module:lifecycle:registered"
	TopicLifecycleLoaded      = "module:lifecycle:loaded"
	TopicLifecycleActivated   = "module:lifecycle:activated"
	TopicLifecycleDeactivated = "module:lifecycle:deactivated"
	TopicLifecycleDestroyed   = "module:lifecycle:destroyed"
	TopicLifecycleFailed      = "module:lifecycle:failed"

	TopicLoadRejected = "module:load:rejected"
	TopicLoadFailed   = "module:load:failed"

	TopicToggleChanged     = "module:toggle:changed"
	TopicIntegrityAdjusted = "module:integrity:adjusted"
	TopicQuarantineStarted = "module:quarantine:initiated"
	TopicTelosChanged      = "os:telos:changed"
	TopicUserStateChanged  = "os:userState:changed"
	TopicSelfHealing       = "os:selfHealing:performed"
)

// Topics the orchestrator listens on. Anything the host publishes under
// "module:error" (optionally with further segments) decays the source
// module's integrity; the two system topics trigger pressure shedding.
const (
	PatternModuleErrors   = "module:error*"
	TopicMemoryPressure   = "system:resource:memoryPressure"
	TopicIntegrityWarning = "system:integrity:warning"
)

// Load rejection reasons carried in TopicLoadRejected payloads.
const (
	ReasonDisabledByToggle = "disabled_by_toggle"
	ReasonLowIntegrity     = "low_integrity"
)

// Severity values read from error-event metadata ("severity").
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// Error subtypes read from error-event metadata ("errorType").
const (
	ErrorTypeSemantic          = "semantic"
	ErrorTypeResourceViolation = "resource_violation"
)

// sourceOS identifies the orchestrator itself as an event source.
const sourceOS = "orchestrator"
