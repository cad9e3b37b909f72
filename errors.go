package soulmesh

import "errors"

// Runtime errors
var (
	// Manifest errors
	ErrInvalidAlignmentWeight = errors.New("alignment weight string must be \"primary\"")
	ErrManifestNotFound       = errors.New("manifest not found")
	ErrManifestIDEmpty        = errors.New("manifest id cannot be empty")
	ErrTelosNotFound          = errors.New("telos not found")
	ErrTelosIDEmpty           = errors.New("telos id cannot be empty")

	// Module lifecycle errors
	ErrNotInitialized  = errors.New("module not initialized")
	ErrModuleDestroyed = errors.New("module destroyed")

	// Orchestrator errors
	ErrOrchestratorNotStarted     = errors.New("orchestrator not started")
	ErrOrchestratorAlreadyStarted = errors.New("orchestrator already started")
)
