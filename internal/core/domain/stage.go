// Package domain contains the core domain types and validation logic.
// This is part of the Functional Core - all functions are pure with no I/O.
package domain

// =============================================================================
// Pipeline Stage
// =============================================================================

// Stage is one ordered step of a deployment run.
type Stage string

const (
	StageInit            Stage = "init"
	StageRegistryReady   Stage = "registry_ready"
	StageImagePublished  Stage = "image_published"
	StageServiceDeployed Stage = "service_deployed"
	StageCleanupComplete Stage = "cleanup_complete"
	StageFailed          Stage = "failed"
)

// IsValid checks if the stage is known.
func (s Stage) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal returns true if no further transitions are possible.
func (s Stage) IsTerminal() bool {
	return s == StageCleanupComplete || s == StageFailed
}

// Next returns the stage that follows s on the success path.
// Terminal stages return themselves.
func (s Stage) Next() Stage {
	switch s {
	case StageInit:
		return StageRegistryReady
	case StageRegistryReady:
		return StageImagePublished
	case StageImagePublished:
		return StageServiceDeployed
	case StageServiceDeployed:
		return StageCleanupComplete
	default:
		return s
	}
}

// =============================================================================
// State Machine
// =============================================================================

// validTransitions defines the allowed stage transitions.
// Failed is reachable from every non-terminal stage; cleanup never fails a run.
var validTransitions = map[Stage][]Stage{
	StageInit:            {StageRegistryReady, StageFailed},
	StageRegistryReady:   {StageImagePublished, StageFailed},
	StageImagePublished:  {StageServiceDeployed, StageFailed},
	StageServiceDeployed: {StageCleanupComplete, StageFailed},
	StageCleanupComplete: {}, // terminal
	StageFailed:          {}, // absorbing
}

// ValidateTransition checks if a stage transition is valid.
func ValidateTransition(from, to Stage) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return ErrInvalidTransition
}
