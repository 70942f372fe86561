package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Pipeline Error Kinds
// =============================================================================

var (
	// ErrConfiguration is returned when a required input is absent at startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrMissingArtifact is returned when the local build artifact does not exist.
	ErrMissingArtifact = errors.New("missing build artifact")

	// ErrPublishFailed is returned when a tag, auth or upload step fails.
	ErrPublishFailed = errors.New("image publish failed")

	// ErrProvisionFailed is returned when a supporting resource (service account,
	// IAM binding, registry) cannot be declared.
	ErrProvisionFailed = errors.New("resource provisioning failed")

	// ErrDeploymentFailed is returned when the managed service never reaches a ready state.
	ErrDeploymentFailed = errors.New("service deployment failed")

	// ErrCleanupSkipped marks a cleanup that did not run because listing failed.
	// Never escalated to a run failure.
	ErrCleanupSkipped = errors.New("cleanup skipped")

	// ErrCleanupItemFailed marks a single tag that could not be deleted.
	// Never escalated to a run failure.
	ErrCleanupItemFailed = errors.New("cleanup item failed")

	// ErrInvalidTransition is returned for a stage change the pipeline does not allow.
	ErrInvalidTransition = errors.New("invalid stage transition")
)

// NoExitStatus is used when a failing step did not come from a process exit.
const NoExitStatus = -1

// PipelineError carries the stage and step a pipeline failure happened in.
type PipelineError struct {
	Kind       error  // One of the Err* kinds above
	Stage      Stage  // Last stage reached when the failure happened
	Step       string // Failing step, e.g. "tag", "upload", "declare service"
	ExitStatus int    // Exit status of the failing external call, NoExitStatus if none
	Message    string
	Err        error
}

func (e *PipelineError) Error() string {
	msg := e.Kind.Error()
	if e.Step != "" {
		msg = fmt.Sprintf("%s: step %q", msg, e.Step)
		if e.ExitStatus != NoExitStatus {
			msg = fmt.Sprintf("%s (exit status %d)", msg, e.ExitStatus)
		}
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *PipelineError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewPipelineError creates a PipelineError without a process exit status.
func NewPipelineError(kind error, step, message string, err error) *PipelineError {
	return &PipelineError{
		Kind:       kind,
		Step:       step,
		ExitStatus: NoExitStatus,
		Message:    message,
		Err:        err,
	}
}

// WithExitStatus records the exit status of the failing external call.
func (e *PipelineError) WithExitStatus(status int) *PipelineError {
	e.ExitStatus = status
	return e
}

// ConfigError creates an ErrConfiguration error for the named input.
func ConfigError(field, message string) *PipelineError {
	return NewPipelineError(ErrConfiguration, "", fmt.Sprintf("%s %s", field, message), nil)
}

// IsFatal reports whether err must stop the run. Cleanup kinds are never fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrCleanupSkipped) && !errors.Is(err, ErrCleanupItemFailed)
}
