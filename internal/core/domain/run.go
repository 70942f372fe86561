package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Run Status
// =============================================================================

// RunStatus is the overall outcome of a deployment run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// =============================================================================
// Run
// =============================================================================

// Run is one execution of the deployment pipeline, as recorded in the ledger.
type Run struct {
	ID             string     `json:"id" yaml:"id"`
	ServiceName    string     `json:"service_name" yaml:"service_name"`
	Stage          Stage      `json:"stage" yaml:"stage"`
	Status         RunStatus  `json:"status" yaml:"status"`
	Tag            string     `json:"tag,omitempty" yaml:"tag,omitempty"`
	Image          string     `json:"image,omitempty" yaml:"image,omitempty"`
	Endpoint       string     `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	CleanupSummary string     `json:"cleanup_summary,omitempty" yaml:"cleanup_summary,omitempty"`
	FailedStep     string     `json:"failed_step,omitempty" yaml:"failed_step,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	StartedAt      time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// Transition is one recorded stage change of a run.
type Transition struct {
	RunID string    `json:"run_id" yaml:"run_id"`
	From  Stage     `json:"from" yaml:"from"`
	To    Stage     `json:"to" yaml:"to"`
	At    time.Time `json:"at" yaml:"at"`
}

// GenerateRunID generates a new run ID.
func GenerateRunID() string {
	return "run_" + uuid.New().String()[:8]
}

// NewRun creates a run in the init stage.
func NewRun(serviceName string, now time.Time) *Run {
	return &Run{
		ID:          GenerateRunID(),
		ServiceName: serviceName,
		Stage:       StageInit,
		Status:      RunStatusRunning,
		StartedAt:   now.UTC(),
	}
}

// Advance moves the run to the next stage and returns the recorded transition.
func (r *Run) Advance(to Stage, now time.Time) (Transition, error) {
	if err := ValidateTransition(r.Stage, to); err != nil {
		return Transition{}, err
	}
	t := Transition{RunID: r.ID, From: r.Stage, To: to, At: now.UTC()}
	r.Stage = to
	if to == StageCleanupComplete {
		r.finish(RunStatusSucceeded, now)
	}
	return t, nil
}

// Fail moves the run to the failed stage, keeping the failing step and message.
func (r *Run) Fail(err error, now time.Time) (Transition, error) {
	if err := ValidateTransition(r.Stage, StageFailed); err != nil {
		return Transition{}, err
	}
	t := Transition{RunID: r.ID, From: r.Stage, To: StageFailed, At: now.UTC()}
	r.Stage = StageFailed
	var pErr *PipelineError
	if errors.As(err, &pErr) {
		r.FailedStep = pErr.Step
	}
	if err != nil {
		r.ErrorMessage = err.Error()
	}
	r.finish(RunStatusFailed, now)
	return t, nil
}

func (r *Run) finish(status RunStatus, now time.Time) {
	finished := now.UTC()
	r.Status = status
	r.FinishedAt = &finished
}
