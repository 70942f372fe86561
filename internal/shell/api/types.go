package api

import "time"

// =============================================================================
// Response Types
// =============================================================================

// RunResponse is one ledger run.
type RunResponse struct {
	ID             string     `json:"id"`
	ServiceName    string     `json:"service_name"`
	Stage          string     `json:"stage"`
	Status         string     `json:"status"`
	Tag            string     `json:"tag,omitempty"`
	Image          string     `json:"image,omitempty"`
	Endpoint       string     `json:"endpoint,omitempty"`
	CleanupSummary string     `json:"cleanup_summary,omitempty"`
	FailedStep     string     `json:"failed_step,omitempty"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// ListRunsResponse is the response for listing runs.
type ListRunsResponse struct {
	Runs   []RunResponse `json:"runs"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// TransitionResponse is one stage change.
type TransitionResponse struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

// ListTransitionsResponse is the stage history of a run, oldest first.
type ListTransitionsResponse struct {
	RunID       string               `json:"run_id"`
	Transitions []TransitionResponse `json:"transitions"`
}

// HealthResponse is the response for health check.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response for readiness check.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
