package domain

import "fmt"

// =============================================================================
// Cleanup Result
// =============================================================================

// CleanupSkipSummary is reported when the listing call failed and nothing was pruned.
const CleanupSkipSummary = "cleanup-skip"

// DeletionOutcome is the result of deleting one tag. A nil Err means success.
type DeletionOutcome struct {
	Tag string
	Err error
}

// Succeeded reports whether the tag was deleted.
func (o DeletionOutcome) Succeeded() bool {
	return o.Err == nil
}

// CleanupResult aggregates a retention run. Failures never escalate to the run.
type CleanupResult struct {
	Skipped    bool
	SkipReason error
	Kept       []string
	Deleted    []string
	Failures   []DeletionOutcome
}

// SkippedCleanup returns the sentinel result for a cleanup whose listing failed.
func SkippedCleanup(reason error) CleanupResult {
	return CleanupResult{
		Skipped:    true,
		SkipReason: NewPipelineError(ErrCleanupSkipped, "list", "", reason),
	}
}

// DisabledCleanup returns the skipped result for a run with cleanup turned off.
func DisabledCleanup() CleanupResult {
	return CleanupResult{
		Skipped:    true,
		SkipReason: NewPipelineError(ErrCleanupSkipped, "", "cleanup disabled", nil),
	}
}

// DeletedCount returns the number of tags actually deleted.
func (r CleanupResult) DeletedCount() int {
	return len(r.Deleted)
}

// KeptCount returns the number of tags retained by the policy.
func (r CleanupResult) KeptCount() int {
	return len(r.Kept)
}

// Record adds a deletion outcome to the result.
func (r *CleanupResult) Record(outcome DeletionOutcome) {
	if outcome.Succeeded() {
		r.Deleted = append(r.Deleted, outcome.Tag)
		return
	}
	r.Failures = append(r.Failures, DeletionOutcome{
		Tag: outcome.Tag,
		Err: NewPipelineError(ErrCleanupItemFailed, "delete", outcome.Tag, outcome.Err),
	})
}

// Summary renders "deleted=<n> kept=<m>" or "cleanup-skip".
func (r CleanupResult) Summary() string {
	if r.Skipped {
		return CleanupSkipSummary
	}
	return fmt.Sprintf("deleted=%d kept=%d", r.DeletedCount(), r.KeptCount())
}
