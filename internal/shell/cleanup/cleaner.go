// Package cleanup prunes stale image versions from the registry.
//
// Cleanup is best effort. A failed listing skips the whole cleanup and a
// failed deletion is recorded and skipped; neither fails the run.
package cleanup

import (
	"context"
	"log/slog"

	"github.com/artpar/stackship/internal/core/domain"
	"github.com/artpar/stackship/internal/core/registry"
	"github.com/artpar/stackship/internal/core/retention"
)

// Registry lists and deletes the versions of one image.
type Registry interface {
	List(ctx context.Context, base domain.RemoteBase) (registry.Listing, error)
	Delete(ctx context.Context, base domain.RemoteBase, tag string) error
}

// Cleaner applies a retention policy against a registry.
type Cleaner struct {
	registry Registry
	logger   *slog.Logger
}

// NewCleaner creates a cleaner.
func NewCleaner(reg Registry, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{
		registry: reg,
		logger:   logger.With("component", "cleanup"),
	}
}

// Cleanup keeps the policy.KeepCount newest tags of image and deletes the rest.
//
// The tag of image itself is never deleted, even when clock skew in the
// registry puts it outside the newest KeepCount.
func (c *Cleaner) Cleanup(ctx context.Context, image domain.ImageReference, policy retention.Policy) domain.CleanupResult {
	base := image.Base()
	log := c.logger.With("image", base.Path(), "keep", policy.KeepCount)

	listing, err := c.registry.List(ctx, base)
	if err != nil {
		log.Warn("cleanup skipped, listing failed", "error", err)
		return domain.SkippedCleanup(err)
	}

	plan, err := retention.Apply(listing.Entries, policy)
	if err != nil {
		log.Warn("cleanup skipped, invalid policy", "error", err)
		return domain.SkippedCleanup(err)
	}
	plan = protect(plan, image.Tag)

	result := domain.CleanupResult{Kept: plan.KeepTags()}
	for _, entry := range plan.Delete {
		err := c.registry.Delete(ctx, base, entry.Tag)
		result.Record(domain.DeletionOutcome{Tag: entry.Tag, Err: err})
		if err != nil {
			log.Warn("failed to delete image version", "tag", entry.Tag, "error", err)
			continue
		}
		log.Info("deleted image version", "tag", entry.Tag, "created_at", entry.CreatedAt)
	}

	log.Info("cleanup complete",
		"deleted", result.DeletedCount(),
		"kept", result.KeptCount(),
		"failed", len(result.Failures),
	)
	return result
}

// protect moves every entry carrying tag from Delete to Keep.
func protect(plan retention.Plan, tag string) retention.Plan {
	if tag == "" {
		return plan
	}
	keep := append([]registry.Entry(nil), plan.Keep...)
	remaining := make([]registry.Entry, 0, len(plan.Delete))
	for _, e := range plan.Delete {
		if e.Tag == tag {
			keep = append(keep, e)
			continue
		}
		remaining = append(remaining, e)
	}
	return retention.Plan{Keep: keep, Delete: remaining}
}
