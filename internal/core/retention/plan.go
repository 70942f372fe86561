// Package retention decides which image versions survive a cleanup.
// This is part of the Functional Core - all functions are pure with no I/O.
package retention

import (
	"fmt"
	"sort"

	"github.com/artpar/stackship/internal/core/domain"
	"github.com/artpar/stackship/internal/core/registry"
)

// DefaultKeepCount is the number of versions kept when nothing else is configured.
const DefaultKeepCount = 3

// Policy is the retention rule for the versions of one image.
type Policy struct {
	KeepCount int
}

// Validate checks the policy keeps at least one version.
func (p Policy) Validate() error {
	if p.KeepCount < 1 {
		return domain.ConfigError("keep count", fmt.Sprintf("must be at least 1, got %d", p.KeepCount))
	}
	return nil
}

// Plan is the outcome of applying a Policy to a listing.
type Plan struct {
	Keep   []registry.Entry
	Delete []registry.Entry
}

// KeepTags returns the tags of the kept entries, newest first.
func (p Plan) KeepTags() []string {
	return tags(p.Keep)
}

// DeleteTags returns the tags of the deletion candidates, newest first.
func (p Plan) DeleteTags() []string {
	return tags(p.Delete)
}

// Apply splits entries into the ones to keep and the ones to delete.
//
// Digest-only entries are dropped first. The rest are sorted by creation time,
// newest first; the first KeepCount entries are kept. Entries with equal
// creation times stay in listing order (stable sort).
//
// Example:
//
//	// entries created at t4 > t3 > t2 > t1, KeepCount 3
//	plan := Apply(entries, Policy{KeepCount: 3})
//	// plan.Keep = [t4 t3 t2], plan.Delete = [t1]
func Apply(entries []registry.Entry, policy Policy) (Plan, error) {
	if err := policy.Validate(); err != nil {
		return Plan{}, err
	}

	candidates := make([]registry.Entry, 0, len(entries))
	for _, e := range entries {
		if !e.DigestOnly() {
			candidates = append(candidates, e)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})

	if len(candidates) <= policy.KeepCount {
		return Plan{Keep: candidates}, nil
	}
	// Keep is capped so appending to it never writes into Delete.
	return Plan{
		Keep:   candidates[:policy.KeepCount:policy.KeepCount],
		Delete: candidates[policy.KeepCount:],
	}, nil
}

func tags(entries []registry.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Tag)
	}
	return out
}
