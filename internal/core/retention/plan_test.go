package retention

import (
	"fmt"
	"testing"
	"time"

	"github.com/artpar/stackship/internal/core/domain"
	"github.com/artpar/stackship/internal/core/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

// entriesAt builds one tagged entry per offset (in minutes from base), in the given order.
func entriesAt(offsets ...int) []registry.Entry {
	entries := make([]registry.Entry, 0, len(offsets))
	for _, off := range offsets {
		entries = append(entries, registry.Entry{
			Digest:    fmt.Sprintf("sha256:%03d", off),
			Tag:       fmt.Sprintf("v%03d", off),
			CreatedAt: base.Add(time.Duration(off) * time.Minute),
		})
	}
	return entries
}

func TestApply_KeepsNewestK(t *testing.T) {
	plan, err := Apply(entriesAt(1, 4, 2, 3), Policy{KeepCount: 3})
	require.NoError(t, err)

	assert.Equal(t, []string{"v004", "v003", "v002"}, plan.KeepTags())
	assert.Equal(t, []string{"v001"}, plan.DeleteTags())
}

func TestApply_DeletesExactlyNMinusK(t *testing.T) {
	for n := 1; n <= 8; n++ {
		for k := 1; k <= n; k++ {
			t.Run(fmt.Sprintf("n=%d,k=%d", n, k), func(t *testing.T) {
				offsets := make([]int, n)
				for i := range offsets {
					offsets[i] = n - i // newest first in listing, distinct times
				}
				plan, err := Apply(entriesAt(offsets...), Policy{KeepCount: k})
				require.NoError(t, err)

				assert.Len(t, plan.Delete, n-k)
				assert.Len(t, plan.Keep, k)
				for _, kept := range plan.Keep {
					for _, deleted := range plan.Delete {
						assert.True(t, kept.CreatedAt.After(deleted.CreatedAt))
					}
				}
			})
		}
	}
}

func TestApply_NoDeletionWhenAtOrBelowK(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3} {
		plan, err := Apply(entriesAt(makeRange(n)...), Policy{KeepCount: 3})
		require.NoError(t, err)
		assert.Empty(t, plan.Delete, "n=%d", n)
		assert.Len(t, plan.Keep, n)
	}
}

func TestApply_IgnoresDigestOnlyEntries(t *testing.T) {
	entries := entriesAt(1, 2, 3)
	entries = append(entries,
		registry.Entry{Digest: "sha256:untagged-new", CreatedAt: base.Add(time.Hour)},
		registry.Entry{Digest: "sha256:untagged-old", CreatedAt: base.Add(-time.Hour)},
	)

	plan, err := Apply(entries, Policy{KeepCount: 2})
	require.NoError(t, err)

	assert.Equal(t, []string{"v003", "v002"}, plan.KeepTags())
	assert.Equal(t, []string{"v001"}, plan.DeleteTags())
}

func TestApply_EqualTimestampsKeepListingOrder(t *testing.T) {
	entries := []registry.Entry{
		{Digest: "d1", Tag: "first", CreatedAt: base},
		{Digest: "d2", Tag: "second", CreatedAt: base},
		{Digest: "d3", Tag: "third", CreatedAt: base},
		{Digest: "d0", Tag: "newest", CreatedAt: base.Add(time.Second)},
	}

	plan, err := Apply(entries, Policy{KeepCount: 2})
	require.NoError(t, err)

	assert.Equal(t, []string{"newest", "first"}, plan.KeepTags())
	assert.Equal(t, []string{"second", "third"}, plan.DeleteTags())
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	entries := entriesAt(1, 3, 2)
	_, err := Apply(entries, Policy{KeepCount: 1})
	require.NoError(t, err)
	assert.Equal(t, entriesAt(1, 3, 2), entries)
}

func TestApply_AppendingToKeepLeavesDeleteIntact(t *testing.T) {
	plan, err := Apply(entriesAt(1, 2, 3, 4), Policy{KeepCount: 1})
	require.NoError(t, err)

	extended := append(plan.Keep, registry.Entry{Tag: "extra"})
	assert.Len(t, extended, 2)
	assert.Equal(t, []string{"v003", "v002", "v001"}, plan.DeleteTags())
}

func TestApply_SharedDigestTagsAreSeparateEntries(t *testing.T) {
	entries := []registry.Entry{
		{Digest: "sha256:same", Tag: "20240115t120000123", CreatedAt: base},
		{Digest: "sha256:same", Tag: "20240114t090000000", CreatedAt: base},
	}
	plan, err := Apply(entries, Policy{KeepCount: 1})
	require.NoError(t, err)

	assert.Equal(t, []string{"20240115t120000123"}, plan.KeepTags())
	assert.Equal(t, []string{"20240114t090000000"}, plan.DeleteTags())
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, Policy{KeepCount: 1}.Validate())

	_, err := Apply(entriesAt(1), Policy{KeepCount: 0})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func makeRange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}
