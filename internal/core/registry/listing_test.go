package registry

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseListing_Rows(t *testing.T) {
	output := strings.Join([]string{
		"sha256:aaa,20240115t120000123,2024-01-15T12:00:01Z",
		`sha256:bbb,"20240114t090000000;stable",2024-01-14T09:00:02.5Z`,
		"sha256:ccc,,2024-01-10T08:00:00",
		"",
	}, "\n")

	listing, err := ParseListingString(output)
	require.NoError(t, err)
	assert.Empty(t, listing.Rejected)
	require.Len(t, listing.Entries, 4)

	assert.Equal(t, Entry{
		Digest:    "sha256:aaa",
		Tag:       "20240115t120000123",
		CreatedAt: time.Date(2024, 1, 15, 12, 0, 1, 0, time.UTC),
	}, listing.Entries[0])
	assert.Equal(t, "20240114t090000000", listing.Entries[1].Tag)
	assert.Equal(t, "stable", listing.Entries[2].Tag)
	assert.Equal(t, listing.Entries[1].CreatedAt, listing.Entries[2].CreatedAt)

	digestOnly := listing.Entries[3]
	assert.True(t, digestOnly.DigestOnly())
	assert.Equal(t, "sha256:ccc", digestOnly.Name())
	assert.Equal(t, time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC), digestOnly.CreatedAt)
}

func TestParseListing_UnquotedCommaTags(t *testing.T) {
	listing, err := ParseListingString("sha256:aaa,v1,v2,2024-01-15T12:00:01Z\n")
	require.NoError(t, err)

	require.Len(t, listing.Entries, 2)
	assert.Equal(t, "v1", listing.Entries[0].Tag)
	assert.Equal(t, "v2", listing.Entries[1].Tag)
}

func TestParseListing_RejectsMalformedRows(t *testing.T) {
	output := strings.Join([]string{
		"sha256:aaa,v1,not-a-time",
		"sha256:bbb",
		",v3,2024-01-15T12:00:01Z",
		"sha256:ddd,v4,2024-01-15T12:00:01Z",
	}, "\n")

	listing, err := ParseListingString(output)
	require.NoError(t, err)

	require.Len(t, listing.Entries, 1)
	assert.Equal(t, "v4", listing.Entries[0].Tag)
	require.Len(t, listing.Rejected, 3)
	for _, rejected := range listing.Rejected {
		assert.ErrorIs(t, rejected.Err, ErrMalformedRow)
	}
	assert.Equal(t, 1, listing.Rejected[0].Line)
}

func TestParseListing_Empty(t *testing.T) {
	listing, err := ParseListingString("")
	require.NoError(t, err)
	assert.Empty(t, listing.Entries)
	assert.Empty(t, listing.Tagged())
}

func TestListing_TaggedKeepsOrder(t *testing.T) {
	listing := Listing{Entries: []Entry{
		{Digest: "d1", Tag: "b"},
		{Digest: "d2"},
		{Digest: "d3", Tag: "a"},
	}}
	tagged := listing.Tagged()
	require.Len(t, tagged, 2)
	assert.Equal(t, "b", tagged[0].Tag)
	assert.Equal(t, "a", tagged[1].Tag)
}

func TestParseCreateTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-01-15T12:00:00Z", time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)},
		{"2024-01-15T13:00:00+01:00", time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)},
		{"2024-01-15T12:00:00.123456", time.Date(2024, 1, 15, 12, 0, 0, 123456000, time.UTC)},
		{"2024-01-15 12:00:00", time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseCreateTime(tc.in)
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "got %v", got)
		})
	}

	_, err := ParseCreateTime("yesterday")
	assert.ErrorIs(t, err, ErrMalformedRow)
}
