// Package registry parses the image listings returned by the cloud registry.
// This is part of the Functional Core - all functions are pure with no I/O.
package registry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// =============================================================================
// Listing Entries
// =============================================================================

// ErrMalformedRow is returned for a listing row that cannot be interpreted.
var ErrMalformedRow = errors.New("malformed listing row")

// Entry is one published image version.
// Digest-only entries (no human tag) are listed but never independently deletable.
type Entry struct {
	Digest    string
	Tag       string
	CreatedAt time.Time
}

// DigestOnly reports whether the entry has no human tag.
func (e Entry) DigestOnly() bool {
	return e.Tag == ""
}

// Name returns the tag, or the digest for digest-only entries.
func (e Entry) Name() string {
	if e.DigestOnly() {
		return e.Digest
	}
	return e.Tag
}

// Listing is the parse result of one listing call.
type Listing struct {
	Entries  []Entry
	Rejected []RejectedRow // rows that could not be parsed; never deleted
}

// RejectedRow is a listing row that failed to parse.
type RejectedRow struct {
	Line int
	Raw  string
	Err  error
}

// Tagged returns the entries that carry a human tag, in listing order.
func (l Listing) Tagged() []Entry {
	tagged := make([]Entry, 0, len(l.Entries))
	for _, e := range l.Entries {
		if !e.DigestOnly() {
			tagged = append(tagged, e)
		}
	}
	return tagged
}

// =============================================================================
// Parsing
// =============================================================================

// createTimeLayouts are the timestamp shapes the registry has been seen to emit.
var createTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseCreateTime parses a registry createTime value. Zone-less values are UTC.
func ParseCreateTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range createTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised create time %q", ErrMalformedRow, value)
}

// ParseListing parses headerless CSV rows of the form
//
//	{digest},{tags},{createTime}
//
// where tags is a list separated by ';' or ',' (quoted) and may be empty.
// A row with several tags yields one entry per tag, all sharing the row's
// create time. A row with no tag yields one digest-only entry. Rows that
// cannot be parsed are reported in Rejected and otherwise ignored.
//
// Example:
//
//	sha256:aaa,20240115t120000123,2024-01-15T12:00:01Z
//	sha256:bbb,"20240114t090000000;stable",2024-01-14T09:00:02Z
//	sha256:ccc,,2024-01-10T08:00:00Z
func ParseListing(r io.Reader) (Listing, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var listing Listing
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				listing.Rejected = append(listing.Rejected, RejectedRow{Line: line, Err: err})
				continue
			}
			return Listing{}, err
		}
		entries, err := parseRecord(record)
		if err != nil {
			listing.Rejected = append(listing.Rejected, RejectedRow{Line: line, Raw: strings.Join(record, ","), Err: err})
			continue
		}
		listing.Entries = append(listing.Entries, entries...)
	}
	return listing, nil
}

// ParseListingString is ParseListing over a string.
func ParseListingString(output string) (Listing, error) {
	return ParseListing(strings.NewReader(output))
}

func parseRecord(record []string) ([]Entry, error) {
	if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
		return nil, nil
	}
	if len(record) < 3 {
		return nil, fmt.Errorf("%w: want 3 fields, got %d", ErrMalformedRow, len(record))
	}
	// Extra fields come from unquoted comma-separated tag lists.
	digest := strings.TrimSpace(record[0])
	createRaw := record[len(record)-1]
	tagFields := record[1 : len(record)-1]

	if digest == "" {
		return nil, fmt.Errorf("%w: empty digest", ErrMalformedRow)
	}
	createdAt, err := ParseCreateTime(createRaw)
	if err != nil {
		return nil, err
	}

	tags := splitTags(tagFields)
	if len(tags) == 0 {
		return []Entry{{Digest: digest, CreatedAt: createdAt}}, nil
	}
	entries := make([]Entry, 0, len(tags))
	for _, tag := range tags {
		entries = append(entries, Entry{Digest: digest, Tag: tag, CreatedAt: createdAt})
	}
	return entries, nil
}

func splitTags(fields []string) []string {
	var tags []string
	for _, field := range fields {
		for _, tag := range strings.FieldsFunc(field, func(r rune) bool { return r == ';' || r == ',' }) {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}
	return tags
}
