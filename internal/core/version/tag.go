// Package version derives image tags.
// This is part of the Functional Core - all functions are pure with no I/O.
package version

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/artpar/stackship/internal/core/domain"
)

// =============================================================================
// Version Tags
// =============================================================================

const tagLayout = "20060102t150405"

var versionTagPattern = regexp.MustCompile(`^[0-9]{8}t[0-9]{9}$`)

// NewVersionTag derives a version tag from now at millisecond resolution.
// Pattern: {yyyymmdd}t{hhmmss}{mmm}, always in UTC.
//
// Tags sort lexically in the same order as the instants they were made from.
//
// Example:
//
//	NewVersionTag(time.Date(2024, 1, 15, 12, 0, 0, 123e6, time.UTC))
//	// returns "20240115t120000123"
func NewVersionTag(now time.Time) string {
	now = now.UTC()
	return fmt.Sprintf("%s%03d", now.Format(tagLayout), now.Nanosecond()/int(time.Millisecond))
}

// IsVersionTag reports whether tag has the shape produced by NewVersionTag.
func IsVersionTag(tag string) bool {
	return versionTagPattern.MatchString(tag)
}

// ParseVersionTag returns the instant a version tag was generated from.
func ParseVersionTag(tag string) (time.Time, error) {
	if !IsVersionTag(tag) {
		return time.Time{}, fmt.Errorf("%q is not a version tag", tag)
	}
	base, err := time.Parse(tagLayout, tag[:len(tagLayout)])
	if err != nil {
		return time.Time{}, fmt.Errorf("parse version tag %q: %w", tag, err)
	}
	millis, err := strconv.Atoi(tag[len(tagLayout):])
	if err != nil {
		return time.Time{}, fmt.Errorf("parse version tag %q: %w", tag, err)
	}
	return base.Add(time.Duration(millis) * time.Millisecond), nil
}

// =============================================================================
// Tag Strategies
// =============================================================================

// TagStrategy picks the tag of the next publish.
type TagStrategy interface {
	Tag(now time.Time) string
	Mode() domain.TagMode
}

// Fixed always returns the same tag; every publish overwrites it.
type Fixed struct {
	Value string
}

// Tag returns the fixed tag, "latest" when unset.
func (f Fixed) Tag(time.Time) string {
	if f.Value == "" {
		return domain.FixedTag
	}
	return f.Value
}

// Mode returns domain.TagModeFixed.
func (Fixed) Mode() domain.TagMode { return domain.TagModeFixed }

// Timestamped returns a new version tag per publish.
type Timestamped struct{}

// Tag returns NewVersionTag(now).
func (Timestamped) Tag(now time.Time) string { return NewVersionTag(now) }

// Mode returns domain.TagModeTimestamped.
func (Timestamped) Mode() domain.TagMode { return domain.TagModeTimestamped }

// StrategyFor returns the strategy implementing mode.
func StrategyFor(mode domain.TagMode) (TagStrategy, error) {
	switch mode {
	case domain.TagModeFixed:
		return Fixed{}, nil
	case domain.TagModeTimestamped:
		return Timestamped{}, nil
	default:
		return nil, domain.ConfigError("tag mode", fmt.Sprintf("%q is not one of fixed, timestamped", mode))
	}
}
