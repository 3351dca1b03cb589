// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package versions

import (
	"fmt"
	"strings"
)

// ChangeType is the semantic weight of a build.
type ChangeType string

const (
	// ChangeMajor is a structural redesign or removal.
	ChangeMajor ChangeType = "major"

	// ChangeMinor adds content or features.
	ChangeMinor ChangeType = "minor"

	// ChangePatch is a tweak, fix, or copy edit. Also the fallback
	// when classification is uncertain — under-promising beats a
	// spurious major.
	ChangePatch ChangeType = "patch"

	// ChangeRollback marks a version created by restoring an earlier
	// one.
	ChangeRollback ChangeType = "rollback"
)

// ParseChangeType validates a change type from the wire.
func ParseChangeType(s string) (ChangeType, error) {
	switch ChangeType(s) {
	case ChangeMajor, ChangeMinor, ChangePatch, ChangeRollback:
		return ChangeType(s), nil
	default:
		return "", fmt.Errorf("unknown change type %q", s)
	}
}

// Classification is the result of analysing a build summary.
type Classification struct {
	Change ChangeType

	// Confident is false when no signal matched and the patch
	// fallback applied.
	Confident bool
}

// Signal phrases, checked against the lowercased summary. Major wins
// over minor when both match: a "redesigned the homepage and added a
// blog" build is a redesign.
var (
	majorSignals = []string{
		"redesign", "rebuilt", "rebuild", "complete overhaul", "overhaul",
		"restructur", "removed page", "removed the", "deleted page",
		"new layout", "replaced the layout", "breaking",
		"migrated", "rewrote", "rewritten", "from scratch",
	}
	minorSignals = []string{
		"added", "add a", "add the", "new page", "new section",
		"new component", "new feature", "introduced", "created a",
		"created the", "implemented", "built a", "built the",
	}
	patchSignals = []string{
		"fixed", "fix ", "corrected", "adjusted", "tweaked", "updated copy",
		"updated text", "typo", "renamed", "recolored", "restyled",
		"aligned", "padding", "margin", "spacing", "polished",
	}
)

// Classify maps a build summary to a change type. It is intentionally
// conservative: an empty or unrecognized summary classifies as an
// unconfident patch.
func Classify(summary string) Classification {
	lowered := strings.ToLower(summary)
	if strings.TrimSpace(lowered) == "" {
		return Classification{Change: ChangePatch}
	}

	if matchesAny(lowered, majorSignals) {
		return Classification{Change: ChangeMajor, Confident: true}
	}
	if matchesAny(lowered, minorSignals) {
		return Classification{Change: ChangeMinor, Confident: true}
	}
	if matchesAny(lowered, patchSignals) {
		return Classification{Change: ChangePatch, Confident: true}
	}
	return Classification{Change: ChangePatch}
}

func matchesAny(lowered string, signals []string) bool {
	for _, signal := range signals {
		if strings.Contains(lowered, signal) {
			return true
		}
	}
	return false
}
