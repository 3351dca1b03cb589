// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package versions

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Semver is a semantic version number. Prerelease is empty for normal
// releases; collision recovery assigns suffixes like "r.2".
type Semver struct {
	Major      int
	Minor      int
	Patch      int
	Prerelease string
}

// String renders "1.4.2" or "1.4.2-r.2".
func (v Semver) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		s += "-" + v.Prerelease
	}
	return s
}

// Bump returns the next version for a change of the given type.
// Rollbacks normally carry the target's number instead; when they do
// reach Bump (collision retry), they bump patch like any other change.
func (v Semver) Bump(change ChangeType) Semver {
	switch change {
	case ChangeMajor:
		return Semver{Major: v.Major + 1}
	case ChangeMinor:
		return Semver{Major: v.Major, Minor: v.Minor + 1}
	default:
		return Semver{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}
	}
}

// Compare orders versions: negative when v < other. A prerelease
// sorts before the release it qualifies, matching semver precedence.
func (v Semver) Compare(other Semver) int {
	for _, pair := range [][2]int{
		{v.Major, other.Major},
		{v.Minor, other.Minor},
		{v.Patch, other.Patch},
	} {
		if pair[0] != pair[1] {
			if pair[0] < pair[1] {
				return -1
			}
			return 1
		}
	}
	switch {
	case v.Prerelease == other.Prerelease:
		return 0
	case v.Prerelease == "":
		return 1
	case other.Prerelease == "":
		return -1
	default:
		return strings.Compare(v.Prerelease, other.Prerelease)
	}
}

var semverPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)(?:-([0-9A-Za-z.-]+))?$`)

// ParseSemver parses "1.4.2" or "1.4.2-r.2".
func ParseSemver(s string) (Semver, error) {
	match := semverPattern.FindStringSubmatch(s)
	if match == nil {
		return Semver{}, fmt.Errorf("malformed version %q", s)
	}
	major, _ := strconv.Atoi(match[1])
	minor, _ := strconv.Atoi(match[2])
	patch, _ := strconv.Atoi(match[3])
	return Semver{Major: major, Minor: minor, Patch: patch, Prerelease: match[4]}, nil
}
