// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package versions

import "testing"

func TestClassifySignals(t *testing.T) {
	cases := []struct {
		summary   string
		want      ChangeType
		confident bool
	}{
		{"Redesigned the homepage with a new hero section", ChangeMajor, true},
		{"Removed the pricing page and restructured navigation", ChangeMajor, true},
		{"Rewrote the site from scratch with a dark theme", ChangeMajor, true},
		{"Added a contact form to the about page", ChangeMinor, true},
		{"Created a new blog section with three posts", ChangeMinor, true},
		{"Implemented newsletter signup", ChangeMinor, true},
		{"Fixed the broken footer link", ChangePatch, true},
		{"Adjusted header padding and updated copy", ChangePatch, true},
		{"Tweaked button colors", ChangePatch, true},
	}
	for _, c := range cases {
		got := Classify(c.summary)
		if got.Change != c.want || got.Confident != c.confident {
			t.Errorf("Classify(%q) = %+v, want {%s %v}", c.summary, got, c.want, c.confident)
		}
	}
}

func TestClassifyMajorWinsOverMinor(t *testing.T) {
	got := Classify("Redesigned the layout and added a blog")
	if got.Change != ChangeMajor {
		t.Errorf("Classify = %s, want major", got.Change)
	}
}

func TestClassifyDefaultsToUnconfidentPatch(t *testing.T) {
	for _, summary := range []string{"", "   ", "did some things", "misc work on the site"} {
		got := Classify(summary)
		if got.Change != ChangePatch || got.Confident {
			t.Errorf("Classify(%q) = %+v, want unconfident patch", summary, got)
		}
	}
}
