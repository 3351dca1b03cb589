// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultProfileValidates(t *testing.T) {
	if err := DefaultProfile().Validate(); err != nil {
		t.Fatalf("default profile invalid: %v", err)
	}
}

func TestLoadProfileFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	content := `
name: minimal
filesystem:
  - source: /usr
    mode: ro
  - source: ${PROJECT}
    mode: rw
namespaces:
  pid: true
environment:
  PATH: /usr/bin
create_dirs:
  - /tmp
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	profile, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if profile.Name != "minimal" {
		t.Errorf("Name = %q", profile.Name)
	}
	if !profile.Namespaces.PID {
		t.Error("pid namespace not parsed")
	}
}

func TestValidateRequiresProjectMount(t *testing.T) {
	profile := &Profile{
		Name:       "broken",
		Filesystem: []Mount{{Source: "/usr", Mode: MountReadOnly}},
	}
	if err := profile.Validate(); err == nil {
		t.Fatal("profile without project mount accepted")
	}
}
