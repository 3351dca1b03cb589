// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// MountMode controls how a path is bound into the sandbox.
type MountMode string

const (
	// MountReadOnly binds the source read-only.
	MountReadOnly MountMode = "ro"

	// MountReadWrite binds the source read-write. The project
	// directory is the only read-write bind in the default profile.
	MountReadWrite MountMode = "rw"
)

// Mount describes one bind mount in the sandbox filesystem view.
type Mount struct {
	// Source is the host path. Supports ${PROJECT} expansion.
	Source string `yaml:"source"`

	// Dest is the path inside the sandbox. Supports ${PROJECT}
	// expansion. Empty means same as Source.
	Dest string `yaml:"dest,omitempty"`

	// Mode is ro or rw. Defaults to ro.
	Mode MountMode `yaml:"mode,omitempty"`

	// Optional mounts are skipped when the source does not exist
	// instead of failing the spawn.
	Optional bool `yaml:"optional,omitempty"`
}

// Namespaces selects which Linux namespaces the sandbox unshares.
// Network is deliberately shared by default: the agent must reach its
// AI API.
type Namespaces struct {
	PID    bool `yaml:"pid"`
	IPC    bool `yaml:"ipc"`
	UTS    bool `yaml:"uts"`
	Cgroup bool `yaml:"cgroup"`
	User   bool `yaml:"user"`
	Net    bool `yaml:"net"`
}

// Profile describes the isolation boundary for agent processes: which
// host paths are visible, which namespaces are unshared, and which
// environment variables the agent starts with.
type Profile struct {
	// Name identifies the profile in logs.
	Name string `yaml:"name"`

	// Filesystem is the ordered list of bind mounts.
	Filesystem []Mount `yaml:"filesystem"`

	// Namespaces selects namespace unsharing.
	Namespaces Namespaces `yaml:"namespaces"`

	// Environment is the full environment the agent starts with. The
	// host environment is never inherited; anything the agent needs
	// must be listed here or passed per-spawn.
	Environment map[string]string `yaml:"environment"`

	// CreateDirs are directories created empty inside the sandbox
	// (tmpfs-backed scratch space).
	CreateDirs []string `yaml:"create_dirs"`
}

// DefaultProfile returns the built-in profile: system paths read-only,
// the project directory read-write at its real path, isolated /tmp,
// PID and IPC namespaces unshared, network shared.
func DefaultProfile() *Profile {
	return &Profile{
		Name: "builder",
		Filesystem: []Mount{
			{Source: "/usr", Mode: MountReadOnly},
			{Source: "/bin", Mode: MountReadOnly, Optional: true},
			{Source: "/lib", Mode: MountReadOnly, Optional: true},
			{Source: "/lib64", Mode: MountReadOnly, Optional: true},
			{Source: "/etc/resolv.conf", Mode: MountReadOnly, Optional: true},
			{Source: "/etc/ssl", Mode: MountReadOnly, Optional: true},
			{Source: "/etc/ca-certificates", Mode: MountReadOnly, Optional: true},
			{Source: "${PROJECT}", Mode: MountReadWrite},
		},
		Namespaces: Namespaces{PID: true, IPC: true, UTS: true, Cgroup: true, User: true},
		Environment: map[string]string{
			"PATH": "/usr/local/bin:/usr/bin:/bin",
			"HOME": "${PROJECT}/.home",
			"TERM": "dumb",
		},
		CreateDirs: []string{"/tmp", "/var/tmp"},
	}
}

// LoadProfile reads a profile from a YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sandbox profile %s: %w", path, err)
	}
	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parsing sandbox profile %s: %w", path, err)
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("sandbox profile %s: %w", path, err)
	}
	return &profile, nil
}

// Validate checks the profile for structural errors.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	hasProjectMount := false
	for i, mount := range p.Filesystem {
		if mount.Source == "" {
			return fmt.Errorf("filesystem[%d]: source is required", i)
		}
		switch mount.Mode {
		case "", MountReadOnly, MountReadWrite:
		default:
			return fmt.Errorf("filesystem[%d]: invalid mode %q", i, mount.Mode)
		}
		if strings.Contains(mount.Source, "${PROJECT}") && mount.Mode == MountReadWrite {
			hasProjectMount = true
		}
	}
	if !hasProjectMount {
		return fmt.Errorf("profile must contain a read-write ${PROJECT} mount")
	}
	return nil
}

// expand substitutes ${PROJECT} in a profile string.
func expand(s, projectPath string) string {
	return strings.ReplaceAll(s, "${PROJECT}", projectPath)
}
