// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
)

// bwrapBinary is the bubblewrap executable name.
const bwrapBinary = "bwrap"

// BwrapPath locates bubblewrap on the host.
func BwrapPath() (string, error) {
	path, err := exec.LookPath(bwrapBinary)
	if err != nil {
		return "", fmt.Errorf("bubblewrap not found in PATH: %w", err)
	}
	return path, nil
}

// BwrapArgs holds the inputs for building a bubblewrap argument list.
type BwrapArgs struct {
	// Profile is the isolation profile, with ${PROJECT} unexpanded.
	Profile *Profile

	// ProjectPath is the absolute project working directory.
	ProjectPath string

	// ExtraEnv overrides or extends the profile environment.
	ExtraEnv map[string]string

	// SeccompFD is the inherited file descriptor carrying the
	// compiled seccomp filter. Zero means no filter.
	SeccompFD int

	// Command is the agent command and arguments.
	Command []string
}

// BuildBwrapArgs constructs the bubblewrap argument list for a spawn.
// The environment is always cleared; only profile and per-spawn
// variables cross the boundary.
func BuildBwrapArgs(args BwrapArgs) ([]string, error) {
	if args.Profile == nil {
		return nil, fmt.Errorf("profile is required")
	}
	if args.ProjectPath == "" {
		return nil, fmt.Errorf("project path is required")
	}
	if len(args.Command) == 0 {
		return nil, fmt.Errorf("command is required")
	}

	var result []string

	ns := args.Profile.Namespaces
	if ns.User {
		result = append(result, "--unshare-user")
	}
	if ns.PID {
		result = append(result, "--unshare-pid")
	}
	if ns.IPC {
		result = append(result, "--unshare-ipc")
	}
	if ns.UTS {
		result = append(result, "--unshare-uts")
	}
	if ns.Cgroup {
		result = append(result, "--unshare-cgroup")
	}
	if ns.Net {
		result = append(result, "--unshare-net")
	}

	result = append(result, "--die-with-parent", "--new-session")
	result = append(result, "--proc", "/proc", "--dev", "/dev")

	for _, mount := range args.Profile.Filesystem {
		source := expand(mount.Source, args.ProjectPath)
		dest := expand(mount.Dest, args.ProjectPath)
		if dest == "" {
			dest = source
		}
		if mount.Optional {
			if _, err := os.Stat(source); err != nil {
				continue
			}
		}
		switch mount.Mode {
		case MountReadWrite:
			result = append(result, "--bind", source, dest)
		default:
			result = append(result, "--ro-bind", source, dest)
		}
	}

	for _, dir := range args.Profile.CreateDirs {
		result = append(result, "--tmpfs", dir)
	}

	if args.SeccompFD > 0 {
		result = append(result, "--seccomp", fmt.Sprintf("%d", args.SeccompFD))
	}

	result = append(result, "--clearenv")

	env := make(map[string]string, len(args.Profile.Environment)+len(args.ExtraEnv))
	for key, value := range args.Profile.Environment {
		env[key] = expand(value, args.ProjectPath)
	}
	for key, value := range args.ExtraEnv {
		env[key] = value
	}
	// Sorted for deterministic argument lists.
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		result = append(result, "--setenv", key, env[key])
	}

	result = append(result, "--chdir", args.ProjectPath)
	result = append(result, "--")
	result = append(result, args.Command...)
	return result, nil
}
