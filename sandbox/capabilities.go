// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"os/exec"
	"strings"
)

// Capabilities describes what isolation primitives the host provides.
type Capabilities struct {
	// BwrapAvailable is true when bubblewrap is installed.
	BwrapAvailable bool

	// BwrapPath is the bubblewrap path when available.
	BwrapPath string

	// BwrapVersion is the bubblewrap version string.
	BwrapVersion string

	// UserNamespacesEnabled is true when unprivileged user namespaces
	// work.
	UserNamespacesEnabled bool
}

// DetectCapabilities probes the host for sandbox support.
func DetectCapabilities() *Capabilities {
	caps := &Capabilities{}

	if path, err := BwrapPath(); err == nil {
		caps.BwrapAvailable = true
		caps.BwrapPath = path
		if out, err := exec.Command(path, "--version").Output(); err == nil {
			caps.BwrapVersion = strings.TrimSpace(string(out))
		}
	}

	caps.UserNamespacesEnabled = checkUserNamespaces(caps.BwrapPath)
	return caps
}

// FullIsolation reports whether the host can run fully sandboxed
// agent processes.
func (c *Capabilities) FullIsolation() bool {
	return c.BwrapAvailable && c.UserNamespacesEnabled
}

// DegradedReason returns a human-readable reason full isolation is
// unavailable, or empty when it is available.
func (c *Capabilities) DegradedReason() string {
	if !c.BwrapAvailable {
		return "bubblewrap not installed"
	}
	if !c.UserNamespacesEnabled {
		return "unprivileged user namespaces not enabled"
	}
	return ""
}

// checkUserNamespaces tests whether unprivileged user namespaces work
// by actually creating one.
func checkUserNamespaces(bwrapPath string) bool {
	data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone")
	if err == nil && strings.TrimSpace(string(data)) == "0" {
		return false
	}
	// File missing usually means userns is allowed; confirm with bwrap.
	if bwrapPath == "" {
		return false
	}
	cmd := exec.Command(bwrapPath, "--unshare-user", "--ro-bind", "/", "/", "--", "true")
	return cmd.Run() == nil
}
