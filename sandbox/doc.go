// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox launches agent processes inside an OS-level
// isolation boundary: a bubblewrap filesystem view with exactly one
// read-write project directory, a deny-by-default seccomp syscall
// filter, unshared namespaces, and a cleared environment. Network
// stays shared — the agent must reach its AI API.
//
// On hosts without bubblewrap or user namespaces the executor can
// degrade to a restricted-environment spawn. Degradation is explicit:
// the spawned handle reports IsolationDegraded and the executor logs a
// warning. It never silently claims isolation it cannot provide.
package sandbox
