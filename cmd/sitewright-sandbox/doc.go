// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

// sitewright-sandbox is the operator tool for the isolation layer: it
// reports what the host can sandbox, validates profile and seccomp
// policy files before they go into the engine config, and runs a
// command under the same boundary the engine would give an agent —
// directly or as a dry run that prints the composed bubblewrap
// invocation.
package main
