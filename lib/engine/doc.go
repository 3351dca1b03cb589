// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine orchestrates builds end to end: it leases a
// sandboxed agent session from the supervisor, feeds the prompt to
// the agent, streams typed events to the caller, and on a successful
// terminal event snapshots the working directory, stores the
// artifact, and commits a new version. It also fronts cancellation
// and rollback requests.
package engine
