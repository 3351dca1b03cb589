// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor manages the pool of long-lived sandboxed agent
// sessions. Each project has at most one session; a session is leased
// for the duration of a build (Acquire/Release) and kept warm between
// builds until idle eviction reclaims it. Eviction and shutdown send
// SIGTERM first and escalate to SIGKILL after a grace period.
package supervisor
