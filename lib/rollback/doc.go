// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

// Package rollback restores a project to an earlier version. The
// visible part is fast: the published pointer flips to the target
// artifact and a new rollback-typed version is committed before the
// call returns. The slow part — re-materializing the working
// directory from the artifact — runs in the background under a
// per-project TTL lock, and its outcome drives the project's
// deployment state machine.
package rollback
