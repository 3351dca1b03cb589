// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

// Package worktree snapshots a project working directory into a tar
// archive and re-materializes a snapshot back onto disk. Snapshots
// are byte-deterministic — fixed entry order, zeroed timestamps — so
// an unchanged tree produces the same bytes and therefore the same
// content address. Restore diffs by BLAKE3 hash and rewrites only
// files that actually differ, keeping rollback reconciliation cheap
// on large trees.
package worktree
