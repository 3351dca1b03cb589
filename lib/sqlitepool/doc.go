// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides a fixed-size SQLite connection pool with
// the engine's standard pragmas. The version store and the rollback
// lock store share one pool per database file.
package sqlitepool
