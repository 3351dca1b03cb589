// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

// sitewright-engined is the build engine daemon. It owns the sandboxed
// agent session pool, the version history database, and the
// content-addressed artifact store, and exposes them over a CBOR
// control socket: builds stream their events live, versions are
// queried and published, and rollbacks restore earlier snapshots.
package main
