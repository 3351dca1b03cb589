// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

// Package buildstore is the content-addressed artifact store. An
// artifact's identity is the SHA-256 of its uncompressed bytes, so
// identical build outputs are stored once and every read is verified
// against the identity it was requested by.
//
// Objects live at objects/<first two hex chars>/<full hex> under the
// store root. Each object file is a 9-byte header (compression tag,
// uncompressed size) followed by the possibly-compressed payload.
// Writes go through a temp file, fsync, and rename, so a crash never
// leaves a partial object at a final path.
package buildstore
