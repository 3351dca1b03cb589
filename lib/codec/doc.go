// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding used on the engine's
// control socket. Encoding is deterministic (RFC 8949 §4.2) so the
// same logical message always produces identical bytes; decoding
// ignores unknown fields for forward compatibility.
package codec
