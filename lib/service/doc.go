// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

// Package service implements the engine's control protocol: CBOR
// request-response over a Unix socket, with a streaming mode for
// following live build output. The daemon registers action handlers;
// sitewrightctl and the platform backend are clients.
package service
