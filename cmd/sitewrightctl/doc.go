// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

// sitewrightctl is the operator CLI for the Sitewright build engine.
// It talks to the sitewright-engined control socket: starting and
// following builds, inspecting version history, publishing, and
// rolling projects back.
package main
