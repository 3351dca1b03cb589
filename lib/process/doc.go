// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds small helpers shared by the Sitewright binaries.
package process
