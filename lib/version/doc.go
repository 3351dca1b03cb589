// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for Sitewright
// binaries, injected at build time via -ldflags:
//
//	go build -ldflags "-X github.com/sitewright/sitewright/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version
