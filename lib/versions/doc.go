// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

// Package versions records build history as an immutable chain of
// semantically numbered versions per project. Version numbers are
// derived, never supplied: the parent's number is bumped by the
// build's change type, and a UNIQUE constraint turns concurrent
// number races into retries instead of duplicates.
package versions
