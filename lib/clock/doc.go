// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code
// injects Real(); tests inject Fake() and advance it deterministically.
//
// Anything in the engine that sleeps, ticks, or compares deadlines
// (the supervisor's idle sweep, rollback lock TTLs, cancellation grace
// periods) takes a Clock instead of calling the time package directly.
package clock
