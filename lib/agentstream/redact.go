// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package agentstream

import (
	"regexp"
	"strings"
)

// Redaction placeholders. Stable strings so downstream consumers can
// detect that material was removed.
const (
	placeholderPath   = "[path]"
	placeholderSecret = "[redacted]"
	placeholderID     = "[id]"
)

var (
	// Bearer and basic authorization values, wherever they appear.
	authHeaderPattern = regexp.MustCompile(`(?i)\b(bearer|basic)\s+[A-Za-z0-9\-._~+/]+=*`)

	// Key/token assignments: api_key=..., "token": "...", SECRET: ...
	credentialAssignPattern = regexp.MustCompile(`(?i)\b(api[_-]?key|access[_-]?key|secret|token|password|credential)s?\b(["']?\s*[:=]\s*["']?)[^\s"',}]+`)

	// Provider-prefixed secrets (sk-..., ghp_..., xoxb-...).
	providerKeyPattern = regexp.MustCompile(`\b(sk-[A-Za-z0-9\-_]{8,}|ghp_[A-Za-z0-9]{20,}|xox[a-z]-[A-Za-z0-9\-]{10,})\b`)

	// Absolute filesystem paths. Anchored to well-known roots so URLs
	// and module paths survive.
	absolutePathPattern = regexp.MustCompile(`(/(?:home|root|srv|var|tmp|etc|opt|usr|proc|sys|run|mnt|data)(?:/[\w.@+-]+)+/?)`)

	// UUID-shaped internal identifiers.
	uuidPattern = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)

	// Stack-trace frames: JavaScript "at fn (file:line)", Go
	// "goroutine N [state]:" blocks, Python tracebacks.
	jsFramePattern     = regexp.MustCompile(`(?m)^[ \t]+at .+$\n?`)
	goroutinePattern   = regexp.MustCompile(`(?s)goroutine \d+ \[[^\]]*\]:.*`)
	pyTracebackPattern = regexp.MustCompile(`(?s)Traceback \(most recent call last\):.*`)
)

// Redactor strips sensitive material from agent output before it
// crosses the trust boundary: credentials, absolute host paths,
// internal identifiers, and stack traces.
type Redactor struct{}

// NewRedactor returns a Redactor with the built-in rules.
func NewRedactor() *Redactor {
	return &Redactor{}
}

// Clean returns s with all sensitive material replaced by stable
// placeholders. Order matters: credentials first, so a token embedded
// in a path is caught even if the path pattern would split it.
func (r *Redactor) Clean(s string) string {
	if s == "" {
		return s
	}
	s = authHeaderPattern.ReplaceAllString(s, placeholderSecret)
	s = credentialAssignPattern.ReplaceAllString(s, "${1}${2}"+placeholderSecret)
	s = providerKeyPattern.ReplaceAllString(s, placeholderSecret)
	s = jsFramePattern.ReplaceAllString(s, "")
	s = goroutinePattern.ReplaceAllString(s, "[stack trace removed]")
	s = pyTracebackPattern.ReplaceAllString(s, "[stack trace removed]")
	s = absolutePathPattern.ReplaceAllString(s, placeholderPath)
	s = uuidPattern.ReplaceAllString(s, placeholderID)
	return strings.TrimRight(s, "\n")
}
