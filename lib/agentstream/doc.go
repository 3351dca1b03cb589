// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentstream turns raw agent stdout into a stream of typed,
// redacted events. The agent runtime emits one JSON record per line
// ("stream-json"); the processor classifies each record, strips
// sensitive material, and assigns a strictly increasing sequence
// number. Lines that fail to parse become text events carrying the
// redacted raw line, so output is never silently dropped.
package agentstream
