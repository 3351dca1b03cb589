// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package agentstream

// Kind classifies stream events.
type Kind string

const (
	// KindConnection is the agent's session-start announcement.
	KindConnection Kind = "connection"

	// KindProgress is an operational status update.
	KindProgress Kind = "progress"

	// KindToolUse is a tool invocation by the agent.
	KindToolUse Kind = "tool_use"

	// KindToolResult is the result of a tool invocation.
	KindToolResult Kind = "tool_result"

	// KindText is a text response, or raw output that failed to parse
	// as a structured record. Garbled agent output is never dropped.
	KindText Kind = "text"

	// KindCompleted is the successful terminal event.
	KindCompleted Kind = "completed"

	// KindFailed is the failing terminal event.
	KindFailed Kind = "failed"
)

// Event is one structured, redacted unit of agent output. Exactly one
// payload pointer is set, matching Kind. Sequence is strictly
// increasing within a run, and every run ends with exactly one
// terminal event.
type Event struct {
	// Kind classifies the event.
	Kind Kind `json:"kind" cbor:"kind"`

	// Sequence is the monotonic per-run event number, starting at 1.
	Sequence uint64 `json:"sequence" cbor:"sequence"`

	// TimestampMs is the event time in Unix milliseconds.
	TimestampMs int64 `json:"timestamp_ms" cbor:"timestamp_ms"`

	// Connection is set for KindConnection.
	Connection *ConnectionPayload `json:"connection,omitempty" cbor:"connection,omitempty"`

	// Progress is set for KindProgress.
	Progress *ProgressPayload `json:"progress,omitempty" cbor:"progress,omitempty"`

	// ToolUse is set for KindToolUse.
	ToolUse *ToolUsePayload `json:"tool_use,omitempty" cbor:"tool_use,omitempty"`

	// ToolResult is set for KindToolResult.
	ToolResult *ToolResultPayload `json:"tool_result,omitempty" cbor:"tool_result,omitempty"`

	// Text is set for KindText.
	Text *TextPayload `json:"text,omitempty" cbor:"text,omitempty"`

	// Completed is set for KindCompleted.
	Completed *CompletedPayload `json:"completed,omitempty" cbor:"completed,omitempty"`

	// Failed is set for KindFailed.
	Failed *FailedPayload `json:"failed,omitempty" cbor:"failed,omitempty"`
}

// Terminal reports whether the event ends a run.
func (e Event) Terminal() bool {
	return e.Kind == KindCompleted || e.Kind == KindFailed
}

// ConnectionPayload announces an established agent session.
type ConnectionPayload struct {
	// SessionID is the agent runtime's session identifier.
	SessionID string `json:"session_id,omitempty" cbor:"session_id,omitempty"`

	// Model is the model the agent is running with.
	Model string `json:"model,omitempty" cbor:"model,omitempty"`
}

// ProgressPayload is an operational status update.
type ProgressPayload struct {
	// Stage further classifies the update (e.g. "compact_boundary").
	Stage string `json:"stage,omitempty" cbor:"stage,omitempty"`

	// Message is a human-safe description.
	Message string `json:"message,omitempty" cbor:"message,omitempty"`
}

// ToolUsePayload records a tool invocation.
type ToolUsePayload struct {
	// ID is the runtime's tool-use identifier.
	ID string `json:"id,omitempty" cbor:"id,omitempty"`

	// Name is the tool name.
	Name string `json:"name" cbor:"name"`

	// Input is the tool input rendered as a redacted string.
	Input string `json:"input,omitempty" cbor:"input,omitempty"`
}

// ToolResultPayload records a tool result.
type ToolResultPayload struct {
	// ID matches the corresponding ToolUsePayload.ID.
	ID string `json:"id,omitempty" cbor:"id,omitempty"`

	// IsError indicates the tool call failed.
	IsError bool `json:"is_error,omitempty" cbor:"is_error,omitempty"`

	// Output is the redacted result text.
	Output string `json:"output,omitempty" cbor:"output,omitempty"`
}

// TextPayload carries agent text or unparseable raw output.
type TextPayload struct {
	// Content is the redacted text.
	Content string `json:"content" cbor:"content"`
}

// CompletedPayload is the successful terminal event.
type CompletedPayload struct {
	// Summary is the agent's redacted result text, used downstream
	// for semantic version classification.
	Summary string `json:"summary,omitempty" cbor:"summary,omitempty"`

	// DurationMs is the run duration reported by the agent.
	DurationMs int64 `json:"duration_ms,omitempty" cbor:"duration_ms,omitempty"`

	// InputTokens and OutputTokens are the run's token counts.
	InputTokens  int64 `json:"input_tokens,omitempty" cbor:"input_tokens,omitempty"`
	OutputTokens int64 `json:"output_tokens,omitempty" cbor:"output_tokens,omitempty"`

	// TurnCount is the number of agent turns.
	TurnCount int64 `json:"turn_count,omitempty" cbor:"turn_count,omitempty"`

	// VersionID and VersionNumber identify the version the build
	// committed. Filled by the engine once the commit lands.
	VersionID     string `json:"version_id,omitempty" cbor:"version_id,omitempty"`
	VersionNumber string `json:"version_number,omitempty" cbor:"version_number,omitempty"`
}

// FailedPayload is the failing terminal event. Only a stable code and
// a human-safe message cross the boundary; raw diagnostics never do.
type FailedPayload struct {
	// Code is a stable, machine-readable failure code.
	Code string `json:"code" cbor:"code"`

	// Message is a redacted, human-safe description.
	Message string `json:"message" cbor:"message"`
}

// Stable failure codes.
const (
	// FailureAgentError means the agent itself reported failure.
	FailureAgentError = "agent_error"

	// FailureExited means the process exited without a terminal event.
	FailureExited = "agent_exited"

	// FailureCancelled means the run was cancelled by the caller.
	FailureCancelled = "cancelled"

	// FailureTimeout means the run exceeded its execution timeout.
	FailureTimeout = "timeout"

	// FailureCommit means the agent finished but the snapshot could
	// not be stored or the version row could not be written.
	FailureCommit = "commit_failed"
)
