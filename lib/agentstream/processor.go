// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package agentstream

import (
	"encoding/json"
	"strings"

	"github.com/sitewright/sitewright/lib/clock"
)

// Processor converts raw agent output lines into events for one run.
// Not safe for concurrent use; a run's output is consumed by a single
// goroutine.
type Processor struct {
	clock    clock.Clock
	redactor *Redactor

	sequence    uint64
	sawTerminal bool
}

// NewProcessor returns a Processor for a single run. A nil clk uses
// the system clock.
func NewProcessor(clk clock.Clock) *Processor {
	if clk == nil {
		clk = clock.Real()
	}
	return &Processor{clock: clk, redactor: NewRedactor()}
}

// SawTerminal reports whether a terminal event has been emitted.
func (p *Processor) SawTerminal() bool { return p.sawTerminal }

// streamRecord is the envelope of one stream-json line. Only the
// fields the processor classifies on are declared.
type streamRecord struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	SessionID string          `json:"session_id"`
	Model     string          `json:"model"`
	Message   *streamMessage  `json:"message"`
	Result    string          `json:"result"`
	IsError   bool            `json:"is_error"`
	Duration  int64           `json:"duration_ms"`
	NumTurns  int64           `json:"num_turns"`
	Usage     *streamUsage    `json:"usage"`
}

type streamMessage struct {
	Content []streamContent `json:"content"`
}

type streamContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

type streamUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// ProcessLine classifies one raw output line. It returns zero or more
// events: an assistant message with several content blocks yields one
// event per block, a blank line yields none, and a line that is not
// valid JSON yields a single text event with the redacted raw line.
func (p *Processor) ProcessLine(line []byte) []Event {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return nil
	}

	var record streamRecord
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return []Event{p.textEvent(trimmed)}
	}

	switch record.Type {
	case "system":
		if record.Subtype == "init" {
			return []Event{p.newEvent(KindConnection, func(e *Event) {
				e.Connection = &ConnectionPayload{
					SessionID: record.SessionID,
					Model:     record.Model,
				}
			})}
		}
		return []Event{p.newEvent(KindProgress, func(e *Event) {
			e.Progress = &ProgressPayload{Stage: record.Subtype}
		})}

	case "assistant":
		return p.assistantEvents(record.Message)

	case "user":
		return p.toolResultEvents(record.Message)

	case "result":
		return []Event{p.terminalEvent(record)}

	default:
		// Unknown record types become progress updates rather than
		// being dropped; forward compatibility with new agent output.
		return []Event{p.newEvent(KindProgress, func(e *Event) {
			e.Progress = &ProgressPayload{Stage: record.Type}
		})}
	}
}

// Finalize closes the run. If no terminal event was seen (the agent
// crashed or was killed mid-stream), it synthesizes a failed terminal
// with the given code and a redacted message so every run ends with
// exactly one terminal event. Returns nil when the stream already
// terminated cleanly.
func (p *Processor) Finalize(code, message string) *Event {
	if p.sawTerminal {
		return nil
	}
	event := p.newEvent(KindFailed, func(e *Event) {
		e.Failed = &FailedPayload{
			Code:    code,
			Message: p.redactor.Clean(message),
		}
	})
	p.sawTerminal = true
	return &event
}

func (p *Processor) assistantEvents(message *streamMessage) []Event {
	if message == nil {
		return nil
	}
	var events []Event
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			events = append(events, p.textEvent(block.Text))
		case "tool_use":
			events = append(events, p.newEvent(KindToolUse, func(e *Event) {
				e.ToolUse = &ToolUsePayload{
					ID:    block.ID,
					Name:  block.Name,
					Input: p.redactor.Clean(string(block.Input)),
				}
			}))
		}
	}
	return events
}

func (p *Processor) toolResultEvents(message *streamMessage) []Event {
	if message == nil {
		return nil
	}
	var events []Event
	for _, block := range message.Content {
		if block.Type != "tool_result" {
			continue
		}
		events = append(events, p.newEvent(KindToolResult, func(e *Event) {
			e.ToolResult = &ToolResultPayload{
				ID:      block.ToolUseID,
				IsError: block.IsError,
				Output:  p.redactor.Clean(flattenContent(block.Content)),
			}
		}))
	}
	return events
}

func (p *Processor) terminalEvent(record streamRecord) Event {
	if p.sawTerminal {
		// A second terminal record violates the stream contract;
		// demote it to text so the run still ends exactly once.
		return p.textEvent(record.Result)
	}
	p.sawTerminal = true

	if record.Subtype == "success" && !record.IsError {
		return p.newEvent(KindCompleted, func(e *Event) {
			payload := &CompletedPayload{
				Summary:    p.redactor.Clean(record.Result),
				DurationMs: record.Duration,
				TurnCount:  record.NumTurns,
			}
			if record.Usage != nil {
				payload.InputTokens = record.Usage.InputTokens
				payload.OutputTokens = record.Usage.OutputTokens
			}
			e.Completed = payload
		})
	}

	return p.newEvent(KindFailed, func(e *Event) {
		code := FailureAgentError
		message := record.Result
		if message == "" {
			message = "agent reported " + record.Subtype
		}
		e.Failed = &FailedPayload{
			Code:    code,
			Message: p.redactor.Clean(message),
		}
	})
}

func (p *Processor) textEvent(content string) Event {
	return p.newEvent(KindText, func(e *Event) {
		e.Text = &TextPayload{Content: p.redactor.Clean(content)}
	})
}

func (p *Processor) newEvent(kind Kind, fill func(*Event)) Event {
	p.sequence++
	event := Event{
		Kind:        kind,
		Sequence:    p.sequence,
		TimestampMs: p.clock.Now().UnixMilli(),
	}
	fill(&event)
	return event
}

// flattenContent renders a tool_result content field, which is either
// a plain string or a list of typed blocks, as text.
func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, block := range blocks {
			if block.Type == "text" && block.Text != "" {
				parts = append(parts, block.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}
