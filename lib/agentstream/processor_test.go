// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package agentstream

import (
	"strings"
	"testing"
	"time"

	"github.com/sitewright/sitewright/lib/clock"
)

func newTestProcessor() *Processor {
	return NewProcessor(clock.Fake(time.Unix(1700000000, 0)))
}

func TestProcessLineInit(t *testing.T) {
	p := newTestProcessor()
	events := p.ProcessLine([]byte(`{"type":"system","subtype":"init","session_id":"s-1","model":"m-large"}`))
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	event := events[0]
	if event.Kind != KindConnection {
		t.Fatalf("Kind = %q", event.Kind)
	}
	if event.Connection == nil || event.Connection.Model != "m-large" {
		t.Errorf("Connection = %+v", event.Connection)
	}
	if event.Sequence != 1 {
		t.Errorf("Sequence = %d, want 1", event.Sequence)
	}
}

func TestProcessLineAssistantBlocks(t *testing.T) {
	p := newTestProcessor()
	line := `{"type":"assistant","message":{"content":[` +
		`{"type":"text","text":"updating the nav"},` +
		`{"type":"tool_use","id":"tu_1","name":"Edit","input":{"path":"src/nav.ts"}}]}}`

	events := p.ProcessLine([]byte(line))
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Kind != KindText || events[0].Text.Content != "updating the nav" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Kind != KindToolUse || events[1].ToolUse.Name != "Edit" {
		t.Errorf("second event = %+v", events[1])
	}
	if events[1].Sequence != events[0].Sequence+1 {
		t.Error("sequence not contiguous across blocks")
	}
}

func TestProcessLineToolResult(t *testing.T) {
	p := newTestProcessor()
	line := `{"type":"user","message":{"content":[` +
		`{"type":"tool_result","tool_use_id":"tu_1","is_error":true,"content":"no such file"}]}}`

	events := p.ProcessLine([]byte(line))
	if len(events) != 1 || events[0].Kind != KindToolResult {
		t.Fatalf("events = %+v", events)
	}
	result := events[0].ToolResult
	if !result.IsError || result.Output != "no such file" || result.ID != "tu_1" {
		t.Errorf("ToolResult = %+v", result)
	}
}

func TestProcessLineGarbledBecomesText(t *testing.T) {
	p := newTestProcessor()
	events := p.ProcessLine([]byte(`npm WARN deprecated something`))
	if len(events) != 1 || events[0].Kind != KindText {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Text.Content != "npm WARN deprecated something" {
		t.Errorf("Content = %q", events[0].Text.Content)
	}
}

func TestProcessLineBlankIsDropped(t *testing.T) {
	p := newTestProcessor()
	if events := p.ProcessLine([]byte("   \n")); events != nil {
		t.Fatalf("blank line produced %+v", events)
	}
}

func TestSequenceStrictlyIncreasing(t *testing.T) {
	p := newTestProcessor()
	lines := []string{
		`{"type":"system","subtype":"init"}`,
		`not json at all`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"a"}]}}`,
		`{"type":"result","subtype":"success","result":"done"}`,
	}
	var last uint64
	for _, line := range lines {
		for _, event := range p.ProcessLine([]byte(line)) {
			if event.Sequence != last+1 {
				t.Fatalf("sequence %d after %d", event.Sequence, last)
			}
			last = event.Sequence
		}
	}
}

func TestTerminalSuccess(t *testing.T) {
	p := newTestProcessor()
	line := `{"type":"result","subtype":"success","result":"rebuilt homepage",` +
		`"duration_ms":5120,"num_turns":7,"usage":{"input_tokens":900,"output_tokens":450}}`

	events := p.ProcessLine([]byte(line))
	if len(events) != 1 || events[0].Kind != KindCompleted {
		t.Fatalf("events = %+v", events)
	}
	completed := events[0].Completed
	if completed.Summary != "rebuilt homepage" || completed.DurationMs != 5120 {
		t.Errorf("Completed = %+v", completed)
	}
	if completed.InputTokens != 900 || completed.OutputTokens != 450 || completed.TurnCount != 7 {
		t.Errorf("usage = %+v", completed)
	}
	if !p.SawTerminal() {
		t.Error("SawTerminal = false after result")
	}
}

func TestTerminalFailure(t *testing.T) {
	p := newTestProcessor()
	events := p.ProcessLine([]byte(`{"type":"result","subtype":"error_max_turns","is_error":true}`))
	if len(events) != 1 || events[0].Kind != KindFailed {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Failed.Code != FailureAgentError {
		t.Errorf("Code = %q", events[0].Failed.Code)
	}
}

func TestDuplicateTerminalDemoted(t *testing.T) {
	p := newTestProcessor()
	p.ProcessLine([]byte(`{"type":"result","subtype":"success","result":"first"}`))
	events := p.ProcessLine([]byte(`{"type":"result","subtype":"success","result":"second"}`))
	if len(events) != 1 || events[0].Kind != KindText {
		t.Fatalf("duplicate terminal = %+v", events)
	}
}

func TestFinalizeSynthesizesFailure(t *testing.T) {
	p := newTestProcessor()
	p.ProcessLine([]byte(`{"type":"system","subtype":"init"}`))

	event := p.Finalize(FailureExited, "agent exited with code 137 in /srv/projects/p9")
	if event == nil || event.Kind != KindFailed {
		t.Fatalf("Finalize = %+v", event)
	}
	if event.Failed.Code != FailureExited {
		t.Errorf("Code = %q", event.Failed.Code)
	}
	if strings.Contains(event.Failed.Message, "/srv/projects/p9") {
		t.Errorf("path leaked into synthesized failure: %q", event.Failed.Message)
	}
}

func TestFinalizeAfterTerminalIsNil(t *testing.T) {
	p := newTestProcessor()
	p.ProcessLine([]byte(`{"type":"result","subtype":"success","result":"ok"}`))
	if event := p.Finalize(FailureExited, "late"); event != nil {
		t.Fatalf("Finalize after terminal = %+v", event)
	}
}

func TestRedactionOfToolOutput(t *testing.T) {
	p := newTestProcessor()
	line := `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu_2",` +
		`"content":"wrote /home/build/proj123/src/index.ts with token=sk-abc123def456ghi789"}]}}`

	events := p.ProcessLine([]byte(line))
	output := events[0].ToolResult.Output
	if strings.Contains(output, "/home/build/proj123/src/index.ts") {
		t.Errorf("absolute path leaked: %q", output)
	}
	if strings.Contains(output, "sk-abc123def456ghi789") {
		t.Errorf("credential leaked: %q", output)
	}
}
