// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package agentstream

import (
	"context"
	"testing"
	"time"
)

func progressEvent(seq uint64) Event {
	return Event{Kind: KindProgress, Sequence: seq, Progress: &ProgressPayload{}}
}

func TestBufferDeliversInOrder(t *testing.T) {
	buffer := NewBuffer(8)
	for i := uint64(1); i <= 3; i++ {
		buffer.Push(progressEvent(i))
	}

	for want := uint64(1); want <= 3; want++ {
		event, ok, err := buffer.Next(context.Background())
		if err != nil || !ok {
			t.Fatalf("Next: ok=%v err=%v", ok, err)
		}
		if event.Sequence != want {
			t.Fatalf("Sequence = %d, want %d", event.Sequence, want)
		}
	}
}

func TestBufferCoalescesOldestProgress(t *testing.T) {
	buffer := NewBuffer(3)
	buffer.Push(progressEvent(1))
	buffer.Push(Event{Kind: KindToolUse, Sequence: 2, ToolUse: &ToolUsePayload{Name: "Edit"}})
	buffer.Push(progressEvent(3))

	// Full. The oldest progress event (seq 1) is evicted, not the
	// tool_use.
	buffer.Push(progressEvent(4))

	if buffer.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", buffer.Dropped())
	}
	event, _, _ := buffer.Next(context.Background())
	if event.Sequence != 2 {
		t.Errorf("first delivered = %d, want 2 (seq 1 evicted)", event.Sequence)
	}
}

func TestBufferNeverDropsTerminal(t *testing.T) {
	buffer := NewBuffer(2)
	buffer.Push(progressEvent(1))
	buffer.Push(progressEvent(2))

	terminal := Event{Kind: KindCompleted, Sequence: 3, Completed: &CompletedPayload{}}
	buffer.Push(terminal)

	var sawTerminal bool
	for buffer.Len() > 0 {
		event, ok, err := buffer.Next(context.Background())
		if err != nil || !ok {
			t.Fatalf("Next: ok=%v err=%v", ok, err)
		}
		if event.Terminal() {
			sawTerminal = true
		}
	}
	if !sawTerminal {
		t.Fatal("terminal event dropped")
	}
}

func TestBufferNextBlocksUntilPush(t *testing.T) {
	buffer := NewBuffer(4)
	done := make(chan Event, 1)

	go func() {
		event, _, _ := buffer.Next(context.Background())
		done <- event
	}()

	time.Sleep(10 * time.Millisecond)
	buffer.Push(progressEvent(7))

	select {
	case event := <-done:
		if event.Sequence != 7 {
			t.Errorf("Sequence = %d", event.Sequence)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not wake on Push")
	}
}

func TestBufferNextHonorsContext(t *testing.T) {
	buffer := NewBuffer(4)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := buffer.Next(ctx)
	if err == nil {
		t.Fatal("Next returned without error on cancelled context")
	}
}

func TestBufferCloseDrains(t *testing.T) {
	buffer := NewBuffer(4)
	buffer.Push(progressEvent(1))
	buffer.Close()

	if _, ok, _ := buffer.Next(context.Background()); !ok {
		t.Fatal("buffered event lost on close")
	}
	if _, ok, _ := buffer.Next(context.Background()); ok {
		t.Fatal("Next returned ok on drained closed buffer")
	}

	// Push after close is ignored.
	buffer.Push(progressEvent(2))
	if buffer.Len() != 0 {
		t.Error("push after close buffered an event")
	}
}
