// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package agentstream

import (
	"context"
	"sync"
)

// Buffer is a bounded event queue between a run's producer and a
// single consumer. When the consumer falls behind and the buffer is
// full, the oldest unconsumed progress event is dropped to make room;
// terminal events are never dropped and always fit. This keeps slow
// subscribers from stalling a run while preserving the events that
// carry state.
type Buffer struct {
	mu      sync.Mutex
	events  []Event
	cap     int
	closed  bool
	dropped uint64

	// notify wakes a blocked Next. Capacity 1: a pending wakeup is
	// enough, extra signals collapse.
	notify chan struct{}
}

// NewBuffer returns a Buffer holding at most capacity events.
// Capacities below 1 are raised to 1.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		cap:    capacity,
		notify: make(chan struct{}, 1),
	}
}

// Push enqueues an event, evicting the oldest progress event if the
// buffer is full. A terminal event is appended even when no eviction
// candidate exists, temporarily exceeding capacity by one; for
// non-terminal events with no candidate, the oldest non-terminal
// event is evicted instead. Push never blocks.
func (b *Buffer) Push(event Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	if len(b.events) >= b.cap {
		if i := b.oldestEvictable(); i >= 0 {
			b.events = append(b.events[:i], b.events[i+1:]...)
			b.dropped++
		} else if !event.Terminal() {
			// Buffer full of terminals (degenerate); drop the new
			// non-terminal event rather than a terminal one.
			b.dropped++
			b.mu.Unlock()
			return
		}
	}

	b.events = append(b.events, event)
	b.mu.Unlock()
	b.wake()
}

// oldestEvictable returns the index of the oldest progress event, or
// failing that the oldest non-terminal event, or -1.
func (b *Buffer) oldestEvictable() int {
	for i, event := range b.events {
		if event.Kind == KindProgress {
			return i
		}
	}
	for i, event := range b.events {
		if !event.Terminal() {
			return i
		}
	}
	return -1
}

// Next returns the oldest buffered event, blocking until one is
// available. It returns ok=false once the buffer is closed and
// drained, or a non-nil error when ctx is done first.
func (b *Buffer) Next(ctx context.Context) (Event, bool, error) {
	for {
		b.mu.Lock()
		if len(b.events) > 0 {
			event := b.events[0]
			b.events = b.events[1:]
			b.mu.Unlock()
			return event, true, nil
		}
		closed := b.closed
		b.mu.Unlock()

		if closed {
			return Event{}, false, nil
		}

		select {
		case <-b.notify:
		case <-ctx.Done():
			return Event{}, false, ctx.Err()
		}
	}
}

// Close marks the buffer as complete. Buffered events remain readable;
// once drained, Next returns ok=false. Push after Close is a no-op.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wake()
}

// Dropped returns the number of events evicted or discarded so far.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func (b *Buffer) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}
