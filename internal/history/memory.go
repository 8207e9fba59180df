package history

import (
	"context"
	"sync"
)

// Memory keeps the most recent events in a fixed-size ring.
type Memory struct {
	mu     sync.Mutex
	events []Event
	next   int
	full   bool
}

// NewMemory creates a ring holding at most capacity events.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{events: make([]Event, capacity)}
}

// Record stores e, evicting the oldest event when the ring is full.
func (m *Memory) Record(_ context.Context, e Event) error {
	if e.ID == "" {
		e.ID = NewID()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.events[m.next] = e
	m.next = (m.next + 1) % len(m.events)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (m *Memory) Recent(_ context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.next
	if m.full {
		n = len(m.events)
	}
	limit = min(limit, n)

	out := make([]Event, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.events)) % len(m.events)
		out = append(out, m.events[idx])
	}
	return out, nil
}

// Close is a no-op.
func (m *Memory) Close() {}
