package events

import (
	"context"
	"sync"
)

// MemoryPublisher retains events in a bounded in-process buffer. Used by
// tests and single-node deployments without a broker.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewMemoryPublisher creates a buffer keeping at most limit events.
func NewMemoryPublisher(limit int) *MemoryPublisher {
	if limit <= 0 {
		limit = 1024
	}
	return &MemoryPublisher{limit: limit}
}

// Publish implements Publisher.
func (m *MemoryPublisher) Publish(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	if len(m.events) > m.limit {
		m.events = m.events[len(m.events)-m.limit:]
	}
	return nil
}

// Events returns a copy of the retained events, oldest first.
func (m *MemoryPublisher) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Close implements Publisher.
func (m *MemoryPublisher) Close() error { return nil }

var _ Publisher = (*MemoryPublisher)(nil)
