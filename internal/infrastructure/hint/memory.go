package hint

import (
	"context"
	"sync"
)

// DefaultMemoryCap bounds the in-process queue. The hint is advisory, so
// dropping pushes beyond the cap only costs pull latency, never correctness.
const DefaultMemoryCap = 10000

// Memory is a mutex-guarded in-process FIFO. It is the default hint when no
// Redis endpoint is configured and the implementation used in tests.
type Memory struct {
	mu  sync.Mutex
	ids []string
	cap int
}

// NewMemory creates an in-process hint queue with the given capacity.
// A non-positive cap falls back to DefaultMemoryCap.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCap
	}
	return &Memory{cap: capacity}
}

// Push appends ids, silently dropping those beyond the capacity.
func (m *Memory) Push(_ context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if len(m.ids) >= m.cap {
			break
		}
		m.ids = append(m.ids, id)
	}
	return nil
}

// Pop removes and returns the oldest id.
func (m *Memory) Pop(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.ids) == 0 {
		return "", ErrEmpty
	}
	id := m.ids[0]
	m.ids = m.ids[1:]
	return id, nil
}

// Len returns the current queue depth.
func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ids), nil
}

// Close is a no-op for the in-process queue.
func (m *Memory) Close() error {
	return nil
}
