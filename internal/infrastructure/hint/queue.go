// Package hint implements the advisory ready-queue: a FIFO of job ids that
// workers consult before scanning the store. The queue is never authoritative;
// every transition is authorized by a conditional update on the job store, so
// duplicate and stale entries are harmless and lost entries are recovered by
// the store fallback scan.
package hint

import (
	"context"
	"errors"
)

// ErrEmpty is returned by Pop when the queue holds no ids.
var ErrEmpty = errors.New("hint queue is empty")

// Queue is a FIFO of job ids.
type Queue interface {
	// Push appends ids to the tail of the queue.
	Push(ctx context.Context, ids ...string) error

	// Pop removes and returns the id at the head of the queue.
	// Returns ErrEmpty when the queue holds none.
	Pop(ctx context.Context) (string, error)

	// Len returns the current queue depth.
	Len(ctx context.Context) (int, error)

	// Close releases any resources held by the queue.
	Close() error
}
