// Package queue provides the FIFO task queues shared by the supervisor and
// the worker pools.
//
// Enqueue never blocks. Dequeue blocks the calling worker until an item is
// available or its context is done. Every item is delivered to exactly one
// consumer, in insertion order.
package queue

import (
	"context"
	"fmt"
	"time"
)

// DropFunc is told about a delayed item that could not be re-inserted.
// It runs on the timer goroutine.
type DropFunc[T any] func(item T, err error)

// Queue is a thread-safe FIFO of typed work items
type Queue[T any] interface {
	// Enqueue appends item to the tail without blocking
	Enqueue(ctx context.Context, item T) error

	// EnqueueAfter appends item to the tail once delay has elapsed.
	// If the item cannot be appended then, onDrop (when non-nil) is called
	// with the item and the reason. Items cancelled by Close are not reported.
	EnqueueAfter(item T, delay time.Duration, onDrop DropFunc[T])

	// Dequeue removes and returns the head, blocking until one exists
	Dequeue(ctx context.Context) (T, error)

	// Size returns a snapshot of the number of queued items
	Size() int

	// Close rejects further items and drops pending delayed insertions.
	// It returns the number of delayed items dropped.
	Close() int
}

// MalformedItemError is returned by Dequeue for a stored payload that could
// not be decoded. The payload is gone from the queue. LeadID is set when the
// payload still names its lead.
type MalformedItemError struct {
	LeadID string
	Err    error
}

func (e *MalformedItemError) Error() string {
	return fmt.Sprintf("malformed task for lead %q: %v", e.LeadID, e.Err)
}

func (e *MalformedItemError) Unwrap() error {
	return e.Err
}
