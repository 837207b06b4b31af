package queue

import (
	"context"
	"sync"
	"time"

	"github.com/cuongbtq/campaign-crm/internal/campaign/domain"
)

// Memory is an in-process Queue backed by a slice.
// A capacity of zero means unbounded.
type Memory[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	closed   bool
	timers   map[*time.Timer]struct{}

	// ready holds at most one token meaning "the queue may be non-empty"
	ready chan struct{}
}

// NewMemory creates a new in-memory queue
func NewMemory[T any](capacity int) *Memory[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Memory[T]{
		capacity: capacity,
		timers:   make(map[*time.Timer]struct{}),
		ready:    make(chan struct{}, 1),
	}
}

// Enqueue appends item to the tail of the queue
func (q *Memory[T]) Enqueue(ctx context.Context, item T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return domain.ErrQueueClosed
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.mu.Unlock()
		return domain.ErrQueueFull
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.signal()
	return nil
}

// EnqueueAfter schedules item to be appended once delay has elapsed.
// onDrop is called if the queue is full or closed at that point.
func (q *Memory[T]) EnqueueAfter(item T, delay time.Duration, onDrop DropFunc[T]) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		if onDrop != nil {
			onDrop(item, domain.ErrQueueClosed)
		}
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()

		if err := q.Enqueue(context.Background(), item); err != nil && onDrop != nil {
			onDrop(item, err)
		}
	})
	q.timers[timer] = struct{}{}
	q.mu.Unlock()
}

// Dequeue removes and returns the head of the queue, blocking until an item
// is available or ctx is done
func (q *Memory[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T

	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			remaining := len(q.items)
			q.mu.Unlock()

			// Pass the wake-up on to the next waiter
			if remaining > 0 {
				q.signal()
			}
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.ready:
		}
	}
}

// Size returns the number of items currently queued
func (q *Memory[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// pending returns the number of delayed insertions not yet fired
func (q *Memory[T]) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

// Close rejects further items and cancels pending delayed insertions
func (q *Memory[T]) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	dropped := 0
	for timer := range q.timers {
		if timer.Stop() {
			dropped++
		}
		delete(q.timers, timer)
	}
	return dropped
}

func (q *Memory[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
