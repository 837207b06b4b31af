package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/campaign-crm/internal/campaign/domain"
	"github.com/redis/go-redis/v9"
)

const defaultBlockFor = time.Second

// Redis is a Queue stored in a Redis list so several service instances can
// share it. Items are JSON encoded, pushed with LPUSH and popped with BRPOP.
type Redis[T any] struct {
	client   *redis.Client
	key      string
	blockFor time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
	timers map[*time.Timer]struct{}
}

// NewRedis creates a Redis-backed queue stored under key
func NewRedis[T any](client *redis.Client, key string, logger *slog.Logger) *Redis[T] {
	return &Redis[T]{
		client:   client,
		key:      key,
		blockFor: defaultBlockFor,
		logger:   logger,
		timers:   make(map[*time.Timer]struct{}),
	}
}

// Enqueue pushes item onto the tail of the list
func (q *Redis[T]) Enqueue(ctx context.Context, item T) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return domain.ErrQueueClosed
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push task: %w", err)
	}
	return nil
}

// EnqueueAfter pushes item once delay has elapsed. onDrop is called if the
// push fails or the queue has been closed.
func (q *Redis[T]) EnqueueAfter(item T, delay time.Duration, onDrop DropFunc[T]) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		if onDrop != nil {
			onDrop(item, domain.ErrQueueClosed)
		}
		return
	}
	defer q.mu.Unlock()

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := q.Enqueue(ctx, item); err != nil {
			q.logger.Error("Failed to re-enqueue delayed task",
				slog.String("queue", q.key),
				slog.Any("error", err),
			)
			if onDrop != nil {
				onDrop(item, err)
			}
		}
	})
	q.timers[timer] = struct{}{}
}

// Dequeue pops the head of the list, blocking until an item exists or ctx is done.
// Each BRPOP runs detached from ctx so a popped item is never lost to cancellation.
func (q *Redis[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T

	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := q.client.BRPop(context.WithoutCancel(ctx), q.blockFor, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return zero, fmt.Errorf("failed to pop task: %w", err)
		}

		if len(result) != 2 {
			return zero, fmt.Errorf("unexpected BRPOP result: %v", result)
		}

		var item T
		if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
			return zero, q.quarantine(result[1], err)
		}
		return item, nil
	}
}

// Size returns the list length, or 0 if Redis cannot be reached
func (q *Redis[T]) Size() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		q.logger.Warn("Failed to read queue length",
			slog.String("queue", q.key),
			slog.Any("error", err),
		)
		return 0
	}
	return int(n)
}

// Close rejects further items and cancels pending delayed pushes
func (q *Redis[T]) Close() int {
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

// DeadKey returns the list that undecodable payloads are moved to
func (q *Redis[T]) DeadKey() string {
	return q.key + ":dead"
}

// quarantine moves an undecodable payload to the dead list and returns a
// *MalformedItemError carrying whatever lead ID could still be read from it.
func (q *Redis[T]) quarantine(raw string, decodeErr error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := q.client.LPush(ctx, q.DeadKey(), raw).Err(); err != nil {
		q.logger.Error("Failed to move malformed task to dead list",
			slog.String("queue", q.key),
			slog.Any("error", err),
		)
	}

	var ref struct {
		LeadID string `json:"lead_id"`
	}
	_ = json.Unmarshal([]byte(raw), &ref)

	return &MalformedItemError{LeadID: ref.LeadID, Err: decodeErr}
}
