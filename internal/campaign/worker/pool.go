package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const dequeueErrorBackoff = time.Second

// pool runs a fixed number of goroutines executing the same loop
type pool struct {
	name        string
	concurrency int
	logger      *slog.Logger
	wg          sync.WaitGroup
}

func newPool(name string, concurrency int, logger *slog.Logger) *pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &pool{
		name:        name,
		concurrency: concurrency,
		logger:      logger,
	}
}

// spawn starts concurrency goroutines running loop
func (p *pool) spawn(ctx context.Context, loop func(ctx context.Context, workerName string)) {
	p.logger.Info("Spawning worker pool",
		slog.String("pool", p.name),
		slog.Int("concurrency", p.concurrency),
	)

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		workerName := fmt.Sprintf("%s-%d", p.name, i)
		go func() {
			defer p.wg.Done()

			p.logger.Debug("Worker goroutine started",
				slog.String("worker_name", workerName),
			)
			loop(ctx, workerName)
			p.logger.Debug("Worker goroutine stopped",
				slog.String("worker_name", workerName),
			)
		}()
	}
}

// wait blocks until every goroutine has returned
func (p *pool) wait() {
	p.wg.Wait()
}

// pauseAfterError waits before the next dequeue attempt. It returns false
// if ctx finished first.
func pauseAfterError(ctx context.Context) bool {
	timer := time.NewTimer(dequeueErrorBackoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// safely runs fn, converting a panic into an error
func safely(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker recovered panic: %v\n%s", r, debug.Stack())
		}
	}()
	fn()
	return nil
}
