package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/campaign-crm/internal/campaign/domain"
	"github.com/cuongbtq/campaign-crm/internal/campaign/queue"
)

const (
	defaultMaxRetries  = 3
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 5 * time.Minute
	defaultSendTimeout = 10 * time.Second
)

// Transport delivers a single email. Failures should be *domain.TransportError.
type Transport interface {
	Send(ctx context.Context, to, subject, body string) error
}

// OutreachConfig holds outreach worker configuration
type OutreachConfig struct {
	Logger      *slog.Logger
	Queue       queue.Queue[domain.OutreachTask]
	Transport   Transport
	Results     chan<- domain.Result
	Concurrency int
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	SendTimeout time.Duration
}

// OutreachWorker consumes outreach tasks and delivers them through the
// transport. Transient failures are retried by re-enqueueing the task at the
// tail of the queue after an exponential backoff.
type OutreachWorker struct {
	logger      *slog.Logger
	queue       queue.Queue[domain.OutreachTask]
	transport   Transport
	results     chan<- domain.Result
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration
	sendTimeout time.Duration
	pool        *pool

	// stopped is closed once every worker goroutine has exited
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewOutreachWorker creates a new outreach worker pool
func NewOutreachWorker(cfg *OutreachConfig) *OutreachWorker {
	w := &OutreachWorker{
		logger:      cfg.Logger,
		queue:       cfg.Queue,
		transport:   cfg.Transport,
		results:     cfg.Results,
		maxRetries:  cfg.MaxRetries,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		sendTimeout: cfg.SendTimeout,
		pool:        newPool("outreach", cfg.Concurrency, cfg.Logger),
		stopped:     make(chan struct{}),
	}

	if w.maxRetries <= 0 {
		w.maxRetries = defaultMaxRetries
	}
	if w.baseDelay <= 0 {
		w.baseDelay = defaultBaseDelay
	}
	if w.maxDelay <= 0 {
		w.maxDelay = defaultMaxDelay
	}
	if w.sendTimeout <= 0 {
		w.sendTimeout = defaultSendTimeout
	}

	return w
}

// Start spawns the worker goroutines
func (w *OutreachWorker) Start(ctx context.Context) {
	w.pool.spawn(ctx, w.loop)
}

// Wait blocks until every worker goroutine has exited. Retries that fail to
// re-enter the queue after this point are logged instead of reported.
func (w *OutreachWorker) Wait() {
	w.pool.wait()
	w.stopOnce.Do(func() { close(w.stopped) })
}

func (w *OutreachWorker) loop(ctx context.Context, workerName string) {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var malformed *queue.MalformedItemError
			if errors.As(err, &malformed) {
				w.logger.Error("Discarded malformed outreach task",
					slog.String("worker_name", workerName),
					slog.String("lead_id", malformed.LeadID),
					slog.Any("error", err),
				)
				if malformed.LeadID != "" {
					w.results <- domain.OutreachResult{
						LeadID:    malformed.LeadID,
						Delivered: false,
						LastError: domain.TransportRejected.Ptr(),
					}
				}
				continue
			}
			w.logger.Error("Failed to dequeue outreach task",
				slog.String("worker_name", workerName),
				slog.Any("error", err),
			)
			if !pauseAfterError(ctx) {
				return
			}
			continue
		}

		w.logger.Debug("Worker received outreach task",
			slog.String("worker_name", workerName),
			slog.String("task_id", task.ID),
			slog.String("lead_id", task.LeadID),
			slog.Int("attempt_count", task.AttemptCount),
		)

		result, done := w.Process(context.WithoutCancel(ctx), task)
		if !done {
			continue
		}

		w.results <- result
	}
}

// Process makes one delivery attempt. It returns done=false when the task
// has been scheduled for another attempt and no result is due yet.
func (w *OutreachWorker) Process(ctx context.Context, task domain.OutreachTask) (domain.OutreachResult, bool) {
	err := w.send(ctx, task)
	if err == nil {
		w.logger.Info("Outreach email delivered",
			slog.String("lead_id", task.LeadID),
			slog.Int("attempts", task.AttemptCount+1),
		)
		return domain.OutreachResult{
			LeadID:    task.LeadID,
			Delivered: true,
			Attempts:  task.AttemptCount + 1,
		}, true
	}

	kind := domain.ClassifyError(err)

	if !kind.Retryable() {
		w.logger.Warn("Outreach failed permanently",
			slog.String("lead_id", task.LeadID),
			slog.String("error_kind", string(kind)),
			slog.Any("error", err),
		)
		return domain.OutreachResult{
			LeadID:    task.LeadID,
			Delivered: false,
			Attempts:  task.AttemptCount + 1,
			LastError: kind.Ptr(),
		}, true
	}

	task.AttemptCount++

	if task.AttemptCount < w.maxRetries {
		delay := w.backoff(task.AttemptCount)
		w.logger.Info("Outreach will be retried",
			slog.String("lead_id", task.LeadID),
			slog.String("error_kind", string(kind)),
			slog.Int("attempt_count", task.AttemptCount),
			slog.Int("max_retries", w.maxRetries),
			slog.Duration("retry_after", delay),
		)
		w.queue.EnqueueAfter(task, delay, func(task domain.OutreachTask, err error) {
			w.abandon(task, kind, err)
		})
		return domain.OutreachResult{}, false
	}

	w.logger.Warn("Outreach exceeded max retries",
		slog.String("lead_id", task.LeadID),
		slog.String("error_kind", string(kind)),
		slog.Int("attempt_count", task.AttemptCount),
		slog.Any("error", fmt.Errorf("%w: %w", domain.ErrMaxRetriesExceeded, err)),
	)
	return domain.OutreachResult{
		LeadID:    task.LeadID,
		Delivered: false,
		Attempts:  task.AttemptCount,
		LastError: kind.Ptr(),
	}, true
}

// abandon reports a task whose retry could not re-enter the queue as a
// failure with the kind of its last attempt
func (w *OutreachWorker) abandon(task domain.OutreachTask, kind domain.ErrorKind, err error) {
	w.logger.Error("Outreach retry dropped",
		slog.String("lead_id", task.LeadID),
		slog.String("error_kind", string(kind)),
		slog.Int("attempt_count", task.AttemptCount),
		slog.Any("error", err),
	)

	result := domain.OutreachResult{
		LeadID:    task.LeadID,
		Delivered: false,
		Attempts:  task.AttemptCount,
		LastError: kind.Ptr(),
	}

	select {
	case w.results <- result:
	case <-w.stopped:
		w.logger.Warn("Outreach result discarded after shutdown",
			slog.String("lead_id", task.LeadID),
		)
	}
}

// send calls the transport under the send timeout. A panicking transport is
// reported as a permanent rejection.
func (w *OutreachWorker) send(ctx context.Context, task domain.OutreachTask) error {
	ctx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	defer cancel()

	var sendErr error
	if err := safely(func() {
		sendErr = w.transport.Send(ctx, task.EmailAddress, task.Subject, task.MessageBody)
	}); err != nil {
		return domain.NewTransportError(domain.TransportRejected, err)
	}
	return sendErr
}

// backoff returns baseDelay * 2^attempt, capped at maxDelay
func (w *OutreachWorker) backoff(attempt int) time.Duration {
	if attempt > 30 {
		return w.maxDelay
	}
	delay := w.baseDelay * time.Duration(uint(1)<<uint(attempt))
	if delay <= 0 || delay > w.maxDelay {
		return w.maxDelay
	}
	return delay
}
