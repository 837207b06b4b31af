package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/campaign-crm/internal/campaign/domain"
	"github.com/cuongbtq/campaign-crm/internal/campaign/queue"
)

const reasonInternalError = "internal error"

// AddressValidator validates a single email address
type AddressValidator interface {
	Validate(ctx context.Context, address string) domain.ValidationResult
}

// VerificationConfig holds verification worker configuration
type VerificationConfig struct {
	Logger      *slog.Logger
	Queue       queue.Queue[domain.VerificationTask]
	Validator   AddressValidator
	LeadChecks  []LeadCheck
	Results     chan<- domain.Result
	Concurrency int
	TaskTimeout time.Duration
}

// VerificationWorker consumes verification tasks and reports one
// VerificationOutcome per task. Failed validations are never retried.
type VerificationWorker struct {
	logger      *slog.Logger
	queue       queue.Queue[domain.VerificationTask]
	validator   AddressValidator
	leadChecks  []LeadCheck
	results     chan<- domain.Result
	taskTimeout time.Duration
	pool        *pool
}

// NewVerificationWorker creates a new verification worker pool
func NewVerificationWorker(cfg *VerificationConfig) *VerificationWorker {
	return &VerificationWorker{
		logger:      cfg.Logger,
		queue:       cfg.Queue,
		validator:   cfg.Validator,
		leadChecks:  cfg.LeadChecks,
		results:     cfg.Results,
		taskTimeout: cfg.TaskTimeout,
		pool:        newPool("verification", cfg.Concurrency, cfg.Logger),
	}
}

// Start spawns the worker goroutines. They exit once ctx is canceled and
// their current task is finished.
func (w *VerificationWorker) Start(ctx context.Context) {
	w.pool.spawn(ctx, w.loop)
}

// Wait blocks until every worker goroutine has exited
func (w *VerificationWorker) Wait() {
	w.pool.wait()
}

func (w *VerificationWorker) loop(ctx context.Context, workerName string) {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var malformed *queue.MalformedItemError
			if errors.As(err, &malformed) {
				w.logger.Error("Discarded malformed verification task",
					slog.String("worker_name", workerName),
					slog.String("lead_id", malformed.LeadID),
					slog.Any("error", err),
				)
				if malformed.LeadID != "" {
					w.results <- domain.VerificationOutcome{
						LeadID:     malformed.LeadID,
						Validation: domain.ValidationResult{Reason: reasonInternalError},
					}
				}
				continue
			}
			w.logger.Error("Failed to dequeue verification task",
				slog.String("worker_name", workerName),
				slog.Any("error", err),
			)
			if !pauseAfterError(ctx) {
				return
			}
			continue
		}

		// The task runs to completion even if shutdown starts meanwhile
		outcome := w.Process(context.WithoutCancel(ctx), task)

		w.logger.Info("Lead verified",
			slog.String("worker_name", workerName),
			slog.String("lead_id", task.LeadID),
			slog.Bool("valid", outcome.Validation.Valid),
			slog.String("reason", outcome.Validation.Reason),
		)

		w.results <- outcome
	}
}

// Process validates the task's address and applies the lead checks
func (w *VerificationWorker) Process(ctx context.Context, task domain.VerificationTask) domain.VerificationOutcome {
	if w.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.taskTimeout)
		defer cancel()
	}

	var result domain.ValidationResult
	err := safely(func() {
		result = w.validator.Validate(ctx, task.EmailAddress)
	})
	if err != nil {
		w.logger.Error("Validation panicked",
			slog.String("lead_id", task.LeadID),
			slog.Any("error", err),
		)
		result = domain.ValidationResult{
			EmailAddress: task.EmailAddress,
			Reason:       reasonInternalError,
		}
	}

	if result.Valid {
		lead := task.LeadData()
		for _, check := range w.leadChecks {
			if !check.Allow(lead) {
				result = result.Invalidate(check.Name)
				break
			}
		}
	}

	return domain.VerificationOutcome{
		LeadID:     task.LeadID,
		Validation: result,
	}
}
