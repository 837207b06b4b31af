// Package supervisor runs the control loop that feeds the worker pools and
// turns their results into lead-store updates and periodic reports.
//
// Each cycle moves through Polling, Dispatching, Aggregating and Reporting.
// The Report counters are owned by the supervisor goroutine alone; workers
// only ever hand over immutable results on the result channel.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/campaign-crm/internal/campaign/domain"
	"github.com/cuongbtq/campaign-crm/internal/campaign/queue"
	"github.com/google/uuid"
)

const (
	defaultPollInterval    = 5 * time.Minute
	defaultBatchSize       = 100
	defaultAggregateBudget = 1000
	defaultCallTimeout     = 30 * time.Second
	defaultFlushTimeout    = 30 * time.Second
)

// State is the supervisor's position in its cycle
type State string

const (
	StateIdle        State = "IDLE"
	StatePolling     State = "POLLING"
	StateDispatching State = "DISPATCHING"
	StateAggregating State = "AGGREGATING"
	StateReporting   State = "REPORTING"
	StateStopping    State = "STOPPING"
	StateStopped     State = "STOPPED"
)

// Config holds supervisor configuration
type Config struct {
	Logger            *slog.Logger
	LeadStore         LeadStore
	Inbox             Inbox
	Mailer            Mailer
	VerificationQueue queue.Queue[domain.VerificationTask]
	OutreachQueue     queue.Queue[domain.OutreachTask]
	Results           <-chan domain.Result
	Workers           []WorkerPool

	PollInterval    time.Duration
	BatchSize       int
	AggregateBudget int
	CallTimeout     time.Duration
	FlushTimeout    time.Duration

	Schedule        *Schedule
	ReportRecipient string
	OutreachSubject string
	OutreachBody    string

	// Now and NewID are overridable for tests
	Now   func() time.Time
	NewID func() string
}

// Supervisor polls collaborators, dispatches tasks and aggregates results
type Supervisor struct {
	logger            *slog.Logger
	leads             LeadStore
	inbox             Inbox
	mailer            Mailer
	verificationQueue queue.Queue[domain.VerificationTask]
	outreachQueue     queue.Queue[domain.OutreachTask]
	results           <-chan domain.Result
	workers           []WorkerPool

	pollInterval    time.Duration
	batchSize       int
	aggregateBudget int
	callTimeout     time.Duration
	flushTimeout    time.Duration

	schedule        *Schedule
	reportRecipient string
	outreachSubject string
	outreachBody    string

	now   func() time.Time
	newID func() string

	// Owned by the Run goroutine
	state         State
	report        domain.Report
	nextReportAt  time.Time
	lastReportAt  time.Time
	lastPollAt    time.Time
	inFlight      map[string]struct{}
	pendingWrites []domain.Result

	status atomic.Pointer[Status]
}

// New creates a new Supervisor
func New(cfg *Config) *Supervisor {
	s := &Supervisor{
		logger:            cfg.Logger,
		leads:             cfg.LeadStore,
		inbox:             cfg.Inbox,
		mailer:            cfg.Mailer,
		verificationQueue: cfg.VerificationQueue,
		outreachQueue:     cfg.OutreachQueue,
		results:           cfg.Results,
		workers:           cfg.Workers,
		pollInterval:      cfg.PollInterval,
		batchSize:         cfg.BatchSize,
		aggregateBudget:   cfg.AggregateBudget,
		callTimeout:       cfg.CallTimeout,
		flushTimeout:      cfg.FlushTimeout,
		schedule:          cfg.Schedule,
		reportRecipient:   cfg.ReportRecipient,
		outreachSubject:   cfg.OutreachSubject,
		outreachBody:      cfg.OutreachBody,
		now:               cfg.Now,
		newID:             cfg.NewID,
		state:             StateIdle,
		inFlight:          make(map[string]struct{}),
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.aggregateBudget <= 0 {
		s.aggregateBudget = defaultAggregateBudget
	}
	if s.callTimeout <= 0 {
		s.callTimeout = defaultCallTimeout
	}
	if s.flushTimeout <= 0 {
		s.flushTimeout = defaultFlushTimeout
	}
	if s.schedule == nil {
		s.schedule, _ = ParseSchedule("16:00", time.UTC)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}

	s.publishStatus()
	return s
}

// Run starts the worker pools and drives the supervisor cycle until ctx is
// canceled. On shutdown it waits for the workers to finish their current
// tasks, folds their last results and flushes a non-empty report.
func (s *Supervisor) Run(ctx context.Context) error {
	start := s.now()
	s.report = domain.Report{WindowStart: start}
	s.nextReportAt = s.schedule.Next(start)

	s.logger.Info("Starting supervisor",
		slog.Duration("poll_interval", s.pollInterval),
		slog.Int("batch_size", s.batchSize),
		slog.String("report_schedule", s.schedule.String()),
		slog.Time("next_report_at", s.nextReportAt),
	)

	for _, w := range s.workers {
		w.Start(ctx)
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// pollBatch is what one Polling step discovered
type pollBatch struct {
	unverified  []domain.Lead
	uncontacted []domain.Lead
	signals     []domain.Signal
}

func (s *Supervisor) runCycle(ctx context.Context) {
	s.setState(StatePolling)
	batch := s.poll(ctx)

	s.setState(StateDispatching)
	s.dispatchBatch(ctx, batch)

	s.setState(StateAggregating)
	s.aggregate(ctx, batch.signals)

	s.setState(StateReporting)
	s.maybeReport(ctx)

	s.setState(StateIdle)
}

func (s *Supervisor) poll(ctx context.Context) pollBatch {
	var batch pollBatch
	s.lastPollAt = s.now()

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	leads, err := s.leads.ListUnverifiedLeads(callCtx, s.batchSize)
	if err != nil {
		s.logger.Error("Failed to list unverified leads",
			slog.Any("error", err),
		)
	}
	batch.unverified = leads

	leads, err = s.leads.ListValidatedUncontactedLeads(callCtx, s.batchSize)
	if err != nil {
		s.logger.Error("Failed to list validated leads",
			slog.Any("error", err),
		)
	}
	batch.uncontacted = leads

	if s.inbox != nil {
		signals, err := s.inbox.FetchUnreadSignals(callCtx, s.batchSize)
		if err != nil {
			s.logger.Error("Failed to fetch inbox signals",
				slog.Any("error", err),
			)
		}
		batch.signals = signals
	}

	s.logger.Debug("Poll complete",
		slog.Int("unverified", len(batch.unverified)),
		slog.Int("uncontacted", len(batch.uncontacted)),
		slog.Int("signals", len(batch.signals)),
	)

	return batch
}

func (s *Supervisor) dispatchBatch(ctx context.Context, batch pollBatch) {
	dispatched := 0

	for _, lead := range batch.unverified {
		task := domain.VerificationTask{
			ID:            s.newID(),
			LeadID:        lead.ID,
			EmailAddress:  lead.Email,
			Company:       lead.Company,
			Industry:      lead.Industry,
			ContactNumber: lead.ContactNumber,
		}
		if s.dispatch(ctx, task) {
			dispatched++
		}
	}

	for _, lead := range batch.uncontacted {
		task := domain.OutreachTask{
			ID:           s.newID(),
			LeadID:       lead.ID,
			EmailAddress: lead.Email,
			Subject:      s.outreachSubject,
			MessageBody:  s.outreachBody,
		}
		if s.dispatch(ctx, task) {
			dispatched++
		}
	}

	if dispatched > 0 {
		s.logger.Info("Tasks dispatched",
			slog.Int("count", dispatched),
			slog.Int("in_flight", len(s.inFlight)),
		)
	}
}

// dispatch enqueues task unless its lead already has a task in flight
func (s *Supervisor) dispatch(ctx context.Context, task domain.Task) bool {
	if _, busy := s.inFlight[task.Lead()]; busy {
		return false
	}

	var err error
	switch t := task.(type) {
	case domain.VerificationTask:
		err = s.verificationQueue.Enqueue(ctx, t)
	case domain.OutreachTask:
		err = s.outreachQueue.Enqueue(ctx, t)
	}

	if err != nil {
		s.logger.Error("Failed to enqueue task",
			slog.String("task_id", task.TaskID()),
			slog.String("lead_id", task.Lead()),
			slog.Any("error", err),
		)
		return false
	}

	s.inFlight[task.Lead()] = struct{}{}
	return true
}

// aggregate retries failed write-backs, folds up to aggregateBudget results
// and applies the polled signals
func (s *Supervisor) aggregate(ctx context.Context, signals []domain.Signal) {
	s.retryPendingWrites(ctx)

	folded := 0
	for folded < s.aggregateBudget {
		select {
		case res := <-s.results:
			s.fold(ctx, res)
			folded++
			continue
		default:
		}
		break
	}

	for _, signal := range signals {
		s.applySignal(ctx, signal)
	}

	if folded > 0 {
		s.logger.Info("Results aggregated",
			slog.Int("count", folded),
			slog.Int("in_flight", len(s.inFlight)),
		)
	}
}

// fold adds one result to the report and writes it back to the lead store
func (s *Supervisor) fold(ctx context.Context, res domain.Result) {
	switch r := res.(type) {
	case domain.VerificationOutcome:
		s.report.LeadsVerified++
		if r.Validation.Valid {
			s.report.LeadsValid++
		}
	case domain.OutreachResult:
		if r.Delivered {
			s.report.EmailsSent++
		} else {
			s.report.EmailsFailed++
		}
	default:
		s.logger.Error("Unknown result type", slog.String("lead_id", res.Lead()))
		return
	}

	if !s.writeBack(ctx, res) {
		s.pendingWrites = append(s.pendingWrites, res)
		return
	}
	delete(s.inFlight, res.Lead())
}

func (s *Supervisor) writeBack(ctx context.Context, res domain.Result) bool {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	var err error
	switch r := res.(type) {
	case domain.VerificationOutcome:
		err = s.leads.RecordValidation(callCtx, r.LeadID, r.Validation)
	case domain.OutreachResult:
		err = s.leads.RecordOutreach(callCtx, r.LeadID, r)
	}

	if errors.Is(err, domain.ErrLeadNotFound) {
		// Deleted from the store while in flight; nothing to retry
		s.logger.Warn("Dropping result for unknown lead",
			slog.String("lead_id", res.Lead()),
		)
		return true
	}
	if err != nil {
		s.logger.Error("Failed to record result",
			slog.String("lead_id", res.Lead()),
			slog.Any("error", err),
		)
		return false
	}
	return true
}

// retryPendingWrites retries write-backs that failed earlier. Their leads
// stay in flight until the write succeeds, so they are not dispatched twice.
func (s *Supervisor) retryPendingWrites(ctx context.Context) {
	if len(s.pendingWrites) == 0 {
		return
	}

	remaining := s.pendingWrites[:0]
	for _, res := range s.pendingWrites {
		if s.writeBack(ctx, res) {
			delete(s.inFlight, res.Lead())
			continue
		}
		remaining = append(remaining, res)
	}
	s.pendingWrites = remaining
}

func (s *Supervisor) applySignal(ctx context.Context, signal domain.Signal) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	err := s.leads.RecordSignal(callCtx, signal.LeadID, signal.Kind)
	if errors.Is(err, domain.ErrLeadNotFound) || errors.Is(err, domain.ErrInvalidSignal) {
		s.logger.Warn("Discarding signal",
			slog.String("signal_id", signal.ID),
			slog.String("lead_id", signal.LeadID),
			slog.Any("error", err),
		)
		if err := s.inbox.MarkRead(callCtx, signal.ID); err != nil {
			s.logger.Error("Failed to mark signal read",
				slog.String("signal_id", signal.ID),
				slog.Any("error", err),
			)
		}
		return
	}
	if err != nil {
		s.logger.Error("Failed to record signal",
			slog.String("signal_id", signal.ID),
			slog.String("lead_id", signal.LeadID),
			slog.Any("error", err),
		)
		if err := s.inbox.Requeue(callCtx, signal.ID); err != nil {
			s.logger.Error("Failed to requeue signal",
				slog.String("signal_id", signal.ID),
				slog.Any("error", err),
			)
		}
		return
	}

	switch {
	case signal.Kind == domain.SignalBounce:
		s.report.Bounces++
	case signal.Kind.IsReply():
		s.report.Replies++
	}

	if err := s.inbox.MarkRead(callCtx, signal.ID); err != nil {
		s.logger.Error("Failed to mark signal read",
			slog.String("signal_id", signal.ID),
			slog.Any("error", err),
		)
	}
}

// maybeReport sends the report once the scheduled time has passed
func (s *Supervisor) maybeReport(ctx context.Context) {
	now := s.now()
	if now.Before(s.nextReportAt) {
		return
	}

	if err := s.sendReport(ctx, now); err != nil {
		// Counters are kept; the report is retried next cycle
		return
	}
	s.nextReportAt = s.schedule.Next(now)
}

func (s *Supervisor) sendReport(ctx context.Context, now time.Time) error {
	report := s.report
	report.WindowEnd = now

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	if err := s.mailer.Send(callCtx, s.reportRecipient, report.Subject(), report.Body()); err != nil {
		s.logger.Error("Failed to send report",
			slog.String("recipient", s.reportRecipient),
			slog.Any("error", err),
		)
		return err
	}

	s.logger.Info("Report sent",
		slog.String("recipient", s.reportRecipient),
		slog.Int("leads_verified", report.LeadsVerified),
		slog.Int("leads_valid", report.LeadsValid),
		slog.Int("emails_sent", report.EmailsSent),
		slog.Int("emails_failed", report.EmailsFailed),
	)

	s.report = domain.Report{WindowStart: now}
	s.lastReportAt = now
	return nil
}

// shutdown waits for the workers while draining their results, then flushes
func (s *Supervisor) shutdown() {
	s.setState(StateStopping)
	s.logger.Info("Supervisor stopping, waiting for workers")

	ctx, cancel := context.WithTimeout(context.Background(), s.flushTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for _, w := range s.workers {
			w.Wait()
		}
		close(done)
	}()

	draining := true
	for draining {
		select {
		case res := <-s.results:
			s.fold(ctx, res)
		case <-done:
			draining = false
		}
	}

	// Workers are gone; pick up anything sent just before they exited
	for {
		select {
		case res := <-s.results:
			s.fold(ctx, res)
			continue
		default:
		}
		break
	}

	s.retryPendingWrites(ctx)

	dropped := s.verificationQueue.Close() + s.outreachQueue.Close()
	if dropped > 0 {
		s.logger.Warn("Dropped scheduled retries on shutdown",
			slog.Int("count", dropped),
		)
	}
	if len(s.pendingWrites) > 0 {
		s.logger.Warn("Results could not be recorded before shutdown",
			slog.Int("count", len(s.pendingWrites)),
		)
	}

	if !s.report.Empty() {
		_ = s.sendReport(ctx, s.now())
	}

	s.setState(StateStopped)
	s.logger.Info("Supervisor stopped")
}
