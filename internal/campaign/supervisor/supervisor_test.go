package supervisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/campaign-crm/internal/campaign/domain"
	"github.com/cuongbtq/campaign-crm/internal/campaign/queue"
	"github.com/cuongbtq/campaign-crm/internal/campaign/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type harness struct {
	sup     *Supervisor
	store   *fakeStore
	inbox   *fakeInbox
	mailer  *fakeMailer
	vq      *queue.Memory[domain.VerificationTask]
	oq      *queue.Memory[domain.OutreachTask]
	results chan domain.Result
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:   newFakeStore(),
		inbox:   &fakeInbox{},
		mailer:  &fakeMailer{},
		vq:      queue.NewMemory[domain.VerificationTask](100),
		oq:      queue.NewMemory[domain.OutreachTask](100),
		results: make(chan domain.Result, 100),
		now:     fixedNow,
	}

	schedule, err := ParseSchedule("16:00", time.UTC)
	require.NoError(t, err)

	var seq atomic.Int64
	h.sup = New(&Config{
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		LeadStore:         h.store,
		Inbox:             h.inbox,
		Mailer:            h.mailer,
		VerificationQueue: h.vq,
		OutreachQueue:     h.oq,
		Results:           h.results,
		Workers:           []WorkerPool{idleWorkers{}},
		Schedule:          schedule,
		ReportRecipient:   "sales@acme.io",
		OutreachSubject:   "Hello",
		OutreachBody:      "We would like to talk",
		Now:               func() time.Time { return h.now },
		NewID:             func() string { return fmt.Sprintf("task-%d", seq.Add(1)) },
	})
	h.sup.report = domain.Report{WindowStart: fixedNow}
	h.sup.nextReportAt = schedule.Next(fixedNow)

	return h
}

func lead(id string) domain.Lead {
	return domain.Lead{
		ID:            id,
		Email:         id + "@acme.io",
		Company:       "Acme",
		Industry:      "Retail",
		ContactNumber: "555-0100",
	}
}

func outcome(leadID string, valid bool) domain.VerificationOutcome {
	return domain.VerificationOutcome{
		LeadID:     leadID,
		Validation: domain.ValidationResult{EmailAddress: leadID + "@acme.io", Valid: valid},
	}
}

func delivered(leadID string, ok bool) domain.OutreachResult {
	r := domain.OutreachResult{LeadID: leadID, Delivered: ok, Attempts: 1}
	if !ok {
		r.LastError = domain.InvalidRecipient.Ptr()
	}
	return r
}

func TestSupervisor_DispatchSkipsInFlightLeads(t *testing.T) {
	h := newHarness(t)
	h.store.unverified = []domain.Lead{lead("a"), lead("b")}
	h.store.uncontacted = []domain.Lead{lead("c")}

	h.sup.runCycle(context.Background())
	assert.Equal(t, 2, h.vq.Size())
	assert.Equal(t, 1, h.oq.Size())
	assert.Len(t, h.sup.inFlight, 3)

	// Nothing finished, so the same leads must not be dispatched again
	h.sup.runCycle(context.Background())
	assert.Equal(t, 2, h.vq.Size())
	assert.Equal(t, 1, h.oq.Size())

	task, err := h.oq.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c", task.LeadID)
	assert.Equal(t, "c@acme.io", task.EmailAddress)
	assert.Equal(t, "Hello", task.Subject)
	assert.Equal(t, 0, task.AttemptCount)
}

func TestSupervisor_FoldCountsResults(t *testing.T) {
	h := newHarness(t)

	for _, r := range []domain.Result{
		outcome("a", true),
		outcome("b", false),
		outcome("c", true),
		delivered("d", true),
		delivered("e", false),
	} {
		h.results <- r
	}

	h.sup.runCycle(context.Background())

	report := h.sup.Status().Report
	assert.Equal(t, 3, report.LeadsVerified)
	assert.Equal(t, 2, report.LeadsValid)
	assert.Equal(t, 1, report.EmailsSent)
	assert.Equal(t, 1, report.EmailsFailed)

	assert.True(t, h.store.validations["a"].Valid)
	assert.False(t, h.store.validations["b"].Valid)
	assert.True(t, h.store.outreach["d"].Delivered)
	require.NotNil(t, h.store.outreach["e"].LastError)
	assert.Equal(t, domain.InvalidRecipient, *h.store.outreach["e"].LastError)
}

func TestSupervisor_FoldIsOrderIndependent(t *testing.T) {
	results := []domain.Result{
		outcome("a", true),
		delivered("b", true),
		outcome("c", false),
		delivered("d", false),
		outcome("e", true),
	}

	foldAll := func(order []int) domain.Report {
		h := newHarness(t)
		for _, i := range order {
			h.sup.fold(context.Background(), results[i])
		}
		return h.sup.report
	}

	want := foldAll([]int{0, 1, 2, 3, 4})
	assert.Equal(t, want, foldAll([]int{4, 3, 2, 1, 0}))
	assert.Equal(t, want, foldAll([]int{2, 0, 4, 1, 3}))
}

func TestSupervisor_AggregateBudget(t *testing.T) {
	h := newHarness(t)
	h.sup.aggregateBudget = 2

	for i := 0; i < 5; i++ {
		h.results <- outcome(fmt.Sprintf("lead-%d", i), true)
	}

	h.sup.runCycle(context.Background())
	assert.Equal(t, 2, h.sup.report.LeadsVerified)
	assert.Len(t, h.results, 3)

	h.sup.runCycle(context.Background())
	h.sup.runCycle(context.Background())
	assert.Equal(t, 5, h.sup.report.LeadsVerified)
}

func TestSupervisor_ListFailureDoesNotStopCycle(t *testing.T) {
	h := newHarness(t)
	h.store.listErr = errUnavailable
	h.results <- outcome("a", true)

	h.sup.runCycle(context.Background())

	assert.Equal(t, 1, h.sup.report.LeadsVerified)
	assert.Equal(t, StateIdle, h.sup.Status().State)
}

func TestSupervisor_WriteBackFailureKeepsLeadInFlight(t *testing.T) {
	h := newHarness(t)
	h.store.unverified = []domain.Lead{lead("a")}

	h.sup.runCycle(context.Background())
	task, err := h.vq.Dequeue(context.Background())
	require.NoError(t, err)

	h.store.setWriteErr(errUnavailable)
	h.results <- outcome(task.LeadID, true)
	h.sup.runCycle(context.Background())

	// Counted once, held for retry and not re-dispatched
	assert.Equal(t, 1, h.sup.report.LeadsVerified)
	assert.Len(t, h.sup.pendingWrites, 1)
	assert.Contains(t, h.sup.inFlight, "a")
	assert.Equal(t, 0, h.vq.Size())

	h.store.setWriteErr(nil)
	h.sup.runCycle(context.Background())

	assert.Empty(t, h.sup.pendingWrites)
	assert.Equal(t, 1, h.sup.report.LeadsVerified)
	assert.True(t, h.store.validations["a"].Valid)
	assert.Equal(t, 0, h.vq.Size())
	// The valid lead now moves on to outreach
	assert.Equal(t, 1, h.oq.Size())
}

func TestSupervisor_Signals(t *testing.T) {
	h := newHarness(t)
	h.inbox.unread = []domain.Signal{
		{ID: "s1", LeadID: "a", Kind: domain.SignalReply},
		{ID: "s2", LeadID: "b", Kind: domain.SignalBounce},
		{ID: "s3", LeadID: "c", Kind: domain.SignalInterested},
	}

	h.sup.runCycle(context.Background())

	assert.Equal(t, 2, h.sup.report.Replies)
	assert.Equal(t, 1, h.sup.report.Bounces)
	assert.ElementsMatch(t, []string{"s1", "s2", "s3"}, h.inbox.read)
	assert.Equal(t, []domain.SignalKind{domain.SignalBounce}, h.store.signals["b"])
}

func TestSupervisor_SignalWriteFailureRequeues(t *testing.T) {
	h := newHarness(t)
	h.store.setWriteErr(errUnavailable)
	h.inbox.unread = []domain.Signal{{ID: "s1", LeadID: "a", Kind: domain.SignalReply}}

	h.sup.runCycle(context.Background())

	assert.Equal(t, 0, h.sup.report.Replies)
	assert.Empty(t, h.inbox.read)
	assert.Equal(t, []string{"s1"}, h.inbox.requeued)
}

func TestSupervisor_UnknownLeadIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.store.setWriteErr(fmt.Errorf("%w: ghost", domain.ErrLeadNotFound))
	h.inbox.unread = []domain.Signal{{ID: "s1", LeadID: "ghost", Kind: domain.SignalReply}}
	h.results <- outcome("ghost", true)

	h.sup.runCycle(context.Background())

	assert.Equal(t, []string{"s1"}, h.inbox.read)
	assert.Empty(t, h.inbox.requeued)
	assert.Empty(t, h.sup.pendingWrites)
	assert.NotContains(t, h.sup.inFlight, "ghost")
}

func TestSupervisor_ReportOnSchedule(t *testing.T) {
	h := newHarness(t)
	h.results <- outcome("a", true)
	h.results <- delivered("a", true)

	h.sup.runCycle(context.Background())
	assert.Empty(t, h.mailer.Sent())

	h.now = time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)
	h.sup.runCycle(context.Background())

	sent := h.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "sales@acme.io", sent[0].to)
	assert.Equal(t, "Daily Campaign Report 2026-03-02", sent[0].subject)
	assert.Contains(t, sent[0].body, "Leads Verified: 1")
	assert.Contains(t, sent[0].body, "Emails Sent: 1")

	status := h.sup.Status()
	assert.True(t, status.Report.Empty())
	assert.Equal(t, h.now, status.Report.WindowStart)
	assert.Equal(t, time.Date(2026, 3, 3, 16, 0, 0, 0, time.UTC), status.NextReportAt)
}

func TestSupervisor_ReportFailureKeepsCounters(t *testing.T) {
	h := newHarness(t)
	h.mailer.err = errUnavailable
	h.results <- outcome("a", true)
	h.now = time.Date(2026, 3, 2, 16, 30, 0, 0, time.UTC)

	h.sup.runCycle(context.Background())
	assert.Equal(t, 1, h.sup.report.LeadsVerified)
	assert.Empty(t, h.mailer.Sent())

	h.mailer.mu.Lock()
	h.mailer.err = nil
	h.mailer.mu.Unlock()
	h.sup.runCycle(context.Background())

	sent := h.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].body, "Leads Verified: 1")
	assert.Equal(t, 0, h.sup.report.LeadsVerified)
}

func TestSupervisor_ShutdownFlushesReport(t *testing.T) {
	h := newHarness(t)
	h.results <- outcome("a", true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.sup.Run(ctx))

	sent := h.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].body, "Leads Verified: 1")
	assert.Equal(t, StateStopped, h.sup.Status().State)
}

func TestSupervisor_ShutdownSkipsEmptyReport(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.sup.Run(ctx))

	assert.Empty(t, h.mailer.Sent())
}

type acceptAll struct{}

func (acceptAll) Validate(ctx context.Context, address string) domain.ValidationResult {
	return domain.ValidationResult{EmailAddress: address, SyntaxOK: true, DomainOK: true, MXOK: true, Valid: true}
}

type okTransport struct{ sent atomic.Int64 }

func (t *okTransport) Send(ctx context.Context, to, subject, body string) error {
	t.sent.Add(1)
	return nil
}

func TestSupervisor_EndToEnd(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 20; i++ {
		store.unverified = append(store.unverified, lead(fmt.Sprintf("lead-%02d", i)))
	}
	mailer := &fakeMailer{}
	transport := &okTransport{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	vq := queue.NewMemory[domain.VerificationTask](100)
	oq := queue.NewMemory[domain.OutreachTask](100)
	results := make(chan domain.Result, 100)

	verifier := worker.NewVerificationWorker(&worker.VerificationConfig{
		Logger:      logger,
		Queue:       vq,
		Validator:   acceptAll{},
		Results:     results,
		Concurrency: 3,
		TaskTimeout: time.Second,
	})
	outreach := worker.NewOutreachWorker(&worker.OutreachConfig{
		Logger:      logger,
		Queue:       oq,
		Transport:   transport,
		Results:     results,
		Concurrency: 2,
	})

	sup := New(&Config{
		Logger:            logger,
		LeadStore:         store,
		Mailer:            mailer,
		VerificationQueue: vq,
		OutreachQueue:     oq,
		Results:           results,
		Workers:           []WorkerPool{verifier, outreach},
		PollInterval:      10 * time.Millisecond,
		ReportRecipient:   "sales@acme.io",
		Now:               func() time.Time { return fixedNow },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return store.outreachCount() == 20
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, int64(20), transport.sent.Load())
	sent := mailer.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].body, "Leads Verified: 20")
	assert.Contains(t, sent[0].body, "Emails Sent: 20")
}
