package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/campaign-crm/internal/campaign/domain"
	"github.com/cuongbtq/campaign-crm/internal/campaign/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTransport returns the scripted errors in order, then nil
type scriptedTransport struct {
	mu     sync.Mutex
	script []error
	calls  int
	sent   []string
}

func (s *scriptedTransport) Send(ctx context.Context, to, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	s.sent = append(s.sent, to)
	if len(s.script) == 0 {
		return nil
	}
	err := s.script[0]
	s.script = s.script[1:]
	return err
}

func (s *scriptedTransport) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type panickingTransport struct{}

func (panickingTransport) Send(ctx context.Context, to, subject, body string) error {
	panic("smtp client exploded")
}

func transportErr(kind domain.ErrorKind) error {
	return domain.NewTransportError(kind, errors.New("simulated"))
}

func newTestOutreachWorker(transport Transport, q queue.Queue[domain.OutreachTask], results chan domain.Result) *OutreachWorker {
	return NewOutreachWorker(&OutreachConfig{
		Logger:      slog.Default(),
		Queue:       q,
		Transport:   transport,
		Results:     results,
		Concurrency: 2,
		MaxRetries:  3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		SendTimeout: time.Second,
	})
}

func runOutreach(t *testing.T, transport Transport) domain.OutreachResult {
	t.Helper()

	q := queue.NewMemory[domain.OutreachTask](0)
	results := make(chan domain.Result, 1)
	w := newTestOutreachWorker(transport, q, results)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	defer func() {
		cancel()
		w.Wait()
	}()

	require.NoError(t, q.Enqueue(ctx, domain.OutreachTask{
		ID:           "task-1",
		LeadID:       "lead-1",
		EmailAddress: "user@acme.io",
		Subject:      "Special Offer",
		MessageBody:  "Hello",
	}))

	select {
	case res := <-results:
		outreach, ok := res.(domain.OutreachResult)
		require.True(t, ok, "unexpected result type %T", res)
		return outreach
	case <-time.After(2 * time.Second):
		t.Fatal("no outreach result received")
	}
	return domain.OutreachResult{}
}

func TestOutreachWorker_RetryPolicy(t *testing.T) {
	tests := []struct {
		name          string
		script        []error
		wantDelivered bool
		wantAttempts  int
		wantLastError *domain.ErrorKind
		wantCalls     int
	}{
		{
			name:          "success on first attempt",
			wantDelivered: true,
			wantAttempts:  1,
			wantCalls:     1,
		},
		{
			name: "timeout max retries times",
			script: []error{
				transportErr(domain.TransportTimeout),
				transportErr(domain.TransportTimeout),
				transportErr(domain.TransportTimeout),
			},
			wantDelivered: false,
			wantAttempts:  3,
			wantLastError: domain.TransportTimeout.Ptr(),
			wantCalls:     3,
		},
		{
			name: "timeout max retries minus one then success",
			script: []error{
				transportErr(domain.TransportTimeout),
				transportErr(domain.TransportTimeout),
			},
			wantDelivered: true,
			wantAttempts:  3,
			wantCalls:     3,
		},
		{
			name: "rate limited is transient",
			script: []error{
				transportErr(domain.TransportRateLimited),
			},
			wantDelivered: true,
			wantAttempts:  2,
			wantCalls:     2,
		},
		{
			name: "invalid recipient is not retried",
			script: []error{
				transportErr(domain.InvalidRecipient),
			},
			wantDelivered: false,
			wantAttempts:  1,
			wantLastError: domain.InvalidRecipient.Ptr(),
			wantCalls:     1,
		},
		{
			name: "rejection after a transient failure",
			script: []error{
				transportErr(domain.TransportTimeout),
				transportErr(domain.TransportRejected),
			},
			wantDelivered: false,
			wantAttempts:  2,
			wantLastError: domain.TransportRejected.Ptr(),
			wantCalls:     2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &scriptedTransport{script: tt.script}

			result := runOutreach(t, transport)

			assert.Equal(t, "lead-1", result.LeadID)
			assert.Equal(t, tt.wantDelivered, result.Delivered)
			assert.Equal(t, tt.wantAttempts, result.Attempts)
			assert.Equal(t, tt.wantLastError, result.LastError)
			assert.Equal(t, tt.wantCalls, transport.Calls())
		})
	}
}

func TestOutreachWorker_ProcessSchedulesRetry(t *testing.T) {
	q := queue.NewMemory[domain.OutreachTask](0)
	transport := &scriptedTransport{script: []error{transportErr(domain.TransportTimeout)}}
	w := newTestOutreachWorker(transport, q, nil)
	w.baseDelay = 20 * time.Millisecond
	w.maxDelay = time.Second

	task := domain.OutreachTask{ID: "task-1", LeadID: "lead-1", EmailAddress: "user@acme.io"}

	_, done := w.Process(context.Background(), task)
	assert.False(t, done)
	assert.Equal(t, 0, q.Size(), "retry must not be eligible before its backoff")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	retried, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, retried.AttemptCount)
	assert.Equal(t, task.ID, retried.ID)
	assert.Equal(t, 0, task.AttemptCount, "the caller's copy is not modified")
}

func TestOutreachWorker_PanickingTransport(t *testing.T) {
	w := newTestOutreachWorker(panickingTransport{}, queue.NewMemory[domain.OutreachTask](0), nil)

	result, done := w.Process(context.Background(), domain.OutreachTask{LeadID: "lead-1"})

	assert.True(t, done)
	assert.False(t, result.Delivered)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, domain.TransportRejected.Ptr(), result.LastError)
}

func TestOutreachWorker_Backoff(t *testing.T) {
	w := NewOutreachWorker(&OutreachConfig{
		Logger:    slog.Default(),
		BaseDelay: time.Second,
		MaxDelay:  10 * time.Second,
	})

	assert.Equal(t, 2*time.Second, w.backoff(1))
	assert.Equal(t, 4*time.Second, w.backoff(2))
	assert.Equal(t, 8*time.Second, w.backoff(3))
	assert.Equal(t, 10*time.Second, w.backoff(4))
	assert.Equal(t, 10*time.Second, w.backoff(64))
}

func TestNewOutreachWorker_Defaults(t *testing.T) {
	w := NewOutreachWorker(&OutreachConfig{Logger: slog.Default()})

	assert.Equal(t, defaultMaxRetries, w.maxRetries)
	assert.Equal(t, defaultBaseDelay, w.baseDelay)
	assert.Equal(t, defaultMaxDelay, w.maxDelay)
	assert.Equal(t, defaultSendTimeout, w.sendTimeout)
	assert.Equal(t, 1, w.pool.concurrency)
}

// malformedQueue reports one undecodable item, then blocks like an empty queue
type malformedQueue[T any] struct {
	leadID string
	once   sync.Once
}

func (m *malformedQueue[T]) Enqueue(ctx context.Context, item T) error { return nil }

func (m *malformedQueue[T]) EnqueueAfter(item T, delay time.Duration, onDrop queue.DropFunc[T]) {}

func (m *malformedQueue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	var err error
	m.once.Do(func() {
		err = &queue.MalformedItemError{LeadID: m.leadID, Err: errors.New("invalid character")}
	})
	if err != nil {
		return zero, err
	}
	<-ctx.Done()
	return zero, ctx.Err()
}

func (m *malformedQueue[T]) Size() int  { return 0 }
func (m *malformedQueue[T]) Close() int { return 0 }

// gatedTransport blocks each send until release is closed
type gatedTransport struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedTransport) Send(ctx context.Context, to, subject, body string) error {
	if g.calls.Add(1) == 1 {
		close(g.started)
	}
	<-g.release
	return nil
}

func TestOutreachWorker_ShutdownFinishesCurrentTask(t *testing.T) {
	const backlog = 20

	q := queue.NewMemory[domain.OutreachTask](0)
	results := make(chan domain.Result, backlog)
	transport := &gatedTransport{started: make(chan struct{}), release: make(chan struct{})}
	w := newTestOutreachWorker(transport, q, results)
	w.pool.concurrency = 1

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < backlog; i++ {
		require.NoError(t, q.Enqueue(ctx, domain.OutreachTask{
			ID:           fmt.Sprintf("task-%02d", i),
			LeadID:       fmt.Sprintf("lead-%02d", i),
			EmailAddress: "user@acme.io",
		}))
	}

	w.Start(ctx)

	select {
	case <-transport.started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up a task")
	}

	cancel()
	close(transport.release)
	w.Wait()

	assert.Equal(t, int32(1), transport.calls.Load(), "no further sends after shutdown")
	require.Len(t, results, 1)
	result := (<-results).(domain.OutreachResult)
	assert.Equal(t, "lead-00", result.LeadID)
	assert.True(t, result.Delivered)
	assert.Equal(t, backlog-1, q.Size())
}

func TestOutreachWorker_DroppedRetryReportsFailure(t *testing.T) {
	q := queue.NewMemory[domain.OutreachTask](1)
	require.NoError(t, q.Enqueue(context.Background(), domain.OutreachTask{ID: "filler", LeadID: "lead-0"}))

	results := make(chan domain.Result, 1)
	transport := &scriptedTransport{script: []error{transportErr(domain.TransportRateLimited)}}
	w := newTestOutreachWorker(transport, q, results)

	_, done := w.Process(context.Background(), domain.OutreachTask{
		ID:           "task-1",
		LeadID:       "lead-1",
		EmailAddress: "user@acme.io",
	})
	require.False(t, done)

	select {
	case res := <-results:
		result, ok := res.(domain.OutreachResult)
		require.True(t, ok)
		assert.Equal(t, "lead-1", result.LeadID)
		assert.False(t, result.Delivered)
		assert.Equal(t, 1, result.Attempts)
		assert.Equal(t, domain.TransportRateLimited.Ptr(), result.LastError)
	case <-time.After(2 * time.Second):
		t.Fatal("retry that could not be queued produced no result")
	}
	assert.Equal(t, 1, q.Size())
}

func TestOutreachWorker_DroppedRetryAfterShutdown(t *testing.T) {
	q := queue.NewMemory[domain.OutreachTask](0)
	q.Close()

	// Nobody reads results once the pool has stopped
	results := make(chan domain.Result)
	transport := &scriptedTransport{script: []error{transportErr(domain.TransportTimeout)}}
	w := newTestOutreachWorker(transport, q, results)
	w.Wait()

	finished := make(chan bool, 1)
	go func() {
		_, done := w.Process(context.Background(), domain.OutreachTask{LeadID: "lead-1"})
		finished <- done
	}()

	select {
	case done := <-finished:
		assert.False(t, done)
	case <-time.After(2 * time.Second):
		t.Fatal("dropped retry blocked after shutdown")
	}
}

func TestOutreachWorker_MalformedTask(t *testing.T) {
	results := make(chan domain.Result, 1)
	w := newTestOutreachWorker(&scriptedTransport{}, &malformedQueue[domain.OutreachTask]{leadID: "lead-7"}, results)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	defer func() {
		cancel()
		w.Wait()
	}()

	select {
	case res := <-results:
		result, ok := res.(domain.OutreachResult)
		require.True(t, ok)
		assert.Equal(t, "lead-7", result.LeadID)
		assert.False(t, result.Delivered)
		assert.Equal(t, domain.TransportRejected.Ptr(), result.LastError)
	case <-time.After(2 * time.Second):
		t.Fatal("malformed task produced no result")
	}
}

func TestOutreachWorker_MaxRetriesLogged(t *testing.T) {
	var logs bytes.Buffer
	w := newTestOutreachWorker(&scriptedTransport{}, queue.NewMemory[domain.OutreachTask](0), nil)
	w.logger = slog.New(slog.NewJSONHandler(&logs, nil))

	w.transport = &scriptedTransport{script: []error{transportErr(domain.TransportTimeout)}}
	result, done := w.Process(context.Background(), domain.OutreachTask{
		LeadID:       "lead-1",
		AttemptCount: 2,
	})

	require.True(t, done)
	assert.Equal(t, 3, result.Attempts)
	assert.Contains(t, logs.String(), domain.ErrMaxRetriesExceeded.Error())
}
