package supervisor

import (
	"context"
	"errors"
	"sync"

	"github.com/cuongbtq/campaign-crm/internal/campaign/domain"
)

var errUnavailable = errors.New("unavailable")

type fakeStore struct {
	mu          sync.Mutex
	unverified  []domain.Lead
	uncontacted []domain.Lead
	listErr     error
	writeErr    error
	validations map[string]domain.ValidationResult
	outreach    map[string]domain.OutreachResult
	signals     map[string][]domain.SignalKind
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		validations: make(map[string]domain.ValidationResult),
		outreach:    make(map[string]domain.OutreachResult),
		signals:     make(map[string][]domain.SignalKind),
	}
}

func (s *fakeStore) ListUnverifiedLeads(ctx context.Context, limit int) ([]domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var leads []domain.Lead
	for _, l := range s.unverified {
		if _, done := s.validations[l.ID]; !done {
			leads = append(leads, l)
		}
	}
	return leads, nil
}

func (s *fakeStore) ListValidatedUncontactedLeads(ctx context.Context, limit int) ([]domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var leads []domain.Lead
	for _, l := range s.uncontacted {
		if _, done := s.outreach[l.ID]; !done {
			leads = append(leads, l)
		}
	}
	for _, l := range s.unverified {
		v, verified := s.validations[l.ID]
		if _, done := s.outreach[l.ID]; verified && v.Valid && !done {
			leads = append(leads, l)
		}
	}
	return leads, nil
}

func (s *fakeStore) RecordValidation(ctx context.Context, leadID string, result domain.ValidationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.validations[leadID] = result
	return nil
}

func (s *fakeStore) RecordOutreach(ctx context.Context, leadID string, result domain.OutreachResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.outreach[leadID] = result
	return nil
}

func (s *fakeStore) RecordSignal(ctx context.Context, leadID string, kind domain.SignalKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.signals[leadID] = append(s.signals[leadID], kind)
	return nil
}

func (s *fakeStore) setWriteErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

func (s *fakeStore) outreachCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outreach)
}

type fakeInbox struct {
	mu       sync.Mutex
	unread   []domain.Signal
	read     []string
	requeued []string
}

func (i *fakeInbox) FetchUnreadSignals(ctx context.Context, limit int) ([]domain.Signal, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	signals := i.unread
	i.unread = nil
	return signals, nil
}

func (i *fakeInbox) MarkRead(ctx context.Context, signalID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.read = append(i.read, signalID)
	return nil
}

func (i *fakeInbox) Requeue(ctx context.Context, signalID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.requeued = append(i.requeued, signalID)
	return nil
}

type sentMail struct {
	to      string
	subject string
	body    string
}

type fakeMailer struct {
	mu   sync.Mutex
	err  error
	sent []sentMail
}

func (m *fakeMailer) Send(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func (m *fakeMailer) Sent() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sent...)
}

type idleWorkers struct{}

func (idleWorkers) Start(ctx context.Context) {}
func (idleWorkers) Wait()                     {}
