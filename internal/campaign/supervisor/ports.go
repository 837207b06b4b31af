package supervisor

import (
	"context"

	"github.com/cuongbtq/campaign-crm/internal/campaign/domain"
)

// LeadStore is where leads come from and where outcomes are written back
type LeadStore interface {
	ListUnverifiedLeads(ctx context.Context, limit int) ([]domain.Lead, error)
	ListValidatedUncontactedLeads(ctx context.Context, limit int) ([]domain.Lead, error)
	RecordValidation(ctx context.Context, leadID string, result domain.ValidationResult) error
	RecordOutreach(ctx context.Context, leadID string, result domain.OutreachResult) error
	RecordSignal(ctx context.Context, leadID string, kind domain.SignalKind) error
}

// Inbox delivers reply and bounce signals
type Inbox interface {
	FetchUnreadSignals(ctx context.Context, limit int) ([]domain.Signal, error)
	MarkRead(ctx context.Context, signalID string) error
	Requeue(ctx context.Context, signalID string) error
}

// Mailer sends the periodic report
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// WorkerPool is a pool of workers feeding the result channel
type WorkerPool interface {
	Start(ctx context.Context)
	Wait()
}
