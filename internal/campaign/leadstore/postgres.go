// Package leadstore persists lead verification and outreach outcomes in
// PostgreSQL.
package leadstore

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/campaign-crm/internal/campaign/domain"
	"github.com/jmoiron/sqlx"
)

type leadRow struct {
	LeadID        string `db:"lead_id"`
	Email         string `db:"email"`
	Company       string `db:"company"`
	Industry      string `db:"industry"`
	ContactNumber string `db:"contact_number"`
}

func (r leadRow) toDomain() domain.Lead {
	return domain.Lead{
		ID:            r.LeadID,
		Email:         r.Email,
		Company:       r.Company,
		Industry:      r.Industry,
		ContactNumber: r.ContactNumber,
	}
}

// Postgres is a LeadStore on the leads table
type Postgres struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgres creates a lead store on db
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

const listByStatusQuery = `
	SELECT lead_id, email, company, industry, contact_number
	FROM leads
	WHERE status = $1
	ORDER BY created_at, lead_id
	LIMIT $2
`

// ListUnverifiedLeads returns up to limit leads that were never verified,
// oldest first
func (s *Postgres) ListUnverifiedLeads(ctx context.Context, limit int) ([]domain.Lead, error) {
	leads, err := s.listByStatus(ctx, domain.LeadStatusNew, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unverified leads: %w", err)
	}
	return leads, nil
}

// ListValidatedUncontactedLeads returns up to limit verified leads that have
// not been contacted yet, oldest first
func (s *Postgres) ListValidatedUncontactedLeads(ctx context.Context, limit int) ([]domain.Lead, error) {
	leads, err := s.listByStatus(ctx, domain.LeadStatusVerified, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list verified leads: %w", err)
	}
	return leads, nil
}

func (s *Postgres) listByStatus(ctx context.Context, status string, limit int) ([]domain.Lead, error) {
	var rows []leadRow
	if err := s.db.SelectContext(ctx, &rows, listByStatusQuery, status, limit); err != nil {
		return nil, err
	}

	leads := make([]domain.Lead, 0, len(rows))
	for _, r := range rows {
		leads = append(leads, r.toDomain())
	}
	return leads, nil
}

// RecordValidation stores the verification outcome and moves the lead to
// VERIFIED or REJECTED
func (s *Postgres) RecordValidation(ctx context.Context, leadID string, result domain.ValidationResult) error {
	query := `
		UPDATE leads
		SET status = $2,
			email_valid = $3,
			validation_reason = $4,
			verified_at = $5,
			updated_at = $5
		WHERE lead_id = $1
	`

	res, err := s.db.ExecContext(ctx, query,
		leadID,
		validationStatus(result),
		result.Valid,
		result.Reason,
		s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record validation: %w", err)
	}
	return expectOneRow(res, leadID)
}

// RecordOutreach stores the delivery outcome and moves the lead to
// CONTACTED or FAILED
func (s *Postgres) RecordOutreach(ctx context.Context, leadID string, result domain.OutreachResult) error {
	query := `
		UPDATE leads
		SET status = $2,
			outreach_attempts = $3,
			outreach_error = $4,
			contacted_at = CASE WHEN $5 THEN $6 ELSE contacted_at END,
			updated_at = $6
		WHERE lead_id = $1
	`

	res, err := s.db.ExecContext(ctx, query,
		leadID,
		outreachStatus(result),
		result.Attempts,
		outreachError(result),
		result.Delivered,
		s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record outreach: %w", err)
	}
	return expectOneRow(res, leadID)
}

// RecordSignal counts a reply or flags a bounce on the lead
func (s *Postgres) RecordSignal(ctx context.Context, leadID string, kind domain.SignalKind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidSignal, kind)
	}

	query := `
		UPDATE leads
		SET replies = replies + $2,
			bounced = bounced OR $3,
			last_signal = $4,
			last_signal_at = $5,
			updated_at = $5
		WHERE lead_id = $1
	`

	replies := 0
	if kind.IsReply() {
		replies = 1
	}

	res, err := s.db.ExecContext(ctx, query,
		leadID,
		replies,
		kind == domain.SignalBounce,
		string(kind),
		s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record signal: %w", err)
	}
	return expectOneRow(res, leadID)
}

func validationStatus(result domain.ValidationResult) string {
	if result.Valid {
		return domain.LeadStatusVerified
	}
	return domain.LeadStatusRejected
}

func outreachStatus(result domain.OutreachResult) string {
	if result.Delivered {
		return domain.LeadStatusContacted
	}
	return domain.LeadStatusFailed
}

func outreachError(result domain.OutreachResult) string {
	if result.LastError == nil {
		return ""
	}
	return string(*result.LastError)
}

type rowsAffected interface {
	RowsAffected() (int64, error)
}

func expectOneRow(res rowsAffected, leadID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrLeadNotFound, leadID)
	}
	return nil
}
