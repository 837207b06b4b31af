package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/campaign-crm/internal/api/model"
	"github.com/cuongbtq/campaign-crm/internal/campaign/domain"
	"github.com/jmoiron/sqlx"
)

const leadColumns = `
	lead_id, email, company, industry, contact_number, status,
	email_valid, validation_reason, outreach_attempts, outreach_error,
	replies, bounced, last_signal, created_at, updated_at
`

type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{db: db}
}

func (s *Storage) CreateLead(ctx context.Context, lead *model.Lead) error {
	query := `
		INSERT INTO leads (
			lead_id, email, company, industry,
			contact_number, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		lead.LeadID,
		lead.Email,
		lead.Company,
		lead.Industry,
		lead.ContactNumber,
		lead.Status,
		lead.CreatedAt,
		lead.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create lead: %w", err)
	}

	return nil
}

func (s *Storage) GetLeadByID(ctx context.Context, leadID string) (*model.Lead, error) {
	var lead model.Lead
	query := `SELECT ` + leadColumns + ` FROM leads WHERE lead_id = $1`

	err := s.db.GetContext(ctx, &lead, query, leadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrLeadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}

	return &lead, nil
}

type LeadFilter struct {
	Status   string
	PageSize int
	Cursor   *LeadCursor
}

type LeadCursor struct {
	CreatedAt time.Time
	LeadID    string
}

// buildListQuery returns the keyset pagination query for filter. One extra
// row is requested so the caller can tell whether another page exists.
func buildListQuery(filter LeadFilter) (string, []interface{}) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, lead_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.LeadID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, lead_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	return query, args
}

func (s *Storage) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query, args := buildListQuery(filter)

	var leads []model.Lead
	if err := s.db.SelectContext(ctx, &leads, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list leads: %w", err)
	}

	return leads, nil
}
