package model

import (
	"database/sql"
	"time"
)

// Lead is a row of the leads table as served by the API
type Lead struct {
	LeadID           string         `db:"lead_id"`
	Email            string         `db:"email"`
	Company          string         `db:"company"`
	Industry         string         `db:"industry"`
	ContactNumber    string         `db:"contact_number"`
	Status           string         `db:"status"`
	EmailValid       sql.NullBool   `db:"email_valid"`
	ValidationReason string         `db:"validation_reason"`
	OutreachAttempts int            `db:"outreach_attempts"`
	OutreachError    string         `db:"outreach_error"`
	Replies          int            `db:"replies"`
	Bounced          bool           `db:"bounced"`
	LastSignal       string         `db:"last_signal"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}
