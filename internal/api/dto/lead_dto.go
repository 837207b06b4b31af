package dto

type CreateLeadRequest struct {
	Email         string `json:"email" binding:"required,email"`
	Company       string `json:"company" binding:"required"`
	Industry      string `json:"industry"`
	ContactNumber string `json:"contact_number" binding:"required"`
}

type ListLeadsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListLeadsResponse struct {
	Leads      []LeadDTO `json:"leads"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

type LeadDTO struct {
	LeadID           string `json:"lead_id"`
	Email            string `json:"email"`
	Company          string `json:"company"`
	Industry         string `json:"industry"`
	ContactNumber    string `json:"contact_number"`
	Status           string `json:"status"`
	EmailValid       *bool  `json:"email_valid,omitempty"`
	ValidationReason string `json:"validation_reason,omitempty"`
	OutreachAttempts int    `json:"outreach_attempts"`
	OutreachError    string `json:"outreach_error,omitempty"`
	Replies          int    `json:"replies"`
	Bounced          bool   `json:"bounced"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

type CreateSignalRequest struct {
	LeadID string `json:"lead_id" binding:"required,uuid"`
	Kind   string `json:"kind" binding:"required"`
}

type SignalAcceptedResponse struct {
	SignalID string `json:"signal_id"`
	LeadID   string `json:"lead_id"`
	Kind     string `json:"kind"`
}
