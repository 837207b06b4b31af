package domain

import "time"

// Lead processing status constants
const (
	LeadStatusNew       = "NEW"
	LeadStatusVerified  = "VERIFIED"
	LeadStatusRejected  = "REJECTED"
	LeadStatusContacted = "CONTACTED"
	LeadStatusFailed    = "FAILED"
)

// Lead is a prospective contact tracked through verification and outreach
type Lead struct {
	ID            string
	Email         string
	Company       string
	Industry      string
	ContactNumber string
}

// SignalKind classifies an inbox signal
type SignalKind string

const (
	SignalReply         SignalKind = "reply"
	SignalBounce        SignalKind = "bounce"
	SignalInterested    SignalKind = "interested"
	SignalNotInterested SignalKind = "not_interested"
)

// Valid reports whether k is a known signal kind
func (k SignalKind) Valid() bool {
	switch k {
	case SignalReply, SignalBounce, SignalInterested, SignalNotInterested:
		return true
	}
	return false
}

// IsReply reports whether the signal counts as a response from the lead
func (k SignalKind) IsReply() bool {
	return k == SignalReply || k == SignalInterested || k == SignalNotInterested
}

// Signal is an unread inbox event tied to a lead
type Signal struct {
	ID         string
	LeadID     string
	Kind       SignalKind
	ReceivedAt time.Time
}
