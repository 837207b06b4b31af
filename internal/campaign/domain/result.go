package domain

// ValidationResult is the outcome of one validation attempt. It is never mutated
// after the verification worker hands it over.
type ValidationResult struct {
	EmailAddress string `json:"email_address"`
	SyntaxOK     bool   `json:"syntax_ok"`
	DomainOK     bool   `json:"domain_ok"`
	MXOK         bool   `json:"mx_ok"`
	Valid        bool   `json:"valid"`
	Reason       string `json:"reason,omitempty"`
}

// Invalidate returns a copy marked invalid with the given reason.
// A result that is already invalid keeps its original reason.
func (r ValidationResult) Invalidate(reason string) ValidationResult {
	if !r.Valid {
		return r
	}
	r.Valid = false
	r.Reason = reason
	return r
}

// Result is what a worker sends back to the supervisor.
// The set of implementations is closed: VerificationOutcome and OutreachResult.
type Result interface {
	Lead() string
	isResult()
}

// VerificationOutcome pairs a validation result with the lead it belongs to
type VerificationOutcome struct {
	LeadID     string
	Validation ValidationResult
}

func (o VerificationOutcome) Lead() string { return o.LeadID }
func (VerificationOutcome) isResult()      {}

// OutreachResult is the final outcome of an outreach task
type OutreachResult struct {
	LeadID    string
	Delivered bool
	Attempts  int
	LastError *ErrorKind
}

func (r OutreachResult) Lead() string { return r.LeadID }
func (OutreachResult) isResult()      {}
