package domain

// Task is a unit of work handed from the supervisor to a worker.
// The set of implementations is closed: VerificationTask and OutreachTask.
type Task interface {
	TaskID() string
	Lead() string
	isTask()
}

// VerificationTask asks a verification worker to validate a lead's address
type VerificationTask struct {
	ID            string `json:"id"`
	LeadID        string `json:"lead_id"`
	EmailAddress  string `json:"email_address"`
	Company       string `json:"company,omitempty"`
	Industry      string `json:"industry,omitempty"`
	ContactNumber string `json:"contact_number,omitempty"`
}

func (t VerificationTask) TaskID() string { return t.ID }
func (t VerificationTask) Lead() string   { return t.LeadID }
func (VerificationTask) isTask()          {}

// LeadData returns the lead fields carried by the task
func (t VerificationTask) LeadData() Lead {
	return Lead{
		ID:            t.LeadID,
		Email:         t.EmailAddress,
		Company:       t.Company,
		Industry:      t.Industry,
		ContactNumber: t.ContactNumber,
	}
}

// OutreachTask asks an outreach worker to deliver a message to a verified lead.
// AttemptCount is only ever incremented by the outreach worker that owns the task.
type OutreachTask struct {
	ID           string `json:"id"`
	LeadID       string `json:"lead_id"`
	EmailAddress string `json:"email_address"`
	Subject      string `json:"subject"`
	MessageBody  string `json:"message_body"`
	AttemptCount int    `json:"attempt_count"`
}

func (t OutreachTask) TaskID() string { return t.ID }
func (t OutreachTask) Lead() string   { return t.LeadID }
func (OutreachTask) isTask()          {}
