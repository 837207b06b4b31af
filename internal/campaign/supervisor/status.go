package supervisor

import (
	"time"

	"github.com/cuongbtq/campaign-crm/internal/campaign/domain"
)

// Status is a read-only snapshot of the supervisor
type Status struct {
	State             State         `json:"state"`
	VerificationQueue int           `json:"verification_queue"`
	OutreachQueue     int           `json:"outreach_queue"`
	InFlight          int           `json:"in_flight"`
	PendingWrites     int           `json:"pending_writes"`
	Report            domain.Report `json:"report"`
	LastPollAt        time.Time     `json:"last_poll_at"`
	LastReportAt      time.Time     `json:"last_report_at"`
	NextReportAt      time.Time     `json:"next_report_at"`
}

// Status returns the latest snapshot. It is safe to call from any goroutine.
func (s *Supervisor) Status() Status {
	return *s.status.Load()
}

func (s *Supervisor) setState(state State) {
	s.state = state
	s.publishStatus()
}

func (s *Supervisor) publishStatus() {
	st := &Status{
		State:         s.state,
		InFlight:      len(s.inFlight),
		PendingWrites: len(s.pendingWrites),
		Report:        s.report,
		LastPollAt:    s.lastPollAt,
		LastReportAt:  s.lastReportAt,
		NextReportAt:  s.nextReportAt,
	}
	if s.verificationQueue != nil {
		st.VerificationQueue = s.verificationQueue.Size()
	}
	if s.outreachQueue != nil {
		st.OutreachQueue = s.outreachQueue.Size()
	}
	s.status.Store(st)
}
