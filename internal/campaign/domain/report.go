package domain

import (
	"fmt"
	"strings"
	"time"
)

// Report aggregates outcome counters over one reporting window
type Report struct {
	LeadsVerified int       `json:"leads_verified"`
	LeadsValid    int       `json:"leads_valid"`
	EmailsSent    int       `json:"emails_sent"`
	EmailsFailed  int       `json:"emails_failed"`
	Replies       int       `json:"replies"`
	Bounces       int       `json:"bounces"`
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
}

// Empty reports whether nothing has been folded into the report
func (r Report) Empty() bool {
	return r.LeadsVerified == 0 && r.EmailsSent == 0 && r.EmailsFailed == 0 &&
		r.Replies == 0 && r.Bounces == 0
}

// Subject returns the subject line of the report email
func (r Report) Subject() string {
	return fmt.Sprintf("Daily Campaign Report %s", r.WindowEnd.Format(time.DateOnly))
}

// Body renders the report as a plain-text email body
func (r Report) Body() string {
	var b strings.Builder
	b.WriteString("Sales Campaign Report\n")
	fmt.Fprintf(&b, "Window: %s - %s\n", r.WindowStart.Format(time.DateTime), r.WindowEnd.Format(time.DateTime))
	fmt.Fprintf(&b, "Leads Verified: %d\n", r.LeadsVerified)
	fmt.Fprintf(&b, "Valid Leads: %d\n", r.LeadsValid)
	fmt.Fprintf(&b, "Emails Sent: %d\n", r.EmailsSent)
	fmt.Fprintf(&b, "Emails Failed: %d\n", r.EmailsFailed)
	fmt.Fprintf(&b, "Replies: %d\n", r.Replies)
	fmt.Fprintf(&b, "Bounces: %d\n", r.Bounces)
	return b.String()
}
