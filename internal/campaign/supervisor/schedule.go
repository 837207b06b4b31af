package supervisor

import (
	"fmt"
	"time"
)

// Schedule fires once a day at a fixed time of day
type Schedule struct {
	hour     int
	minute   int
	location *time.Location
}

// ParseSchedule parses an "HH:MM" time of day in loc (UTC when nil)
func ParseSchedule(timeOfDay string, loc *time.Location) (*Schedule, error) {
	t, err := time.Parse("15:04", timeOfDay)
	if err != nil {
		return nil, fmt.Errorf("invalid report time of day %q: %w", timeOfDay, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Schedule{
		hour:     t.Hour(),
		minute:   t.Minute(),
		location: loc,
	}, nil
}

// Next returns the first scheduled instant strictly after t
func (s *Schedule) Next(t time.Time) time.Time {
	local := t.In(s.location)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.minute, 0, 0, s.location)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// String returns the schedule as "HH:MM Location"
func (s *Schedule) String() string {
	return fmt.Sprintf("%02d:%02d %s", s.hour, s.minute, s.location)
}
