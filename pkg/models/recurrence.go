package models

import (
	"fmt"
	"strings"
	"time"
)

type RecurrenceKind string

const (
	// RecurrenceFixedSchedule advances from AnchorDate regardless of when completion happened.
	RecurrenceFixedSchedule RecurrenceKind = "fixed_schedule"
	// RecurrenceAfterCompletion is measured from the actual completion instant.
	RecurrenceAfterCompletion RecurrenceKind = "after_completion"
)

type Unit string

const (
	UnitHours  Unit = "hours"
	UnitDays   Unit = "days"
	UnitWeeks  Unit = "weeks"
	UnitMonths Unit = "months"
)

type Recurrence struct {
	ID              string         `json:"id"`
	Kind            RecurrenceKind `json:"kind"`
	Interval        int            `json:"interval"`
	Unit            Unit           `json:"unit"`
	ExcludeWeekdays []time.Weekday `json:"exclude_weekdays,omitempty"`
	AnchorDate      *time.Time     `json:"anchor_date"`
	NextDueDate     *time.Time     `json:"next_due_date"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Excludes reports whether d is one of the excluded weekdays.
func (r *Recurrence) Excludes(d time.Weekday) bool {
	for _, w := range r.ExcludeWeekdays {
		if w == d {
			return true
		}
	}
	return false
}

func (r *Recurrence) Clone() *Recurrence {
	if r == nil {
		return nil
	}
	c := *r
	if r.ExcludeWeekdays != nil {
		c.ExcludeWeekdays = append([]time.Weekday(nil), r.ExcludeWeekdays...)
	}
	c.AnchorDate = cloneTime(r.AnchorDate)
	c.NextDueDate = cloneTime(r.NextDueDate)
	return &c
}

// ParseWeekdays reads a comma-separated list of weekday names such as
// "sat,sun" or "Saturday, Sunday".
func ParseWeekdays(list string) ([]time.Weekday, error) {
	var out []time.Weekday
	for _, part := range strings.Split(list, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		found := false
		for d := time.Sunday; d <= time.Saturday; d++ {
			full := strings.ToLower(d.String())
			if name == full || name == full[:3] {
				out = append(out, d)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown weekday %q", part)
		}
	}
	return out, nil
}
