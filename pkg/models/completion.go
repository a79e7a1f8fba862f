package models

import "time"

// Completion is one immutable completion event. Rows are appended, never updated.
type Completion struct {
	ID                  string    `json:"id"`
	TaskID              string    `json:"task_id"`
	RecurrenceID        *string   `json:"recurrence_id"`
	CompletedAt         time.Time `json:"completed_at"`
	WasLate             bool      `json:"was_late"`
	WasRetroactive      bool      `json:"was_retroactive"`
	CountedTowardStreak bool      `json:"counted_toward_streak"`
	Cascaded            bool      `json:"cascaded"`
}

// CompletionFilter selects history rows. RecurrenceID takes precedence over
// TaskID because a recurring series spans several task instances.
type CompletionFilter struct {
	TaskID       string
	RecurrenceID string
	From         *time.Time
	To           *time.Time
}

// Matches applies the time window of the filter.
func (f CompletionFilter) Matches(c *Completion) bool {
	if f.From != nil && c.CompletedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !c.CompletedAt.Before(*f.To) {
		return false
	}
	return true
}
