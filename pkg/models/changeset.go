package models

import "time"

// Changeset is everything one lifecycle event wants persisted. It is applied
// as a single unit.
type Changeset struct {
	Created     []*Task       `json:"created,omitempty"`
	Updated     []*Task       `json:"updated,omitempty"`
	Recurrences []*Recurrence `json:"recurrences,omitempty"`
	Completions []*Completion `json:"completions,omitempty"`
}

func (c *Changeset) Empty() bool {
	return c == nil || (len(c.Created) == 0 && len(c.Updated) == 0 && len(c.Recurrences) == 0 && len(c.Completions) == 0)
}

// Update records t as updated, replacing an earlier entry for the same task.
func (c *Changeset) Update(t *Task) {
	for i, u := range c.Updated {
		if u.ID == t.ID {
			c.Updated[i] = t
			return
		}
	}
	c.Updated = append(c.Updated, t)
}

func (c *Changeset) UpsertRecurrence(r *Recurrence) {
	for i, u := range c.Recurrences {
		if u.ID == r.ID {
			c.Recurrences[i] = r
			return
		}
	}
	c.Recurrences = append(c.Recurrences, r)
}

type IntentKind string

const (
	IntentOccurrenceCreated  IntentKind = "occurrence.created"
	IntentStreakSaved        IntentKind = "streak.saved"
	IntentStreakReset        IntentKind = "streak.reset"
	IntentSuggestionSurfaced IntentKind = "suggestion.surfaced"
	IntentParentCompleted    IntentKind = "parent.completed"
	IntentTaskReopened       IntentKind = "task.reopened"
)

// Intent is a side effect the core asks its environment to carry out.
type Intent struct {
	Kind    IntentKind        `json:"kind"`
	TaskID  string            `json:"task_id"`
	OwnerID string            `json:"owner_id"`
	At      time.Time         `json:"at"`
	Detail  map[string]string `json:"detail,omitempty"`
}
