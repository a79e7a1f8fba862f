package models

import "time"

type TaskStatus string

const (
	TaskStatusReady      TaskStatus = "ready"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusArchived   TaskStatus = "archived"
)

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusReady, TaskStatusInProgress, TaskStatusBlocked, TaskStatusCompleted, TaskStatusArchived:
		return true
	}
	return false
}

type TaskKind string

const (
	TaskKindStandard TaskKind = "standard"
	TaskKindHabit    TaskKind = "habit"

	// TaskKindParent is never stored. A task is a parent whenever it has children.
	TaskKindParent TaskKind = "parent"
)

type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Frequency is a habit's target: Count completions per Period.
type Frequency struct {
	Count  int    `json:"count"`
	Period Period `json:"period"`
}

type Task struct {
	ID          string   `json:"id"`
	OwnerID     string   `json:"owner_id"`
	ParentID    *string  `json:"parent_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`

	Kind          TaskKind   `json:"kind"`
	Status        TaskStatus `json:"status"`
	BlockedReason *string    `json:"blocked_reason"`

	HasDueDate bool       `json:"has_due_date"`
	DueDate    *time.Time `json:"due_date"`
	StartedAt  *time.Time `json:"started_at"`

	LastCompletedAt *time.Time `json:"last_completed_at"`
	CompletedCount  int        `json:"completed_count"`

	TargetFrequency *Frequency `json:"target_frequency,omitempty"`
	CurrentStreak   int        `json:"current_streak"`
	LongestStreak   int        `json:"longest_streak"`
	StreakSafeUntil *time.Time `json:"streak_safe_until"`
	StreakLocked    bool       `json:"streak_locked"`

	NudgeThresholdDays *int       `json:"nudge_threshold_days"`
	LastNudgedAt       *time.Time `json:"last_nudged_at"`
	Repeating          bool       `json:"repeating"`

	RecurrenceID  *string `json:"recurrence_id"`
	SpawnedFromID *string `json:"spawned_from_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t *Task) IsHabit() bool {
	return t.Kind == TaskKindHabit
}

// IsSomeday reports whether the task is a dateless task that takes part in nudging.
func (t *Task) IsSomeday() bool {
	return !t.HasDueDate && t.NudgeThresholdDays != nil
}

func (t *Task) IsRecurring() bool {
	return t.RecurrenceID != nil
}

// EffectiveKind is the kind as seen by callers: any task with children is a parent.
func (t *Task) EffectiveKind(hasChildren bool) TaskKind {
	if hasChildren {
		return TaskKindParent
	}
	return t.Kind
}

// Clone returns a deep copy so planners can mutate freely.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.ParentID = cloneString(t.ParentID)
	c.BlockedReason = cloneString(t.BlockedReason)
	c.RecurrenceID = cloneString(t.RecurrenceID)
	c.SpawnedFromID = cloneString(t.SpawnedFromID)
	c.DueDate = cloneTime(t.DueDate)
	c.StartedAt = cloneTime(t.StartedAt)
	c.LastCompletedAt = cloneTime(t.LastCompletedAt)
	c.StreakSafeUntil = cloneTime(t.StreakSafeUntil)
	c.LastNudgedAt = cloneTime(t.LastNudgedAt)
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	if t.TargetFrequency != nil {
		f := *t.TargetFrequency
		c.TargetFrequency = &f
	}
	if t.NudgeThresholdDays != nil {
		d := *t.NudgeThresholdDays
		c.NudgeThresholdDays = &d
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
