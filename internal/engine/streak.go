package engine

import (
	"time"

	"github.com/ldi/tend/pkg/models"
)

// GracePeriod is how long after its due date a habit occurrence may still be
// completed for streak credit.
const GracePeriod = 24 * time.Hour

type StreakOutcome struct {
	Counted        bool
	WasLate        bool
	WasRetroactive bool
}

// GraceDeadline is the StreakSafeUntil of an occurrence due at due.
func GraceDeadline(due time.Time) time.Time {
	return due.Add(GracePeriod)
}

// ApplyHabitCompletion decides the streak effect of completing a habit at t
// and updates the streak counters on success. On error task is untouched.
func ApplyHabitCompletion(task *models.Task, t time.Time) (StreakOutcome, error) {
	if task.StreakLocked {
		return StreakOutcome{}, newError(ErrGracePeriodExpired, task.ID, "occurrence was closed by the daily sweep")
	}

	var out StreakOutcome
	if task.DueDate != nil && t.After(*task.DueDate) {
		safeUntil := GraceDeadline(*task.DueDate)
		if task.StreakSafeUntil != nil {
			safeUntil = *task.StreakSafeUntil
		}
		if t.After(safeUntil) {
			return StreakOutcome{}, newError(ErrGracePeriodExpired, task.ID, "completed %s, grace ended %s",
				t.Format(time.RFC3339), safeUntil.Format(time.RFC3339))
		}
		out.WasLate = true
		out.WasRetroactive = true
	}

	task.CurrentStreak++
	if task.CurrentStreak > task.LongestStreak {
		task.LongestStreak = task.CurrentStreak
	}
	out.Counted = true
	return out, nil
}

// RevertStreak undoes the credit of one counted completion.
func RevertStreak(task *models.Task) {
	if task.CurrentStreak > 0 {
		task.CurrentStreak--
	}
}

// ExpireStreak resets the streak of a habit whose grace window has passed
// without completion and locks the occurrence against late completion. It
// reports whether the task changed; running it again is a no-op.
func ExpireStreak(task *models.Task, now time.Time) bool {
	if !task.IsHabit() || task.StreakSafeUntil == nil {
		return false
	}
	if task.Status == models.TaskStatusCompleted || task.Status == models.TaskStatusArchived {
		return false
	}
	if !now.After(*task.StreakSafeUntil) {
		return false
	}
	if task.StreakLocked && task.CurrentStreak == 0 {
		return false
	}
	task.CurrentStreak = 0
	task.StreakLocked = true
	return true
}

// PeriodWindow returns the [from, to) window of the period containing now,
// in now's location. Weeks are ISO weeks starting Monday.
func PeriodWindow(period models.Period, now time.Time) (time.Time, time.Time) {
	y, m, d := now.Date()
	loc := now.Location()
	switch period {
	case models.PeriodWeek:
		offset := (int(now.Weekday()) + 6) % 7
		from := time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
		return from, from.AddDate(0, 0, 7)
	case models.PeriodMonth:
		from := time.Date(y, m, 1, 0, 0, 0, 0, loc)
		return from, from.AddDate(0, 1, 0)
	default:
		from := time.Date(y, m, d, 0, 0, 0, 0, loc)
		return from, from.AddDate(0, 0, 1)
	}
}

// HabitDue reports whether a habit still needs doing today. Daily habits are
// always due; weekly and monthly habits are due until the number of distinct
// completions in the current period reaches the target count.
func HabitDue(task *models.Task, history []*models.Completion, now time.Time) bool {
	if !task.IsHabit() || task.TargetFrequency == nil {
		return false
	}
	f := task.TargetFrequency
	if f.Period == models.PeriodDay {
		return true
	}

	from, to := PeriodWindow(f.Period, now)
	seen := make(map[string]bool, len(history))
	for _, c := range history {
		if c.CompletedAt.Before(from) || !c.CompletedAt.Before(to) {
			continue
		}
		seen[c.ID] = true
	}
	return len(seen) < f.Count
}
