package engine

import (
	"fmt"
	"time"

	"github.com/ldi/tend/pkg/models"
)

// ShouldNudge decides whether a someday task resurfaces as a suggestion at now.
// It is idempotent per calendar day: once LastNudgedAt falls inside today (or
// in the future, which is how a snooze is expressed) it returns false.
func ShouldNudge(task *models.Task, now time.Time) bool {
	if !task.IsSomeday() || *task.NudgeThresholdDays <= 0 {
		return false
	}
	switch task.Status {
	case models.TaskStatusReady, models.TaskStatusInProgress, models.TaskStatusBlocked:
	default:
		return false
	}

	reference := task.CreatedAt
	if task.LastCompletedAt != nil {
		reference = *task.LastCompletedAt
	}
	if calendarDays(reference, now) < *task.NudgeThresholdDays {
		return false
	}

	if task.LastNudgedAt == nil {
		return true
	}
	startOfDay, _ := PeriodWindow(models.PeriodDay, now)
	return task.LastNudgedAt.Before(startOfDay)
}

// calendarDays counts midnights between from and to in the zone of to, so a
// task completed late in the evening counts a full day by the next morning.
func calendarDays(from, to time.Time) int {
	fy, fm, fd := from.In(to.Location()).Date()
	ty, tm, td := to.Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a) / (24 * time.Hour))
}

func MarkNudged(task *models.Task, now time.Time) {
	at := now
	task.LastNudgedAt = &at
}

// Snooze pushes the next possible nudge out by days.
func Snooze(task *models.Task, now time.Time, days int) error {
	if days <= 0 {
		return fmt.Errorf("snooze days must be positive, got %d", days)
	}
	until := now.AddDate(0, 0, days)
	task.LastNudgedAt = &until
	return nil
}
