package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldi/tend/pkg/models"
)

func somedayTask(created time.Time, threshold int) *models.Task {
	return &models.Task{
		ID:                 "s1",
		Status:             models.TaskStatusReady,
		NudgeThresholdDays: &threshold,
		CreatedAt:          created,
	}
}

func TestShouldNudge_ThresholdScenario(t *testing.T) {
	day0 := date(2026, time.March, 1, 9, 0)
	task := somedayTask(day0.AddDate(0, -1, 0), 7)
	task.LastCompletedAt = &day0

	assert.False(t, ShouldNudge(task, day0.AddDate(0, 0, 6)))

	day7 := day0.AddDate(0, 0, 7)
	require.True(t, ShouldNudge(task, day7))
	MarkNudged(task, day7)

	assert.False(t, ShouldNudge(task, day7.Add(3*time.Hour)), "second sweep on the same day")
	assert.True(t, ShouldNudge(task, day7.AddDate(0, 0, 1)))
}

func TestShouldNudge_FallsBackToCreation(t *testing.T) {
	created := date(2026, time.March, 1, 9, 0)
	task := somedayTask(created, 3)

	assert.False(t, ShouldNudge(task, created.AddDate(0, 0, 2)))
	assert.True(t, ShouldNudge(task, created.AddDate(0, 0, 3)))
}

func TestShouldNudge_Ineligible(t *testing.T) {
	created := date(2026, time.March, 1, 9, 0)
	later := created.AddDate(0, 1, 0)

	dated := somedayTask(created, 1)
	dated.HasDueDate = true
	assert.False(t, ShouldNudge(dated, later))

	noThreshold := somedayTask(created, 1)
	noThreshold.NudgeThresholdDays = nil
	assert.False(t, ShouldNudge(noThreshold, later))

	archived := somedayTask(created, 1)
	archived.Status = models.TaskStatusArchived
	assert.False(t, ShouldNudge(archived, later))
}

func TestSnooze(t *testing.T) {
	created := date(2026, time.March, 1, 9, 0)
	task := somedayTask(created, 1)
	now := created.AddDate(0, 0, 10)

	require.NoError(t, Snooze(task, now, 3))
	assert.False(t, ShouldNudge(task, now))
	assert.False(t, ShouldNudge(task, now.AddDate(0, 0, 3)))
	assert.True(t, ShouldNudge(task, now.AddDate(0, 0, 4)))

	assert.Error(t, Snooze(task, now, 0))
}

func TestShouldNudge_CountsCalendarDays(t *testing.T) {
	evening := date(2026, time.March, 1, 18, 0)
	task := somedayTask(evening.AddDate(0, -1, 0), 7)
	task.LastCompletedAt = &evening

	earlyDay7 := date(2026, time.March, 8, 3, 0)
	assert.True(t, ShouldNudge(task, earlyDay7), "fewer than seven full 24h spans still counts as day 7")
	assert.False(t, ShouldNudge(task, date(2026, time.March, 7, 23, 0)))
}

func TestShouldNudge_DayBoundaryInZoneOfNow(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 20:00 UTC on March 1 is already March 2 in Tokyo.
	completed := time.Date(2026, time.March, 1, 20, 0, 0, 0, time.UTC)
	task := somedayTask(completed.AddDate(0, -1, 0), 1)
	task.LastCompletedAt = &completed

	assert.False(t, ShouldNudge(task, time.Date(2026, time.March, 2, 23, 0, 0, 0, tokyo)))
	assert.True(t, ShouldNudge(task, time.Date(2026, time.March, 3, 1, 0, 0, 0, tokyo)))
}
