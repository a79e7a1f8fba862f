package db

import (
	"context"
	"testing"
	"time"

	"github.com/ldi/tend/pkg/models"
)

func TestApplyRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	anchor := at(2, 7)
	rec := &models.Recurrence{
		ID:              "r1",
		Kind:            models.RecurrenceFixedSchedule,
		Interval:        2,
		Unit:            models.UnitDays,
		ExcludeWeekdays: []time.Weekday{time.Saturday, time.Sunday},
		AnchorDate:      &anchor,
		NextDueDate:     &anchor,
		CreatedAt:       at(1, 9),
		UpdatedAt:       at(1, 9),
	}
	habit := newTask("h1", "")
	habit.Kind = models.TaskKindHabit
	habit.Description = "ten minutes"
	habit.Tags = []string{"health", "morning"}
	habit.HasDueDate = true
	habit.DueDate = &anchor
	habit.TargetFrequency = &models.Frequency{Count: 3, Period: models.PeriodWeek}
	habit.CurrentStreak = 4
	habit.LongestStreak = 9
	habit.StreakSafeUntil = ptr(anchor.Add(24 * time.Hour))
	habit.StreakLocked = true
	habit.RecurrenceID = ptr("r1")
	// Stored times come back in UTC whatever zone they were written in.
	habit.StartedAt = ptr(time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600)))

	someday := newTask("s1", "h1")
	someday.NudgeThresholdDays = ptr(7)
	someday.Repeating = true
	someday.BlockedReason = ptr("parts")
	someday.Status = models.TaskStatusBlocked

	mustApply(t, db, &models.Changeset{
		Recurrences: []*models.Recurrence{rec},
		Created:     []*models.Task{someday, habit},
	})

	got, err := db.GetTask(ctx, "h1")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Kind != models.TaskKindHabit || got.Description != "ten minutes" {
		t.Errorf("Unexpected kind/description: %s %q", got.Kind, got.Description)
	}
	if len(got.Tags) != 2 || got.Tags[1] != "morning" {
		t.Errorf("Expected tags to round-trip, got %v", got.Tags)
	}
	if !got.HasDueDate || !got.DueDate.Equal(anchor) {
		t.Errorf("Expected due %v, got %v", anchor, got.DueDate)
	}
	if got.TargetFrequency == nil || *got.TargetFrequency != (models.Frequency{Count: 3, Period: models.PeriodWeek}) {
		t.Errorf("Unexpected target frequency %+v", got.TargetFrequency)
	}
	if got.CurrentStreak != 4 || got.LongestStreak != 9 || !got.StreakLocked {
		t.Errorf("Unexpected streak fields %d/%d/%v", got.CurrentStreak, got.LongestStreak, got.StreakLocked)
	}
	if got.StartedAt.Location() != time.UTC || got.StartedAt.Hour() != 9 {
		t.Errorf("Expected started_at normalized to 09:00 UTC, got %v", got.StartedAt)
	}
	if got.RecurrenceID == nil || *got.RecurrenceID != "r1" {
		t.Errorf("Expected recurrence r1, got %v", got.RecurrenceID)
	}
	if got.ParentID != nil || got.LastCompletedAt != nil || got.NudgeThresholdDays != nil {
		t.Errorf("Expected nil pointers to stay nil: %+v", got)
	}

	child, err := db.GetTask(ctx, "s1")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if child.ParentID == nil || *child.ParentID != "h1" || *child.NudgeThresholdDays != 7 || !child.Repeating {
		t.Errorf("Unexpected child %+v", child)
	}
	if child.Tags != nil {
		t.Errorf("Expected no tags, got %v", child.Tags)
	}

	gotRec, err := db.GetRecurrence(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRecurrence failed: %v", err)
	}
	if gotRec.Interval != 2 || gotRec.Unit != models.UnitDays || !gotRec.Excludes(time.Sunday) || !gotRec.AnchorDate.Equal(anchor) {
		t.Errorf("Unexpected recurrence %+v", gotRec)
	}

	missing, err := db.GetTask(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("Expected (nil, nil) for a missing task, got %v, %v", missing, err)
	}
	missingRec, err := db.GetRecurrence(ctx, "nope")
	if err != nil || missingRec != nil {
		t.Errorf("Expected (nil, nil) for a missing recurrence, got %v, %v", missingRec, err)
	}
}

func TestApplyUpdatesAndIsAtomic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	mustApply(t, db, &models.Changeset{Created: []*models.Task{newTask("a", "")}})

	a, _ := db.GetTask(ctx, "a")
	a.Status = models.TaskStatusCompleted
	a.CompletedCount = 1
	a.LastCompletedAt = ptr(at(2, 9))

	err := db.Apply(ctx, &models.Changeset{
		Updated:     []*models.Task{a},
		Completions: []*models.Completion{{ID: "c1", TaskID: "a", CompletedAt: at(2, 9)}},
		Created:     []*models.Task{newTask("a", "")},
	})
	if err == nil {
		t.Fatal("Expected a duplicate id to fail the changeset")
	}

	got, _ := db.GetTask(ctx, "a")
	if got.Status != models.TaskStatusReady || got.CompletedCount != 0 {
		t.Errorf("Expected the failed changeset to leave the task alone, got %s/%d", got.Status, got.CompletedCount)
	}
	history, _ := db.ListCompletions(ctx, models.CompletionFilter{TaskID: "a"})
	if len(history) != 0 {
		t.Errorf("Expected no completions, got %d", len(history))
	}

	mustApply(t, db, &models.Changeset{
		Updated:     []*models.Task{a},
		Completions: []*models.Completion{{ID: "c1", TaskID: "a", CompletedAt: at(2, 9), WasLate: true}},
	})
	got, _ = db.GetTask(ctx, "a")
	if got.Status != models.TaskStatusCompleted || got.CompletedCount != 1 || !got.LastCompletedAt.Equal(at(2, 9)) {
		t.Errorf("Expected the update to be stored, got %+v", got)
	}

	if err := db.Apply(ctx, &models.Changeset{Updated: []*models.Task{newTask("ghost", "")}}); err == nil {
		t.Error("Expected updating an unknown task to fail")
	}
}

func TestGetTaskByTitle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	older := newTask("old", "")
	older.Title = "laundry"
	newer := newTask("new", "")
	newer.Title = "laundry"
	newer.CreatedAt = at(2, 9)
	done := newTask("done", "")
	done.Title = "laundry"
	done.Status = models.TaskStatusCompleted
	done.CreatedAt = at(3, 9)
	other := newTask("other", "")
	other.Title = "laundry"
	other.OwnerID = "you"
	other.CreatedAt = at(4, 9)
	mustApply(t, db, &models.Changeset{Created: []*models.Task{older, newer, done, other}})

	got, err := db.GetTaskByTitle(ctx, "me", "laundry")
	if err != nil {
		t.Fatalf("GetTaskByTitle failed: %v", err)
	}
	if got == nil || got.ID != "new" {
		t.Errorf("Expected the newest open task, got %v", got)
	}

	got, err = db.GetTaskByTitle(ctx, "me", "dishes")
	if err != nil || got != nil {
		t.Errorf("Expected (nil, nil), got %v, %v", got, err)
	}
}

func TestListTasks(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	parent := newTask("p", "")
	parent.Tags = []string{"home"}
	child := newTask("c", "p")
	child.Tags = []string{"home", "urgent"}
	child.CreatedAt = at(1, 10)
	habit := newTask("h", "")
	habit.Kind = models.TaskKindHabit
	habit.CreatedAt = at(1, 11)
	archived := newTask("x", "")
	archived.Status = models.TaskStatusArchived
	archived.CreatedAt = at(1, 12)
	theirs := newTask("y", "")
	theirs.OwnerID = "you"
	mustApply(t, db, &models.Changeset{Created: []*models.Task{parent, child, habit, archived, theirs}})

	tests := []struct {
		name   string
		filter TaskFilter
		want   []string
	}{
		{"owner", TaskFilter{OwnerID: "me"}, []string{"p", "c", "h", "x"}},
		{"open", TaskFilter{OwnerID: "me", Open: true}, []string{"p", "c", "h"}},
		{"status", TaskFilter{Status: models.TaskStatusArchived}, []string{"x"}},
		{"tag", TaskFilter{Tag: "urgent"}, []string{"c"}},
		{"parent kind", TaskFilter{Kind: models.TaskKindParent}, []string{"p"}},
		{"habit kind", TaskFilter{Kind: models.TaskKindHabit}, []string{"h"}},
		{"children", TaskFilter{ParentID: "p"}, []string{"c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, err := db.ListTasks(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListTasks failed: %v", err)
			}
			if got := taskIDs(tasks); !equalIDs(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestListSweepCandidatesAndOwners(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	habit := newTask("habit", "")
	habit.Kind = models.TaskKindHabit
	habit.HasDueDate = true
	habit.DueDate = ptr(at(2, 9))
	habit.StreakSafeUntil = ptr(at(3, 9))
	undated := newTask("someday", "")
	undated.NudgeThresholdDays = ptr(3)
	dated := newTask("dated", "")
	dated.NudgeThresholdDays = ptr(3)
	dated.HasDueDate = true
	dated.DueDate = ptr(at(9, 9))
	plain := newTask("plain", "")
	done := newTask("done", "")
	done.NudgeThresholdDays = ptr(3)
	done.Status = models.TaskStatusCompleted
	theirs := newTask("theirs", "")
	theirs.OwnerID = "you"
	theirs.NudgeThresholdDays = ptr(1)
	mustApply(t, db, &models.Changeset{Created: []*models.Task{habit, undated, dated, plain, done, theirs}})

	tasks, err := db.ListSweepCandidates(ctx, "me")
	if err != nil {
		t.Fatalf("ListSweepCandidates failed: %v", err)
	}
	if got := taskIDs(tasks); !equalIDs(got, []string{"habit", "someday"}) {
		t.Errorf("Expected habit and someday, got %v", got)
	}

	owners, err := db.ListOwners(ctx)
	if err != nil {
		t.Fatalf("ListOwners failed: %v", err)
	}
	if !equalIDs(owners, []string{"me", "you"}) {
		t.Errorf("Expected [me you], got %v", owners)
	}
}

func TestListCompletions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec := &models.Recurrence{ID: "r", Kind: models.RecurrenceAfterCompletion, Interval: 1, Unit: models.UnitDays, CreatedAt: at(1, 0), UpdatedAt: at(1, 0)}
	first := newTask("first", "")
	first.RecurrenceID = ptr("r")
	second := newTask("second", "")
	second.RecurrenceID = ptr("r")
	second.SpawnedFromID = ptr("first")
	mustApply(t, db, &models.Changeset{Recurrences: []*models.Recurrence{rec}, Created: []*models.Task{first, second}})
	mustApply(t, db, &models.Changeset{Completions: []*models.Completion{
		{ID: "c2", TaskID: "second", RecurrenceID: ptr("r"), CompletedAt: at(3, 9), CountedTowardStreak: true},
		{ID: "c1", TaskID: "first", RecurrenceID: ptr("r"), CompletedAt: at(2, 9), Cascaded: true},
	}})

	series, err := db.ListCompletions(ctx, models.CompletionFilter{RecurrenceID: "r"})
	if err != nil {
		t.Fatalf("ListCompletions failed: %v", err)
	}
	if len(series) != 2 || series[0].ID != "c1" || !series[0].Cascaded || !series[1].CountedTowardStreak {
		t.Errorf("Expected the series oldest first, got %+v", series)
	}

	window, err := db.ListCompletions(ctx, models.CompletionFilter{RecurrenceID: "r", From: ptr(at(3, 0))})
	if err != nil {
		t.Fatalf("ListCompletions failed: %v", err)
	}
	if len(window) != 1 || window[0].ID != "c2" {
		t.Errorf("Expected only c2 in the window, got %+v", window)
	}

	one, _ := db.ListCompletions(ctx, models.CompletionFilter{TaskID: "first"})
	if len(one) != 1 || one[0].ID != "c1" {
		t.Errorf("Expected c1 for task first, got %+v", one)
	}

	spawned, err := db.ListSpawned(ctx, "first")
	if err != nil {
		t.Fatalf("ListSpawned failed: %v", err)
	}
	if got := taskIDs(spawned); !equalIDs(got, []string{"second"}) {
		t.Errorf("Expected [second], got %v", got)
	}
}

func taskIDs(tasks []*models.Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
