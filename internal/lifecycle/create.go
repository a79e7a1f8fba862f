package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ldi/tend/internal/engine"
	"github.com/ldi/tend/pkg/models"
)

var ErrInvalidTask = errors.New("invalid task")

// NewTask is one entry of a batch create. ParentTitle names the parent by
// title when its id is not known yet, e.g. when it is created in the same
// batch.
type NewTask struct {
	Task        *models.Task
	Recurrence  *models.Recurrence
	ParentTitle string
}

// CreateTask validates and stores a new task in ready, optionally with the
// recurrence it repeats on. The stored copy is returned.
func (c *Coordinator) CreateTask(ctx context.Context, task *models.Task, rec *models.Recurrence) (*models.Task, error) {
	created, err := c.CreateBatch(ctx, []NewTask{{Task: task, Recurrence: rec}})
	if err != nil {
		return nil, err
	}
	return created[0], nil
}

// CreateBatch creates every entry in one changeset: either all of them are
// stored or none.
func (c *Coordinator) CreateBatch(ctx context.Context, items []NewTask) ([]*models.Task, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	now := c.Now()
	b := &batch{
		cs:      &models.Changeset{},
		byID:    make(map[string]*models.Task),
		byTitle: make(map[string]*models.Task),
	}
	created := make([]*models.Task, 0, len(items))
	for i, item := range items {
		t, err := c.buildTask(ctx, item, now, b)
		if err != nil {
			if len(items) > 1 {
				return nil, fmt.Errorf("task %d (%s): %w", i+1, item.Task.Title, err)
			}
			return nil, err
		}
		created = append(created, t)
	}

	if err := c.commit(ctx, b.cs, nil); err != nil {
		return nil, err
	}
	for _, t := range created {
		c.logger.Info("task created", "task_id", t.ID, "kind", t.Kind, "owner_id", t.OwnerID)
	}
	return created, nil
}

type batch struct {
	cs      *models.Changeset
	byID    map[string]*models.Task
	byTitle map[string]*models.Task
}

func (c *Coordinator) buildTask(ctx context.Context, item NewTask, now time.Time, b *batch) (*models.Task, error) {
	if item.Task == nil {
		return nil, fmt.Errorf("%w: missing task", ErrInvalidTask)
	}
	t := item.Task.Clone()
	t.ID = orNewID(t.ID)
	if t.ParentID != nil && *t.ParentID == t.ID {
		return nil, &engine.Error{Kind: engine.ErrSelfParent, TaskID: t.ID}
	}
	if t.ParentID == nil && item.ParentTitle != "" {
		parentID, err := c.resolveParentTitle(ctx, t.OwnerID, item.ParentTitle, b)
		if err != nil {
			return nil, err
		}
		t.ParentID = &parentID
	}
	if err := c.prepareTask(ctx, t, b); err != nil {
		return nil, err
	}

	t.Status = models.TaskStatusReady
	t.BlockedReason = nil
	t.CompletedCount = 0
	t.LastCompletedAt = nil
	t.StreakLocked = false
	t.CreatedAt = now
	t.UpdatedAt = now
	t.RecurrenceID = nil
	t.SpawnedFromID = nil

	if item.Recurrence != nil {
		r := item.Recurrence.Clone()
		if err := engine.ValidatePattern(r); err != nil {
			return nil, err
		}
		r.ID = orNewID(r.ID)
		r.CreatedAt = now
		r.UpdatedAt = now
		if t.DueDate == nil && r.Kind == models.RecurrenceFixedSchedule {
			anchor := *r.AnchorDate
			t.DueDate = &anchor
		}
		if t.DueDate != nil {
			due := *t.DueDate
			r.NextDueDate = &due
		}
		t.RecurrenceID = &r.ID
		b.cs.UpsertRecurrence(r)
	}

	if t.DueDate != nil {
		t.HasDueDate = true
		if t.IsHabit() {
			safe := engine.GraceDeadline(t.DueDate.In(c.loc))
			t.StreakSafeUntil = &safe
		}
	}

	b.cs.Created = append(b.cs.Created, t)
	b.byID[t.ID] = t
	b.byTitle[t.Title] = t
	return t, nil
}

func (c *Coordinator) resolveParentTitle(ctx context.Context, ownerID, title string, b *batch) (string, error) {
	if p, ok := b.byTitle[title]; ok {
		return p.ID, nil
	}
	p, err := c.store.GetTaskByTitle(ctx, ownerID, title)
	if err != nil {
		return "", fmt.Errorf("failed to resolve parent %q: %w", title, err)
	}
	if p == nil {
		return "", engine.NotFound("parent task", title)
	}
	return p.ID, nil
}

func (c *Coordinator) prepareTask(ctx context.Context, t *models.Task, b *batch) error {
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTask)
	}

	switch t.Kind {
	case "", models.TaskKindParent:
		t.Kind = models.TaskKindStandard
	case models.TaskKindStandard, models.TaskKindHabit:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTask, t.Kind)
	}

	if t.IsHabit() {
		if t.TargetFrequency == nil {
			t.TargetFrequency = &models.Frequency{Count: 1, Period: models.PeriodDay}
		}
		switch t.TargetFrequency.Period {
		case models.PeriodDay, models.PeriodWeek, models.PeriodMonth:
		default:
			return fmt.Errorf("%w: unknown period %q", ErrInvalidTask, t.TargetFrequency.Period)
		}
		if t.TargetFrequency.Count <= 0 {
			return fmt.Errorf("%w: target count must be positive", ErrInvalidTask)
		}
	} else {
		t.TargetFrequency = nil
		t.CurrentStreak = 0
		t.LongestStreak = 0
		t.StreakSafeUntil = nil
	}

	if t.NudgeThresholdDays != nil && *t.NudgeThresholdDays <= 0 {
		return fmt.Errorf("%w: nudge threshold must be a positive number of days", ErrInvalidTask)
	}
	if t.LongestStreak < t.CurrentStreak {
		t.LongestStreak = t.CurrentStreak
	}

	if t.ParentID != nil && *t.ParentID == "" {
		t.ParentID = nil
	}
	if t.ParentID == nil {
		return nil
	}

	parent := b.byID[*t.ParentID]
	if parent == nil {
		var err error
		parent, err = c.store.GetTask(ctx, *t.ParentID)
		if err != nil {
			return fmt.Errorf("failed to get parent: %w", err)
		}
	}
	if parent == nil {
		return engine.NotFound("parent task", *t.ParentID)
	}
	if t.OwnerID == "" {
		t.OwnerID = parent.OwnerID
	}
	return nil
}

func orNewID(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}
