package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ldi/tend/internal/engine"
	"github.com/ldi/tend/pkg/models"
)

type UncompleteResult struct {
	Task *models.Task
	// Withdrawn is the spawned next occurrence archived by the undo, if any.
	Withdrawn *models.Task
	Reopened  []*models.Task
	Changeset *models.Changeset
	Intents   []models.Intent
}

// UncompleteTask reopens a completed task. Completion rows are kept; only the
// derived state (streak credit, spawned occurrence, completed ancestors) is
// rolled back.
func (c *Coordinator) UncompleteTask(ctx context.Context, id string) (*UncompleteResult, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	now := c.Now()
	task, err := c.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskStatusCompleted {
		return nil, &engine.Error{Kind: engine.ErrInvalidTransition, TaskID: id, Msg: fmt.Sprintf("only a completed task can be uncompleted, task is %s", task.Status)}
	}

	history, err := c.store.ListCompletions(ctx, models.CompletionFilter{TaskID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to list completions: %w", err)
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].CompletedAt.Before(history[j].CompletedAt)
	})

	cs := &models.Changeset{}
	res := &UncompleteResult{Task: task, Changeset: cs}

	if n := len(history); n > 0 {
		if history[n-1].CountedTowardStreak && task.IsHabit() {
			engine.RevertStreak(task)
		}
		task.LastCompletedAt = nil
		if n > 1 {
			prev := history[n-2].CompletedAt
			task.LastCompletedAt = &prev
		}
	}

	if task.RecurrenceID != nil {
		withdrawn, err := c.withdrawOccurrence(ctx, task, now, cs)
		if err != nil {
			return nil, err
		}
		res.Withdrawn = withdrawn
	}

	if _, err := engine.Transition(task, models.TaskStatusReady, engine.TransitionOptions{At: now}); err != nil {
		return nil, err
	}
	task.UpdatedAt = now
	cs.Update(task)
	res.Intents = append(res.Intents, intent(models.IntentTaskReopened, task, now, nil))

	ancestors, err := c.store.ListAncestors(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list ancestors: %w", err)
	}
	forest := engine.NewForest(append([]*models.Task{task}, ancestors...)...)
	for _, a := range forest.ReopenableAncestors(id) {
		if _, err := engine.Transition(a, models.TaskStatusReady, engine.TransitionOptions{At: now}); err != nil {
			return nil, err
		}
		a.UpdatedAt = now
		cs.Update(a)
		res.Reopened = append(res.Reopened, a)
		res.Intents = append(res.Intents, intent(models.IntentTaskReopened, a, now, map[string]string{"child_id": id}))
	}

	if err := c.commit(ctx, cs, res.Intents); err != nil {
		return nil, err
	}
	c.logger.Info("task uncompleted", "task_id", id, "reopened_ancestors", len(res.Reopened))
	return res, nil
}

// withdrawOccurrence archives the occurrence spawned by task's completion and
// rewinds the recurrence. It refuses when that occurrence has been worked on.
func (c *Coordinator) withdrawOccurrence(ctx context.Context, task *models.Task, now time.Time, cs *models.Changeset) (*models.Task, error) {
	spawned, err := c.store.ListSpawned(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list spawned occurrences: %w", err)
	}

	var withdrawn *models.Task
	for _, s := range spawned {
		if s.Status == models.TaskStatusArchived {
			continue
		}
		if s.Status != models.TaskStatusReady || s.CompletedCount > 0 || s.StartedAt != nil {
			return nil, &engine.Error{Kind: engine.ErrInvalidTransition, TaskID: task.ID,
				Msg: fmt.Sprintf("next occurrence %s has already progressed", s.ID)}
		}
		if _, err := engine.Transition(s, models.TaskStatusArchived, engine.TransitionOptions{At: now}); err != nil {
			return nil, err
		}
		s.UpdatedAt = now
		cs.Update(s)
		withdrawn = s
	}

	rec, err := c.store.GetRecurrence(ctx, *task.RecurrenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get recurrence: %w", err)
	}
	if rec != nil {
		rec.NextDueDate = nil
		if task.DueDate != nil {
			due := *task.DueDate
			rec.NextDueDate = &due
		}
		rec.UpdatedAt = now
		cs.UpsertRecurrence(rec)
	}
	return withdrawn, nil
}
