package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/ldi/tend/internal/engine"
	"github.com/ldi/tend/pkg/models"
)

// TransitionStatus moves id to target. Completing and reopening a completed
// task go through CompleteTask and UncompleteTask so their effects apply.
func (c *Coordinator) TransitionStatus(ctx context.Context, id string, target models.TaskStatus, reason string) (*models.Task, error) {
	if target == models.TaskStatusCompleted {
		res, err := c.CompleteTask(ctx, id, time.Time{}, CompleteOptions{})
		if err != nil {
			return nil, err
		}
		return res.Task, nil
	}

	current, err := c.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == models.TaskStatusCompleted && target == models.TaskStatusReady {
		res, err := c.UncompleteTask(ctx, id)
		if err != nil {
			return nil, err
		}
		return res.Task, nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	now := c.Now()
	task, err := c.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	tr, err := engine.Transition(task, target, engine.TransitionOptions{Reason: reason, At: now})
	if err != nil {
		return nil, err
	}
	task.UpdatedAt = now

	cs := &models.Changeset{}
	cs.Update(task)
	if err := c.commit(ctx, cs, nil); err != nil {
		return nil, err
	}
	c.logger.Info("task status changed", "task_id", id, "from", tr.From, "to", tr.To)
	return task, nil
}

// SetParent moves id under newParentID. An empty newParentID detaches it.
func (c *Coordinator) SetParent(ctx context.Context, id, newParentID string) (*models.Task, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	task, err := c.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	parentOf := func(pid string) (string, bool, error) {
		t, err := c.store.GetTask(ctx, pid)
		if err != nil {
			return "", false, fmt.Errorf("failed to get task: %w", err)
		}
		if t == nil || t.ParentID == nil {
			return "", false, nil
		}
		return *t.ParentID, true, nil
	}
	if err := engine.ValidateParent(id, newParentID, parentOf); err != nil {
		return nil, err
	}

	task.ParentID = nil
	if newParentID != "" {
		parent, err := c.store.GetTask(ctx, newParentID)
		if err != nil {
			return nil, fmt.Errorf("failed to get parent: %w", err)
		}
		if parent == nil {
			return nil, engine.NotFound("parent task", newParentID)
		}
		pid := newParentID
		task.ParentID = &pid
	}
	task.UpdatedAt = c.Now()

	cs := &models.Changeset{}
	cs.Update(task)
	if err := c.commit(ctx, cs, nil); err != nil {
		return nil, err
	}
	c.logger.Info("task parent changed", "task_id", id, "parent_id", newParentID)
	return task, nil
}

// Snooze delays the next nudge of a someday task by days.
func (c *Coordinator) Snooze(ctx context.Context, id string, days int) (*models.Task, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	task, err := c.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	now := c.Now()
	if err := engine.Snooze(task, now, days); err != nil {
		return nil, err
	}
	task.UpdatedAt = now

	cs := &models.Changeset{}
	cs.Update(task)
	if err := c.commit(ctx, cs, nil); err != nil {
		return nil, err
	}
	return task, nil
}
