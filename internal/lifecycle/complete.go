package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ldi/tend/internal/engine"
	"github.com/ldi/tend/pkg/models"
)

type CompleteOptions struct {
	// Retroactive marks at as a backdated instant supplied by the caller.
	Retroactive bool
	// AllowUncounted records a habit completion whose grace window has
	// passed instead of rejecting it. The streak is not credited.
	AllowUncounted bool
}

type CompleteResult struct {
	Task          *models.Task
	Completion    *models.Completion
	NewOccurrence *models.Task
	// Cascaded holds the completions of descendants and auto-completed
	// ancestors, in the order they were planned.
	Cascaded  []*models.Completion
	Changeset *models.Changeset
	Intents   []models.Intent
}

// CompleteTask completes id at the given instant (zero means now) together
// with everything the completion cascades into, and persists the result as
// one changeset.
func (c *Coordinator) CompleteTask(ctx context.Context, id string, at time.Time, opts CompleteOptions) (*CompleteResult, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	now := c.Now()
	if at.IsZero() {
		at = now
	} else if opts.Retroactive && at.After(now) {
		return nil, &engine.Error{Kind: engine.ErrInvalidTransition, TaskID: id, Msg: "a retroactive completion cannot be in the future"}
	}
	at = at.In(c.loc)

	forest, root, err := c.loadForest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !engine.CanTransition(root.Status, models.TaskStatusCompleted) {
		return nil, &engine.Error{Kind: engine.ErrInvalidTransition, TaskID: id, Msg: fmt.Sprintf("%s -> %s", root.Status, models.TaskStatusCompleted)}
	}

	descendants, err := forest.PlanDescendants(root.ID)
	if err != nil {
		return nil, err
	}

	p := &planner{
		c:      c,
		ctx:    ctx,
		now:    now,
		forest: forest,
		recs:   make(map[string]*models.Recurrence),
		spawns: make(map[string]*models.Task),
		cs:     &models.Changeset{},
	}

	rootComp, err := p.complete(root, at, false, opts)
	if err != nil {
		return nil, err
	}
	res := &CompleteResult{Task: root, Completion: rootComp, NewOccurrence: p.spawns[root.ID]}

	for _, d := range descendants {
		comp, err := p.complete(d, at, true, opts)
		if err != nil {
			return nil, err
		}
		res.Cascaded = append(res.Cascaded, comp)
	}

	if root.Status == models.TaskStatusCompleted {
		if err := p.completeAncestors(root, at, opts, &res.Cascaded); err != nil {
			return nil, err
		}
	}

	if err := c.commit(ctx, p.cs, p.intents); err != nil {
		return nil, err
	}
	res.Changeset = p.cs
	res.Intents = p.intents

	c.logger.Info("task completed",
		"task_id", root.ID,
		"owner_id", root.OwnerID,
		"late", rootComp.WasLate,
		"counted", rootComp.CountedTowardStreak,
		"cascaded", len(res.Cascaded))
	return res, nil
}

// loadForest loads id with its subtree, its ancestors and their children.
func (c *Coordinator) loadForest(ctx context.Context, id string) (*engine.Forest, *models.Task, error) {
	root, err := c.GetTask(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	f := engine.NewForest(root)
	add := func(tasks []*models.Task) {
		for _, t := range tasks {
			if _, ok := f.Get(t.ID); !ok {
				f.Add(t)
			}
		}
	}

	descendants, err := c.store.ListDescendants(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list descendants: %w", err)
	}
	add(descendants)

	ancestors, err := c.store.ListAncestors(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list ancestors: %w", err)
	}
	add(ancestors)
	for _, a := range ancestors {
		siblings, err := c.store.ListChildren(ctx, a.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list children: %w", err)
		}
		add(siblings)
	}
	return f, root, nil
}

// planner accumulates the changeset of one event. Tasks it touches are the
// forest's own copies, so later steps see earlier results.
type planner struct {
	c       *Coordinator
	ctx     context.Context
	now     time.Time
	forest  *engine.Forest
	recs    map[string]*models.Recurrence
	spawns  map[string]*models.Task
	cs      *models.Changeset
	intents []models.Intent
}

func (p *planner) complete(task *models.Task, at time.Time, cascaded bool, opts CompleteOptions) (*models.Completion, error) {
	if _, err := engine.Transition(task, models.TaskStatusCompleted, engine.TransitionOptions{At: at}); err != nil {
		return nil, err
	}

	comp := &models.Completion{
		ID:           uuid.New().String(),
		TaskID:       task.ID,
		RecurrenceID: cloneString(task.RecurrenceID),
		CompletedAt:  at,
		WasLate:      task.DueDate != nil && at.After(*task.DueDate),
		Cascaded:     cascaded,
	}

	if task.IsHabit() {
		out, err := engine.ApplyHabitCompletion(task, at)
		switch {
		case err == nil:
			comp.CountedTowardStreak = out.Counted
			comp.WasRetroactive = out.WasRetroactive
			p.intents = append(p.intents, intent(models.IntentStreakSaved, task, at, map[string]string{
				"current_streak": strconv.Itoa(task.CurrentStreak),
				"late":           strconv.FormatBool(out.WasLate),
			}))
		case errors.Is(err, engine.ErrGracePeriodExpired) && (cascaded || opts.AllowUncounted):
			if task.CurrentStreak > 0 {
				p.intents = append(p.intents, intent(models.IntentStreakReset, task, at, map[string]string{
					"previous_streak": strconv.Itoa(task.CurrentStreak),
				}))
				task.CurrentStreak = 0
			}
		default:
			return nil, err
		}
	}

	completedAt := at
	task.LastCompletedAt = &completedAt
	task.CompletedCount++
	task.UpdatedAt = p.now
	p.cs.Completions = append(p.cs.Completions, comp)

	switch {
	case task.RecurrenceID != nil:
		if err := p.spawnNext(task, at); err != nil {
			return nil, err
		}
	case task.IsSomeday():
		if task.Repeating {
			task.Status = models.TaskStatusReady
		} else {
			task.Status = models.TaskStatusArchived
		}
	}

	p.cs.Update(task)
	return comp, nil
}

// spawnNext creates the next occurrence of a recurring task. The completed
// instance is left as history.
func (p *planner) spawnNext(task *models.Task, at time.Time) error {
	rec, err := p.recurrence(*task.RecurrenceID)
	if err != nil {
		return err
	}
	next, err := engine.NextDueDate(p.c.zoned(rec), at, p.c.local(task.DueDate))
	if err != nil {
		return err
	}

	occ := task.Clone()
	occ.ID = uuid.New().String()
	occ.Status = models.TaskStatusReady
	occ.BlockedReason = nil
	occ.HasDueDate = true
	occ.DueDate = &next
	occ.StartedAt = nil
	occ.CompletedCount = 0
	occ.StreakLocked = false
	occ.LastNudgedAt = nil
	occ.SpawnedFromID = cloneString(&task.ID)
	occ.CreatedAt = p.now
	occ.UpdatedAt = p.now
	occ.StreakSafeUntil = nil
	if occ.IsHabit() {
		safe := engine.GraceDeadline(next)
		occ.StreakSafeUntil = &safe
	}

	nextDue := next
	rec.NextDueDate = &nextDue
	rec.UpdatedAt = p.now
	p.cs.UpsertRecurrence(rec)
	p.cs.Created = append(p.cs.Created, occ)
	p.forest.Add(occ)
	p.spawns[task.ID] = occ

	p.intents = append(p.intents, intent(models.IntentOccurrenceCreated, occ, at, map[string]string{
		"spawned_from": task.ID,
		"due_date":     next.Format(time.RFC3339),
	}))
	return nil
}

func (p *planner) recurrence(id string) (*models.Recurrence, error) {
	if r, ok := p.recs[id]; ok {
		return r, nil
	}
	r, err := p.c.store.GetRecurrence(p.ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get recurrence: %w", err)
	}
	if r == nil {
		return nil, engine.NotFound("recurrence", id)
	}
	p.recs[id] = r
	return r, nil
}

// completeAncestors walks upward one parent at a time; each step depends on
// the state the previous step left behind.
func (p *planner) completeAncestors(from *models.Task, at time.Time, opts CompleteOptions, out *[]*models.Completion) error {
	cur := from
	for {
		next := p.forest.CompletableAncestors(cur.ID)
		if len(next) == 0 {
			return nil
		}
		parent := next[0]
		comp, err := p.complete(parent, at, true, opts)
		if err != nil {
			return err
		}
		*out = append(*out, comp)
		p.intents = append(p.intents, intent(models.IntentParentCompleted, parent, at, map[string]string{
			"child_id": cur.ID,
		}))
		if parent.Status != models.TaskStatusCompleted {
			return nil
		}
		cur = parent
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
