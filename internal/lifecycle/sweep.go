package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ldi/tend/internal/engine"
	"github.com/ldi/tend/pkg/models"
)

type SweepResult struct {
	OwnerID      string    `json:"owner_id"`
	At           time.Time `json:"at"`
	Evaluated    int       `json:"evaluated"`
	StreaksReset []string  `json:"streaks_reset"`
	NudgesRaised []string  `json:"nudges_raised"`
	Failed       []string  `json:"failed,omitempty"`
}

// RunDailySweep expires missed habit streaks and raises someday nudges for
// every candidate of ownerID. Each task is evaluated once and persisted on
// its own; a failing task is logged and reported without stopping the rest.
// Running the sweep again for the same day changes nothing.
func (c *Coordinator) RunDailySweep(ctx context.Context, ownerID string, at time.Time) (*SweepResult, error) {
	start := time.Now()
	if at.IsZero() {
		at = c.Now()
	}
	at = at.In(c.loc)

	candidates, err := c.store.ListSweepCandidates(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sweep candidates: %w", err)
	}

	res := &SweepResult{OwnerID: ownerID, At: at}
	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	seen := make(map[string]bool, len(candidates))
	for _, cand := range candidates {
		if seen[cand.ID] {
			continue
		}
		seen[cand.ID] = true
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			reset, nudged, err := c.sweepTask(gctx, cand, at)

			mu.Lock()
			defer mu.Unlock()
			res.Evaluated++
			if err != nil {
				res.Failed = append(res.Failed, cand.ID)
				errs = append(errs, fmt.Errorf("task %s: %w", cand.ID, err))
				c.logger.Error("sweep failed for task", "task_id", cand.ID, "owner_id", ownerID, "error", err)
				return nil
			}
			if reset {
				res.StreaksReset = append(res.StreaksReset, cand.ID)
			}
			if nudged {
				res.NudgesRaised = append(res.NudgesRaised, cand.ID)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(res.StreaksReset)
	sort.Strings(res.NudgesRaised)
	sort.Strings(res.Failed)
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}

	c.observer.SweepFinished(res, time.Since(start))
	c.logger.Info("daily sweep finished",
		"owner_id", ownerID,
		"evaluated", res.Evaluated,
		"streaks_reset", len(res.StreaksReset),
		"nudges_raised", len(res.NudgesRaised),
		"failed", len(res.Failed))
	return res, errors.Join(errs...)
}

// SweepAll runs the daily sweep for every owner that has tasks.
func (c *Coordinator) SweepAll(ctx context.Context, at time.Time) ([]*SweepResult, error) {
	owners, err := c.store.ListOwners(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	var (
		results []*SweepResult
		errs    []error
	)
	for _, owner := range owners {
		res, err := c.RunDailySweep(ctx, owner, at)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("owner %q: %w", owner, err))
		}
		if ctx.Err() != nil {
			break
		}
	}
	return results, errors.Join(errs...)
}

// sweepTask evaluates cand against a throwaway copy first and only takes the
// write lock and reloads the row when something is due to change.
func (c *Coordinator) sweepTask(ctx context.Context, cand *models.Task, at time.Time) (reset, nudged bool, err error) {
	probe := cand.Clone()
	expires := engine.ExpireStreak(probe, at)
	nudges := engine.ShouldNudge(probe, at)
	if !expires && !nudges {
		return false, false, nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	task, err := c.store.GetTask(ctx, cand.ID)
	if err != nil {
		return false, false, fmt.Errorf("failed to get task: %w", err)
	}
	if task == nil {
		return false, false, nil
	}

	var intents []models.Intent
	previous := task.CurrentStreak
	locked := engine.ExpireStreak(task, at)
	if locked && previous > 0 {
		reset = true
		intents = append(intents, intent(models.IntentStreakReset, task, at, map[string]string{
			"previous_streak": strconv.Itoa(previous),
		}))
	}
	if engine.ShouldNudge(task, at) {
		engine.MarkNudged(task, at)
		nudged = true
		intents = append(intents, intent(models.IntentSuggestionSurfaced, task, at, map[string]string{
			"title": task.Title,
		}))
	}
	if !locked && !nudged {
		return false, false, nil
	}

	task.UpdatedAt = c.Now()
	cs := &models.Changeset{}
	cs.Update(task)
	if err := c.commit(ctx, cs, intents); err != nil {
		return false, false, err
	}
	return reset, nudged, nil
}
