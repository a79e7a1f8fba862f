package db

import (
	"context"
	"fmt"

	"github.com/ldi/tend/pkg/models"
)

const completionColumns = `id, task_id, recurrence_id, completed_at, was_late, was_retroactive, counted_toward_streak, cascaded`

// ListCompletions returns history rows oldest first. A recurrence filter
// spans every occurrence of the series.
func (db *DB) ListCompletions(ctx context.Context, f models.CompletionFilter) ([]*models.Completion, error) {
	query := `SELECT ` + completionColumns + ` FROM completions`
	var args []any
	switch {
	case f.RecurrenceID != "":
		query += ` WHERE recurrence_id = ?`
		args = append(args, f.RecurrenceID)
	case f.TaskID != "":
		query += ` WHERE task_id = ?`
		args = append(args, f.TaskID)
	}
	query += ` ORDER BY completed_at, rowid`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query completions: %w", err)
	}
	defer rows.Close()

	var out []*models.Completion
	for rows.Next() {
		c := &models.Completion{}
		var late, retro, counted, cascaded int
		if err := rows.Scan(&c.ID, &c.TaskID, &c.RecurrenceID, &c.CompletedAt, &late, &retro, &counted, &cascaded); err != nil {
			return nil, fmt.Errorf("failed to scan completion: %w", err)
		}
		c.CompletedAt = c.CompletedAt.UTC()
		c.WasLate = late == 1
		c.WasRetroactive = retro == 1
		c.CountedTowardStreak = counted == 1
		c.Cascaded = cascaded == 1
		// Time bounds are compared here rather than on the stored text.
		if f.Matches(c) {
			out = append(out, c)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func (db *DB) insertCompletion(ctx context.Context, exec executor, c *models.Completion, orIgnore bool) error {
	verb := "INSERT"
	if orIgnore {
		verb = "INSERT OR IGNORE"
	}
	_, err := exec.ExecContext(ctx, verb+` INTO completions (`+completionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TaskID, c.RecurrenceID, c.CompletedAt.UTC(),
		boolInt(c.WasLate), boolInt(c.WasRetroactive), boolInt(c.CountedTowardStreak), boolInt(c.Cascaded),
	)
	if err != nil {
		return fmt.Errorf("failed to record completion %s: %w", c.ID, err)
	}
	return nil
}
