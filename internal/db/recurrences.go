package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ldi/tend/pkg/models"
)

const recurrenceColumns = `id, kind, interval_count, unit, exclude_weekdays, anchor_date, next_due_date, created_at, updated_at`

func scanRecurrence(row rowScanner) (*models.Recurrence, error) {
	r := &models.Recurrence{}
	var excluded string
	err := row.Scan(&r.ID, &r.Kind, &r.Interval, &r.Unit, &excluded, &r.AnchorDate, &r.NextDueDate, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(excluded), &r.ExcludeWeekdays); err != nil {
		return nil, fmt.Errorf("failed to decode excluded weekdays of %s: %w", r.ID, err)
	}
	if len(r.ExcludeWeekdays) == 0 {
		r.ExcludeWeekdays = nil
	}
	r.AnchorDate = utc(r.AnchorDate)
	r.NextDueDate = utc(r.NextDueDate)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

// GetRecurrence retrieves a recurrence by its ID. A missing one is (nil, nil).
func (db *DB) GetRecurrence(ctx context.Context, id string) (*models.Recurrence, error) {
	r, err := scanRecurrence(db.QueryRowContext(ctx, `SELECT `+recurrenceColumns+` FROM recurrences WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recurrence: %w", err)
	}
	return r, nil
}

func (db *DB) listRecurrences(ctx context.Context) ([]*models.Recurrence, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+recurrenceColumns+` FROM recurrences ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query recurrences: %w", err)
	}
	defer rows.Close()

	var out []*models.Recurrence
	for rows.Next() {
		r, err := scanRecurrence(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recurrence: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) upsertRecurrence(ctx context.Context, exec executor, r *models.Recurrence) error {
	excluded := r.ExcludeWeekdays
	if excluded == nil {
		excluded = []time.Weekday{}
	}
	excludedJSON, err := json.Marshal(excluded)
	if err != nil {
		return fmt.Errorf("failed to encode excluded weekdays: %w", err)
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO recurrences (`+recurrenceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			interval_count = excluded.interval_count,
			unit = excluded.unit,
			exclude_weekdays = excluded.exclude_weekdays,
			anchor_date = excluded.anchor_date,
			next_due_date = excluded.next_due_date,
			updated_at = excluded.updated_at`,
		r.ID, r.Kind, r.Interval, r.Unit, string(excludedJSON), utc(r.AnchorDate), utc(r.NextDueDate),
		r.CreatedAt.UTC(), r.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save recurrence %s: %w", r.ID, err)
	}
	return nil
}
