package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ldi/tend/pkg/models"
)

const taskColumns = `t.id, t.owner_id, t.parent_id, t.title, t.description, t.tags, t.kind, t.status,
	t.blocked_reason, t.has_due_date, t.due_date, t.started_at, t.last_completed_at, t.completed_count,
	t.target_count, t.target_period, t.current_streak, t.longest_streak, t.streak_safe_until,
	t.streak_locked, t.nudge_threshold_days, t.last_nudged_at, t.repeating, t.recurrence_id,
	t.spawned_from_id, t.created_at, t.updated_at`

// TaskFilter narrows ListTasks. Zero fields match everything.
type TaskFilter struct {
	OwnerID  string
	Status   models.TaskStatus
	ParentID string
	Kind     models.TaskKind
	Tag      string
	// Open excludes completed and archived tasks.
	Open bool
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	t := &models.Task{}
	var (
		tags                   string
		hasDue, locked, repeat int
		targetCount            sql.NullInt64
		targetPeriod           sql.NullString
	)
	err := row.Scan(
		&t.ID, &t.OwnerID, &t.ParentID, &t.Title, &t.Description, &tags, &t.Kind, &t.Status,
		&t.BlockedReason, &hasDue, &t.DueDate, &t.StartedAt, &t.LastCompletedAt, &t.CompletedCount,
		&targetCount, &targetPeriod, &t.CurrentStreak, &t.LongestStreak, &t.StreakSafeUntil,
		&locked, &t.NudgeThresholdDays, &t.LastNudgedAt, &repeat, &t.RecurrenceID,
		&t.SpawnedFromID, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.HasDueDate = hasDue == 1
	t.StreakLocked = locked == 1
	t.Repeating = repeat == 1
	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags of task %s: %w", t.ID, err)
	}
	if len(t.Tags) == 0 {
		t.Tags = nil
	}
	if targetCount.Valid && targetPeriod.Valid {
		t.TargetFrequency = &models.Frequency{Count: int(targetCount.Int64), Period: models.Period(targetPeriod.String)}
	}

	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	for _, p := range []**time.Time{&t.DueDate, &t.StartedAt, &t.LastCompletedAt, &t.StreakSafeUntil, &t.LastNudgedAt} {
		*p = utc(*p)
	}
	return t, nil
}

func (db *DB) queryTasks(ctx context.Context, exec executor, query string, args ...any) ([]*models.Task, error) {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return tasks, nil
}

// GetTask retrieves a task by its ID. A missing task is (nil, nil).
func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return db.getTask(ctx, db.DB, id)
}

func (db *DB) getTask(ctx context.Context, exec executor, id string) (*models.Task, error) {
	row := exec.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// GetTaskByTitle returns the most recently created open task of the owner
// with exactly this title.
func (db *DB) GetTaskByTitle(ctx context.Context, ownerID, title string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks t
		WHERE t.owner_id = ? AND t.title = ? AND t.status NOT IN ('completed', 'archived')
		ORDER BY t.created_at DESC, t.rowid DESC
		LIMIT 1`
	t, err := scanTask(db.QueryRowContext(ctx, query, ownerID, title))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task by title: %w", err)
	}
	return t, nil
}

// ListTasks returns tasks matching the filter, oldest first.
func (db *DB) ListTasks(ctx context.Context, f TaskFilter) ([]*models.Task, error) {
	var (
		where []string
		args  []any
	)
	if f.OwnerID != "" {
		where = append(where, "t.owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		where = append(where, "t.status = ?")
		args = append(args, f.Status)
	}
	if f.Open {
		where = append(where, "t.status NOT IN ('completed', 'archived')")
	}
	if f.ParentID != "" {
		where = append(where, "t.parent_id = ?")
		args = append(args, f.ParentID)
	}
	if f.Kind == models.TaskKindParent {
		where = append(where, "EXISTS (SELECT 1 FROM tasks c WHERE c.parent_id = t.id)")
	} else if f.Kind != "" {
		where = append(where, "t.kind = ?")
		args = append(args, f.Kind)
	}
	if f.Tag != "" {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(t.tags) WHERE json_each.value = ?)")
		args = append(args, f.Tag)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks t`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY t.created_at, t.rowid"
	return db.queryTasks(ctx, db.DB, query, args...)
}

func (db *DB) ListSpawned(ctx context.Context, fromID string) ([]*models.Task, error) {
	return db.queryTasks(ctx, db.DB,
		`SELECT `+taskColumns+` FROM tasks t WHERE t.spawned_from_id = ? ORDER BY t.created_at, t.rowid`, fromID)
}

// ListSweepCandidates returns the owner's open habits that carry a streak
// deadline and their open someday tasks.
func (db *DB) ListSweepCandidates(ctx context.Context, ownerID string) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks t
		WHERE t.owner_id = ?
		  AND t.status NOT IN ('completed', 'archived')
		  AND ((t.kind = 'habit' AND t.streak_safe_until IS NOT NULL)
		       OR (t.has_due_date = 0 AND t.nudge_threshold_days IS NOT NULL))
		ORDER BY t.id`
	return db.queryTasks(ctx, db.DB, query, ownerID)
}

func (db *DB) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT owner_id FROM tasks ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, fmt.Errorf("failed to scan owner: %w", err)
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

func taskArgs(t *models.Task) ([]any, error) {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tags: %w", err)
	}
	var targetCount, targetPeriod any
	if t.TargetFrequency != nil {
		targetCount = t.TargetFrequency.Count
		targetPeriod = string(t.TargetFrequency.Period)
	}
	return []any{
		t.ID, t.OwnerID, t.ParentID, t.Title, t.Description, string(tagsJSON), t.Kind, t.Status,
		t.BlockedReason, boolInt(t.HasDueDate), utc(t.DueDate), utc(t.StartedAt), utc(t.LastCompletedAt), t.CompletedCount,
		targetCount, targetPeriod, t.CurrentStreak, t.LongestStreak, utc(t.StreakSafeUntil),
		boolInt(t.StreakLocked), t.NudgeThresholdDays, utc(t.LastNudgedAt), boolInt(t.Repeating), t.RecurrenceID,
		t.SpawnedFromID, t.CreatedAt.UTC(), t.UpdatedAt.UTC(),
	}, nil
}

const insertTaskSQL = `
	INSERT INTO tasks (
		id, owner_id, parent_id, title, description, tags, kind, status,
		blocked_reason, has_due_date, due_date, started_at, last_completed_at, completed_count,
		target_count, target_period, current_streak, longest_streak, streak_safe_until,
		streak_locked, nudge_threshold_days, last_nudged_at, repeating, recurrence_id,
		spawned_from_id, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (db *DB) insertTask(ctx context.Context, exec executor, t *models.Task) error {
	args, err := taskArgs(t)
	if err != nil {
		return err
	}
	if _, err := exec.ExecContext(ctx, insertTaskSQL, args...); err != nil {
		return fmt.Errorf("failed to create task %s: %w", t.ID, err)
	}
	return nil
}

func (db *DB) updateTask(ctx context.Context, exec executor, t *models.Task) error {
	args, err := taskArgs(t)
	if err != nil {
		return err
	}
	// id moves from the first placeholder to the WHERE clause.
	args = append(args[1:], t.ID)
	res, err := exec.ExecContext(ctx, `
		UPDATE tasks SET
			owner_id = ?, parent_id = ?, title = ?, description = ?, tags = ?, kind = ?, status = ?,
			blocked_reason = ?, has_due_date = ?, due_date = ?, started_at = ?, last_completed_at = ?, completed_count = ?,
			target_count = ?, target_period = ?, current_streak = ?, longest_streak = ?, streak_safe_until = ?,
			streak_locked = ?, nudge_threshold_days = ?, last_nudged_at = ?, repeating = ?, recurrence_id = ?,
			spawned_from_id = ?, created_at = ?, updated_at = ?
		WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", t.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("failed to update task %s: no such task", t.ID)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
