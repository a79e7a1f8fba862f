package db

import (
	"context"
	"fmt"

	"github.com/ldi/tend/pkg/models"
)

func (db *DB) ListChildren(ctx context.Context, parentID string) ([]*models.Task, error) {
	return db.queryTasks(ctx, db.DB,
		`SELECT `+taskColumns+` FROM tasks t WHERE t.parent_id = ? ORDER BY t.created_at, t.rowid`, parentID)
}

// ListDescendants returns every task below rootID, nearest levels first.
// The depth bound keeps the walk finite if a cycle was ever written directly.
func (db *DB) ListDescendants(ctx context.Context, rootID string) ([]*models.Task, error) {
	query := `
		WITH RECURSIVE sub(id, depth) AS (
			SELECT id, 1 FROM tasks WHERE parent_id = ?
			UNION
			SELECT c.id, sub.depth + 1 FROM tasks c JOIN sub ON c.parent_id = sub.id
			WHERE sub.depth < 1000
		)
		SELECT ` + taskColumns + `
		FROM tasks t
		JOIN (SELECT id, MIN(depth) AS depth FROM sub GROUP BY id) d ON d.id = t.id
		WHERE t.id != ?
		ORDER BY d.depth, t.created_at, t.rowid`
	return db.queryTasks(ctx, db.DB, query, rootID, rootID)
}

// ListAncestors walks parent links upward, nearest first.
func (db *DB) ListAncestors(ctx context.Context, id string) ([]*models.Task, error) {
	cur, err := db.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, nil
	}

	var out []*models.Task
	seen := map[string]bool{id: true}
	for cur.ParentID != nil && !seen[*cur.ParentID] {
		seen[*cur.ParentID] = true
		parent, err := db.GetTask(ctx, *cur.ParentID)
		if err != nil {
			return nil, fmt.Errorf("failed to walk ancestors of %s: %w", id, err)
		}
		if parent == nil {
			break
		}
		out = append(out, parent)
		cur = parent
	}
	return out, nil
}
