package db

import (
	"context"
	"fmt"

	"github.com/ldi/tend/internal/lifecycle"
	"github.com/ldi/tend/pkg/models"
)

// Apply persists a changeset in one transaction: recurrences, new tasks,
// updated tasks, then completions. Nothing is written if any step fails.
func (db *DB) Apply(ctx context.Context, cs *models.Changeset) error {
	if cs.Empty() {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Tasks in one changeset may reference each other in any order.
	if _, err := tx.ExecContext(ctx, "PRAGMA defer_foreign_keys=ON;"); err != nil {
		return fmt.Errorf("failed to defer foreign keys: %w", err)
	}

	for _, r := range cs.Recurrences {
		if err := db.upsertRecurrence(ctx, tx, r); err != nil {
			return err
		}
	}
	for _, t := range cs.Created {
		if err := db.insertTask(ctx, tx, t); err != nil {
			return err
		}
	}
	for _, t := range cs.Updated {
		if err := db.updateTask(ctx, tx, t); err != nil {
			return err
		}
	}
	for _, c := range cs.Completions {
		if err := db.insertCompletion(ctx, tx, c, false); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.triggerChange(ctx)
	return nil
}

// CommitStaged creates everything staged under sessionID as one batch.
// The staged entries are consumed even when the batch is rejected.
func (db *DB) CommitStaged(ctx context.Context, coord *lifecycle.Coordinator, sessionID string) ([]*models.Task, error) {
	items := db.Staging.GetAndClear(sessionID)
	if len(items) == 0 {
		return nil, nil
	}
	created, err := coord.CreateBatch(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("failed to commit staged tasks: %w", err)
	}
	return created, nil
}
