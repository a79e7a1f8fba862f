package db

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ldi/tend/pkg/models"
)

const snapshotVersion = 1

type snapshotMeta struct {
	RecordType string    `json:"record_type"`
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
}

type recurrenceRecord struct {
	RecordType string `json:"record_type"`
	*models.Recurrence
}

type taskRecord struct {
	RecordType string `json:"record_type"`
	*models.Task
}

type completionRecord struct {
	RecordType string `json:"record_type"`
	*models.Completion
}

// EnableAutoSnapshot exports a snapshot to path after every successful
// write. Export failures do not fail the write; onErr sees them.
func (db *DB) EnableAutoSnapshot(path string, onErr func(error)) {
	db.SetOnChange(func(ctx context.Context) {
		if err := db.ExportSnapshot(ctx, path); err != nil && onErr != nil {
			onErr(err)
		}
	})
}

// ExportSnapshot writes every recurrence, task and completion as JSONL to
// path, atomically through a temporary file.
func (db *DB) ExportSnapshot(ctx context.Context, path string) error {
	recs, err := db.listRecurrences(ctx)
	if err != nil {
		return err
	}
	tasks, err := db.ListTasks(ctx, TaskFilter{})
	if err != nil {
		return err
	}
	completions, err := db.ListCompletions(ctx, models.CompletionFilter{})
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, "snapshot-*.jsonl")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempFile.Name())
		}
	}()

	w := bufio.NewWriter(tempFile)
	enc := json.NewEncoder(w)
	records := []any{snapshotMeta{RecordType: "meta", Version: snapshotVersion, ExportedAt: time.Now().UTC()}}
	for _, r := range recs {
		records = append(records, recurrenceRecord{"recurrence", r})
	}
	for _, t := range tasks {
		records = append(records, taskRecord{"task", t})
	}
	for _, c := range completions {
		records = append(records, completionRecord{"completion", c})
	}
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to write snapshot line: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	filename := tempFile.Name()
	tempFile = nil

	if err := os.Rename(filename, path); err != nil {
		os.Remove(filename)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// ImportSnapshot loads a JSONL snapshot in one transaction. Rows are matched
// by id: existing tasks and recurrences are overwritten, completions already
// present are kept as they are.
func (db *DB) ImportSnapshot(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer file.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "PRAGMA defer_foreign_keys=ON;"); err != nil {
		return fmt.Errorf("failed to defer foreign keys: %w", err)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var base struct {
			RecordType string `json:"record_type"`
			Version    int    `json:"version"`
		}
		if err := json.Unmarshal(line, &base); err != nil {
			return fmt.Errorf("line %d: failed to unmarshal base record: %w", lineNo, err)
		}

		switch base.RecordType {
		case "meta":
			if base.Version > snapshotVersion {
				return fmt.Errorf("snapshot version %d is newer than supported version %d", base.Version, snapshotVersion)
			}
		case "recurrence":
			var r models.Recurrence
			if err := json.Unmarshal(line, &r); err != nil {
				return fmt.Errorf("line %d: failed to unmarshal recurrence: %w", lineNo, err)
			}
			if err := db.upsertRecurrence(ctx, tx, &r); err != nil {
				return err
			}
		case "task":
			var t models.Task
			if err := json.Unmarshal(line, &t); err != nil {
				return fmt.Errorf("line %d: failed to unmarshal task: %w", lineNo, err)
			}
			if err := db.importTask(ctx, tx, &t); err != nil {
				return err
			}
		case "completion":
			var c models.Completion
			if err := json.Unmarshal(line, &c); err != nil {
				return fmt.Errorf("line %d: failed to unmarshal completion: %w", lineNo, err)
			}
			if err := db.insertCompletion(ctx, tx, &c, true); err != nil {
				return err
			}
		default:
			return fmt.Errorf("line %d: unknown record type %q", lineNo, base.RecordType)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.triggerChange(ctx)
	return nil
}

// importTask never lowers completed_count: an older snapshot cannot rewind
// the counter of a task that exists locally.
func (db *DB) importTask(ctx context.Context, exec executor, t *models.Task) error {
	existing, err := db.getTask(ctx, exec, t.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return db.insertTask(ctx, exec, t)
	}
	if existing.CompletedCount > t.CompletedCount {
		t.CompletedCount = existing.CompletedCount
	}
	return db.updateTask(ctx, exec, t)
}
