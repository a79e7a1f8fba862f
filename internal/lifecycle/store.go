package lifecycle

import (
	"context"
	"time"

	"github.com/ldi/tend/pkg/models"
)

// Store is the persistence boundary of the coordinator. Getters return
// (nil, nil) when the row does not exist.
type Store interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
	GetRecurrence(ctx context.Context, id string) (*models.Recurrence, error)
	// GetTaskByTitle returns the most recently created open task of ownerID
	// with the given title.
	GetTaskByTitle(ctx context.Context, ownerID, title string) (*models.Task, error)

	ListChildren(ctx context.Context, parentID string) ([]*models.Task, error)
	ListDescendants(ctx context.Context, rootID string) ([]*models.Task, error)
	// ListAncestors returns the parent chain of id, nearest first.
	ListAncestors(ctx context.Context, id string) ([]*models.Task, error)
	ListSpawned(ctx context.Context, fromID string) ([]*models.Task, error)
	ListCompletions(ctx context.Context, filter models.CompletionFilter) ([]*models.Completion, error)

	// ListSweepCandidates returns open habits with a grace window and open
	// someday tasks belonging to ownerID.
	ListSweepCandidates(ctx context.Context, ownerID string) ([]*models.Task, error)
	ListOwners(ctx context.Context) ([]string, error)

	// Apply persists a changeset atomically.
	Apply(ctx context.Context, cs *models.Changeset) error
}

// Sink receives intents after their changeset has been committed.
type Sink interface {
	Emit(ctx context.Context, intents []models.Intent) error
}

type Observer interface {
	CompletionRecorded(c *models.Completion)
	IntentEmitted(kind models.IntentKind)
	SweepFinished(res *SweepResult, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) CompletionRecorded(*models.Completion) {}
func (nopObserver) IntentEmitted(models.IntentKind) {}
func (nopObserver) SweepFinished(*SweepResult, time.Duration) {}
