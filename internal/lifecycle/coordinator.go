package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ldi/tend/internal/engine"
	"github.com/ldi/tend/pkg/models"
)

type Options struct {
	Sink     Sink
	Clock    engine.Clock
	Logger   *slog.Logger
	Observer Observer
	// Location is the zone recurrence and period arithmetic run in. Nil
	// means the zone of the clock.
	Location *time.Location
	// Workers bounds the sweep pool. Zero means 4.
	Workers int
}

// Coordinator turns lifecycle events into one atomic changeset each and
// hands the resulting intents to the sink once the changeset is committed.
type Coordinator struct {
	store    Store
	sink     Sink
	clock    engine.Clock
	logger   *slog.Logger
	observer Observer
	loc      *time.Location
	workers  int

	// writeMu serializes load/plan/apply cycles so two events never plan
	// against the same stale snapshot.
	writeMu sync.Mutex
}

func New(store Store, opts Options) *Coordinator {
	c := &Coordinator{
		store:    store,
		sink:     opts.Sink,
		clock:    opts.Clock,
		logger:   opts.Logger,
		observer: opts.Observer,
		loc:      opts.Location,
		workers:  opts.Workers,
	}
	if c.clock == nil {
		c.clock = engine.RealClock{}
	}
	if c.loc == nil {
		c.loc = c.clock.Now().Location()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	if c.workers <= 0 {
		c.workers = 4
	}
	return c
}

// Now is the clock's time in the coordinator's zone.
func (c *Coordinator) Now() time.Time {
	return c.clock.Now().In(c.loc)
}

func (c *Coordinator) Location() *time.Location {
	return c.loc
}

// Upcoming previews the next n due dates of rec after the given instant,
// computed in the coordinator's zone.
func (c *Coordinator) Upcoming(rec *models.Recurrence, after time.Time, n int) ([]time.Time, error) {
	return engine.Upcoming(c.zoned(rec), after.In(c.loc), n)
}

// zoned copies rec with its anchor moved into the coordinator's zone. Stored
// instants come back in UTC, and weekday exclusions and calendar steps must
// follow local wall time.
func (c *Coordinator) zoned(rec *models.Recurrence) *models.Recurrence {
	if rec == nil {
		return nil
	}
	out := rec.Clone()
	out.AnchorDate = c.local(rec.AnchorDate)
	return out
}

func (c *Coordinator) local(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.In(c.loc)
	return &v
}

func (c *Coordinator) GetTask(ctx context.Context, id string) (*models.Task, error) {
	task, err := c.store.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	if task == nil {
		return nil, engine.NotFound("task", id)
	}
	return task, nil
}

// HasChildren reports whether id currently has children, which makes it a
// parent task.
func (c *Coordinator) HasChildren(ctx context.Context, id string) (bool, error) {
	children, err := c.store.ListChildren(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to list children: %w", err)
	}
	return len(children) > 0, nil
}

// Progress counts completed children of parentID. It is always derived from
// the children and never stored.
func (c *Coordinator) Progress(ctx context.Context, parentID string) (done, total int, err error) {
	if _, err := c.GetTask(ctx, parentID); err != nil {
		return 0, 0, err
	}
	children, err := c.store.ListChildren(ctx, parentID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list children: %w", err)
	}
	done, total = engine.NewForest(children...).Progress(parentID)
	return done, total, nil
}

// HabitDue reports whether the habit still needs doing in the period
// containing at. Zero at means now.
func (c *Coordinator) HabitDue(ctx context.Context, id string, at time.Time) (bool, error) {
	if at.IsZero() {
		at = c.Now()
	}
	at = at.In(c.loc)
	task, err := c.GetTask(ctx, id)
	if err != nil {
		return false, err
	}
	history, err := c.store.ListCompletions(ctx, seriesFilter(task))
	if err != nil {
		return false, fmt.Errorf("failed to list completions: %w", err)
	}
	return engine.HabitDue(task, history, at), nil
}

// History returns the completion rows of the task's whole series.
func (c *Coordinator) History(ctx context.Context, id string) ([]*models.Completion, error) {
	task, err := c.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := c.store.ListCompletions(ctx, seriesFilter(task))
	if err != nil {
		return nil, fmt.Errorf("failed to list completions: %w", err)
	}
	return rows, nil
}

func seriesFilter(task *models.Task) models.CompletionFilter {
	if task.RecurrenceID != nil {
		return models.CompletionFilter{RecurrenceID: *task.RecurrenceID}
	}
	return models.CompletionFilter{TaskID: task.ID}
}

// commit applies cs and then emits intents. A sink failure is logged but
// does not fail the event because the state change is already durable.
func (c *Coordinator) commit(ctx context.Context, cs *models.Changeset, intents []models.Intent) error {
	if cs.Empty() {
		return nil
	}
	if err := c.store.Apply(ctx, cs); err != nil {
		return fmt.Errorf("failed to apply changes: %w", err)
	}
	for _, comp := range cs.Completions {
		c.observer.CompletionRecorded(comp)
	}
	c.emit(ctx, intents)
	return nil
}

func (c *Coordinator) emit(ctx context.Context, intents []models.Intent) {
	if len(intents) == 0 {
		return
	}
	for _, in := range intents {
		c.observer.IntentEmitted(in.Kind)
	}
	if c.sink == nil {
		return
	}
	if err := c.sink.Emit(ctx, intents); err != nil {
		c.logger.Warn("failed to emit intents", "count", len(intents), "error", err)
	}
}

func intent(kind models.IntentKind, task *models.Task, at time.Time, detail map[string]string) models.Intent {
	return models.Intent{Kind: kind, TaskID: task.ID, OwnerID: task.OwnerID, At: at, Detail: detail}
}
