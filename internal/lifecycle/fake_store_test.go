package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ldi/tend/internal/engine"
	"github.com/ldi/tend/pkg/models"
)

// memStore is an in-memory Store. Every read returns copies so the
// coordinator can never mutate stored rows without going through Apply.
type memStore struct {
	mu          sync.Mutex
	tasks       map[string]*models.Task
	recs        map[string]*models.Recurrence
	completions []*models.Completion
	applies     int

	failApply error
	failGet   map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		tasks:   make(map[string]*models.Task),
		recs:    make(map[string]*models.Recurrence),
		failGet: make(map[string]error),
	}
}

func (s *memStore) put(tasks ...*models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		s.tasks[t.ID] = t.Clone()
	}
}

func (s *memStore) putRecurrence(r *models.Recurrence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[r.ID] = r.Clone()
}

func (s *memStore) task(id string) *models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id].Clone()
}

func (s *memStore) recurrence(id string) *models.Recurrence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recs[id].Clone()
}

func (s *memStore) applyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applies
}

func (s *memStore) allCompletions() []*models.Completion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Completion(nil), s.completions...)
}

func (s *memStore) GetTask(_ context.Context, id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failGet[id]; err != nil {
		return nil, err
	}
	return s.tasks[id].Clone(), nil
}

func (s *memStore) GetRecurrence(_ context.Context, id string) (*models.Recurrence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recs[id].Clone(), nil
}

func (s *memStore) GetTaskByTitle(_ context.Context, ownerID, title string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.Task
	for _, t := range s.tasks {
		if t.OwnerID != ownerID || t.Title != title || engine.IsTerminal(t.Status) {
			continue
		}
		if best == nil || t.CreatedAt.After(best.CreatedAt) {
			best = t
		}
	}
	return best.Clone(), nil
}

func (s *memStore) childrenLocked(parentID string) []*models.Task {
	var out []*models.Task
	for _, t := range s.tasks {
		if t.ParentID != nil && *t.ParentID == parentID {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) ListChildren(_ context.Context, parentID string) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.childrenLocked(parentID), nil
}

func (s *memStore) ListDescendants(_ context.Context, rootID string) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Task
	queue := []string{rootID}
	seen := map[string]bool{rootID: true}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, c := range s.childrenLocked(id) {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			out = append(out, c)
			queue = append(queue, c.ID)
		}
	}
	return out, nil
}

func (s *memStore) ListAncestors(_ context.Context, id string) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Task
	seen := map[string]bool{id: true}
	cur := s.tasks[id]
	for cur != nil && cur.ParentID != nil && !seen[*cur.ParentID] {
		seen[*cur.ParentID] = true
		cur = s.tasks[*cur.ParentID]
		if cur != nil {
			out = append(out, cur.Clone())
		}
	}
	return out, nil
}

func (s *memStore) ListSpawned(_ context.Context, fromID string) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Task
	for _, t := range s.tasks {
		if t.SpawnedFromID != nil && *t.SpawnedFromID == fromID {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (s *memStore) ListCompletions(_ context.Context, f models.CompletionFilter) ([]*models.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Completion
	for _, c := range s.completions {
		switch {
		case f.RecurrenceID != "":
			if c.RecurrenceID == nil || *c.RecurrenceID != f.RecurrenceID {
				continue
			}
		case f.TaskID != "":
			if c.TaskID != f.TaskID {
				continue
			}
		}
		if f.Matches(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) ListSweepCandidates(_ context.Context, ownerID string) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Task
	for _, t := range s.tasks {
		if t.OwnerID != ownerID || engine.IsTerminal(t.Status) {
			continue
		}
		if (t.IsHabit() && t.StreakSafeUntil != nil) || t.IsSomeday() {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ListOwners(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := map[string]bool{}
	for _, t := range s.tasks {
		set[t.OwnerID] = true
	}
	var out []string
	for o := range set {
		out = append(out, o)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memStore) Apply(_ context.Context, cs *models.Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failApply != nil {
		return s.failApply
	}
	for _, t := range cs.Created {
		if _, ok := s.tasks[t.ID]; ok {
			return errors.New("duplicate task id " + t.ID)
		}
	}
	for _, t := range cs.Updated {
		if _, ok := s.tasks[t.ID]; !ok {
			return errors.New("unknown task " + t.ID)
		}
	}
	for _, r := range cs.Recurrences {
		s.recs[r.ID] = r.Clone()
	}
	for _, t := range cs.Created {
		s.tasks[t.ID] = t.Clone()
	}
	for _, t := range cs.Updated {
		s.tasks[t.ID] = t.Clone()
	}
	for _, c := range cs.Completions {
		cp := *c
		s.completions = append(s.completions, &cp)
	}
	s.applies++
	return nil
}

type recordingSink struct {
	mu      sync.Mutex
	intents []models.Intent
	err     error
}

func (s *recordingSink) Emit(_ context.Context, intents []models.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents = append(s.intents, intents...)
	return s.err
}

func (s *recordingSink) kinds() []models.IntentKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.IntentKind
	for _, in := range s.intents {
		out = append(out, in.Kind)
	}
	return out
}

func (s *recordingSink) count(kind models.IntentKind) int {
	n := 0
	for _, k := range s.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

type fixture struct {
	store *memStore
	sink  *recordingSink
	clock *engine.FakeClock
	coord *Coordinator
}

func newFixture(now time.Time) *fixture {
	f := &fixture{
		store: newMemStore(),
		sink:  &recordingSink{},
		clock: engine.NewFakeClock(now),
	}
	f.coord = New(f.store, Options{
		Sink:    f.sink,
		Clock:   f.clock,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Workers: 3,
	})
	return f
}

func day(d, hh int) time.Time {
	return time.Date(2026, time.March, d, hh, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

func standard(id, parent string, status models.TaskStatus) *models.Task {
	t := &models.Task{
		ID:        id,
		OwnerID:   "me",
		Title:     id,
		Kind:      models.TaskKindStandard,
		Status:    status,
		CreatedAt: day(1, 0),
		UpdatedAt: day(1, 0),
	}
	if parent != "" {
		t.ParentID = ptr(parent)
	}
	return t
}
