package engine

import (
	"sort"

	"github.com/ldi/tend/pkg/models"
)

// Forest is an in-memory snapshot of the part of the task tree an event touches.
type Forest struct {
	tasks map[string]*models.Task
}

func NewForest(tasks ...*models.Task) *Forest {
	f := &Forest{tasks: make(map[string]*models.Task, len(tasks))}
	for _, t := range tasks {
		f.Add(t)
	}
	return f
}

// Add inserts or replaces a task in the snapshot.
func (f *Forest) Add(t *models.Task) {
	if t == nil {
		return
	}
	f.tasks[t.ID] = t
}

func (f *Forest) Get(id string) (*models.Task, bool) {
	t, ok := f.tasks[id]
	return t, ok
}

func (f *Forest) Len() int {
	return len(f.tasks)
}

// Children returns the direct children of id, oldest first.
func (f *Forest) Children(id string) []*models.Task {
	var out []*models.Task
	for _, t := range f.tasks {
		if t.ParentID != nil && *t.ParentID == id {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Progress is derived from the children every time; it is never cached on the parent.
func (f *Forest) Progress(parentID string) (done, total int) {
	for _, c := range f.Children(parentID) {
		total++
		if c.Status == models.TaskStatusCompleted {
			done++
		}
	}
	return done, total
}

// Descendants walks the subtree under rootID depth-first, parents before children.
func (f *Forest) Descendants(rootID string) []*models.Task {
	var out []*models.Task
	visited := map[string]bool{rootID: true}
	var walk func(id string)
	walk = func(id string) {
		for _, c := range f.Children(id) {
			if visited[c.ID] {
				continue
			}
			visited[c.ID] = true
			out = append(out, c)
			walk(c.ID)
		}
	}
	walk(rootID)
	return out
}

// PlanDescendants returns every descendant of rootID that a manual completion
// of the root must also complete. If any of them cannot enter completed the
// whole plan is rejected and nothing should be mutated.
func (f *Forest) PlanDescendants(rootID string) ([]*models.Task, error) {
	var plan []*models.Task
	for _, d := range f.Descendants(rootID) {
		if d.Status == models.TaskStatusCompleted {
			continue
		}
		if !CanTransition(d.Status, models.TaskStatusCompleted) {
			return nil, newError(ErrInvalidTransition, d.ID, "descendant of %s is %s and cannot be completed", rootID, d.Status)
		}
		plan = append(plan, d)
	}
	return plan, nil
}

// CompletableAncestors walks up from a completed task and returns, nearest
// first, each ancestor whose children would all be completed once the
// previous ones in the list are. The walk stops at the first ancestor that
// still has open children or cannot enter completed.
func (f *Forest) CompletableAncestors(childID string) []*models.Task {
	var out []*models.Task
	done := map[string]bool{childID: true}

	cur, ok := f.tasks[childID]
	for ok && cur.ParentID != nil {
		parent, found := f.tasks[*cur.ParentID]
		if !found || done[parent.ID] {
			break
		}
		if parent.Status == models.TaskStatusCompleted || !CanTransition(parent.Status, models.TaskStatusCompleted) {
			break
		}
		for _, c := range f.Children(parent.ID) {
			if c.Status != models.TaskStatusCompleted && !done[c.ID] {
				return out
			}
		}
		done[parent.ID] = true
		out = append(out, parent)
		cur, ok = parent, true
	}
	return out
}

// ReopenableAncestors returns the chain of completed ancestors above childID,
// nearest first, that must reopen when the child is reopened.
func (f *Forest) ReopenableAncestors(childID string) []*models.Task {
	var out []*models.Task
	seen := map[string]bool{childID: true}

	cur, ok := f.tasks[childID]
	for ok && cur.ParentID != nil {
		parent, found := f.tasks[*cur.ParentID]
		if !found || seen[parent.ID] || parent.Status != models.TaskStatusCompleted {
			break
		}
		seen[parent.ID] = true
		out = append(out, parent)
		cur = parent
	}
	return out
}

// ParentLookup resolves the parent of a task id. hasParent is false for roots.
type ParentLookup func(id string) (parentID string, hasParent bool, err error)

// ValidateParent checks that giving taskID the parent newParentID keeps the
// tree acyclic by walking the candidate's ancestor chain.
func ValidateParent(taskID, newParentID string, parentOf ParentLookup) error {
	if newParentID == "" {
		return nil
	}
	if newParentID == taskID {
		return newError(ErrSelfParent, taskID, "")
	}

	visited := map[string]bool{}
	cur := newParentID
	for {
		if cur == taskID {
			return newError(ErrCircularParentReference, taskID, "%s is a descendant of %s", newParentID, taskID)
		}
		if visited[cur] {
			return newError(ErrCircularParentReference, taskID, "existing ancestor chain of %s loops at %s", newParentID, cur)
		}
		visited[cur] = true

		next, ok, err := parentOf(cur)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		cur = next
	}
}
