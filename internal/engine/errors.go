package engine

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition        = errors.New("invalid transition")
	ErrMissingBlockReason       = errors.New("missing block reason")
	ErrInvalidRecurrencePattern = errors.New("invalid recurrence pattern")
	ErrMissingAnchor            = errors.New("missing anchor date")
	ErrGracePeriodExpired       = errors.New("grace period expired")
	ErrSelfParent               = errors.New("task cannot be its own parent")
	ErrCircularParentReference  = errors.New("circular parent reference")
	ErrNotFound                 = errors.New("not found")
)

// Error carries the failing task alongside one of the sentinel kinds above.
type Error struct {
	Kind   error
	TaskID string
	Msg    string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	s := e.Kind.Error()
	if e.TaskID != "" {
		s = fmt.Sprintf("%s (task %s)", s, e.TaskID)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, taskID, format string, args ...any) error {
	return &Error{Kind: kind, TaskID: taskID, Msg: fmt.Sprintf(format, args...)}
}

// NotFound builds the error returned when a referenced entity does not exist.
func NotFound(entity, id string) error {
	return &Error{Kind: ErrNotFound, TaskID: id, Msg: entity + " does not exist"}
}

var userMessages = []struct {
	kind error
	msg  string
}{
	{ErrInvalidTransition, "this status change is not allowed from the task's current state"},
	{ErrMissingBlockReason, "say why the task is blocked before marking it blocked"},
	{ErrInvalidRecurrencePattern, "the repeat pattern needs a positive interval, a known unit and at least one allowed weekday"},
	{ErrMissingAnchor, "a fixed schedule needs a start date to repeat from"},
	{ErrGracePeriodExpired, "streak grace period has expired; this completion will not be counted"},
	{ErrSelfParent, "a task cannot be placed under itself"},
	{ErrCircularParentReference, "that parent is already nested under this task"},
	{ErrNotFound, "the task no longer exists"},
}

// UserMessage maps an error to a sentence suitable for showing to a person.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range userMessages {
		if errors.Is(err, m.kind) {
			return m.msg
		}
	}
	return "something went wrong: " + err.Error()
}

// Kind returns the sentinel kind of err, or nil for errors outside the taxonomy.
func Kind(err error) error {
	for _, m := range userMessages {
		if errors.Is(err, m.kind) {
			return m.kind
		}
	}
	return nil
}
