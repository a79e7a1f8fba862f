package engine

import (
	"strings"
	"time"

	"github.com/ldi/tend/pkg/models"
)

type TransitionOptions struct {
	// Reason is required when entering blocked.
	Reason string
	// At stamps StartedAt on first entry into in_progress.
	At time.Time
}

type TransitionResult struct {
	From             models.TaskStatus
	To               models.TaskStatus
	EnteredCompleted bool
}

// IsTerminal reports whether s ends ordinary flow. Terminal tasks only move
// again through an explicit reopen or unarchive.
func IsTerminal(s models.TaskStatus) bool {
	return s == models.TaskStatusCompleted || s == models.TaskStatusArchived
}

// CanTransition reports whether from -> to is in the allowed set.
func CanTransition(from, to models.TaskStatus) bool {
	switch from {
	case models.TaskStatusReady:
		return to == models.TaskStatusInProgress || to == models.TaskStatusBlocked ||
			to == models.TaskStatusCompleted || to == models.TaskStatusArchived
	case models.TaskStatusInProgress:
		return to == models.TaskStatusBlocked || to == models.TaskStatusCompleted ||
			to == models.TaskStatusArchived
	case models.TaskStatusBlocked:
		return to == models.TaskStatusReady || to == models.TaskStatusInProgress ||
			to == models.TaskStatusArchived
	case models.TaskStatusCompleted:
		return to == models.TaskStatusReady
	case models.TaskStatusArchived:
		return to == models.TaskStatusReady
	default:
		return false
	}
}

// Transition validates and applies a status change to task. The task is
// mutated if and only if the transition is valid.
func Transition(task *models.Task, target models.TaskStatus, opts TransitionOptions) (TransitionResult, error) {
	from := task.Status
	if !target.Valid() || !CanTransition(from, target) {
		return TransitionResult{}, newError(ErrInvalidTransition, task.ID, "%s -> %s", from, target)
	}

	reason := strings.TrimSpace(opts.Reason)
	if target == models.TaskStatusBlocked && reason == "" {
		return TransitionResult{}, newError(ErrMissingBlockReason, task.ID, "blocked requires a reason")
	}

	task.Status = target
	switch target {
	case models.TaskStatusBlocked:
		task.BlockedReason = &reason
	default:
		task.BlockedReason = nil
	}

	if target == models.TaskStatusInProgress && task.StartedAt == nil {
		at := opts.At
		task.StartedAt = &at
	}

	return TransitionResult{
		From:             from,
		To:               target,
		EnteredCompleted: target == models.TaskStatusCompleted,
	}, nil
}
