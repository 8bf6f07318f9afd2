package domain

import (
	"time"

	"github.com/google/uuid"
)

// legalTransitions is the strict successor table used by the loops and the
// default manual endpoint. ERROR is additionally reachable from every
// non-terminal state; that edge is handled in CanTransition rather than
// listed per row. SUBMISSION_STARTED → PENDING is the claim-release edge
// used to return an orphaned submission claim to the pool.
var legalTransitions = map[TaskStatus][]TaskStatus{
	StatusPending:           {StatusSubmissionStarted},
	StatusSubmissionStarted: {StatusSubmitted, StatusPending},
	StatusSubmitted:         {StatusExecuting, StatusCompleted, StatusFailed},
	StatusExecuting:         {StatusCompleted, StatusFailed},
}

// CanTransition reports whether from → to is a legal strict-mode move.
func CanTransition(from, to TaskStatus) bool {
	if !from.IsValid() || !to.IsValid() || from == to {
		return false
	}
	if from.IsTerminal() {
		return false
	}
	if to == StatusError {
		return true
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanRepair reports whether from → to is acceptable for a consistency
// repair: any forward move in the lifecycle ordering, including non-adjacent
// jumps straight to a terminal state. Regression is never a repair.
func CanRepair(from, to TaskStatus) bool {
	if !from.IsValid() || !to.IsValid() || from == to {
		return false
	}
	if from.IsTerminal() {
		return false
	}
	return to.Rank() > from.Rank()
}

// CanOverride reports whether from → to is acceptable for a forced manual
// override. Overrides may regress out of a terminal state; the only moves
// rejected are self-transitions and statuses outside the closed set.
func CanOverride(from, to TaskStatus) bool {
	return from.IsValid() && to.IsValid() && from != to
}

// StatusTransition is the append-only audit record written exactly once per
// committed transition. Records are never mutated; they back the per-task
// history, common-path, and windowed statistics queries.
type StatusTransition struct {
	ID               uuid.UUID  `json:"id"`
	TaskID           uuid.UUID  `json:"task_id"`
	FromStatus       TaskStatus `json:"from_status"`
	ToStatus         TaskStatus `json:"to_status"`
	Reason           string     `json:"reason"`
	Actor            string     `json:"actor"`
	ResultingVersion int64      `json:"resulting_version"`
	CreatedAt        time.Time  `json:"created_at"`
}

// NewStatusTransition builds the audit record for a committed transition.
func NewStatusTransition(
	taskID uuid.UUID,
	from, to TaskStatus,
	reason, actor string,
	resultingVersion int64,
) *StatusTransition {
	return &StatusTransition{
		ID:               uuid.New(),
		TaskID:           taskID,
		FromStatus:       from,
		ToStatus:         to,
		Reason:           reason,
		Actor:            actor,
		ResultingVersion: resultingVersion,
		CreatedAt:        time.Now().UTC(),
	}
}
