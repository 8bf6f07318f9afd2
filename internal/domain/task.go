package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current lifecycle state of a prompt task.
type TaskStatus string

// Possible task status values. The normal lifecycle is
// PENDING → SUBMISSION_STARTED → SUBMITTED → EXECUTING → {COMPLETED | FAILED};
// ERROR is reachable from any non-terminal state.
const (
	StatusPending           TaskStatus = "PENDING"
	StatusSubmissionStarted TaskStatus = "SUBMISSION_STARTED"
	StatusSubmitted         TaskStatus = "SUBMITTED"
	StatusExecuting         TaskStatus = "EXECUTING"
	StatusCompleted         TaskStatus = "COMPLETED"
	StatusFailed            TaskStatus = "FAILED"
	StatusError             TaskStatus = "ERROR"
)

// statusRanks orders statuses along the lifecycle. Terminal states share the
// highest rank because no ordering among them is meaningful.
var statusRanks = map[TaskStatus]int{
	StatusPending:           0,
	StatusSubmissionStarted: 1,
	StatusSubmitted:         2,
	StatusExecuting:         3,
	StatusCompleted:         4,
	StatusFailed:            4,
	StatusError:             4,
}

// Rank returns the position of a status in the lifecycle ordering. It is used
// by the consistency checker to decide which of two disagreeing non-terminal
// statuses is more advanced. Unknown statuses rank below PENDING.
func (s TaskStatus) Rank() int {
	rank, ok := statusRanks[s]
	if !ok {
		return -1
	}
	return rank
}

// IsTerminal reports whether the status is one of the three final states.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusError
}

// IsValid reports whether the status is a member of the closed status set.
func (s TaskStatus) IsValid() bool {
	_, ok := statusRanks[s]
	return ok
}

// ParseStatus converts a string into a TaskStatus, returning
// ErrInvalidStatus for anything outside the closed set.
func ParseStatus(raw string) (TaskStatus, error) {
	s := TaskStatus(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

// Task is one unit of dispatched work tracked through the lifecycle.
//
// Version increments exactly once per committed transition and is the basis
// for optimistic concurrency: an update conditioned on a stale version must
// be rejected by the store, never overwritten.
type Task struct {
	ID             uuid.UUID       `json:"id"`
	Status         TaskStatus      `json:"status"`
	Version        int64           `json:"version"`
	Payload        json.RawMessage `json:"payload"`
	RetryCount     int             `json:"retry_count"`
	SubmissionTime *time.Time      `json:"submission_time,omitempty"`
	ExecutionTime  *time.Time      `json:"execution_time,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewTask creates a task in PENDING status at version 1 with the given
// opaque payload. The payload is owned by the business layer and is never
// interpreted by the lifecycle engine.
func NewTask(payload json.RawMessage) (*Task, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: payload is required", ErrInvalidTask)
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidTask)
	}

	now := time.Now().UTC()
	return &Task{
		ID:        uuid.New(),
		Status:    StatusPending,
		Version:   1,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// InFlight reports whether the task has been handed to the execution service
// but has not reached a terminal state yet.
func (t *Task) InFlight() bool {
	return t.Status == StatusSubmitted || t.Status == StatusExecuting
}
