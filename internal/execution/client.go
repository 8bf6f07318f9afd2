package execution

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutcomeState is the execution service's view of a submitted task.
type OutcomeState string

const (
	StateQueued    OutcomeState = "queued"
	StateRunning   OutcomeState = "running"
	StateSucceeded OutcomeState = "succeeded"
	StateFailed    OutcomeState = "failed"
)

// Terminal reports whether the remote side considers the task finished.
func (s OutcomeState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Outcome is the execution service's report for one task. A failed state is
// a business failure, delivered as a well-formed outcome rather than an
// error: the infrastructure worked, the task itself did not.
type Outcome struct {
	TaskID     uuid.UUID    `json:"task_id"`
	State      OutcomeState `json:"state"`
	Error      string       `json:"error,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// Client is the interface to the remote execution service.
type Client interface {
	// SubmitTask hands the task payload to the execution service. A nil
	// return means the service accepted the work, not that it finished.
	SubmitTask(ctx context.Context, taskID uuid.UUID, payload json.RawMessage) error

	// FetchOutcome queries the current outcome of a previously submitted task.
	FetchOutcome(ctx context.Context, taskID uuid.UUID) (*Outcome, error)

	// Ping performs a lightweight round-trip used by health probes.
	Ping(ctx context.Context) error
}
