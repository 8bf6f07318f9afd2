package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/promptops/dispatch-api/internal/domain"
)

// OutcomeEvent records a task reaching a terminal status. It carries enough
// for a handler to act without loading the task.
type OutcomeEvent struct {
	// ID is a unique identifier for this event.
	ID uuid.UUID `json:"id"`

	// TaskID identifies the task that concluded.
	TaskID uuid.UUID `json:"task_id"`

	// Status is the terminal status the task reached.
	Status domain.TaskStatus `json:"status"`

	// Reason carries the failure detail for FAILED and ERROR outcomes;
	// empty for COMPLETED.
	Reason string `json:"reason,omitempty"`

	// OccurredAt is when the terminal status was observed.
	OccurredAt time.Time `json:"occurred_at"`
}

// NewOutcomeEvent creates an OutcomeEvent for the given task and terminal
// status.
func NewOutcomeEvent(taskID uuid.UUID, status domain.TaskStatus, reason string) *OutcomeEvent {
	return &OutcomeEvent{
		ID:         uuid.New(),
		TaskID:     taskID,
		Status:     status,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}

// Handler processes outcome events.
type Handler interface {
	// HandleOutcome processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleOutcome(ctx context.Context, event *OutcomeEvent) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event *OutcomeEvent) error

// HandleOutcome implements Handler.
func (f HandlerFunc) HandleOutcome(ctx context.Context, event *OutcomeEvent) error {
	return f(ctx, event)
}

// Emitter publishes outcome events without direct knowledge of handlers.
type Emitter interface {
	// EmitOutcome publishes the given event to all registered handlers.
	EmitOutcome(ctx context.Context, event *OutcomeEvent) error
}
