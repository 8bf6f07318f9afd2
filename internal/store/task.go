package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/promptops/dispatch-api/internal/domain"
)

// StatusUpdate carries the optional task fields written alongside a status
// change. Nil fields are left untouched.
type StatusUpdate struct {
	SubmissionTime *time.Time
	ExecutionTime  *time.Time
	LastError      *string
}

// TaskStore defines the persistence interface for tasks.
//
// UpdateStatus is the optimistic-concurrency primitive of the whole system:
// the write is conditioned on expectedVersion and fails with
// ErrVersionConflict when the row has moved on, or ErrTaskNotFound when the
// row does not exist.
type TaskStore interface {
	// Create persists a new task.
	Create(ctx context.Context, task *domain.Task) error

	// Get returns the task with the given ID, or ErrTaskNotFound.
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// FindByStatus returns up to limit tasks in any of the given statuses,
	// oldest first. A limit of zero means no limit.
	FindByStatus(ctx context.Context, statuses []domain.TaskStatus, limit int) ([]*domain.Task, error)

	// FindStatusOlderThan returns up to limit tasks that have sat in the
	// given status since before the cutoff, oldest first.
	FindStatusOlderThan(ctx context.Context, status domain.TaskStatus, cutoff time.Time, limit int) ([]*domain.Task, error)

	// UpdateStatus moves the task to newStatus if and only if its version
	// still equals expectedVersion, incrementing the version by one. Returns
	// the new version on success.
	UpdateStatus(ctx context.Context, id uuid.UUID, newStatus domain.TaskStatus, expectedVersion int64, update StatusUpdate) (int64, error)

	// IncrementRetry bumps the task's retry counter without touching status
	// or version, returning the new count.
	IncrementRetry(ctx context.Context, id uuid.UUID) (int, error)

	// CountByStatus returns the number of tasks per status.
	CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error)

	// WithTx returns a TaskStore that runs its operations on the provided
	// transaction. The transaction is created and managed by the caller.
	WithTx(tx *sql.Tx) TaskStore
}
