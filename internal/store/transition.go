package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/promptops/dispatch-api/internal/domain"
)

// TransitionPath is one from→to edge together with how many times it was
// taken. Used to answer the "common transition paths" query.
type TransitionPath struct {
	From  domain.TaskStatus `json:"from_status"`
	To    domain.TaskStatus `json:"to_status"`
	Count int               `json:"count"`
}

// WindowStats summarizes transition activity since a point in time.
type WindowStats struct {
	Since    time.Time                 `json:"since"`
	Total    int                       `json:"total"`
	ByTarget map[domain.TaskStatus]int `json:"by_target"`
}

// TransitionStore defines the persistence interface for the append-only
// status transition audit trail.
type TransitionStore interface {
	// Append writes one audit record. Records are never updated or deleted.
	Append(ctx context.Context, transition *domain.StatusTransition) error

	// ListByTask returns the full transition history for a task, oldest first.
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]*domain.StatusTransition, error)

	// CommonPaths returns the most frequently taken from→to edges,
	// descending by count, up to limit.
	CommonPaths(ctx context.Context, limit int) ([]TransitionPath, error)

	// StatsSince counts transitions committed since the given time, broken
	// down by target status.
	StatsSince(ctx context.Context, since time.Time) (*WindowStats, error)

	// WithTx returns a TransitionStore that runs its operations on the
	// provided transaction.
	WithTx(tx *sql.Tx) TransitionStore
}
