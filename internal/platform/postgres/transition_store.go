package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/promptops/dispatch-api/internal/domain"
	"github.com/promptops/dispatch-api/internal/platform/logger"
	"github.com/promptops/dispatch-api/internal/store"
)

// PostgresTransitionStore implements store.TransitionStore using PostgreSQL.
// The task_transitions table is append-only; there are no update or delete
// operations by design.
type PostgresTransitionStore struct {
	db store.DBTX
}

var _ store.TransitionStore = (*PostgresTransitionStore)(nil)

// NewPostgresTransitionStore creates a new PostgresTransitionStore.
func NewPostgresTransitionStore(db store.DBTX) *PostgresTransitionStore {
	return &PostgresTransitionStore{db: db}
}

// WithTx returns a TransitionStore bound to the given transaction.
func (s *PostgresTransitionStore) WithTx(tx *sql.Tx) store.TransitionStore {
	return &PostgresTransitionStore{db: tx}
}

// Append writes one audit record.
func (s *PostgresTransitionStore) Append(
	ctx context.Context,
	transition *domain.StatusTransition,
) error {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO task_transitions (id, task_id, from_status, to_status,
			reason, actor, resulting_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.ExecContext(ctx, query,
		transition.ID,
		transition.TaskID,
		transition.FromStatus,
		transition.ToStatus,
		transition.Reason,
		transition.Actor,
		transition.ResultingVersion,
		transition.CreatedAt,
	)
	if err != nil {
		log.Error("failed to append status transition",
			"task_id", transition.TaskID,
			"from_status", transition.FromStatus,
			"to_status", transition.ToStatus,
			"error", err)
		return store.NewStoreError("transition", "append", "insert failed", MapError(err))
	}

	return nil
}

// ListByTask returns the full transition history for a task, oldest first.
func (s *PostgresTransitionStore) ListByTask(
	ctx context.Context,
	taskID uuid.UUID,
) ([]*domain.StatusTransition, error) {
	query := `
		SELECT id, task_id, from_status, to_status, reason, actor,
			resulting_version, created_at
		FROM task_transitions
		WHERE task_id = $1
		ORDER BY resulting_version ASC
	`

	rows, err := s.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, store.NewStoreError("transition", "list", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var transitions []*domain.StatusTransition
	for rows.Next() {
		var t domain.StatusTransition
		err := rows.Scan(
			&t.ID,
			&t.TaskID,
			&t.FromStatus,
			&t.ToStatus,
			&t.Reason,
			&t.Actor,
			&t.ResultingVersion,
			&t.CreatedAt,
		)
		if err != nil {
			return nil, store.NewStoreError("transition", "list", "scan failed", err)
		}
		transitions = append(transitions, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("transition", "list", "row iteration failed", MapError(err))
	}

	return transitions, nil
}

// CommonPaths returns the most frequently taken from→to edges.
func (s *PostgresTransitionStore) CommonPaths(
	ctx context.Context,
	limit int,
) ([]store.TransitionPath, error) {
	query := `
		SELECT from_status, to_status, COUNT(*) AS path_count
		FROM task_transitions
		GROUP BY from_status, to_status
		ORDER BY path_count DESC, from_status ASC, to_status ASC
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, store.NewStoreError("transition", "common_paths", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var paths []store.TransitionPath
	for rows.Next() {
		var p store.TransitionPath
		if err := rows.Scan(&p.From, &p.To, &p.Count); err != nil {
			return nil, store.NewStoreError("transition", "common_paths", "scan failed", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("transition", "common_paths", "row iteration failed", MapError(err))
	}

	return paths, nil
}

// StatsSince counts transitions committed since the given time by target status.
func (s *PostgresTransitionStore) StatsSince(
	ctx context.Context,
	since time.Time,
) (*store.WindowStats, error) {
	query := `
		SELECT to_status, COUNT(*)
		FROM task_transitions
		WHERE created_at >= $1
		GROUP BY to_status
	`

	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, store.NewStoreError("transition", "stats", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	stats := &store.WindowStats{
		Since:    since,
		ByTarget: make(map[domain.TaskStatus]int),
	}
	for rows.Next() {
		var status domain.TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, store.NewStoreError("transition", "stats", "scan failed", err)
		}
		stats.ByTarget[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("transition", "stats", "row iteration failed", MapError(err))
	}

	return stats, nil
}
