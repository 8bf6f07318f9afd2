package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/promptops/dispatch-api/internal/domain"
	"github.com/promptops/dispatch-api/internal/platform/logger"
	"github.com/promptops/dispatch-api/internal/store"
)

// taskColumns is the column list shared by every task SELECT so scanTask can
// stay in one place.
const taskColumns = `id, status, version, payload, retry_count,
	submission_time, execution_time, last_error, created_at, updated_at`

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL.
type PostgresTaskStore struct {
	db store.DBTX
}

// Ensure PostgresTaskStore implements store.TaskStore.
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// NewPostgresTaskStore creates a new PostgresTaskStore.
func NewPostgresTaskStore(db store.DBTX) *PostgresTaskStore {
	return &PostgresTaskStore{db: db}
}

// WithTx returns a TaskStore bound to the given transaction.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{db: tx}
}

// Create persists a new task.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO tasks (id, status, version, payload, retry_count,
			submission_time, execution_time, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.Status,
		task.Version,
		[]byte(task.Payload),
		task.RetryCount,
		task.SubmissionTime,
		task.ExecutionTime,
		nullableString(task.LastError),
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create task",
			"task_id", task.ID,
			"error", err)
		return store.NewStoreError("task", "create", "insert failed", MapError(err))
	}

	return nil
}

// Get returns the task with the given ID, or store.ErrTaskNotFound.
func (s *PostgresTaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
		}
		return nil, store.NewStoreError("task", "get", "query failed", MapError(err))
	}

	return task, nil
}

// FindByStatus returns up to limit tasks in any of the given statuses, oldest first.
func (s *PostgresTaskStore) FindByStatus(
	ctx context.Context,
	statuses []domain.TaskStatus,
	limit int,
) ([]*domain.Task, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, 0, len(statuses)+1)
	for i, status := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args = append(args, status)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY created_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(statuses)+1)
		args = append(args, limit)
	}

	return s.queryTasks(ctx, query, args...)
}

// FindStatusOlderThan returns up to limit tasks that have sat in the given
// status since before the cutoff, oldest first.
func (s *PostgresTaskStore) FindStatusOlderThan(
	ctx context.Context,
	status domain.TaskStatus,
	cutoff time.Time,
	limit int,
) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC`
	args := []any{status, cutoff}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	return s.queryTasks(ctx, query, args...)
}

// UpdateStatus moves the task to newStatus conditioned on expectedVersion.
// A zero-row update is disambiguated with a follow-up read: a missing row is
// ErrTaskNotFound, an existing row at another version is ErrVersionConflict.
func (s *PostgresTaskStore) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	newStatus domain.TaskStatus,
	expectedVersion int64,
	update store.StatusUpdate,
) (int64, error) {
	log := logger.FromContext(ctx)

	query := `
		UPDATE tasks
		SET status = $1,
			version = version + 1,
			submission_time = COALESCE($2, submission_time),
			execution_time = COALESCE($3, execution_time),
			last_error = COALESCE($4, last_error),
			updated_at = $5
		WHERE id = $6 AND version = $7
	`

	result, err := s.db.ExecContext(ctx, query,
		newStatus,
		update.SubmissionTime,
		update.ExecutionTime,
		update.LastError,
		time.Now().UTC(),
		id,
		expectedVersion,
	)
	if err != nil {
		log.Error("failed to update task status",
			"task_id", id,
			"status", newStatus,
			"error", err)
		return 0, store.NewStoreError("task", "update", "versioned write failed", MapError(err))
	}

	if err := CheckRowsAffected(result, "task"); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return 0, store.NewStoreError("task", "update", "rows affected unavailable", err)
		}

		// Zero rows means the row is gone or its version moved on; a
		// follow-up read tells the two apart.
		var currentVersion int64
		err := s.db.QueryRowContext(ctx, `SELECT version FROM tasks WHERE id = $1`, id).
			Scan(&currentVersion)
		if err != nil {
			if IsNotFoundError(MapError(err)) {
				return 0, fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
			}
			return 0, store.NewStoreError("task", "update", "conflict probe failed", MapError(err))
		}
		log.Debug("version conflict on task update",
			"task_id", id,
			"expected_version", expectedVersion,
			"current_version", currentVersion)
		return 0, fmt.Errorf("%w: task %s expected version %d, found %d",
			store.ErrVersionConflict, id, expectedVersion, currentVersion)
	}

	return expectedVersion + 1, nil
}

// IncrementRetry bumps the task's retry counter, returning the new count.
func (s *PostgresTaskStore) IncrementRetry(ctx context.Context, id uuid.UUID) (int, error) {
	query := `
		UPDATE tasks
		SET retry_count = retry_count + 1, updated_at = $1
		WHERE id = $2
		RETURNING retry_count
	`

	var count int
	err := s.db.QueryRowContext(ctx, query, time.Now().UTC(), id).Scan(&count)
	if err != nil {
		if IsNotFoundError(MapError(err)) {
			return 0, fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
		}
		return 0, store.NewStoreError("task", "increment_retry", "update failed", MapError(err))
	}

	return count, nil
}

// CountByStatus returns the number of tasks per status.
func (s *PostgresTaskStore) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, store.NewStoreError("task", "count", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[domain.TaskStatus]int)
	for rows.Next() {
		var status domain.TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, store.NewStoreError("task", "count", "scan failed", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("task", "count", "row iteration failed", MapError(err))
	}

	return counts, nil
}

// queryTasks runs a task SELECT and scans every row.
func (s *PostgresTaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	log := logger.FromContext(ctx)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query tasks", "error", err)
		return nil, store.NewStoreError("task", "find", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, store.NewStoreError("task", "find", "scan failed", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("task", "find", "row iteration failed", MapError(err))
	}

	return tasks, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var task domain.Task
	var payload []byte
	var submissionTime, executionTime sql.NullTime
	var lastError sql.NullString

	err := row.Scan(
		&task.ID,
		&task.Status,
		&task.Version,
		&payload,
		&task.RetryCount,
		&submissionTime,
		&executionTime,
		&lastError,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Payload = payload
	if submissionTime.Valid {
		task.SubmissionTime = &submissionTime.Time
	}
	if executionTime.Valid {
		task.ExecutionTime = &executionTime.Time
	}
	task.LastError = lastError.String

	return &task, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
