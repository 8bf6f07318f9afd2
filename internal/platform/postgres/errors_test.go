package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/promptops/dispatch-api/internal/store"
)

func pgError(code string) *pgconn.PgError {
	return &pgconn.PgError{Code: code, Message: "pg error " + code}
}

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       error
		sentinel error
	}{
		{"nil passes through", nil, nil},
		{"no rows maps to not found", sql.ErrNoRows, store.ErrNotFound},
		{"unique violation maps to duplicate", pgError("23505"), store.ErrDuplicate},
		{"foreign key maps to invalid entity", pgError("23503"), store.ErrInvalidEntity},
		{"check violation maps to invalid entity", pgError("23514"), store.ErrInvalidEntity},
		{"not null maps to invalid entity", pgError("23502"), store.ErrInvalidEntity},
		{"serialization failure is transient", pgError("40001"), store.ErrTransient},
		{"deadlock is transient", pgError("40P01"), store.ErrTransient},
		{"connection failure is transient", pgError("08006"), store.ErrTransient},
		{"admin shutdown is transient", pgError("57P01"), store.ErrTransient},
		{"too many connections is exhaustion", pgError("53300"), store.ErrResourceExhausted},
		{"configuration limit is exhaustion", pgError("53400"), store.ErrResourceExhausted},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mapped := MapError(tc.in)
			if tc.sentinel == nil {
				assert.NoError(t, mapped)
				return
			}
			assert.ErrorIs(t, mapped, tc.sentinel)
		})
	}

	t.Run("unknown error passes through unchanged", func(t *testing.T) {
		t.Parallel()

		err := errors.New("somebody set up us the bomb")
		assert.Equal(t, err, MapError(err))
	})

	t.Run("wrapped pg error is still recognized", func(t *testing.T) {
		t.Parallel()

		wrapped := fmt.Errorf("exec: %w", pgError("53300"))
		assert.ErrorIs(t, MapError(wrapped), store.ErrResourceExhausted)
	})
}

func TestIsPoolExhausted(t *testing.T) {
	t.Parallel()

	assert.True(t, IsPoolExhausted(pgError("53300")))
	assert.True(t, IsPoolExhausted(fmt.Errorf("exec: %w", pgError("53400"))))
	assert.False(t, IsPoolExhausted(pgError("40001")))
	assert.False(t, IsPoolExhausted(errors.New("not a pg error")))
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	assert.True(t, IsUniqueViolation(pgError("23505")))
	assert.False(t, IsUniqueViolation(pgError("23503")))
	assert.False(t, IsUniqueViolation(nil))
}

// fakeResult implements sql.Result with canned values.
type fakeResult struct {
	rows    int64
	rowsErr error
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rows, r.rowsErr }

func TestCheckRowsAffected(t *testing.T) {
	t.Parallel()

	t.Run("affected rows pass", func(t *testing.T) {
		t.Parallel()

		assert.NoError(t, CheckRowsAffected(fakeResult{rows: 1}, "task"))
	})

	t.Run("zero rows maps to not found with entity name", func(t *testing.T) {
		t.Parallel()

		err := CheckRowsAffected(fakeResult{rows: 0}, "task")
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.Contains(t, err.Error(), "task")
	})

	t.Run("zero rows without entity name", func(t *testing.T) {
		t.Parallel()

		assert.ErrorIs(t, CheckRowsAffected(fakeResult{rows: 0}, ""), store.ErrNotFound)
	})

	t.Run("rows affected failure is not a not-found", func(t *testing.T) {
		t.Parallel()

		err := CheckRowsAffected(fakeResult{rowsErr: errors.New("driver says no")}, "task")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("nil result is rejected", func(t *testing.T) {
		t.Parallel()

		assert.Error(t, CheckRowsAffected(nil, "task"))
	})
}

func TestIsNotFoundError(t *testing.T) {
	t.Parallel()

	assert.True(t, IsNotFoundError(sql.ErrNoRows))
	assert.True(t, IsNotFoundError(store.ErrTaskNotFound))
	assert.True(t, IsNotFoundError(MapError(sql.ErrNoRows)))
	assert.False(t, IsNotFoundError(errors.New("other")))
}
