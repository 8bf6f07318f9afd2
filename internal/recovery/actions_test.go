package recovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptops/dispatch-api/internal/domain"
	"github.com/promptops/dispatch-api/internal/health"
	"github.com/promptops/dispatch-api/internal/lifecycle"
	"github.com/promptops/dispatch-api/internal/mocks"
)

func stuckTask(age time.Duration) *domain.Task {
	now := time.Now().UTC()
	return &domain.Task{
		ID:        uuid.New(),
		Status:    domain.StatusSubmissionStarted,
		Version:   2,
		Payload:   []byte(`{"prompt":"stalled"}`),
		CreatedAt: now.Add(-age - time.Minute),
		UpdatedAt: now.Add(-age),
	}
}

func TestStuckClaimReleaseAction(t *testing.T) {
	t.Parallel()

	t.Run("releases aged claims back to pending", func(t *testing.T) {
		t.Parallel()

		tasks := mocks.NewMockTaskStore()
		transitions := mocks.NewMockTransitionStore()
		manager := lifecycle.NewStatusManager(mocks.NewMockTransactor(), tasks, transitions, testLogger())

		stuck := stuckTask(15 * time.Minute)
		fresh := stuckTask(10 * time.Second)
		tasks.Seed(stuck, fresh)

		action := &StuckClaimReleaseAction{
			Tasks:       tasks,
			Manager:     manager,
			MaxClaimAge: 5 * time.Minute,
			BatchLimit:  10,
		}
		require.NoError(t, action.Attempt(context.Background()))

		released := tasks.Snapshot(stuck.ID)
		assert.Equal(t, domain.StatusPending, released.Status)
		assert.Equal(t, int64(3), released.Version, "release goes through the versioned path")

		untouched := tasks.Snapshot(fresh.ID)
		assert.Equal(t, domain.StatusSubmissionStarted, untouched.Status, "claims within the age window are left alone")

		require.Len(t, transitions.Records(), 1)
		record := transitions.Records()[0]
		assert.Equal(t, stuck.ID, record.TaskID)
		assert.Equal(t, domain.StatusPending, record.ToStatus)
		assert.Equal(t, "recovery-engine", record.Actor)
	})

	t.Run("skips claims another worker is moving", func(t *testing.T) {
		t.Parallel()

		tasks := mocks.NewMockTaskStore()
		transitions := mocks.NewMockTransitionStore()
		manager := lifecycle.NewStatusManager(mocks.NewMockTransactor(), tasks, transitions, testLogger())

		stuck := stuckTask(15 * time.Minute)
		tasks.Seed(stuck)

		// Simulate a racing worker advancing the task after the scan read it:
		// the task is found stuck, but by transition time it is SUBMITTED and
		// PENDING is no longer reachable.
		tasks.FindStatusOlderThanFn = func(ctx context.Context, status domain.TaskStatus, cutoff time.Time, limit int) ([]*domain.Task, error) {
			cp := *stuck
			_, err := manager.Transition(ctx, stuck.ID, domain.StatusSubmitted, "submission acknowledged", "submission-loop")
			require.NoError(t, err)
			return []*domain.Task{&cp}, nil
		}

		action := &StuckClaimReleaseAction{
			Tasks:       tasks,
			Manager:     manager,
			MaxClaimAge: 5 * time.Minute,
			BatchLimit:  10,
		}
		require.NoError(t, action.Attempt(context.Background()), "losing the race is not a failure")
		assert.Equal(t, domain.StatusSubmitted, tasks.Snapshot(stuck.ID).Status)
	})
}

func TestTempFilePurgeAction(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	old := filepath.Join(dir, "upload-1.tmp")
	recent := filepath.Join(dir, "upload-2.tmp")
	unmatched := filepath.Join(dir, "keep.dat")
	for _, path := range []string{old, recent, unmatched} {
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	}
	stale := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, stale, stale))

	action := &TempFilePurgeAction{Dir: dir, Pattern: "*.tmp", MaxAge: time.Hour}
	require.NoError(t, action.Attempt(context.Background()))

	_, err := os.Stat(old)
	assert.True(t, os.IsNotExist(err), "aged matching file must be removed")
	_, err = os.Stat(recent)
	assert.NoError(t, err, "recent file must survive")
	_, err = os.Stat(unmatched)
	assert.NoError(t, err, "non-matching file must survive")
}

func TestNetworkResetAction(t *testing.T) {
	t.Parallel()

	closer := &fakeIdleCloser{}

	t.Run("healthy probe succeeds", func(t *testing.T) {
		t.Parallel()

		monitor := health.NewMonitor("execution_service", health.ProberFunc(func(ctx context.Context) error {
			return nil
		}), testLogger())
		action := &NetworkResetAction{Conns: closer, Monitor: monitor}
		require.NoError(t, action.Attempt(context.Background()))
		assert.True(t, closer.called)
	})

	t.Run("failing probe surfaces as action error", func(t *testing.T) {
		t.Parallel()

		monitor := health.NewMonitor("execution_service", health.ProberFunc(func(ctx context.Context) error {
			return errors.New("connection refused")
		}), testLogger())
		action := &NetworkResetAction{Conns: closer, Monitor: monitor}
		assert.Error(t, action.Attempt(context.Background()))
	})
}

type fakeIdleCloser struct{ called bool }

func (f *fakeIdleCloser) CloseIdleConnections() { f.called = true }

func TestLoadShedAction(t *testing.T) {
	t.Parallel()

	p1 := &fakePauser{}
	p2 := &fakePauser{}
	action := &LoadShedAction{Pausers: []Pauser{p1, p2}, ShedFor: 30 * time.Second}
	require.NoError(t, action.Attempt(context.Background()))
	assert.Equal(t, 30*time.Second, p1.paused)
	assert.Equal(t, 30*time.Second, p2.paused)
}

type fakePauser struct{ paused time.Duration }

func (f *fakePauser) PauseFor(d time.Duration) { f.paused = d }
