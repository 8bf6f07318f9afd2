package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecordAttempt(t *testing.T) {
	t.Parallel()

	m := NewMonitor("database", nil, testLogger())

	m.RecordAttempt(true, 10*time.Millisecond)
	m.RecordAttempt(false, 30*time.Millisecond)
	m.RecordAttempt(false, 20*time.Millisecond)

	stats := m.Snapshot()
	assert.Equal(t, int64(3), stats.TotalAttempts)
	assert.Equal(t, int64(1), stats.Successes)
	assert.Equal(t, int64(2), stats.Failures)
	assert.Equal(t, int64(2), stats.ConsecutiveFailures)
	assert.InDelta(t, 20.0, stats.AverageLatencyMs, 0.01)
	require.NotNil(t, stats.LastSuccessTime)

	// A success resets the consecutive-failure streak.
	m.RecordAttempt(true, 5*time.Millisecond)
	assert.Equal(t, int64(0), m.Snapshot().ConsecutiveFailures)
}

func TestIsHealthy(t *testing.T) {
	t.Parallel()

	t.Run("healthy with no history", func(t *testing.T) {
		t.Parallel()

		m := NewMonitor("network", nil, testLogger())
		assert.True(t, m.IsHealthy())
		assert.Equal(t, 1.0, m.Snapshot().SuccessRate)
	})

	t.Run("unhealthy below success rate threshold", func(t *testing.T) {
		t.Parallel()

		m := NewMonitor("network", nil, testLogger())
		for i := 0; i < 3; i++ {
			m.RecordAttempt(false, time.Millisecond)
			m.RecordAttempt(false, time.Millisecond)
			m.RecordAttempt(true, time.Millisecond)
		}
		assert.False(t, m.IsHealthy())
	})

	t.Run("unhealthy on consecutive failure streak even with good history", func(t *testing.T) {
		t.Parallel()

		m := NewMonitor("database", nil, testLogger())
		for i := 0; i < 15; i++ {
			m.RecordAttempt(true, time.Millisecond)
		}
		for i := 0; i < 5; i++ {
			m.RecordAttempt(false, time.Millisecond)
		}
		assert.False(t, m.IsHealthy())
	})

	t.Run("old failures age out of the recent window", func(t *testing.T) {
		t.Parallel()

		m := NewMonitor("database", nil, testLogger())
		for i := 0; i < 10; i++ {
			m.RecordAttempt(false, time.Millisecond)
		}
		// A full window of successes displaces the outage history.
		for i := 0; i < recentWindowSize; i++ {
			m.RecordAttempt(true, time.Millisecond)
		}
		assert.True(t, m.IsHealthy())
		assert.Equal(t, 1.0, m.Snapshot().SuccessRate)
	})
}

// TestRecommendedRetriesMonotone checks the intended shape: healthier
// dependency means fewer retries, degraded means more, never unbounded.
func TestRecommendedRetriesMonotone(t *testing.T) {
	t.Parallel()

	fill := func(successes, failures int) *Monitor {
		m := NewMonitor("database", nil, testLogger())
		for i := 0; i < successes; i++ {
			m.RecordAttempt(true, time.Millisecond)
		}
		for i := 0; i < failures; i++ {
			m.RecordAttempt(false, time.Millisecond)
		}
		return m
	}

	healthy := fill(20, 0).RecommendedRetries()
	slightlyDegraded := fill(17, 3).RecommendedRetries()
	degraded := fill(12, 8).RecommendedRetries()
	failing := fill(2, 18).RecommendedRetries()

	assert.Equal(t, 1, healthy)
	assert.LessOrEqual(t, healthy, slightlyDegraded)
	assert.LessOrEqual(t, slightlyDegraded, degraded)
	assert.LessOrEqual(t, degraded, failing)
	assert.LessOrEqual(t, failing, defaultMaxRecommendedRetries)
}

func TestPerformCheck(t *testing.T) {
	t.Parallel()

	t.Run("probe success feeds counters", func(t *testing.T) {
		t.Parallel()

		m := NewMonitor("network", ProberFunc(func(ctx context.Context) error {
			return nil
		}), testLogger())

		require.NoError(t, m.PerformCheck(context.Background()))
		stats := m.Snapshot()
		assert.Equal(t, int64(1), stats.TotalAttempts)
		assert.Equal(t, int64(1), stats.Successes)
	})

	t.Run("probe failure feeds counters and returns the error", func(t *testing.T) {
		t.Parallel()

		probeErr := errors.New("connection refused")
		m := NewMonitor("network", ProberFunc(func(ctx context.Context) error {
			return probeErr
		}), testLogger())

		assert.ErrorIs(t, m.PerformCheck(context.Background()), probeErr)
		assert.Equal(t, int64(1), m.Snapshot().ConsecutiveFailures)
	})

	t.Run("nil prober is a no-op", func(t *testing.T) {
		t.Parallel()

		m := NewMonitor("database", nil, testLogger())
		require.NoError(t, m.PerformCheck(context.Background()))
		assert.Equal(t, int64(0), m.Snapshot().TotalAttempts)
	})
}

func TestReset(t *testing.T) {
	t.Parallel()

	m := NewMonitor("database", nil, testLogger())
	m.RecordAttempt(false, time.Millisecond)
	m.RecordAttempt(true, time.Millisecond)

	m.Reset()

	stats := m.Snapshot()
	assert.Equal(t, int64(0), stats.TotalAttempts)
	assert.Equal(t, int64(0), stats.ConsecutiveFailures)
	assert.Nil(t, stats.LastSuccessTime)
	assert.True(t, stats.IsHealthy)
}

// TestConcurrentRecordAttempt exercises the mutex under parallel writers;
// the final totals must account for every recorded attempt.
func TestConcurrentRecordAttempt(t *testing.T) {
	t.Parallel()

	m := NewMonitor("database", nil, testLogger())

	const workers = 8
	const perWorker = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				m.RecordAttempt(i%2 == 0, time.Millisecond)
			}
		}(w)
	}
	wg.Wait()

	stats := m.Snapshot()
	assert.Equal(t, int64(workers*perWorker), stats.TotalAttempts)
	assert.Equal(t, stats.TotalAttempts, stats.Successes+stats.Failures)
}
