package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler(t *testing.T) {
	t.Parallel()

	scheduler := NewScheduler(testLogger())

	var runs int64
	err := scheduler.Add(context.Background(), "counter", time.Second, func(ctx context.Context) {
		atomic.AddInt64(&runs, 1)
	})
	require.NoError(t, err)

	scheduler.Start()
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&runs) >= 1
	}, 5*time.Second, 50*time.Millisecond)

	scheduler.Stop()
	settled := atomic.LoadInt64(&runs)
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, settled, atomic.LoadInt64(&runs), "no new cycles after stop")
}

func TestSchedulerStopWaitsForInflightCycle(t *testing.T) {
	t.Parallel()

	scheduler := NewScheduler(testLogger())

	started := make(chan struct{})
	var startedOnce sync.Once
	var finished atomic.Bool
	err := scheduler.Add(context.Background(), "slow", time.Second, func(ctx context.Context) {
		startedOnce.Do(func() { close(started) })
		time.Sleep(500 * time.Millisecond)
		finished.Store(true)
	})
	require.NoError(t, err)

	scheduler.Start()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("cycle never started")
	}

	scheduler.Stop()
	assert.True(t, finished.Load(), "stop waits for the in-flight cycle")
}
