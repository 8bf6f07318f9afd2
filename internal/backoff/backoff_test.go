package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelay(t *testing.T) {
	t.Parallel()

	p := Policy{Base: time.Second, Multiplier: 2.0, Cap: 10 * time.Second, MaxAttempts: 5}

	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 8*time.Second, p.Delay(3))

	// The cap bounds the schedule no matter how far it has progressed.
	assert.Equal(t, 10*time.Second, p.Delay(4))
	assert.Equal(t, 10*time.Second, p.Delay(50))

	// Negative attempts are clamped.
	assert.Equal(t, time.Second, p.Delay(-1))
}

func TestDelayJitter(t *testing.T) {
	t.Parallel()

	p := Policy{Base: time.Second, Multiplier: 2.0, Cap: time.Minute, Jitter: 0.5, MaxAttempts: 5}

	// Every sample stays inside [delay, delay*(1+Jitter)].
	for i := 0; i < 100; i++ {
		d := p.Delay(1)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}

	// The cap still bounds the jittered delay.
	capped := Policy{Base: time.Second, Multiplier: 2.0, Cap: 4 * time.Second, Jitter: 1.0, MaxAttempts: 5}
	for i := 0; i < 100; i++ {
		assert.LessOrEqual(t, capped.Delay(3), 4*time.Second)
	}

	assert.Positive(t, DefaultPolicy().Jitter)
}

func TestDo(t *testing.T) {
	t.Parallel()

	fast := Policy{Base: time.Millisecond, Multiplier: 1.0, Cap: time.Millisecond, MaxAttempts: 3}

	t.Run("returns on first success", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := Do(context.Background(), fast, func(ctx context.Context) error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries up to the bound and returns the last error", func(t *testing.T) {
		t.Parallel()

		calls := 0
		wantErr := errors.New("still broken")
		err := Do(context.Background(), fast, func(ctx context.Context) error {
			calls++
			return wantErr
		})
		assert.ErrorIs(t, err, wantErr)
		assert.Equal(t, 3, calls)
	})

	t.Run("succeeds mid-schedule", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := Do(context.Background(), fast, func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("not yet")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		slow := Policy{Base: time.Minute, Multiplier: 1.0, Cap: time.Minute, MaxAttempts: 5}

		calls := 0
		started := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- Do(ctx, slow, func(ctx context.Context) error {
				calls++
				close(started)
				return errors.New("fail")
			})
		}()

		// Cancel only once the first attempt has run, so Do is inside the
		// inter-attempt sleep when the context dies.
		<-started
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
			assert.Equal(t, 1, calls)
		case <-time.After(2 * time.Second):
			t.Fatal("Do did not return after cancellation")
		}
	})

	t.Run("zero max attempts still runs once", func(t *testing.T) {
		t.Parallel()

		calls := 0
		_ = Do(context.Background(), Policy{Base: time.Millisecond}, func(ctx context.Context) error {
			calls++
			return errors.New("fail")
		})
		assert.Equal(t, 1, calls)
	})
}
