// Package backoff provides the explicit retry policy shared by the task
// loops and the recovery engine: base delay, multiplier, cap, and a hard
// attempt bound, independent of the underlying I/O call style.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Policy describes an exponential backoff schedule.
type Policy struct {
	// Base is the delay before the first retry.
	Base time.Duration

	// Multiplier scales the delay after each attempt.
	Multiplier float64

	// Cap bounds any single delay.
	Cap time.Duration

	// Jitter is the fraction of each delay added as a random spread, so
	// loops escalating at the same moment do not resume in lockstep. Zero
	// means a deterministic schedule.
	Jitter float64

	// MaxAttempts bounds the total number of attempts, including the first.
	MaxAttempts int
}

// DefaultPolicy matches the schedule used across the dispatch loops:
// 1s, 2s, 4s ... capped at 30s, at most five attempts, with a 20% jitter
// spread on each delay.
func DefaultPolicy() Policy {
	return Policy{
		Base:        time.Second,
		Multiplier:  2.0,
		Cap:         30 * time.Second,
		Jitter:      0.2,
		MaxAttempts: 5,
	}
}

// Delay returns the pause that follows the given zero-based attempt number.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.Base)
	for i := 0; i < attempt; i++ {
		delay *= p.Multiplier
		if time.Duration(delay) >= p.Cap {
			delay = float64(p.Cap)
			break
		}
	}
	if p.Jitter > 0 {
		delay += rand.Float64() * p.Jitter * delay
	}
	d := time.Duration(delay)
	if d > p.Cap {
		return p.Cap
	}
	return d
}

// Do runs fn until it succeeds, the attempt bound is reached, or the context
// is cancelled, sleeping the scheduled delay between attempts. The last
// error is returned when every attempt fails.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}
