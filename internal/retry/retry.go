// Package retry bounds optimistic-conflict retries with capped exponential
// backoff and jitter. The policy is explicit configuration, never a silent
// loop.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 50 * time.Millisecond
	defaultMaxDelay    = time.Second
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	return p
}

// Do runs fn up to MaxAttempts times, sleeping a jittered backoff between
// attempts while retryable reports the error as transient. The last error is
// returned when attempts run out; context cancellation interrupts the sleep.
func (p Policy) Do(ctx context.Context, fn func() error, retryable func(error) bool) error {
	p = p.normalized()

	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.delay(attempt - 1))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		err = fn()
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}

// delay doubles the base per attempt, caps at MaxDelay, and spreads the result
// over [d/2, d] so colliding writers do not reschedule in lockstep.
func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay << attempt
	if d <= 0 || d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d/2 + rand.N(d/2+1)
}
