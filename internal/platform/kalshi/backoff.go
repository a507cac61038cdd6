package kalshi

import (
	"context"
	"math/rand"
	"time"
)

// Backoff is the retry policy applied to transient gateway failures. Delays
// grow exponentially from BaseDelay with up to Jitter fractional randomness.
// The sleep function is injectable so retry behavior is testable without real
// delays.
type Backoff struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Jitter      float64 // 0..1, fraction of the delay randomized

	sleep func(ctx context.Context, d time.Duration) error
}

// NewBackoff creates a Backoff with the given parameters and a real sleep.
func NewBackoff(maxAttempts int, baseDelay time.Duration, jitter float64) Backoff {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return Backoff{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		Jitter:      jitter,
		sleep:       sleepCtx,
	}
}

// WithSleep returns a copy of the Backoff using the given sleep function.
func (b Backoff) WithSleep(sleep func(ctx context.Context, d time.Duration) error) Backoff {
	b.sleep = sleep
	return b
}

// Delay returns the wait before retry number attempt (0-based: the delay
// after the first failure is Delay(0)).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.BaseDelay << uint(attempt)
	if b.Jitter > 0 {
		spread := float64(d) * b.Jitter
		d += time.Duration(rand.Float64() * spread)
	}
	return d
}

// Wait sleeps for the attempt's delay, honouring context cancellation.
func (b Backoff) Wait(ctx context.Context, attempt int) error {
	sleep := b.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	return sleep(ctx, b.Delay(attempt))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
