package provider

import (
	"context"
	"time"
)

// RetryPolicy repeats a multi-step operation a bounded number of times.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff returns the wait after the given failed attempt (1-based).
	Backoff func(attempt int) time.Duration
	// Classify reports whether an error allows another attempt.
	Classify func(err error) bool
	Sleep    func(ctx context.Context, d time.Duration) error
	// OnAttempt, when set, observes every attempt's outcome.
	OnAttempt func(attempt int, err error)
}

// DefaultRetryPolicy retries up to 3 attempts with attempt × 2s backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     LinearBackoff(2 * time.Second),
		Classify:    Retryable,
		Sleep:       SleepContext,
	}
}

// LinearBackoff returns a backoff of attempt × step.
func LinearBackoff(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn until it succeeds, fails terminally, or attempts run out.
// The last observed error is returned.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	classify := p.Classify
	if classify == nil {
		classify = Retryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx, attempt)
		if p.OnAttempt != nil {
			p.OnAttempt(attempt, err)
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil || !classify(err) || attempt == maxAttempts {
			break
		}
		if p.Backoff != nil {
			if err := sleep(ctx, p.Backoff(attempt)); err != nil {
				break
			}
		}
	}
	return lastErr
}
