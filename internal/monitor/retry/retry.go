// Package retry provides a bounded retry combinator with pluggable backoff.
package retry

import (
	"context"
	"math"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Backoff returns how long to wait after the given failed attempt (1-indexed).
type Backoff func(attempt int) time.Duration

// Linear waits base × attempt after each failure: base, 2×base, 3×base, ...
func Linear(base time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return base * time.Duration(attempt)
	}
}

// Exponential waits initial × multiple^(attempt-1), capped at max.
func Exponential(initial, max time.Duration, multiple float64) Backoff {
	return func(attempt int) time.Duration {
		delay := float64(initial) * math.Pow(multiple, float64(attempt-1))
		if delay > float64(max) {
			delay = float64(max)
		}
		return time.Duration(delay)
	}
}

// Operation is a single attempt. attempt starts at 1.
type Operation[T any] func(ctx context.Context, attempt int) (T, error)

// Do runs op up to maxAttempts times, sleeping backoff(n) after the n-th failure.
//
// It returns as soon as an attempt succeeds. When every attempt fails, the
// value and error of the last attempt are returned. The second return value
// is the number of attempts actually made.
func Do[T any](ctx context.Context, maxAttempts int, backoff Backoff, op Operation[T]) (T, int, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if backoff == nil {
		backoff = Linear(0)
	}

	var (
		last    T
		attempt int
	)

	b := goretry.WithMaxRetries(uint64(maxAttempts-1), goretry.BackoffFunc(func() (time.Duration, bool) {
		return backoff(attempt), false
	}))

	err := goretry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		v, err := op(ctx, attempt)
		last = v
		if err != nil {
			return goretry.RetryableError(err)
		}
		return nil
	})

	return last, attempt, err
}
