package util

import (
	"context"
	"errors"
	"time"
)

// Backoff describes the wait between attempts. The n-th retry waits
// Initial * 2^(n-1), capped at Max. A zero Backoff retries immediately.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (b Backoff) delay(attempt int) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	d := b.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// RetryErrWithContext calls fn up to maxTries times until it returns nil
// error, the error is not retryable, or ctx is done. A nil retryable treats
// every error as retryable. If maxTries <= 0, it defaults to 1.
func RetryErrWithContext(
	ctx context.Context,
	maxTries int,
	backoff Backoff,
	retryable func(error) bool,
	fn func(context.Context) error,
) error {
	_, err := RetryWithContext(ctx, maxTries, backoff, retryable, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithContext calls fn up to maxTries times until it returns a result
// and nil error. Context errors returned by fn are never retried.
// Returns ctx.Err() if the context is canceled, otherwise the last error.
func RetryWithContext[T any](
	ctx context.Context,
	maxTries int,
	backoff Backoff,
	retryable func(error) bool,
	fn func(context.Context) (T, error),
) (T, error) {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	var zero T
	for i := 0; i < maxTries; i++ {
		if i > 0 {
			if err := sleep(ctx, backoff.delay(i)); err != nil {
				return zero, err
			}
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		lastErr = err
		if retryable != nil && !retryable(err) {
			break
		}
	}
	return zero, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
