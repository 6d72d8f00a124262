package util

import (
	"context"
	"errors"
	"time"
)

// ErrPermanent marks an error that must not be retried.
var ErrPermanent = errors.New("permanent error")

// Permanent wraps err so the retry helpers return it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrPermanent, err)
}

// Backoff configures the delay between attempts of the context-aware retry helpers.
// The delay doubles after every failed attempt, starting at Base and capped at Max.
// A zero Base disables waiting.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff is used for network calls to LLM providers and graph stores.
var DefaultBackoff = Backoff{Base: 500 * time.Millisecond, Max: 10 * time.Second}

// Delay returns the pause after the given zero-based failed attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	d := b.Base << attempt
	if d <= 0 || (b.Max > 0 && d > b.Max) {
		d = b.Max
	}
	return d
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// RetryErrWithContext calls fn up to maxTries times until it returns nil, without delay.
func RetryErrWithContext(ctx context.Context, maxTries int, fn func(context.Context) error) error {
	_, err := RetryWithBackoff(ctx, maxTries, Backoff{}, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithContext calls fn up to maxTries times until it returns a nil error,
// or until ctx is done. If maxTries <= 0, it defaults to 1.
// Returns ctx.Err() if the context is canceled, otherwise returns the last error.
func RetryWithContext[T any](ctx context.Context, maxTries int, fn func(context.Context) (T, error)) (T, error) {
	return RetryWithBackoff(ctx, maxTries, Backoff{}, fn)
}

// RetryWithBackoff is RetryWithContext with an exponential pause between attempts.
// Context errors and errors wrapped with Permanent stop the loop immediately.
//
// Example:
//
//	vecs, err := util.RetryWithBackoff(ctx, 3, util.DefaultBackoff, func(ctx context.Context) ([][]float32, error) {
//		return client.GenerateEmbeddings(ctx, batch)
//	})
func RetryWithBackoff[T any](ctx context.Context, maxTries int, b Backoff, fn func(context.Context) (T, error)) (T, error) {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	var zero T
	for attempt := range maxTries {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if isContextErr(err) || errors.Is(err, ErrPermanent) {
			return zero, err
		}
		lastErr = err

		if attempt == maxTries-1 {
			break
		}
		if err := Sleep(ctx, b.Delay(attempt)); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
