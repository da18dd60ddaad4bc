// Package retry provides a bounded exponential retry policy shared by the
// outbound calls of the service (embedding provider, call provider).
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrInvalidMaxAttempts is returned when a policy allows no attempt at all.
var ErrInvalidMaxAttempts = errors.New("retry: max attempts must be positive")

// Policy bounds a retry loop. Delays grow from BaseDelay by Multiplier up
// to MaxDelay, each randomised by +/- Jitter (0..1).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64
}

// DefaultPolicy is used when a caller does not configure one.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2,
		Jitter:      0.2,
	}
}

// Classifier decides whether an error deserves another attempt.
type Classifier func(error) bool

// Always retries every error.
func Always(error) bool { return true }

// Notify is called before each wait with the failed attempt's error.
type Notify func(err error, attempt int, wait time.Duration)

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	if p.Multiplier > 1 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)
}

// Do runs fn until it succeeds, returns an error classify rejects, the
// attempts run out, or ctx is done. The last error from fn is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error, classify Classifier, notify Notify) error {
	_, err := Value(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, classify, notify)
	return err
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error), classify Classifier, notify Notify) (T, error) {
	var zero T
	if p.MaxAttempts <= 0 {
		return zero, ErrInvalidMaxAttempts
	}
	if classify == nil {
		classify = Always
	}

	attempt := 0
	op := func() (T, error) {
		attempt++
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, backoff.Permanent(err)
		}
		if !classify(err) {
			return zero, backoff.Permanent(err)
		}
		return zero, err
	}

	var onRetry backoff.Notify
	if notify != nil {
		onRetry = func(err error, wait time.Duration) {
			notify(err, attempt, wait)
		}
	}

	return backoff.RetryNotifyWithData(op, p.backOff(ctx), onRetry)
}
