package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy retries a single call with a fixed delay between attempts. Only
// errors accepted by Retryable are retried; anything else is returned after
// the attempt that produced it.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Retryable   func(error) bool

	// Timer paces the delays. Nil means a real timer per call.
	Timer backoff.Timer
	// OnRetry is called before each delay with the failed attempt number.
	OnRetry func(attempt int, err error)
}

var ErrExhausted = errors.New("retry attempts exhausted")

// Fixed returns a policy with MaxAttempts attempts spaced by delay.
func Fixed(maxAttempts int, delay time.Duration, retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Delay:       delay,
		Retryable:   retryable,
	}
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	constant := backoff.NewConstantBackOff(p.Delay)
	return backoff.WithContext(backoff.WithMaxRetries(constant, uint64(p.attempts()-1)), ctx)
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done. On exhaustion the last error is wrapped together
// with ErrExhausted.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var (
		zero    T
		attempt int
		lastErr error
	)

	operation := func() (T, error) {
		attempt++
		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if p.Retryable == nil || !p.Retryable(err) {
			return zero, backoff.Permanent(err)
		}
		return zero, err
	}

	notify := func(err error, _ time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
	}

	result, err := backoff.RetryNotifyWithTimerAndData(operation, p.backOff(ctx), notify, p.Timer)
	if err == nil {
		return result, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return zero, fmt.Errorf("retry interrupted after attempt %d: %w", attempt, errors.Join(err, lastErr))
	}
	if p.Retryable != nil && p.Retryable(err) && attempt >= p.attempts() {
		return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
	}

	return zero, err
}
