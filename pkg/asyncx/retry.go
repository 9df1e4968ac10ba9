package asyncx

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryPolicy is the single backoff curve applied to every collaborator call.
// The zero value is usable and behaves like DefaultRetryPolicy.
type RetryPolicy struct {
	// MaxAttempts bounds the total number of calls, including the first.
	MaxAttempts int

	// InitialDelay is the wait after the first failure.
	InitialDelay time.Duration

	// MaxDelay caps the wait between attempts.
	MaxDelay time.Duration

	// Multiplier grows the delay after each failure (2 when unset).
	Multiplier float64

	// Jitter spreads each delay uniformly over ±Jitter·delay. 0 disables.
	Jitter float64

	// Retryable decides whether err is worth another attempt.
	// Nil means every error is retryable.
	Retryable func(error) bool

	// OnRetry observes each scheduled retry.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryPolicy returns 5 attempts, 1s initial delay doubling to at
// most 30s, with 20% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       0.2,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	return p
}

// Backoff returns the delay to wait after the given failed attempt
// (1-based), before jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	delay := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
		if p.MaxDelay > 0 && delay >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

func (p RetryPolicy) jittered(d time.Duration) time.Duration {
	if p.Jitter == 0 || d <= 0 {
		return d
	}
	spread := (rand.Float64()*2 - 1) * p.Jitter
	return time.Duration(float64(d) * (1 + spread))
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// policy runs out of attempts, or ctx is done. Exhaustion returns an
// ErrRetryExhausted error wrapping the last failure.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	p := policy.normalized()

	var (
		zero T
		err  error
		val  T
	)
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		val, err = fn(ctx)
		if err == nil {
			return val, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.jittered(p.Backoff(attempt))
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, asyncxErrors.NewWithCause(ErrRetryExhausted, err).
		WithDetail("attempts", p.MaxAttempts)
}
