package provider

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryConfig holds retry configuration for provider requests.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BackoffBase is the wait before the first retry.
	BackoffBase time.Duration
	// BackoffMultiplier is applied to the wait on each further retry.
	BackoffMultiplier float64
	// MaxBackoff caps any single wait, including a server Retry-After.
	MaxBackoff time.Duration
	// Jitter spreads waits over [0.5, 1.5) of the nominal value.
	Jitter bool
}

// DefaultRetryConfig retries once after a short backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       2,
		BackoffBase:       500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        10 * time.Second,
		Jitter:            true,
	}
}

// Backoff returns the wait before retry number attempt (1-based).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	wait := float64(c.BackoffBase)
	for i := 1; i < attempt; i++ {
		wait *= c.BackoffMultiplier
	}
	if c.Jitter {
		wait *= 0.5 + rand.Float64()
	}
	d := time.Duration(wait)
	if c.MaxBackoff > 0 && d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

// Retry calls f until it succeeds, returns a non-transient error, or attempts
// run out. Network errors surface as transient from f; fatal errors stop at once.
// onRetry, when non-nil, is called before each wait.
func Retry[T any](ctx context.Context, cfg RetryConfig, f func(context.Context) (T, error), onRetry func(attempt int, err error)) (T, error) {
	var zero T
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := cfg.Backoff(attempt)
			var transient *TransientError
			if errors.As(lastErr, &transient) && transient.RetryAfter > wait {
				wait = transient.RetryAfter
				if cfg.MaxBackoff > 0 && wait > cfg.MaxBackoff {
					wait = cfg.MaxBackoff
				}
			}
			if onRetry != nil {
				onRetry(attempt, lastErr)
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
		v, err := f(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil || !IsTransient(err) {
			break
		}
	}
	return zero, lastErr
}
