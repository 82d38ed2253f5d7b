package utils

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig holds configuration for retry operations with exponential backoff.
type RetryConfig struct {
	// MaxAttempts counts the initial attempt.
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// JitterFactor adds up to this fraction of the delay (0.1 = 10%).
	JitterFactor float64

	// RetryableErrors decides whether an error is worth another attempt.
	// If nil, all errors are retryable.
	RetryableErrors func(error) bool

	// MinDelay may raise the wait after a specific error, for example to
	// honour a server supplied Retry-After. It never lowers it.
	MinDelay func(error) time.Duration
}

// DefaultRetryConfig returns the backoff used for provider fetches.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   4,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// Delay returns the wait that follows the given failed attempt (1-based),
// before jitter.
func (c RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := c.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := float64(c.InitialDelay) * math.Pow(factor, float64(attempt-1))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

func (c RetryConfig) waitAfter(attempt int, err error) time.Duration {
	d := c.Delay(attempt)
	if c.JitterFactor > 0 && d > 0 {
		d += time.Duration(rand.Int64N(int64(float64(d)*c.JitterFactor) + 1))
	}
	if c.MinDelay != nil {
		if floor := c.MinDelay(err); floor > d {
			d = floor
		}
	}
	return d
}

// RetryWithBackoff executes fn until it succeeds, returns a non-retryable
// error, the attempts run out or ctx is done. fn receives the 1-based
// attempt number.
func RetryWithBackoff(ctx context.Context, config RetryConfig, fn func(attempt int) error) error {
	maxAttempts := config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if config.RetryableErrors != nil && !config.RetryableErrors(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		if err := Sleep(ctx, config.waitAfter(attempt, err)); err != nil {
			return fmt.Errorf("retry cancelled: %w: %w", err, lastErr)
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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
