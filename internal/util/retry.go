package util

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryConfig describes an exponential backoff policy.
type RetryConfig struct {
	MaxRetries int           // retry attempts after the first try (0 = none, -1 = unlimited)
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration // backoff ceiling
	Multiplier float64       // growth factor per attempt
	Jitter     float64       // fraction of the delay randomized, 0..1
	RetryIf    func(error) bool
}

// DefaultRetryConfig returns the uniform retry policy applied to all
// RPC, relay, and HTTP call sites.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   8 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// RetryResult reports what a retry loop did.
type RetryResult struct {
	Attempts  int
	LastError error
	Duration  time.Duration
}

var (
	// ErrMaxRetriesExceeded marks an error that survived every attempt.
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	// ErrContextCanceled marks a retry loop cut short by its context.
	ErrContextCanceled = errors.New("context canceled during retry")
)

// Retry runs fn under the backoff policy. The result's LastError is
// nil exactly when some attempt succeeded.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) *RetryResult {
	_, result := RetryWithValue(ctx, config, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return result
}

// RetryWithValue runs fn under the backoff policy and returns the value
// from the successful attempt, or the zero value with the final error.
func RetryWithValue[T any](ctx context.Context, config *RetryConfig, fn func() (T, error)) (T, *RetryResult) {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var zero T
	result := &RetryResult{}
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	for {
		result.Attempts++

		val, err := fn()
		if err == nil {
			result.LastError = nil
			return val, result
		}
		result.LastError = err

		if config.RetryIf != nil && !config.RetryIf(err) {
			return zero, result
		}
		if config.MaxRetries >= 0 && result.Attempts > config.MaxRetries {
			result.LastError = errors.Join(ErrMaxRetriesExceeded, err)
			return zero, result
		}

		select {
		case <-ctx.Done():
			result.LastError = errors.Join(ErrContextCanceled, ctx.Err())
			return zero, result
		case <-time.After(backoffDelay(config, result.Attempts)):
		}
	}
}

// backoffDelay computes the wait before the next attempt, jittered and
// clamped to MaxDelay.
func backoffDelay(config *RetryConfig, attempt int) time.Duration {
	multiplier := config.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := float64(config.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
	if config.Jitter > 0 {
		spread := delay * config.Jitter
		delay += spread * (2*rand.Float64() - 1)
	}
	if config.MaxDelay > 0 && time.Duration(delay) > config.MaxDelay {
		return config.MaxDelay
	}
	return time.Duration(delay)
}

// RetryableError marks its wrapped error as retryable.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// NonRetryableError marks its wrapped error as permanent.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return e.Err.Error() }
func (e *NonRetryableError) Unwrap() error { return e.Err }

// MarkRetryable wraps err so IsRetryable reports true.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// MarkNonRetryable wraps err so retry loops using DefaultRetryIf stop
// immediately.
func MarkNonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsRetryable reports whether err carries the retryable marker.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsNonRetryable reports whether err carries the permanent marker.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// DefaultRetryIf retries everything not marked non-retryable.
func DefaultRetryIf() func(error) bool {
	return func(err error) bool {
		return !IsNonRetryable(err)
	}
}
