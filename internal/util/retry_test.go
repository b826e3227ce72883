package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fastConfig keeps test retries in the microsecond range.
func fastConfig(maxRetries int) *RetryConfig {
	return &RetryConfig{
		MaxRetries: maxRetries,
		BaseDelay:  time.Microsecond,
		MaxDelay:   time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestRetrySucceedsFirstTry(t *testing.T) {
	calls := 0
	result := Retry(context.Background(), fastConfig(3), func() error {
		calls++
		return nil
	})

	if result.LastError != nil {
		t.Errorf("LastError = %v, want nil", result.LastError)
	}
	if calls != 1 || result.Attempts != 1 {
		t.Errorf("calls = %d, attempts = %d; want 1, 1", calls, result.Attempts)
	}
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	calls := 0
	result := Retry(context.Background(), fastConfig(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("rpc timeout")
		}
		return nil
	})

	if result.LastError != nil {
		t.Errorf("LastError = %v, want nil after recovery", result.LastError)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
}

func TestRetryExhaustionJoinsSentinel(t *testing.T) {
	rpcErr := errors.New("connection refused")
	result := Retry(context.Background(), fastConfig(2), func() error {
		return rpcErr
	})

	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3 (initial + 2 retries)", result.Attempts)
	}
	if !errors.Is(result.LastError, ErrMaxRetriesExceeded) {
		t.Errorf("LastError should wrap ErrMaxRetriesExceeded, got %v", result.LastError)
	}
	if !errors.Is(result.LastError, rpcErr) {
		t.Errorf("LastError should preserve the original error, got %v", result.LastError)
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	config := &RetryConfig{
		MaxRetries: -1,
		BaseDelay:  50 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
	}

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	result := Retry(ctx, config, func() error {
		calls++
		return errors.New("still failing")
	})

	if !errors.Is(result.LastError, ErrContextCanceled) {
		t.Errorf("LastError should wrap ErrContextCanceled, got %v", result.LastError)
	}
	if calls == 0 {
		t.Error("function should run at least once before cancellation")
	}
}

func TestRetryIfStopsImmediately(t *testing.T) {
	calls := 0
	config := fastConfig(5)
	config.RetryIf = DefaultRetryIf()

	result := Retry(context.Background(), config, func() error {
		calls++
		return MarkNonRetryable(errors.New("bad request"))
	})

	if calls != 1 {
		t.Errorf("non-retryable error should stop after 1 call, got %d", calls)
	}
	if errors.Is(result.LastError, ErrMaxRetriesExceeded) {
		t.Error("a non-retryable stop is not a retry exhaustion")
	}
}

func TestRetryWithValueReturnsSuccessValue(t *testing.T) {
	attempts := 0
	val, result := RetryWithValue(context.Background(), fastConfig(3), func() (uint64, error) {
		attempts++
		if attempts < 2 {
			return 0, errors.New("transient")
		}
		return 19_000_000, nil
	})

	if result.LastError != nil {
		t.Fatalf("LastError = %v", result.LastError)
	}
	if val != 19_000_000 {
		t.Errorf("val = %d, want 19000000", val)
	}
}

func TestRetryWithValueZeroOnFailure(t *testing.T) {
	val, result := RetryWithValue(context.Background(), fastConfig(1), func() (string, error) {
		return "partial", errors.New("always fails")
	})

	if result.LastError == nil {
		t.Fatal("expected an error")
	}
	if val != "" {
		t.Errorf("failed RetryWithValue must return the zero value, got %q", val)
	}
}

func TestBackoffDelayGrowsAndClamps(t *testing.T) {
	config := &RetryConfig{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   500 * time.Millisecond,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 500 * time.Millisecond}, // clamped
		{8, 500 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := backoffDelay(config, tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffDelayJitterBounds(t *testing.T) {
	config := &RetryConfig{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}

	for i := 0; i < 100; i++ {
		delay := backoffDelay(config, 1)
		if delay < 90*time.Millisecond || delay > 110*time.Millisecond {
			t.Fatalf("jittered delay %v outside [90ms, 110ms]", delay)
		}
	}
}

func TestRetryabilityMarkers(t *testing.T) {
	base := errors.New("boom")

	if !IsRetryable(MarkRetryable(base)) {
		t.Error("MarkRetryable should be visible to IsRetryable")
	}
	if !IsNonRetryable(MarkNonRetryable(base)) {
		t.Error("MarkNonRetryable should be visible to IsNonRetryable")
	}
	if MarkRetryable(nil) != nil || MarkNonRetryable(nil) != nil {
		t.Error("marking nil must stay nil")
	}
	if !errors.Is(MarkNonRetryable(base), base) {
		t.Error("markers must unwrap to the original error")
	}
}

func TestDefaultRetryConfigPolicy(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", config.MaxRetries)
	}
	if config.BaseDelay != 500*time.Millisecond {
		t.Errorf("BaseDelay = %v, want 500ms", config.BaseDelay)
	}
	if config.MaxDelay != 8*time.Second {
		t.Errorf("MaxDelay = %v, want 8s", config.MaxDelay)
	}
}
