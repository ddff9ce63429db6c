package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts: attempts,
		InitialWait: time.Millisecond,
		MaxWait:     time.Millisecond,
		Multiplier:  2,
	}
}

func TestDoRetriesRetryableErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("transient"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoReturnsUnwrappedLastError(t *testing.T) {
	transient := errors.New("transient")
	var retries []int
	cfg := fastConfig(2)
	cfg.OnRetry = func(attempt int, err error, _ time.Duration) {
		retries = append(retries, attempt)
		if IsRetryable(err) {
			t.Error("OnRetry should receive the unwrapped error")
		}
	}
	err := Do(context.Background(), cfg, func() error {
		return Retryable(transient)
	})
	if IsRetryable(err) {
		t.Fatalf("returned error should not carry the retryable marker: %v", err)
	}
	if !errors.Is(err, transient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if len(retries) != 1 || retries[0] != 1 {
		t.Errorf("expected one retry after attempt 1, got %v", retries)
	}
}

func TestDoHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, fastConfig(0), func() error {
		return Retryable(errors.New("transient"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCause(t *testing.T) {
	base := errors.New("base")
	if Cause(Retryable(base)) != base {
		t.Error("Cause should unwrap RetryableError")
	}
	if Cause(base) != base {
		t.Error("Cause should return plain errors unchanged")
	}
	if Retryable(nil) != nil {
		t.Error("Retryable(nil) should be nil")
	}
}
