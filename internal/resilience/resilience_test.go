package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marcusd/internal/errs"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestRetryRecoverableError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(3), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errs.New(errs.KindTransient, "flaky")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryNeverRetriesNonRecoverable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(5), "op", func(ctx context.Context) error {
		calls++
		return errs.New(errs.KindBusinessLogic, "rule violation")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry of non-recoverable)", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(3), "op", func(ctx context.Context) error {
		calls++
		return errs.New(errs.KindTransient, "always down")
	})

	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestFallbackOnRecoverable(t *testing.T) {
	fellBack := false
	err := Fallback(context.Background(),
		func(ctx context.Context) error { return errs.New(errs.KindIntegration, "service down") },
		func(ctx context.Context) error { fellBack = true; return nil },
	)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fellBack {
		t.Error("expected fallback to run")
	}
}

func TestFallbackSkippedForNonRecoverable(t *testing.T) {
	fellBack := false
	err := Fallback(context.Background(),
		func(ctx context.Context) error { return errs.New(errs.KindSecurity, "unauthorized") },
		func(ctx context.Context) error { fellBack = true; return nil },
	)

	if err == nil {
		t.Fatal("expected error to propagate")
	}
	if fellBack {
		t.Error("fallback must not run for non-recoverable errors")
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("classifier", BreakerConfig{FailureThreshold: 5, RecoveryTimeout: time.Minute})
	fail := func(ctx context.Context) error { return errs.New(errs.KindIntegration, "down") }

	for i := 0; i < 5; i++ {
		cb.Do(context.Background(), fail)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	// Next call fails fast without invoking op
	invoked := false
	err := cb.Do(context.Background(), func(ctx context.Context) error {
		invoked = true
		return nil
	})
	if err == nil {
		t.Fatal("expected fast failure while open")
	}
	if invoked {
		t.Error("op must not run while breaker is open")
	}
	if !IsCircuitOpen(err) {
		t.Error("expected a circuit-open error")
	}
	if !errs.IsRecoverable(err) {
		t.Error("circuit-open errors are transient and recoverable")
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker("kanban", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	now := time.Now()
	cb.now = func() time.Time { return now }

	cb.Do(context.Background(), func(ctx context.Context) error {
		return errs.New(errs.KindIntegration, "down")
	})
	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	// Advance past recovery timeout; single trial call succeeds
	now = now.Add(2 * time.Minute)
	err := cb.Do(context.Background(), func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed after successful trial", cb.State())
	}
}

func TestBreakerReopensOnFailedTrial(t *testing.T) {
	cb := NewCircuitBreaker("kanban", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	now := time.Now()
	cb.now = func() time.Time { return now }

	cb.Do(context.Background(), func(ctx context.Context) error {
		return errs.New(errs.KindIntegration, "down")
	})

	now = now.Add(2 * time.Minute)
	cb.Do(context.Background(), func(ctx context.Context) error {
		return errs.New(errs.KindIntegration, "still down")
	})
	if cb.State() != StateOpen {
		t.Errorf("state = %s, want open after failed trial", cb.State())
	}
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, RetryConfig{MaxAttempts: 3, BaseDelay: time.Hour}, "op", func(ctx context.Context) error {
		return errs.New(errs.KindTransient, "down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
