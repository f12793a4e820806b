package resilience

import (
	"context"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/marcusd/internal/errs"
)

// RetryConfig controls exponential backoff
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

// DefaultRetryConfig returns the standard policy for external calls
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    60 * time.Second,
		Jitter:      true,
	}
}

// Retry runs op with exponential backoff. Only errors whose tagged envelope
// is marked recoverable are retried; everything else propagates immediately.
func Retry(ctx context.Context, cfg RetryConfig, name string, op func(ctx context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !errs.IsRecoverable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := backoffDelay(cfg, attempt)
		log.Printf("[RETRY] %s attempt %d/%d failed, retrying in %s: %v",
			name, attempt, cfg.MaxAttempts, delay.Round(time.Millisecond), lastErr)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// backoffDelay computes the delay before the given (1-based) attempt's retry
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter {
		// Up to 25% random reduction so concurrent retries spread out
		delay -= time.Duration(rand.Int63n(int64(delay)/4 + 1))
	}
	return delay
}

// Fallback runs primary and, on a recoverable error, runs fallback with the
// same context. Non-recoverable errors propagate without invoking fallback.
func Fallback(ctx context.Context, primary, fallback func(ctx context.Context) error) error {
	err := primary(ctx)
	if err == nil {
		return nil
	}
	if !errs.IsRecoverable(err) {
		return err
	}
	return fallback(ctx)
}
