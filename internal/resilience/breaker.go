package resilience

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/marcusd/internal/errs"
)

// BreakerState is the circuit breaker state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// BreakerConfig controls when a breaker trips and recovers
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// DefaultBreakerConfig returns the standard policy for external resources
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
	}
}

// CircuitBreaker guards one named external resource. After
// FailureThreshold consecutive failures it opens and fails fast; after
// RecoveryTimeout it admits a single trial call.
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig

	mu           sync.Mutex
	state        BreakerState
	failures     int
	openedAt     time.Time
	trialInFlight bool

	// now is swappable for tests
	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker for the named resource
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	return &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// State returns the current breaker state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Do runs op through the breaker. While open it fails fast with a
// Transient CircuitOpen error and never invokes op.
func (cb *CircuitBreaker) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := op(ctx)
	cb.record(err)
	return err
}

// admit decides whether a call may proceed
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.cfg.RecoveryTimeout {
			cb.state = StateHalfOpen
			cb.trialInFlight = true
			log.Printf("[BREAKER] %s half-open, admitting trial call", cb.name)
			return nil
		}
		return errs.Newf(errs.KindTransient, "circuit open for %s", cb.name).
			WithExtra("circuit", "open")
	case StateHalfOpen:
		if cb.trialInFlight {
			return errs.Newf(errs.KindTransient, "circuit open for %s (trial in flight)", cb.name).
				WithExtra("circuit", "open")
		}
		cb.trialInFlight = true
		return nil
	}
	return nil
}

// record updates breaker state from a call outcome
func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.trialInFlight = false
		if err != nil {
			cb.state = StateOpen
			cb.openedAt = cb.now()
			log.Printf("[BREAKER] %s trial failed, reopening", cb.name)
		} else {
			cb.state = StateClosed
			cb.failures = 0
			log.Printf("[BREAKER] %s trial succeeded, closing", cb.name)
		}
		return
	}

	if err != nil {
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.state = StateOpen
			cb.openedAt = cb.now()
			log.Printf("[BREAKER] %s opened after %d consecutive failures", cb.name, cb.failures)
		}
		return
	}
	cb.failures = 0
}

// IsCircuitOpen reports whether err is a fast-fail from an open breaker
func IsCircuitOpen(err error) bool {
	var e *errs.Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Context.Extra["circuit"] == "open"
}
