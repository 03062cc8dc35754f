package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a call is rejected without being attempted.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig controls circuit breaker thresholds and timing.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	FailureThreshold int
	// ResetTimeout is how long after the last failure an open circuit waits
	// before admitting a half-open trial call.
	ResetTimeout time.Duration
	// MonitoringPeriod is the quiescence window after which the closed-state
	// failure count resets.
	MonitoringPeriod time.Duration
	// HalfOpenSuccesses is the number of consecutive successful trial calls
	// required to close the circuit again.
	HalfOpenSuccesses int
}

// DefaultBreakerConfig returns the breaker policy used per provider.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		MonitoringPeriod:  time.Minute,
		HalfOpenSuccesses: 2,
	}
}

// CircuitBreaker guards a repeatedly failing operation. Closed passes calls
// through and counts consecutive failures; open rejects immediately until
// ResetTimeout has elapsed since the last failure; half-open admits trial
// calls, closing after enough consecutive successes and reopening on any
// failure.
type CircuitBreaker struct {
	mu          sync.Mutex
	cfg         BreakerConfig
	state       breakerState
	failures    int
	successes   int
	lastFailure time.Time
}

// NewCircuitBreaker creates a breaker in the closed state. Zero config
// fields fall back to defaults.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.MonitoringPeriod <= 0 {
		cfg.MonitoringPeriod = def.MonitoringPeriod
	}
	if cfg.HalfOpenSuccesses <= 0 {
		cfg.HalfOpenSuccesses = def.HalfOpenSuccesses
	}
	return &CircuitBreaker{cfg: cfg}
}

// State reports the current state as a string (closed, open, half-open).
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

// allow reports whether a call may proceed, transitioning open -> half-open
// once the reset timeout has elapsed.
func (b *CircuitBreaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if time.Since(b.lastFailure) >= b.cfg.ResetTimeout {
			b.state = stateHalfOpen
			b.successes = 0
			return nil
		}
		return ErrCircuitOpen
	case stateClosed:
		// A quiet monitoring period wipes stale failure history.
		if b.failures > 0 && time.Since(b.lastFailure) >= b.cfg.MonitoringPeriod {
			b.failures = 0
		}
	}
	return nil
}

// record feeds a call outcome back into the state machine.
func (b *CircuitBreaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.lastFailure = time.Now()
		switch b.state {
		case stateHalfOpen:
			b.state = stateOpen
			b.successes = 0
		case stateClosed:
			b.failures++
			if b.failures >= b.cfg.FailureThreshold {
				b.state = stateOpen
			}
		}
		return
	}

	switch b.state {
	case stateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.HalfOpenSuccesses {
			b.state = stateClosed
			b.failures = 0
			b.successes = 0
		}
	case stateClosed:
		b.failures = 0
	}
}

// Execute runs op through the breaker: rejected immediately with
// ErrCircuitOpen when open, otherwise the outcome is recorded and returned.
func Execute[T any](b *CircuitBreaker, ctx context.Context, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allow(); err != nil {
		return zero, err
	}
	result, err := op(ctx)
	b.record(err)
	if err != nil {
		return zero, err
	}
	return result, nil
}
