package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func failingOp(calls *int) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		*calls++
		return "", errors.New("provider exploded")
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})

	calls := 0
	op := failingOp(&calls)
	ctx := context.Background()

	for range 2 {
		if _, err := Execute(b, ctx, op); err == nil {
			t.Fatal("expected failure")
		}
	}
	if got := b.State(); got != "open" {
		t.Fatalf("state = %s, want open after 2 failures", got)
	}

	// Third call must be rejected without invoking the operation.
	_, err := Execute(b, ctx, op)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if err == nil || err.Error() != "circuit breaker is open" {
		t.Errorf("err message = %v, want %q", err, "circuit breaker is open")
	}
	if calls != 2 {
		t.Errorf("operation called %d times, want 2", calls)
	}
}

func TestBreakerHalfOpenAfterResetTimeout(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: 20 * time.Millisecond, HalfOpenSuccesses: 1})
	ctx := context.Background()

	calls := 0
	Execute(b, ctx, failingOp(&calls))
	if got := b.State(); got != "open" {
		t.Fatalf("state = %s, want open", got)
	}

	time.Sleep(30 * time.Millisecond)

	// Next call is attempted (half-open trial) and its success closes the circuit.
	result, err := Execute(b, ctx, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %q, want ok", result)
	}
	if got := b.State(); got != "closed" {
		t.Errorf("state = %s, want closed after half-open success", got)
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenSuccesses: 2})
	ctx := context.Background()

	calls := 0
	Execute(b, ctx, failingOp(&calls))
	time.Sleep(15 * time.Millisecond)

	Execute(b, ctx, failingOp(&calls))
	if got := b.State(); got != "open" {
		t.Errorf("state = %s, want open after half-open failure", got)
	}
}

func TestBreakerRequiresConsecutiveHalfOpenSuccesses(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenSuccesses: 2})
	ctx := context.Background()

	calls := 0
	Execute(b, ctx, failingOp(&calls))
	time.Sleep(15 * time.Millisecond)

	ok := func(ctx context.Context) (string, error) { return "ok", nil }
	Execute(b, ctx, ok)
	if got := b.State(); got != "half-open" {
		t.Fatalf("state = %s, want half-open after first trial success", got)
	}
	Execute(b, ctx, ok)
	if got := b.State(); got != "closed" {
		t.Errorf("state = %s, want closed after second trial success", got)
	}
}

func TestBreakerSuccessResetsClosedFailures(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})
	ctx := context.Background()

	calls := 0
	Execute(b, ctx, failingOp(&calls))
	Execute(b, ctx, func(ctx context.Context) (string, error) { return "ok", nil })
	Execute(b, ctx, failingOp(&calls))

	// One failure, one success, one failure: never two consecutive.
	if got := b.State(); got != "closed" {
		t.Errorf("state = %s, want closed", got)
	}
}

func TestBreakerMonitoringPeriodResetsFailures(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour, MonitoringPeriod: 20 * time.Millisecond})
	ctx := context.Background()

	calls := 0
	Execute(b, ctx, failingOp(&calls))
	time.Sleep(30 * time.Millisecond)

	// Quiescence elapsed: the next single failure must not open the circuit.
	Execute(b, ctx, failingOp(&calls))
	if got := b.State(); got != "closed" {
		t.Errorf("state = %s, want closed after monitoring period reset", got)
	}
}
