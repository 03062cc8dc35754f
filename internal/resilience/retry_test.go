package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		msg       string
		want      Kind
		retryable bool
	}{
		{"rate limit exceeded", KindRateLimit, true},
		{"monthly quota exhausted", KindQuota, false},
		{"request timeout", KindTimeout, true},
		{"context deadline exceeded", KindTimeout, true},
		{"network unreachable", KindNetwork, true},
		{"connection refused", KindNetwork, true},
		{"validation failed for field", KindValidation, false},
		{"invalid temperature", KindValidation, false},
		{"parsing response body", KindParsing, true},
		{"unexpected json token", KindParsing, true},
		{"provider returned 5xx", KindProvider, true},
		{"service unavailable", KindProvider, true},
		{"something exploded", KindInternal, false},
	}

	for _, tc := range cases {
		got := Classify(errors.New(tc.msg))
		if got.Kind != tc.want {
			t.Errorf("Classify(%q).Kind = %s, want %s", tc.msg, got.Kind, tc.want)
		}
		if got.Retryable != tc.retryable {
			t.Errorf("Classify(%q).Retryable = %v, want %v", tc.msg, got.Retryable, tc.retryable)
		}
	}
}

func TestClassifyPassthrough(t *testing.T) {
	orig := &Error{Kind: KindQuota, Message: "quota"}
	if got := Classify(orig); got != orig {
		t.Errorf("already-classified error was re-wrapped")
	}
}

func TestWithRetrySucceedsAfterFailures(t *testing.T) {
	mon := NewMonitor(16, 100)
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Factor: 2}

	calls := 0
	result, err := WithRetry(context.Background(), cfg, mon, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("provider returned 5xx")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %q, want %q", result, "ok")
	}
	if calls != 3 {
		t.Errorf("operation called %d times, want 3", calls)
	}
	if got := mon.Stats().Total; got != 2 {
		t.Errorf("recorded errors = %d, want 2", got)
	}
}

func TestWithRetryNonRetryableSurfacesImmediately(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond, Factor: 2}

	calls := 0
	_, err := WithRetry(context.Background(), cfg, nil, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("validation failed: bad prompt")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("operation called %d times, want 1", calls)
	}
	if !strings.Contains(err.Error(), "attempt 1") {
		t.Errorf("error %q does not mention the attempt count", err)
	}
}

func TestWithRetryExhaustionMentionsAttempts(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Factor: 2}

	_, err := WithRetry(context.Background(), cfg, nil, func(ctx context.Context) (int, error) {
		return 0, errors.New("connection reset")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("error %q does not mention exhausted attempts", err)
	}
}

func TestRetryDelaysIncreaseAndAreCapped(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 10, BaseDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Factor: 2}

	prev := time.Duration(0)
	for attempt := range 8 {
		d := cfg.delay(attempt)
		if d > cfg.MaxDelay {
			t.Errorf("delay(%d) = %v exceeds max %v", attempt, d, cfg.MaxDelay)
		}
		if d < prev && d != cfg.MaxDelay {
			t.Errorf("delay(%d) = %v decreased from %v before hitting the cap", attempt, d, prev)
		}
		prev = d
	}
}

func TestWithRetryHonorsContextCancellation(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, BaseDelay: time.Hour, Factor: 2}
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := WithRetry(ctx, cfg, nil, func(ctx context.Context) (int, error) {
		return 0, errors.New("network glitch")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestUserMessageMapping(t *testing.T) {
	if got := UserMessage(KindRateLimit); got != "wait and retry" {
		t.Errorf("UserMessage(rate_limit) = %q", got)
	}
	if got := UserMessage(KindQuota); got != "contact administrator" {
		t.Errorf("UserMessage(quota) = %q", got)
	}
}

func TestMonitorRingBufferBounded(t *testing.T) {
	mon := NewMonitor(4, 1000)
	for i := range 10 {
		mon.Record(Classify(fmt.Errorf("network error %d", i)))
	}
	stats := mon.Stats()
	if stats.Total != 4 {
		t.Errorf("Total = %d, want 4 (bounded)", stats.Total)
	}
	if stats.ByKind[KindNetwork] != 4 {
		t.Errorf("ByKind[network] = %d, want 4", stats.ByKind[KindNetwork])
	}
}

func TestMonitorHealthThreshold(t *testing.T) {
	mon := NewMonitor(64, 3)
	if !mon.Healthy() {
		t.Fatal("empty monitor should be healthy")
	}
	for range 5 {
		mon.Record(Classify(errors.New("timeout talking to provider")))
	}
	if mon.Healthy() {
		t.Error("monitor should be unhealthy after exceeding errors/minute threshold")
	}
}
