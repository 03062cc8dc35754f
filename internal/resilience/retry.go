package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig controls WithRetry behavior.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Factor     float64
	// RetryOn overrides the default retryable kind set when non-nil.
	RetryOn map[Kind]bool
}

// DefaultRetryConfig returns the retry policy used for provider calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Factor:     2,
	}
}

func (c RetryConfig) shouldRetry(kind Kind) bool {
	if c.RetryOn != nil {
		return c.RetryOn[kind]
	}
	return kind.Retryable()
}

// delay computes the backoff before retry number attempt (0-based):
// min(base * factor^attempt + jitter(<=10%), maxDelay).
func (c RetryConfig) delay(attempt int) time.Duration {
	base := float64(c.BaseDelay) * math.Pow(c.Factor, float64(attempt))
	jitter := base * 0.1 * rand.Float64()
	d := time.Duration(base + jitter)
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

// WithRetry runs op, retrying retryable failures with exponential backoff and
// jitter. Every handled failure is classified and recorded into mon (when
// non-nil). Non-retryable failures surface immediately; exhausted retries
// surface the last error wrapped with the attempt count. The sleep between
// attempts is context-aware.
func WithRetry[T any](ctx context.Context, cfg RetryConfig, mon *Monitor, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr *Error

	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := range attempts {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		ce := Classify(err)
		mon.Record(ce)
		lastErr = ce

		if !cfg.shouldRetry(ce.Kind) {
			return zero, fmt.Errorf("non-retryable failure on attempt %d: %w", attempt+1, ce)
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(cfg.delay(attempt)):
			}
		}
	}

	return zero, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
