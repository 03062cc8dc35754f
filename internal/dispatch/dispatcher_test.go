package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/loreweave/loreweave/internal/cache"
	"github.com/loreweave/loreweave/internal/provider"
	"github.com/loreweave/loreweave/internal/resilience"
	"github.com/loreweave/loreweave/internal/structured"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond, Factor: 2}
}

func okProvider(name, content string) *provider.Mock {
	return &provider.Mock{
		ProviderName: name,
		GenerateFn: func(ctx context.Context, prompt string, opts provider.RequestOptions) (*provider.Response, error) {
			return &provider.Response{Content: content, Provider: name, FinishReason: provider.FinishStop}, nil
		},
	}
}

func TestGenerateUsesPrimary(t *testing.T) {
	d := New(Config{Retry: fastRetry()})
	d.Register(okProvider("primary", "from primary"))
	d.Register(okProvider("backup", "from backup"))
	d.SetFallbacks("backup")

	resp, err := d.Generate(context.Background(), "hello", provider.RequestOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from primary" {
		t.Errorf("content = %q, want primary's", resp.Content)
	}

	stats := d.Stats()
	if stats.ProviderSuccess["primary"] != 1 {
		t.Errorf("primary successes = %d, want 1", stats.ProviderSuccess["primary"])
	}
}

func TestGenerateFallsThroughOnFailure(t *testing.T) {
	failing := &provider.Mock{
		ProviderName: "primary",
		GenerateFn: func(ctx context.Context, prompt string, opts provider.RequestOptions) (*provider.Response, error) {
			return nil, errors.New("provider returned 5xx")
		},
	}
	d := New(Config{Retry: fastRetry()})
	d.Register(failing)
	d.Register(okProvider("backup", "rescued"))
	d.SetFallbacks("backup")

	resp, err := d.Generate(context.Background(), "hello", provider.RequestOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "rescued" {
		t.Errorf("content = %q, want backup's", resp.Content)
	}
}

func TestGenerateSkipsUnavailableProvider(t *testing.T) {
	down := &provider.Mock{
		ProviderName: "primary",
		AvailableFn:  func(ctx context.Context) bool { return false },
		GenerateFn: func(ctx context.Context, prompt string, opts provider.RequestOptions) (*provider.Response, error) {
			t.Error("unavailable provider must not be called")
			return nil, nil
		},
	}
	d := New(Config{Retry: fastRetry()})
	d.Register(down)
	d.Register(okProvider("backup", "rescued"))
	d.SetFallbacks("backup")

	resp, err := d.Generate(context.Background(), "hello", provider.RequestOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "rescued" {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestGenerateAggregatesWhenAllFail(t *testing.T) {
	d := New(Config{Retry: fastRetry()})
	for _, name := range []string{"a", "b"} {
		d.Register(&provider.Mock{
			ProviderName: name,
			GenerateFn: func(ctx context.Context, prompt string, opts provider.RequestOptions) (*provider.Response, error) {
				return nil, errors.New("connection refused")
			},
		})
	}
	d.SetFallbacks("b")

	_, err := d.Generate(context.Background(), "hello", provider.RequestOptions{})
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("err = %v, want ErrAllProvidersFailed", err)
	}
	for _, name := range []string{"a:", "b:"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("aggregated error %q missing cause from %q", err, name)
		}
	}
	if d.Stats().Errors != 1 {
		t.Errorf("error count = %d, want 1", d.Stats().Errors)
	}
}

func TestGenerateNoProviders(t *testing.T) {
	d := New(Config{})
	if _, err := d.Generate(context.Background(), "hello", provider.RequestOptions{}); !errors.Is(err, ErrNoProviders) {
		t.Errorf("err = %v, want ErrNoProviders", err)
	}
}

func TestGenerateCachesResponses(t *testing.T) {
	calls := 0
	p := &provider.Mock{
		ProviderName: "primary",
		GenerateFn: func(ctx context.Context, prompt string, opts provider.RequestOptions) (*provider.Response, error) {
			calls++
			return &provider.Response{Content: "cached once", Provider: "primary"}, nil
		},
	}
	d := New(Config{Cache: cache.New(10), TTL: cache.DefaultTTLPolicy(), Retry: fastRetry()})
	d.Register(p)

	for range 3 {
		resp, err := d.Generate(context.Background(), "same prompt", provider.RequestOptions{Model: "m"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Content != "cached once" {
			t.Errorf("content = %q", resp.Content)
		}
	}

	if calls != 1 {
		t.Errorf("provider called %d times, want 1 (cache hits after)", calls)
	}
	if got := d.Stats().CacheHits; got != 2 {
		t.Errorf("cache hits = %d, want 2", got)
	}
}

func TestBreakerShieldsDegradedProvider(t *testing.T) {
	calls := 0
	failing := &provider.Mock{
		ProviderName: "flaky",
		GenerateFn: func(ctx context.Context, prompt string, opts provider.RequestOptions) (*provider.Response, error) {
			calls++
			return nil, errors.New("provider returned 5xx")
		},
	}
	d := New(Config{
		Retry:   fastRetry(),
		Breaker: resilience.BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour},
	})
	d.Register(failing)

	for range 5 {
		d.Generate(context.Background(), "x", provider.RequestOptions{})
	}
	// Two failures open the circuit; later dispatches are rejected without
	// invoking the provider.
	if calls != 2 {
		t.Errorf("provider called %d times, want 2", calls)
	}
	if got := d.Stats().BreakerStates["flaky"]; got != "open" {
		t.Errorf("breaker state = %s, want open", got)
	}
}

func TestGenerateStructuredLowersTemperatureAndValidates(t *testing.T) {
	var gotTemp float64
	p := &provider.Mock{
		ProviderName: "primary",
		GenerateFn: func(ctx context.Context, prompt string, opts provider.RequestOptions) (*provider.Response, error) {
			gotTemp = opts.Temperature
			return &provider.Response{Content: `{"name": "Crypt"}`, Provider: "primary"}, nil
		},
	}
	d := New(Config{Retry: fastRetry()})
	d.Register(p)

	schema := structured.Object(map[string]*structured.Schema{
		"name": structured.String("name"),
		"mood": structured.String("mood"),
	}, "name", "mood")

	resp, err := d.GenerateStructured(context.Background(), "generate", schema, provider.RequestOptions{Temperature: 0.8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotTemp != 0.4 {
		t.Errorf("temperature = %v, want 0.4 (halved)", gotTemp)
	}
	if resp.Parsed["name"] != "Crypt" {
		t.Errorf("parsed = %v", resp.Parsed)
	}
	if len(resp.ValidationErrors) != 1 || !strings.Contains(resp.ValidationErrors[0], "mood") {
		t.Errorf("validation errors = %v, want missing mood", resp.ValidationErrors)
	}
}

func TestTestProvidersProbesAll(t *testing.T) {
	d := New(Config{Retry: fastRetry()})
	d.Register(okProvider("up", "x"))
	d.Register(&provider.Mock{
		ProviderName: "down",
		AvailableFn:  func(ctx context.Context) bool { return false },
	})

	got := d.TestProviders(context.Background())
	if len(got) != 2 {
		t.Fatalf("probed %d providers, want 2", len(got))
	}
	if !got["up"] || got["down"] {
		t.Errorf("results = %v", got)
	}
}
