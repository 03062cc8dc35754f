// Package dispatch routes generation requests across registered AI
// providers: cache probe first, then the primary provider, then fallbacks
// in order, every outbound call guarded by retry and a per-provider
// circuit breaker.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loreweave/loreweave/internal/cache"
	"github.com/loreweave/loreweave/internal/provider"
	"github.com/loreweave/loreweave/internal/resilience"
	"github.com/loreweave/loreweave/internal/structured"
)

var (
	// ErrNoProviders is returned when dispatch is attempted with an empty
	// registry or unset primary.
	ErrNoProviders = errors.New("no providers registered")
	// ErrAllProvidersFailed aggregates a dispatch where every provider in
	// the chain failed or was unavailable.
	ErrAllProvidersFailed = errors.New("all providers unavailable")
)

// Config wires the dispatcher's collaborators.
type Config struct {
	Cache   cache.Store
	TTL     cache.TTLPolicy
	Retry   resilience.RetryConfig
	Breaker resilience.BreakerConfig
	Monitor *resilience.Monitor
	// Timeout bounds each outbound provider call. Zero disables the bound
	// beyond whatever the caller's context already carries.
	Timeout time.Duration
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Requests        uint64            `json:"requests"`
	Errors          uint64            `json:"errors"`
	CacheHits       uint64            `json:"cache_hits"`
	ProviderSuccess map[string]uint64 `json:"provider_success"`
	BreakerStates   map[string]string `json:"breaker_states"`
}

// Dispatcher owns the provider registry and failover order.
type Dispatcher struct {
	mu        sync.Mutex
	providers map[string]provider.Provider
	breakers  map[string]*resilience.CircuitBreaker
	primary   string
	fallbacks []string

	cfg Config

	requests  uint64
	errCount  uint64
	cacheHits uint64
	successes map[string]uint64
}

// New creates a Dispatcher. Cache may be nil to disable caching.
func New(cfg Config) *Dispatcher {
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	return &Dispatcher{
		providers: make(map[string]provider.Provider),
		breakers:  make(map[string]*resilience.CircuitBreaker),
		successes: make(map[string]uint64),
		cfg:       cfg,
	}
}

// Register adds a provider to the registry. The first registered provider
// becomes the primary until SetPrimary overrides it.
func (d *Dispatcher) Register(p provider.Provider) {
	d.mu.Lock()
	defer d.mu.Unlock()
	name := p.Name()
	d.providers[name] = p
	d.breakers[name] = resilience.NewCircuitBreaker(d.cfg.Breaker)
	if d.primary == "" {
		d.primary = name
	}
}

// SetPrimary selects the primary provider by name.
func (d *Dispatcher) SetPrimary(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.providers[name]; !ok {
		return fmt.Errorf("unknown provider %q", name)
	}
	d.primary = name
	return nil
}

// SetFallbacks sets the ordered fallback list. Unregistered names are
// skipped at dispatch time.
func (d *Dispatcher) SetFallbacks(names ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallbacks = append([]string(nil), names...)
}

// Providers returns the registered provider names.
func (d *Dispatcher) Providers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.providers))
	for name := range d.providers {
		names = append(names, name)
	}
	return names
}

// chainSlot is one provider in dispatch order with its breaker.
type chainSlot struct {
	name string
	p    provider.Provider
	b    *resilience.CircuitBreaker
}

// order returns the dispatch order: primary then fallbacks, deduplicated,
// restricted to registered providers.
func (d *Dispatcher) order() []chainSlot {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen := make(map[string]bool)
	var out []chainSlot
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		if p, ok := d.providers[name]; ok {
			out = append(out, chainSlot{name: name, p: p, b: d.breakers[name]})
			seen[name] = true
		}
	}
	add(d.primary)
	for _, name := range d.fallbacks {
		add(name)
	}
	return out
}

// Generate dispatches a plain text generation: cache first, then the
// provider chain. Successful responses are written back to the cache.
func (d *Dispatcher) Generate(ctx context.Context, prompt string, opts provider.RequestOptions) (*provider.Response, error) {
	d.count(&d.requests)

	key := cache.RequestKey(cache.NamespaceGeneration, prompt, opts.Model, opts.Temperature, opts.MaxTokens, opts.SystemPrompt, "")
	if cached, ok := d.cacheGet(ctx, key); ok {
		var resp provider.Response
		if err := json.Unmarshal([]byte(cached), &resp); err == nil {
			return &resp, nil
		}
	}

	resp, err := dispatchChain(d, ctx, func(ctx context.Context, p provider.Provider) (*provider.Response, error) {
		return p.Generate(ctx, prompt, opts)
	})
	if err != nil {
		return nil, err
	}

	d.cacheSet(ctx, key, resp, d.cfg.TTL.ForPrompt(prompt, opts.Temperature))
	return resp, nil
}

// GenerateStructured dispatches a schema-validated generation at lowered
// temperature, with the schema folded into the cache key.
func (d *Dispatcher) GenerateStructured(ctx context.Context, prompt string, schema *structured.Schema, opts provider.RequestOptions) (*provider.StructuredResponse, error) {
	d.count(&d.requests)

	opts.Temperature = structuredTemperature(opts.Temperature)
	schemaJSON := ""
	if schema != nil {
		schemaJSON = schema.JSON()
	}

	key := cache.RequestKey(cache.NamespaceGeneration, prompt, opts.Model, opts.Temperature, opts.MaxTokens, opts.SystemPrompt, schemaJSON)
	if cached, ok := d.cacheGet(ctx, key); ok {
		var resp provider.StructuredResponse
		if err := json.Unmarshal([]byte(cached), &resp); err == nil {
			return &resp, nil
		}
	}

	resp, err := dispatchChain(d, ctx, func(ctx context.Context, p provider.Provider) (*provider.StructuredResponse, error) {
		return p.GenerateStructured(ctx, prompt, schema, opts)
	})
	if err != nil {
		return nil, err
	}

	// Only clean responses are worth reusing.
	if len(resp.ValidationErrors) == 0 {
		d.cacheSet(ctx, key, resp, d.cfg.TTL.ForPrompt(prompt, opts.Temperature))
	}
	return resp, nil
}

// dispatch walks the provider chain. Each attempt runs inside the
// provider's circuit breaker, with classified retries inside that.
func dispatchChain[T any](d *Dispatcher, ctx context.Context, call func(ctx context.Context, p provider.Provider) (T, error)) (T, error) {
	var zero T
	chain := d.order()
	if len(chain) == 0 {
		d.count(&d.errCount)
		return zero, ErrNoProviders
	}

	var failures []error
	for _, slot := range chain {
		if !slot.p.Available(ctx) {
			failures = append(failures, fmt.Errorf("%s: unavailable", slot.name))
			continue
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if d.cfg.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		}

		result, err := resilience.Execute(slot.b, callCtx, func(ctx context.Context) (T, error) {
			return resilience.WithRetry(ctx, d.cfg.Retry, d.cfg.Monitor, func(ctx context.Context) (T, error) {
				return call(ctx, slot.p)
			})
		})
		if cancel != nil {
			cancel()
		}
		if err == nil {
			d.recordSuccess(slot.name)
			return result, nil
		}

		slog.Warn("provider failed, trying next", "provider", slot.name, "error", err)
		failures = append(failures, fmt.Errorf("%s: %w", slot.name, err))
	}

	d.count(&d.errCount)
	return zero, fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(failures...))
}

// TestProviders probes every registered provider's availability
// concurrently, independent of dispatch order.
func (d *Dispatcher) TestProviders(ctx context.Context) map[string]bool {
	d.mu.Lock()
	providers := make(map[string]provider.Provider, len(d.providers))
	for name, p := range d.providers {
		providers[name] = p
	}
	d.mu.Unlock()

	var mu sync.Mutex
	results := make(map[string]bool, len(providers))
	g, ctx := errgroup.WithContext(ctx)
	for name, p := range providers {
		g.Go(func() error {
			ok := p.Available(ctx)
			mu.Lock()
			results[name] = ok
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}

// Stats returns a snapshot of dispatch counters and breaker states.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Stats{
		Requests:        d.requests,
		Errors:          d.errCount,
		CacheHits:       d.cacheHits,
		ProviderSuccess: make(map[string]uint64, len(d.successes)),
		BreakerStates:   make(map[string]string, len(d.breakers)),
	}
	for name, n := range d.successes {
		s.ProviderSuccess[name] = n
	}
	for name, b := range d.breakers {
		s.BreakerStates[name] = b.State()
	}
	return s
}

func (d *Dispatcher) cacheGet(ctx context.Context, key string) (string, bool) {
	if d.cfg.Cache == nil {
		return "", false
	}
	value, ok := d.cfg.Cache.Get(ctx, key)
	if ok {
		d.count(&d.cacheHits)
	}
	return value, ok
}

func (d *Dispatcher) cacheSet(ctx context.Context, key string, value any, ttl time.Duration) {
	if d.cfg.Cache == nil {
		return
	}
	b, err := json.Marshal(value)
	if err != nil {
		return
	}
	d.cfg.Cache.Set(ctx, key, string(b), ttl)
}

func (d *Dispatcher) count(field *uint64) {
	d.mu.Lock()
	*field++
	d.mu.Unlock()
}

func (d *Dispatcher) recordSuccess(name string) {
	d.mu.Lock()
	d.successes[name]++
	d.mu.Unlock()
}

// structuredTemperature lowers the sampling temperature for structured
// output: half the requested value with a 0.1 floor, 0.2 when unset.
func structuredTemperature(t float64) float64 {
	if t <= 0 {
		return 0.2
	}
	lowered := t / 2
	if lowered < 0.1 {
		lowered = 0.1
	}
	return lowered
}
