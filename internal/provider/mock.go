package provider

import (
	"context"

	"github.com/loreweave/loreweave/internal/structured"
)

// Mock is a scriptable provider for tests and offline development. Unset
// function fields fall back to canned successful responses.
type Mock struct {
	ProviderName string
	AvailableFn  func(ctx context.Context) bool
	GenerateFn   func(ctx context.Context, prompt string, opts RequestOptions) (*Response, error)
	StructuredFn func(ctx context.Context, prompt string, schema *structured.Schema, opts RequestOptions) (*StructuredResponse, error)
}

func (m *Mock) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

func (m *Mock) Available(ctx context.Context) bool {
	if m.AvailableFn != nil {
		return m.AvailableFn(ctx)
	}
	return true
}

func (m *Mock) Generate(ctx context.Context, prompt string, opts RequestOptions) (*Response, error) {
	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, prompt, opts)
	}
	return &Response{
		Content:      "mock response",
		Model:        "mock-model",
		FinishReason: FinishStop,
		Provider:     m.Name(),
	}, nil
}

func (m *Mock) GenerateStructured(ctx context.Context, prompt string, schema *structured.Schema, opts RequestOptions) (*StructuredResponse, error) {
	if m.StructuredFn != nil {
		return m.StructuredFn(ctx, prompt, schema, opts)
	}
	return StructuredViaPrompt(ctx, m, prompt, schema, opts)
}
