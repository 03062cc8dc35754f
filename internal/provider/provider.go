// Package provider defines the AI provider contract and its concrete
// implementations: OpenAI-compatible HTTP APIs, Anthropic, Google Gemini,
// a local Ollama instance, and a mock for tests. The dispatcher holds
// providers through the Provider interface and is agnostic to transport.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/loreweave/loreweave/internal/structured"
)

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RequestOptions tunes a single generation request. Zero values mean
// provider defaults.
type RequestOptions struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	History      []Message
}

// Usage reports token consumption for a response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FinishReason explains why generation stopped.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
)

// Response is a completed generation.
type Response struct {
	Content        string        `json:"content"`
	Usage          Usage         `json:"usage"`
	Model          string        `json:"model"`
	FinishReason   FinishReason  `json:"finish_reason"`
	ProcessingTime time.Duration `json:"processing_time"`
	Provider       string        `json:"provider"`
}

// StructuredResponse is a Response whose content was additionally parsed
// and checked against a schema. ValidationErrors is empty on success;
// Parsed may hold a partial value alongside errors.
type StructuredResponse struct {
	Response
	Parsed           map[string]any `json:"parsed_content"`
	ValidationErrors []string       `json:"validation_errors"`
}

// Provider is the closed capability contract every AI backend implements.
type Provider interface {
	Name() string
	// Available reports whether the backend is reachable and configured.
	Available(ctx context.Context) bool
	Generate(ctx context.Context, prompt string, opts RequestOptions) (*Response, error)
	GenerateStructured(ctx context.Context, prompt string, schema *structured.Schema, opts RequestOptions) (*StructuredResponse, error)
}

// StructuredViaPrompt implements structured generation for backends without
// native JSON-schema support: it appends the schema to the prompt, calls
// Generate, then parses and validates the raw content. Parse failures land
// in ValidationErrors, never in the returned error.
func StructuredViaPrompt(ctx context.Context, p Provider, prompt string, schema *structured.Schema, opts RequestOptions) (*StructuredResponse, error) {
	augmented := AugmentPrompt(prompt, schema)
	resp, err := p.Generate(ctx, augmented, opts)
	if err != nil {
		return nil, err
	}
	parsed, verrs := structured.Parse(resp.Content, schema)
	return &StructuredResponse{
		Response:         *resp,
		Parsed:           parsed,
		ValidationErrors: verrs,
	}, nil
}

// AugmentPrompt appends schema instructions to a prompt.
func AugmentPrompt(prompt string, schema *structured.Schema) string {
	if schema == nil {
		return prompt
	}
	return fmt.Sprintf("%s\n\nRespond with a single JSON object matching this schema, and nothing else:\n%s", prompt, schema.JSON())
}
