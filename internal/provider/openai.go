package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loreweave/loreweave/internal/structured"
)

const (
	openAIDefaultBaseURL = "https://api.openai.com/v1"
	openAIDefaultTimeout = 60 * time.Second
)

// OpenAI speaks any OpenAI-compatible chat completions API (OpenAI itself,
// OpenRouter, and most self-hosted gateways).
type OpenAI struct {
	name         string
	apiKey       string
	baseURL      string
	defaultModel string
	httpClient   *http.Client
}

// OpenAIConfig configures an OpenAI-compatible provider.
type OpenAIConfig struct {
	// Name identifies the provider in the registry; defaults to "openai".
	Name    string
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewOpenAI creates an OpenAI-compatible provider.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openAIDefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = openAIDefaultTimeout
	}
	return &OpenAI{
		name:         cfg.Name,
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		defaultModel: cfg.Model,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *OpenAI) Name() string {
	return p.name
}

// Available returns true if GET /models answers 200 with the configured key.
func (p *OpenAI) Available(ctx context.Context) bool {
	if p.apiKey == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// chatCompletionRequest is the JSON body for POST /chat/completions.
type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

// chatCompletionResponse is the non-streaming completion response.
type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Generate sends a chat completion request and maps the first choice into a
// Response.
func (p *OpenAI) Generate(ctx context.Context, prompt string, opts RequestOptions) (*Response, error) {
	model := opts.Model
	if model == "" {
		model = p.defaultModel
	}

	cr := chatCompletionRequest{
		Model:     model,
		Messages:  buildMessages(prompt, opts),
		MaxTokens: opts.MaxTokens,
	}
	if opts.Temperature > 0 {
		cr.Temperature = &opts.Temperature
	}

	body, err := json.Marshal(cr)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkHTTPStatus(resp); err != nil {
		return nil, err
	}

	var result chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("provider %s returned no choices", p.name)
	}

	choice := result.Choices[0]
	return &Response{
		Content:        choice.Message.Content,
		Usage:          result.Usage,
		Model:          result.Model,
		FinishReason:   mapOpenAIFinish(choice.FinishReason),
		ProcessingTime: time.Since(start),
		Provider:       p.name,
	}, nil
}

// GenerateStructured requests schema-conforming output via prompt
// augmentation; the API's JSON mode is not assumed to exist on every
// compatible gateway.
func (p *OpenAI) GenerateStructured(ctx context.Context, prompt string, schema *structured.Schema, opts RequestOptions) (*StructuredResponse, error) {
	return StructuredViaPrompt(ctx, p, prompt, schema, opts)
}

func mapOpenAIFinish(reason string) FinishReason {
	switch reason {
	case "stop":
		return FinishStop
	case "length":
		return FinishLength
	case "content_filter":
		return FinishContentFilter
	default:
		return FinishError
	}
}

// buildMessages assembles the message list: system prompt, history, then
// the current user prompt.
func buildMessages(prompt string, opts RequestOptions) []Message {
	msgs := make([]Message, 0, len(opts.History)+2)
	if opts.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: opts.SystemPrompt})
	}
	msgs = append(msgs, opts.History...)
	msgs = append(msgs, Message{Role: "user", Content: prompt})
	return msgs
}

// checkHTTPStatus converts non-2xx responses into errors whose messages
// carry enough signal for the resilience classifier.
func checkHTTPStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("rate limit exceeded (HTTP 429): %s", body)
	case resp.StatusCode == http.StatusPaymentRequired:
		return fmt.Errorf("quota exhausted (HTTP 402): %s", body)
	case resp.StatusCode >= 500:
		return fmt.Errorf("provider returned 5xx (HTTP %d): %s", resp.StatusCode, body)
	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
}
