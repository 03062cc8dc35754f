package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/loreweave/loreweave/internal/structured"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicAPIVersion     = "2023-06-01"
	anthropicDefaultTimeout = 60 * time.Second
	anthropicDefaultTokens  = 1024
)

// Anthropic speaks the Anthropic Messages API.
type Anthropic struct {
	name         string
	apiKey       string
	baseURL      string
	defaultModel string
	httpClient   *http.Client
}

// AnthropicConfig configures an Anthropic provider.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.BaseURL == "" {
		cfg.BaseURL = anthropicDefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = anthropicDefaultTimeout
	}
	return &Anthropic{
		name:         "anthropic",
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		defaultModel: cfg.Model,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *Anthropic) Name() string {
	return p.name
}

// Available returns true if GET /v1/models answers 200 with the configured key.
func (p *Anthropic) Available(ctx context.Context) bool {
	if p.apiKey == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	p.setHeaders(req)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type anthropicMessageRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type anthropicMessageResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate sends a messages request and concatenates the text content blocks.
func (p *Anthropic) Generate(ctx context.Context, prompt string, opts RequestOptions) (*Response, error) {
	model := opts.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultTokens
	}

	msgs := make([]Message, 0, len(opts.History)+1)
	msgs = append(msgs, opts.History...)
	msgs = append(msgs, Message{Role: "user", Content: prompt})

	mr := anthropicMessageRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    opts.SystemPrompt,
		Messages:  msgs,
	}
	if opts.Temperature > 0 {
		mr.Temperature = &opts.Temperature
	}

	body, err := json.Marshal(mr)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	p.setHeaders(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkHTTPStatus(resp); err != nil {
		return nil, err
	}

	var result anthropicMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	var sb strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return &Response{
		Content: sb.String(),
		Usage: Usage{
			PromptTokens:     result.Usage.InputTokens,
			CompletionTokens: result.Usage.OutputTokens,
			TotalTokens:      result.Usage.InputTokens + result.Usage.OutputTokens,
		},
		Model:          result.Model,
		FinishReason:   mapAnthropicStop(result.StopReason),
		ProcessingTime: time.Since(start),
		Provider:       p.name,
	}, nil
}

// GenerateStructured requests schema-conforming output via prompt augmentation.
func (p *Anthropic) GenerateStructured(ctx context.Context, prompt string, schema *structured.Schema, opts RequestOptions) (*StructuredResponse, error) {
	return StructuredViaPrompt(ctx, p, prompt, schema, opts)
}

func (p *Anthropic) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
}

func mapAnthropicStop(reason string) FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return FinishStop
	case "max_tokens":
		return FinishLength
	default:
		return FinishError
	}
}
