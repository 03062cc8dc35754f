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
	ollamaDefaultBaseURL = "http://localhost:11434"
	ollamaDefaultTimeout = 120 * time.Second
)

// Ollama talks to a local Ollama instance. Useful as a zero-cost fallback
// when cloud providers are down or unconfigured.
type Ollama struct {
	name         string
	baseURL      string
	defaultModel string
	httpClient   *http.Client
}

// OllamaConfig configures an Ollama provider.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewOllama creates an Ollama provider.
func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.BaseURL == "" {
		cfg.BaseURL = ollamaDefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = ollamaDefaultTimeout
	}
	return &Ollama{
		name:         "ollama",
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		defaultModel: cfg.Model,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *Ollama) Name() string {
	return p.name
}

// Available returns true if the Ollama server responds to GET /api/tags.
func (p *Ollama) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ollamaChatRequest is the JSON body for POST /api/chat.
type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Format   any       `json:"format,omitempty"`
	Options  struct {
		Temperature float64 `json:"temperature,omitempty"`
		NumPredict  int     `json:"num_predict,omitempty"`
	} `json:"options"`
}

// ollamaChatResponse is the non-streaming response from POST /api/chat.
type ollamaChatResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	DoneReason      string  `json:"done_reason"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
}

// Generate sends a non-streaming chat request.
func (p *Ollama) Generate(ctx context.Context, prompt string, opts RequestOptions) (*Response, error) {
	return p.chat(ctx, prompt, opts, nil)
}

// GenerateStructured uses Ollama's native structured output: the schema is
// passed in the request's format field, then validated like any other
// structured response.
func (p *Ollama) GenerateStructured(ctx context.Context, prompt string, schema *structured.Schema, opts RequestOptions) (*StructuredResponse, error) {
	resp, err := p.chat(ctx, prompt, opts, schema)
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

func (p *Ollama) chat(ctx context.Context, prompt string, opts RequestOptions, schema *structured.Schema) (*Response, error) {
	model := opts.Model
	if model == "" {
		model = p.defaultModel
	}

	cr := ollamaChatRequest{
		Model:    model,
		Messages: buildMessages(prompt, opts),
		Stream:   false,
	}
	if schema != nil {
		cr.Format = schema
	}
	cr.Options.Temperature = opts.Temperature
	cr.Options.NumPredict = opts.MaxTokens

	body, err := json.Marshal(cr)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkHTTPStatus(resp); err != nil {
		return nil, err
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding chat response: %w", err)
	}

	finish := FinishStop
	if result.DoneReason == "length" {
		finish = FinishLength
	}

	return &Response{
		Content: result.Message.Content,
		Usage: Usage{
			PromptTokens:     result.PromptEvalCount,
			CompletionTokens: result.EvalCount,
			TotalTokens:      result.PromptEvalCount + result.EvalCount,
		},
		Model:          result.Model,
		FinishReason:   finish,
		ProcessingTime: time.Since(start),
		Provider:       p.name,
	}, nil
}
