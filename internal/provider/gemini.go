package provider

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/loreweave/loreweave/internal/structured"
)

// Gemini speaks the Google Gemini API through the official genai SDK.
type Gemini struct {
	name         string
	client       *genai.Client
	defaultModel string
}

// GeminiConfig configures a Gemini provider.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// NewGemini creates a Gemini provider. Returns an error when the SDK client
// cannot be constructed.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &Gemini{
		name:         "gemini",
		client:       client,
		defaultModel: cfg.Model,
	}, nil
}

func (p *Gemini) Name() string {
	return p.name
}

// Available reports whether the SDK client was constructed. The Gemini API
// has no cheap unauthenticated probe; a bad key surfaces on first call and
// is handled by the dispatcher's failover path.
func (p *Gemini) Available(ctx context.Context) bool {
	return p.client != nil
}

// Generate sends the prompt (with history and system instruction) to the
// configured Gemini model.
func (p *Gemini) Generate(ctx context.Context, prompt string, opts RequestOptions) (*Response, error) {
	return p.generate(ctx, prompt, opts, "")
}

// GenerateStructured uses the API's native JSON response mode, then runs the
// shared validator over the returned text.
func (p *Gemini) GenerateStructured(ctx context.Context, prompt string, schema *structured.Schema, opts RequestOptions) (*StructuredResponse, error) {
	resp, err := p.generate(ctx, AugmentPrompt(prompt, schema), opts, "application/json")
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

func (p *Gemini) generate(ctx context.Context, prompt string, opts RequestOptions, mimeType string) (*Response, error) {
	model := opts.Model
	if model == "" {
		model = p.defaultModel
	}

	contents := make([]*genai.Content, 0, len(opts.History)+1)
	for _, msg := range opts.History {
		role := genai.RoleModel
		if msg.Role == "user" {
			role = genai.RoleUser
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}
	contents = append(contents, &genai.Content{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: prompt}},
	})

	config := &genai.GenerateContentConfig{}
	if opts.Temperature > 0 {
		t := float32(opts.Temperature)
		config.Temperature = &t
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: opts.SystemPrompt}},
		}
	}
	if mimeType != "" {
		config.ResponseMIMEType = mimeType
	}

	start := time.Now()
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}

	out := &Response{
		Content:        resp.Text(),
		Model:          model,
		FinishReason:   FinishStop,
		ProcessingTime: time.Since(start),
		Provider:       p.name,
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if len(resp.Candidates) > 0 {
		out.FinishReason = mapGeminiFinish(resp.Candidates[0].FinishReason)
	}
	return out, nil
}

func mapGeminiFinish(reason genai.FinishReason) FinishReason {
	switch reason {
	case genai.FinishReasonStop:
		return FinishStop
	case genai.FinishReasonMaxTokens:
		return FinishLength
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent:
		return FinishContentFilter
	default:
		return FinishStop
	}
}
