package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/evalite/evalite/internal/core"
	"github.com/evalite/evalite/internal/logging"
)

// GeminiClient analyzes check-ins with the Gemini API.
type GeminiClient struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature float32
}

// GeminiConfig for the Gemini client
type GeminiConfig struct {
	APIKey      string
	Model       string // e.g. "gemini-2.0-flash"
	BaseURL     string
	MaxTokens   int
	Temperature float64
}

// NewGeminiClient creates a Gemini client. Without an API key the client
// is returned unconfigured and every call fails with a config error.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 500
	}

	g := &GeminiClient{
		model:       cfg.Model,
		maxTokens:   int32(cfg.MaxTokens),
		temperature: float32(cfg.Temperature),
	}
	if cfg.APIKey == "" {
		return g, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	g.client = client
	return g, nil
}

// Name returns the provider name
func (g *GeminiClient) Name() core.Provider { return core.ProviderGemini }

// IsConfigured returns true if the client has credentials
func (g *GeminiClient) IsConfigured() bool { return g.client != nil }

// Analyze sends one GenerateContent request and parses the reply.
func (g *GeminiClient) Analyze(ctx context.Context, text string) (core.AnalysisResult, error) {
	if g.client == nil {
		return core.AnalysisResult{}, notConfigured(core.ProviderGemini)
	}

	temp := g.temperature
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemPrompt, genai.RoleUser),
		Temperature:       &temp,
		MaxOutputTokens:   g.maxTokens,
		ResponseMIMEType:  "application/json",
	}
	contents := []*genai.Content{genai.NewContentFromText(BuildUserPrompt(text), genai.RoleUser)}

	logging.Debug("Requesting Gemini analysis (model %s)", g.model)
	res, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return core.AnalysisResult{}, classify(core.ProviderGemini, err, geminiStatus(err))
	}

	out := res.Text()
	if out == "" {
		return core.AnalysisResult{}, core.NewProviderError(core.ProviderGemini, core.KindParse,
			errors.New("response has no text"))
	}
	return ParseAnalysis(core.ProviderGemini, out)
}

func geminiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
