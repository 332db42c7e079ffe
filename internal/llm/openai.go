package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/evalite/evalite/internal/core"
	"github.com/evalite/evalite/internal/logging"
)

// OpenAIClient analyzes check-ins with the OpenAI chat completions API.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	configured  bool
}

// OpenAIConfig for the OpenAI client
type OpenAIConfig struct {
	APIKey      string
	Model       string // e.g. "gpt-4o-mini"
	BaseURL     string // optional, for proxies and tests
	MaxTokens   int
	Temperature float64
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 500
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
		configured:  cfg.APIKey != "",
	}
}

// Name returns the provider name
func (c *OpenAIClient) Name() core.Provider { return core.ProviderOpenAI }

// IsConfigured returns true if an API key is set
func (c *OpenAIClient) IsConfigured() bool { return c.configured }

// Analyze sends one chat completion and parses the reply.
func (c *OpenAIClient) Analyze(ctx context.Context, text string) (core.AnalysisResult, error) {
	if !c.configured {
		return core.AnalysisResult{}, notConfigured(core.ProviderOpenAI)
	}

	logging.Debug("Requesting OpenAI analysis (model %s)", c.model)
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildUserPrompt(text)},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return core.AnalysisResult{}, classify(core.ProviderOpenAI, err, openAIStatus(err))
	}
	if len(resp.Choices) == 0 {
		return core.AnalysisResult{}, core.NewProviderError(core.ProviderOpenAI, core.KindParse,
			errors.New("response has no choices"))
	}

	logging.Debug("OpenAI finish reason: %s", resp.Choices[0].FinishReason)
	return ParseAnalysis(core.ProviderOpenAI, resp.Choices[0].Message.Content)
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
