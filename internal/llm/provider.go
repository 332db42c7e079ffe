package llm

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/evalite/evalite/internal/config"
	"github.com/evalite/evalite/internal/core"
)

// Provider classifies a check-in text with an external model.
// Every failure, including an unparseable reply, is a *core.ProviderError.
type Provider interface {
	Name() core.Provider
	Analyze(ctx context.Context, text string) (core.AnalysisResult, error)
	IsConfigured() bool
}

// New builds the provider selected by cfg. A provider without credentials
// is still returned; its calls fail fast with a config error so the
// fallback policy applies.
func New(ctx context.Context, cfg config.AIConfig) (Provider, error) {
	switch cfg.Provider {
	case core.ProviderOpenAI:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:      cfg.OpenAI.APIKey,
			Model:       cfg.OpenAI.Model,
			BaseURL:     cfg.OpenAI.BaseURL,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
		}), nil
	case core.ProviderGemini:
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:      cfg.Gemini.APIKey,
			Model:       cfg.Gemini.Model,
			BaseURL:     cfg.Gemini.BaseURL,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
		})
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
}

// classify maps transport-level failures onto provider error kinds.
// statusCode is the HTTP status when the SDK exposed one, else 0.
func classify(p core.Provider, err error, statusCode int) *core.ProviderError {
	var perr *core.ProviderError
	if errors.As(err, &perr) {
		return perr
	}

	kind := core.KindUpstream
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = core.KindTimeout
	case statusCode == 401 || statusCode == 403:
		kind = core.KindAuth
	case statusCode == 429:
		kind = core.KindQuota
	case statusCode == 408 || statusCode == 504:
		kind = core.KindTimeout
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			kind = core.KindTimeout
		} else {
			kind = core.KindNetwork
		}
	}
	return core.NewProviderError(p, kind, err)
}

func notConfigured(p core.Provider) error {
	return core.NewProviderError(p, core.KindConfig, core.ErrProviderNotConfigured)
}
