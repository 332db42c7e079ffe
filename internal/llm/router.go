package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/evalite/evalite/internal/core"
	"github.com/evalite/evalite/internal/logging"
	"github.com/evalite/evalite/internal/observability"
)

// RouterConfig configures the provider router
type RouterConfig struct {
	Provider Provider
	Timeout  time.Duration
	Metrics  *observability.Metrics
}

// Router sends each check-in to the provider chosen at startup, exactly
// once, under a timeout. It never retries and never switches providers.
type Router struct {
	provider Provider
	timeout  time.Duration
	metrics  *observability.Metrics

	// Stats
	mu    sync.RWMutex
	stats RouterStats
}

// RouterStats tracks router usage. /health reports it.
type RouterStats struct {
	Requests         int64                            `json:"requests"`
	Failures         int64                            `json:"failures"`
	FailuresByKind   map[core.ProviderErrorKind]int64 `json:"failures_by_kind"`
	AverageLatencyMs int64                            `json:"average_latency_ms"`
}

// NewRouter creates a new provider router
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Router{
		provider: cfg.Provider,
		timeout:  cfg.Timeout,
		metrics:  cfg.Metrics,
		stats:    RouterStats{FailuresByKind: make(map[core.ProviderErrorKind]int64)},
	}
}

// Provider returns the configured provider name.
func (r *Router) Provider() core.Provider {
	if r.provider == nil {
		return core.ProviderNone
	}
	return r.provider.Name()
}

// IsConfigured reports whether the provider can be called.
func (r *Router) IsConfigured() bool {
	return r.provider != nil && r.provider.IsConfigured()
}

// Analyze performs the single provider attempt for a check-in.
func (r *Router) Analyze(ctx context.Context, text string) (core.AnalysisResult, error) {
	if r.provider == nil {
		return core.AnalysisResult{}, notConfigured(core.ProviderNone)
	}
	name := r.provider.Name()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	result, err := r.provider.Analyze(ctx, text)
	elapsed := time.Since(start)

	if err == nil {
		if cerr := result.Check(); cerr != nil {
			err = core.NewProviderError(name, core.KindParse, cerr)
		}
	}
	if err != nil {
		perr := asProviderError(name, err)
		if perr.Kind != core.KindTimeout && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			perr.Kind = core.KindTimeout
		}
		r.record(elapsed, perr.Kind)
		r.metrics.RecordProviderCall(string(name), elapsed, string(perr.Kind))
		logging.WithField("provider", name).
			WithField("kind", perr.Kind).
			WithField("latency_ms", elapsed.Milliseconds()).
			Warn("AI analysis failed: %v", perr.Err)
		return core.AnalysisResult{}, perr
	}

	r.record(elapsed, "")
	r.metrics.RecordProviderCall(string(name), elapsed, "")
	return result.Normalize(), nil
}

func asProviderError(p core.Provider, err error) *core.ProviderError {
	var perr *core.ProviderError
	if errors.As(err, &perr) {
		return perr
	}
	return classify(p, err, 0)
}

// record updates router statistics
func (r *Router) record(latency time.Duration, kind core.ProviderErrorKind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Requests++
	if kind != "" {
		r.stats.Failures++
		r.stats.FailuresByKind[kind]++
	}

	// Update average latency (simple moving average)
	total := r.stats.Requests
	r.stats.AverageLatencyMs = (r.stats.AverageLatencyMs*(total-1) + latency.Milliseconds()) / total
}

// GetStats returns router statistics
func (r *Router) GetStats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := r.stats
	out.FailuresByKind = make(map[core.ProviderErrorKind]int64, len(r.stats.FailuresByKind))
	for k, v := range r.stats.FailuresByKind {
		out.FailuresByKind[k] = v
	}
	return out
}
