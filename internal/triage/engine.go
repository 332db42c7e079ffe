package triage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/evalite/evalite/internal/core"
	"github.com/evalite/evalite/internal/logging"
	"github.com/evalite/evalite/internal/observability"
)

// Analyzer is the single AI attempt the engine makes per check-in.
// *llm.Router satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (core.AnalysisResult, error)
	Provider() core.Provider
}

// Outcome says which path produced a result. Callers switch on it rather
// than inferring the path from the error.
type Outcome int

const (
	// OutcomeAI: the provider answered with a valid analysis.
	OutcomeAI Outcome = iota + 1
	// OutcomeFallback: the provider failed and local analysis answered.
	OutcomeFallback
	// OutcomeLocal: answered locally without a provider call, for blank
	// text or an explicit local-only request.
	OutcomeLocal
	// OutcomeUnavailable: the provider failed and local analysis is disabled.
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAI:
		return "ai"
	case OutcomeFallback:
		return "fallback"
	case OutcomeLocal:
		return "local"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Result is the engine's answer for one check-in.
type Result struct {
	Outcome  Outcome
	Analysis core.AnalysisResult
	Source   core.Source
	Provider core.Provider
	// Cause is the provider error behind a fallback or unavailable outcome.
	Cause   error
	Latency time.Duration
}

// EngineConfig configures the triage engine
type EngineConfig struct {
	LocalAnalysisEnabled bool
	Metrics              *observability.Metrics
}

// Engine orchestrates one check-in analysis: at most one provider call,
// then either that result or the heuristic's, never a blend.
type Engine struct {
	ai        Analyzer
	heuristic Heuristic
	config    EngineConfig
}

// NewEngine creates a new triage engine. ai may be nil, in which case every
// check-in goes to the fallback policy.
func NewEngine(ai Analyzer, cfg EngineConfig) *Engine {
	return &Engine{ai: ai, config: cfg}
}

// Analyze classifies a check-in. The error is non-nil for an invalid
// check-in (*core.ValidationError) and for OutcomeUnavailable (wrapping
// core.ErrAnalysisUnavailable and the provider error).
func (e *Engine) Analyze(ctx context.Context, checkIn core.CheckIn) (Result, error) {
	if checkIn.UserID <= 0 {
		return Result{}, &core.ValidationError{Field: "user_id", Reason: "must be a positive integer"}
	}

	start := time.Now()
	log := logging.FromContext(ctx).WithField("user_id", checkIn.UserID)

	if strings.TrimSpace(checkIn.Text) == "" {
		return e.finish(Result{
			Outcome:  OutcomeLocal,
			Analysis: e.heuristic.Analyze(checkIn.Text),
			Source:   core.SourceHeuristic,
		}, start), nil
	}

	var cause error
	if e.ai == nil {
		cause = core.NewProviderError(core.ProviderNone, core.KindConfig, core.ErrProviderNotConfigured)
	} else {
		analysis, err := e.ai.Analyze(ctx, checkIn.Text)
		if err == nil {
			if cerr := analysis.Check(); cerr != nil {
				err = core.NewProviderError(e.ai.Provider(), core.KindParse, cerr)
			}
		}
		if err == nil {
			return e.finish(Result{
				Outcome:  OutcomeAI,
				Analysis: analysis.Normalize(),
				Source:   core.SourceAI,
				Provider: e.ai.Provider(),
			}, start), nil
		}
		cause = err
	}

	if !e.config.LocalAnalysisEnabled {
		log.WithError(cause).Error("Analysis unavailable and local analysis disabled")
		res := e.finish(Result{Outcome: OutcomeUnavailable, Cause: cause}, start)
		return res, fmt.Errorf("%w: %w", core.ErrAnalysisUnavailable, cause)
	}

	log.WithError(cause).Info("Falling back to local analysis")
	return e.finish(Result{
		Outcome:  OutcomeFallback,
		Analysis: e.heuristic.Analyze(checkIn.Text),
		Source:   core.SourceHeuristic,
		Cause:    cause,
	}, start), nil
}

// AnalyzeLocal classifies a check-in with the heuristic only. No provider is
// called, so the outcome is always OutcomeLocal.
func (e *Engine) AnalyzeLocal(ctx context.Context, checkIn core.CheckIn) (Result, error) {
	if checkIn.UserID <= 0 {
		return Result{}, &core.ValidationError{Field: "user_id", Reason: "must be a positive integer"}
	}
	return e.finish(Result{
		Outcome:  OutcomeLocal,
		Analysis: e.heuristic.Analyze(checkIn.Text),
		Source:   core.SourceHeuristic,
	}, time.Now()), nil
}

func (e *Engine) finish(r Result, start time.Time) Result {
	r.Latency = time.Since(start)
	e.config.Metrics.RecordCheckIn(r.Outcome.String())
	return r
}

// LocalAnalysisEnabled reports whether failures fall back to the heuristic.
func (e *Engine) LocalAnalysisEnabled() bool {
	return e.config.LocalAnalysisEnabled
}
