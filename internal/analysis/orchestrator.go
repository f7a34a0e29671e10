package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"horse.fit/narrative/internal/keypool"
	"horse.fit/narrative/internal/news"
)

const ProviderAnalysis = "analysis"

var (
	ErrBlocked      = errors.New("response blocked by safety filter")
	ErrNoCandidates = errors.New("response has no candidates")
	ErrIncomplete   = errors.New("response incomplete")
	ErrEmptyText    = errors.New("response text is empty")
	ErrNoJSON       = errors.New("response contains no JSON object")
	ErrMalformed    = errors.New("response JSON is malformed")
)

// Outcome is the terminal state of one analysis.
type Outcome string

const (
	OutcomeAnalyzed Outcome = "analyzed"
	// OutcomeDefaulted succeeded with some fields substituted.
	OutcomeDefaulted Outcome = "defaulted"
	OutcomeFailed    Outcome = "failed"
	// OutcomeJunk means the article should be deleted.
	OutcomeJunk Outcome = "junk"
)

type Request struct {
	Article      news.Article
	Depth        string
	CategoryHint string
}

type Result struct {
	Outcome        Outcome
	AnalysisType   news.AnalysisType
	Scores         news.ScoreSet
	DegradedFields []string
	FinishReason   string
	Err            error
}

type OrchestratorConfig struct {
	Model           string
	Timeout         time.Duration
	Temperature     float32
	MaxOutputTokens int32
}

func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Model:           "gemini-2.5-flash",
		Timeout:         45 * time.Second,
		Temperature:     0.2,
		MaxOutputTokens: 8192,
	}
}

type Orchestrator struct {
	provider Provider
	keys     *keypool.Manager
	cfg      OrchestratorConfig
	logger   zerolog.Logger
}

func NewOrchestrator(provider Provider, keys *keypool.Manager, cfg OrchestratorConfig, logger zerolog.Logger) *Orchestrator {
	defaults := DefaultOrchestratorConfig()
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = defaults.MaxOutputTokens
	}
	return &Orchestrator{
		provider: provider,
		keys:     keys,
		cfg:      cfg,
		logger:   logger,
	}
}

// Analyze runs the full analysis call for one article and validates the result.
// It never returns an error directly: failures come back as OutcomeFailed.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) Result {
	article := req.Article
	generateCfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(o.cfg.Temperature),
		MaxOutputTokens:  o.cfg.MaxOutputTokens,
		ResponseMIMEType: "application/json",
		SafetySettings:   safetySettings(),
	}
	contents := genai.Text(analysisPrompt(article, req.Depth, req.CategoryHint))

	resp, err := keypool.Execute(ctx, o.keys, ProviderAnalysis, article.Context(), func(ctx context.Context, key string) (*genai.GenerateContentResponse, error) {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
		return o.provider.GenerateContent(callCtx, key, o.cfg.Model, contents, generateCfg)
	})
	if err != nil {
		return o.failed(article, "", err)
	}

	raw, finishReason, err := decodeResponse(resp)
	if err != nil {
		return o.failed(article, finishReason, err)
	}

	p := newPayload(raw)
	if p.isJunk() {
		o.logger.Info().Int64("article_id", article.ID).Msg("analysis flagged article as junk")
		return Result{Outcome: OutcomeJunk, FinishReason: finishReason}
	}

	scores := p.scoreSet()
	result := Result{
		Outcome:        OutcomeAnalyzed,
		AnalysisType:   p.analysisType(),
		Scores:         scores,
		DegradedFields: p.degraded,
		FinishReason:   finishReason,
	}
	if len(p.degraded) > 0 {
		result.Outcome = OutcomeDefaulted
		o.logger.Warn().
			Int64("article_id", article.ID).
			Strs("degraded_fields", p.degraded).
			Msg("analysis succeeded with defaulted fields")
	}
	return result
}

func (o *Orchestrator) failed(article news.Article, finishReason string, err error) Result {
	o.logger.Error().
		Err(err).
		Int64("article_id", article.ID).
		Str("finish_reason", finishReason).
		Msg("analysis failed")
	return Result{Outcome: OutcomeFailed, FinishReason: finishReason, Err: err}
}

// decodeResponse validates a model response step by step and returns the
// decoded JSON object.
func decodeResponse(resp *genai.GenerateContentResponse) (map[string]any, string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return nil, "", fmt.Errorf("%w: prompt blocked (%s)", ErrBlocked, resp.PromptFeedback.BlockReason)
		}
		return nil, "", ErrNoCandidates
	}

	candidate := resp.Candidates[0]
	finishReason := string(candidate.FinishReason)
	text := responseText(candidate)

	switch candidate.FinishReason {
	case genai.FinishReasonStop, genai.FinishReasonUnspecified, "":
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist, genai.FinishReasonSPII:
		return nil, finishReason, fmt.Errorf("%w: finish reason %s", ErrBlocked, finishReason)
	default:
		if text == "" {
			return nil, finishReason, fmt.Errorf("%w: finish reason %s with no text", ErrIncomplete, finishReason)
		}
	}

	if text == "" {
		return nil, finishReason, ErrEmptyText
	}

	object, balanced, ok := extractJSONObject(text)
	if !ok {
		return nil, finishReason, ErrNoJSON
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(object), &raw); err != nil {
		if !balanced || candidate.FinishReason == genai.FinishReasonMaxTokens {
			return nil, finishReason, fmt.Errorf("%w: %v (output likely truncated by the max output token limit)", ErrMalformed, err)
		}
		return nil, finishReason, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return raw, finishReason, nil
}
