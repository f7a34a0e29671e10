package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/narrative/internal/analysis"
	"horse.fit/narrative/internal/cluster"
	"horse.fit/narrative/internal/globaltime"
	"horse.fit/narrative/internal/news"
)

var ErrClaimLost = news.ErrClaimLost

type Store interface {
	// NextQualifying returns the oldest-published article that is Pending or
	// carries a stale analysis version and is not leased, or nil.
	NextQualifying(ctx context.Context, version string, now time.Time) (*news.Article, error)
	Claim(ctx context.Context, claim news.Claim) (bool, error)
	// SaveAnalysis persists the analyzed article in one update scoped to the claim.
	SaveAnalysis(ctx context.Context, claim news.Claim, article news.Article) error
	// Postpone keeps the claim but moves its expiry to until, so the article
	// qualifies again only after that time.
	Postpone(ctx context.Context, claim news.Claim, until time.Time) error
	Delete(ctx context.Context, claim news.Claim) error
}

type Classifier interface {
	Classify(ctx context.Context, c news.Candidate) analysis.Classification
}

type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) analysis.Result
}

type Embedder interface {
	EmbedArticle(ctx context.Context, article news.Article) ([]float32, error)
}

type Assigner interface {
	Assign(ctx context.Context, in cluster.Input) cluster.Decision
}

type Config struct {
	AnalysisVersion string
	DefaultCountry  string
	Delay           time.Duration
	IdlePoll        time.Duration
	LeaseTTL        time.Duration
	// RetryBackoff is how long a failed article is held before it qualifies again.
	RetryBackoff time.Duration
	WorkerID     string
}

type Outcome string

const (
	OutcomeIdle      Outcome = "idle"
	OutcomeAnalyzed  Outcome = "analyzed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeDeleted   Outcome = "deleted"
	OutcomeFailed    Outcome = "failed"
	OutcomeClaimLost Outcome = "claim_lost"
)

// Cycle describes one RunOnce call.
type Cycle struct {
	Idle         bool              `json:"idle"`
	Outcome      Outcome           `json:"outcome"`
	ArticleID    int64             `json:"article_id,omitempty"`
	AnalysisType news.AnalysisType `json:"analysis_type,omitempty"`
	ClusterID    *int64            `json:"cluster_id,omitempty"`
	DuplicateOf  *int64            `json:"duplicate_of,omitempty"`
	ClusterTier  cluster.Kind      `json:"cluster_tier,omitempty"`
	Degraded     []string          `json:"degraded_fields,omitempty"`
	Error        string            `json:"error,omitempty"`
	RetryAt      *time.Time        `json:"retry_at,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`

	Err error `json:"-"`
}

type Driver struct {
	store    Store
	gate     Classifier
	analyzer Analyzer
	embedder Embedder
	clusters Assigner
	cfg      Config
	logger   zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.RWMutex
	status Status
}

func NewDriver(store Store, gate Classifier, analyzer Analyzer, embedder Embedder, clusters Assigner, cfg Config, logger zerolog.Logger) *Driver {
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker-" + uuid.NewString()
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 10 * time.Minute
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = cfg.LeaseTTL
	}
	if cfg.DefaultCountry == "" {
		cfg.DefaultCountry = "us"
	}
	return &Driver{
		store:    store,
		gate:     gate,
		analyzer: analyzer,
		embedder: embedder,
		clusters: clusters,
		cfg:      cfg,
		logger:   logger.With().Str("worker", cfg.WorkerID).Logger(),
		sleep:    sleepContext,
		status:   Status{WorkerID: cfg.WorkerID},
	}
}

// WithSleep replaces the wait used for the inter-call delay and idle polling.
func (d *Driver) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Driver {
	if sleep != nil {
		d.sleep = sleep
	}
	return d
}

// Run processes articles until ctx is cancelled. Per-article failures are
// logged and never stop the loop.
func (d *Driver) Run(ctx context.Context) error {
	d.setRunning(true)
	defer d.setRunning(false)

	d.logger.Info().Str("analysis_version", d.cfg.AnalysisVersion).Msg("pipeline worker started")
	for {
		if ctx.Err() != nil {
			d.logger.Info().Msg("pipeline worker stopped")
			return nil
		}

		cycle, err := d.RunOnce(ctx)
		switch {
		case err != nil:
			d.logger.Error().Err(err).Msg("pipeline cycle failed")
		case cycle.Idle:
			d.logger.Debug().Dur("poll", d.cfg.IdlePoll).Msg("no qualifying article")
		default:
			continue
		}

		if err := d.sleep(ctx, d.cfg.IdlePoll); err != nil {
			d.logger.Info().Msg("pipeline worker stopped")
			return nil
		}
	}
}

// RunOnce processes at most one article. The error return is reserved for
// store failures while selecting or claiming work; per-article failures are
// reported in the cycle.
func (d *Driver) RunOnce(ctx context.Context) (Cycle, error) {
	started := globaltime.UTC()

	article, err := d.store.NextQualifying(ctx, d.cfg.AnalysisVersion, started)
	if err != nil {
		return Cycle{}, fmt.Errorf("select qualifying article: %w", err)
	}
	if article == nil {
		cycle := Cycle{Idle: true, Outcome: OutcomeIdle, StartedAt: started, FinishedAt: globaltime.UTC()}
		d.record(cycle)
		return cycle, nil
	}

	claim := news.Claim{
		ArticleID:   article.ID,
		PrevType:    article.AnalysisType,
		PrevVersion: article.AnalysisVersion,
		Worker:      d.cfg.WorkerID,
		Until:       started.Add(d.cfg.LeaseTTL),
	}
	claimed, err := d.store.Claim(ctx, claim)
	if err != nil {
		return Cycle{}, fmt.Errorf("claim article %d: %w", article.ID, err)
	}
	if !claimed {
		cycle := Cycle{Outcome: OutcomeClaimLost, ArticleID: article.ID, StartedAt: started, FinishedAt: globaltime.UTC()}
		d.record(cycle)
		return cycle, nil
	}

	// External calls run to their own timeouts even during shutdown.
	work := context.WithoutCancel(ctx)
	cycle := d.process(work, claim, *article)
	cycle.StartedAt = started
	cycle.FinishedAt = globaltime.UTC()
	if cycle.Err != nil {
		cycle.Error = cycle.Err.Error()
	}
	d.record(cycle)

	event := d.logger.Info()
	if cycle.Err != nil {
		event = d.logger.Warn().Err(cycle.Err)
	}
	event.
		Int64("article_id", cycle.ArticleID).
		Str("outcome", string(cycle.Outcome)).
		Str("analysis_type", string(cycle.AnalysisType)).
		Dur("elapsed", cycle.FinishedAt.Sub(started)).
		Msg("pipeline cycle finished")

	if d.cfg.Delay > 0 {
		_ = d.sleep(ctx, d.cfg.Delay)
	}
	return cycle, nil
}

func (d *Driver) process(ctx context.Context, claim news.Claim, article news.Article) Cycle {
	cycle := Cycle{ArticleID: article.ID}
	if article.Country == "" {
		article.Country = d.cfg.DefaultCountry
	}

	classification := d.gate.Classify(ctx, article.Candidate)
	if classification.IsJunk {
		return d.deleteJunk(ctx, claim, cycle, "gatekeeper")
	}

	result := d.analyzer.Analyze(ctx, analysis.Request{
		Article:      article,
		Depth:        classification.Depth,
		CategoryHint: classification.Category,
	})
	switch result.Outcome {
	case analysis.OutcomeJunk:
		return d.deleteJunk(ctx, claim, cycle, "analysis")
	case analysis.OutcomeFailed:
		return d.postpone(ctx, claim, cycle, result.Err)
	}

	now := globaltime.UTC()
	article.AnalysisType = result.AnalysisType
	article.AnalysisVersion = d.cfg.AnalysisVersion
	article.Scores = result.Scores
	article.DegradedFields = result.DegradedFields
	article.AnalyzedAt = &now
	article.ClusterID = nil
	article.DuplicateOf = nil
	cycle.Outcome = OutcomeAnalyzed

	if article.AnalysisType == news.AnalysisFull && article.HasTopic() {
		d.ensureEmbedding(ctx, &article)
		decision := d.clusters.Assign(ctx, cluster.Input{
			ArticleID: article.ID,
			Embedding: article.Embedding,
			Country:   article.Country,
			Category:  article.Scores.Category,
			Topic:     article.Scores.ClusterTopic,
		})
		cycle.ClusterTier = decision.Kind
		article.ClusterID = decision.ClusterID
		if decision.Kind == cluster.KindDuplicate && decision.Inherit != nil {
			article.Scores = *decision.Inherit
			if decision.InheritType != "" && decision.InheritType != news.AnalysisPending {
				article.AnalysisType = decision.InheritType
			}
			article.DuplicateOf = decision.DuplicateOf
			article.DegradedFields = nil
			cycle.Outcome = OutcomeDuplicate
		}
		if decision.Degraded {
			article.DegradedFields = append(article.DegradedFields, "clusterId")
		}
	}

	cycle.AnalysisType = article.AnalysisType
	cycle.ClusterID = article.ClusterID
	cycle.DuplicateOf = article.DuplicateOf
	cycle.Degraded = article.DegradedFields

	if err := d.store.SaveAnalysis(ctx, claim, article); err != nil {
		if errors.Is(err, news.ErrClaimLost) {
			cycle.Outcome = OutcomeClaimLost
			cycle.Err = err
			return cycle
		}
		return d.postpone(ctx, claim, cycle, fmt.Errorf("save analysis: %w", err))
	}
	return cycle
}

// postpone records a failed cycle and holds the article until RetryBackoff
// elapses, leaving it Pending so newer articles are processed in the meantime.
func (d *Driver) postpone(ctx context.Context, claim news.Claim, cycle Cycle, cause error) Cycle {
	retryAt := globaltime.UTC().Add(d.cfg.RetryBackoff)
	cycle.Outcome = OutcomeFailed
	cycle.Err = cause
	cycle.RetryAt = &retryAt
	if err := d.store.Postpone(ctx, claim, retryAt); err != nil {
		cycle.Err = errors.Join(cause, fmt.Errorf("postpone article: %w", err))
	}
	return cycle
}

func (d *Driver) ensureEmbedding(ctx context.Context, article *news.Article) {
	if len(article.Embedding) > 0 || d.embedder == nil {
		return
	}
	vector, err := d.embedder.EmbedArticle(ctx, *article)
	if err != nil {
		d.logger.Warn().Err(err).Int64("article_id", article.ID).Msg("embedding failed, clustering without vector")
		return
	}
	article.Embedding = vector
}

func (d *Driver) deleteJunk(ctx context.Context, claim news.Claim, cycle Cycle, stage string) Cycle {
	cycle.Outcome = OutcomeDeleted
	if err := d.store.Delete(ctx, claim); err != nil {
		cycle.Outcome = OutcomeFailed
		cycle.Err = fmt.Errorf("delete junk article: %w", err)
		return cycle
	}
	d.logger.Info().Int64("article_id", claim.ArticleID).Str("stage", stage).Msg("junk article deleted")
	return cycle
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
