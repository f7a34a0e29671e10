package cluster

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/narrative/internal/globaltime"
	"horse.fit/narrative/internal/news"
	"horse.fit/narrative/internal/similarity"
)

const CounterName = "cluster_id"

// State is a step of the assignment state machine.
type State string

const (
	StateCheckingSemanticDuplicate State = "checking_semantic_duplicate"
	StateCheckingVectorCluster     State = "checking_vector_cluster"
	StateCheckingFieldFallback     State = "checking_field_fallback"
	StateAllocatingNewCluster      State = "allocating_new_cluster"
	StateAssigned                  State = "assigned"
)

type Kind string

const (
	KindDuplicate  Kind = "duplicate"
	KindVector     Kind = "vector"
	KindFieldMatch Kind = "field_match"
	KindNew        Kind = "new"
)

// Decision is the outcome of one assignment. A duplicate carries the original
// article and its scores; every other kind carries a cluster id.
type Decision struct {
	Kind        Kind
	ClusterID   *int64
	DuplicateOf *int64
	Inherit     *news.ScoreSet
	// InheritType is the analysis type of the original for duplicates.
	InheritType news.AnalysisType
	Similarity  float64
	// Degraded is set when the id came from the timestamp fallback.
	Degraded bool
}

type Input struct {
	ArticleID int64
	Embedding []float32
	Country   string
	Category  string
	Topic     string
}

type Config struct {
	DuplicateThreshold float64
	TopicThreshold     float64
	FieldSimilarity    float64
	DuplicateWindow    time.Duration
	TopicWindow        time.Duration
	FieldScanLimit     int
}

func DefaultConfig() Config {
	return Config{
		DuplicateThreshold: 0.92,
		TopicThreshold:     0.82,
		FieldSimilarity:    0.8,
		DuplicateWindow:    24 * time.Hour,
		TopicWindow:        7 * 24 * time.Hour,
		FieldScanLimit:     50,
	}
}

type Engine struct {
	store   Store
	counter Counter
	cfg     Config
	logger  zerolog.Logger
}

func NewEngine(store Store, counter Counter, cfg Config, logger zerolog.Logger) *Engine {
	defaults := DefaultConfig()
	if cfg.DuplicateThreshold <= 0 {
		cfg.DuplicateThreshold = defaults.DuplicateThreshold
	}
	if cfg.TopicThreshold <= 0 {
		cfg.TopicThreshold = defaults.TopicThreshold
	}
	if cfg.FieldSimilarity <= 0 {
		cfg.FieldSimilarity = defaults.FieldSimilarity
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = defaults.DuplicateWindow
	}
	if cfg.TopicWindow <= 0 {
		cfg.TopicWindow = defaults.TopicWindow
	}
	if cfg.FieldScanLimit <= 0 {
		cfg.FieldScanLimit = defaults.FieldScanLimit
	}
	return &Engine{store: store, counter: counter, cfg: cfg, logger: logger}
}

// Assign walks the tiers in order and always produces a decision. Lookup
// failures skip to the next tier; counter failures fall back to a
// timestamp-derived id.
func (e *Engine) Assign(ctx context.Context, in Input) Decision {
	now := globaltime.UTC()
	state := StateCheckingSemanticDuplicate
	var decision Decision

	for state != StateAssigned {
		switch state {
		case StateCheckingSemanticDuplicate:
			state = StateCheckingVectorCluster
			if d, ok := e.semanticDuplicate(ctx, in, now); ok {
				decision, state = d, StateAssigned
			}
		case StateCheckingVectorCluster:
			state = StateCheckingFieldFallback
			if d, ok := e.vectorCluster(ctx, in, now); ok {
				decision, state = d, StateAssigned
			}
		case StateCheckingFieldFallback:
			state = StateAllocatingNewCluster
			if d, ok := e.fieldFallback(ctx, in, now); ok {
				decision, state = d, StateAssigned
			}
		case StateAllocatingNewCluster:
			decision, state = e.allocate(ctx, in, now), StateAssigned
		}
	}

	event := e.logger.Info().
		Int64("article_id", in.ArticleID).
		Str("tier", string(decision.Kind)).
		Str("country", in.Country)
	if decision.ClusterID != nil {
		event = event.Int64("cluster_id", *decision.ClusterID)
	}
	if decision.DuplicateOf != nil {
		event = event.Int64("duplicate_of", *decision.DuplicateOf)
	}
	event.Msg("cluster assigned")
	return decision
}

func (e *Engine) semanticDuplicate(ctx context.Context, in Input, now time.Time) (Decision, bool) {
	if len(in.Embedding) == 0 {
		return Decision{}, false
	}
	neighbor, err := e.store.NearestArticle(ctx, VectorQuery{
		Embedding: in.Embedding,
		Country:   in.Country,
		Since:     now.Add(-e.cfg.DuplicateWindow),
		ExcludeID: in.ArticleID,
	})
	if err != nil {
		e.lookupFailed(in, StateCheckingSemanticDuplicate, err)
		return Decision{}, false
	}
	if neighbor == nil || neighbor.Similarity < e.cfg.DuplicateThreshold {
		return Decision{}, false
	}

	original := neighbor.ArticleID
	scores := neighbor.Scores
	return Decision{
		Kind:        KindDuplicate,
		ClusterID:   neighbor.ClusterID,
		DuplicateOf: &original,
		Inherit:     &scores,
		InheritType: neighbor.AnalysisType,
		Similarity:  neighbor.Similarity,
	}, true
}

func (e *Engine) vectorCluster(ctx context.Context, in Input, now time.Time) (Decision, bool) {
	if len(in.Embedding) == 0 {
		return Decision{}, false
	}
	neighbor, err := e.store.NearestArticle(ctx, VectorQuery{
		Embedding:      in.Embedding,
		Country:        in.Country,
		Since:          now.Add(-e.cfg.TopicWindow),
		ExcludeID:      in.ArticleID,
		RequireCluster: true,
	})
	if err != nil {
		e.lookupFailed(in, StateCheckingVectorCluster, err)
		return Decision{}, false
	}
	if neighbor == nil || neighbor.ClusterID == nil || neighbor.Similarity < e.cfg.TopicThreshold {
		return Decision{}, false
	}
	clusterID := *neighbor.ClusterID
	return Decision{Kind: KindVector, ClusterID: &clusterID, Similarity: neighbor.Similarity}, true
}

func (e *Engine) fieldFallback(ctx context.Context, in Input, now time.Time) (Decision, bool) {
	topic := strings.TrimSpace(in.Topic)
	if topic == "" {
		return Decision{}, false
	}
	candidates, err := e.store.RecentClusteredArticles(ctx, TopicQuery{
		Category:  in.Category,
		Country:   in.Country,
		Since:     now.Add(-e.cfg.TopicWindow),
		ExcludeID: in.ArticleID,
		Limit:     e.cfg.FieldScanLimit,
	})
	if err != nil {
		e.lookupFailed(in, StateCheckingFieldFallback, err)
		return Decision{}, false
	}
	for _, candidate := range candidates {
		other := strings.TrimSpace(candidate.ClusterTopic)
		if other == "" {
			continue
		}
		score := similarity.Score(topic, other)
		if strings.EqualFold(topic, other) || score > e.cfg.FieldSimilarity {
			clusterID := candidate.ClusterID
			return Decision{Kind: KindFieldMatch, ClusterID: &clusterID, Similarity: score}, true
		}
	}
	return Decision{}, false
}

func (e *Engine) allocate(ctx context.Context, in Input, now time.Time) Decision {
	id, err := e.nextClusterID(ctx)
	if err != nil {
		fallback := now.Unix()
		e.logger.Error().
			Err(err).
			Int64("article_id", in.ArticleID).
			Int64("cluster_id", fallback).
			Msg("cluster counter unavailable, using timestamp id")
		return Decision{Kind: KindNew, ClusterID: &fallback, Degraded: true}
	}
	return Decision{Kind: KindNew, ClusterID: &id}
}

// nextClusterID increments the shared counter. A first value of 1 means the
// counter is fresh, so it is moved past any ids already in storage.
func (e *Engine) nextClusterID(ctx context.Context) (int64, error) {
	id, err := e.counter.IncrementCounter(ctx, CounterName)
	if err != nil {
		return 0, err
	}
	if id != 1 {
		return id, nil
	}

	maxStored, err := e.counter.MaxClusterID(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("cluster counter reconcile skipped")
		return id, nil
	}
	if maxStored < 1 {
		return id, nil
	}
	advanced, err := e.counter.AdvanceCounter(ctx, CounterName, maxStored)
	if err != nil {
		return 0, err
	}
	e.logger.Warn().
		Int64("max_stored", maxStored).
		Int64("cluster_id", advanced).
		Msg("cluster counter reconciled past stored ids")
	return advanced, nil
}

func (e *Engine) lookupFailed(in Input, state State, err error) {
	e.logger.Warn().
		Err(err).
		Int64("article_id", in.ArticleID).
		Str("state", string(state)).
		Msg("cluster lookup failed, trying next tier")
}
