package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"horse.fit/narrative/internal/analysis"
	"horse.fit/narrative/internal/cache"
	"horse.fit/narrative/internal/cluster"
	"horse.fit/narrative/internal/config"
	"horse.fit/narrative/internal/filter"
	"horse.fit/narrative/internal/keypool"
	"horse.fit/narrative/internal/pipeline"
)

const gatekeeperCachePrefix = "narrative:"

// analysisStack is everything that talks to the AI provider.
type analysisStack struct {
	keys         *keypool.Manager
	gatekeeper   *analysis.Gatekeeper
	orchestrator *analysis.Orchestrator
	embedder     *analysis.Embedder
	cache        cache.Cache
	closeCache   func()
}

func (s *analysisStack) Close() {
	if s != nil && s.closeCache != nil {
		s.closeCache()
	}
}

// newAnalysisStack wires keys, gatekeeper, orchestrator and embedder. Gatekeeper
// results go to Redis when configured, otherwise to local.
func newAnalysisStack(ctx context.Context, cfg *config.Config, provider analysis.Provider, local cache.Cache, logger zerolog.Logger) (*analysisStack, error) {
	if err := cfg.RequireProviders(); err != nil {
		return nil, err
	}

	keys := keypool.NewManager(logger, keypool.Options{
		MaxAttempts:    cfg.RetryMaxAttempts,
		ErrorThreshold: cfg.KeyErrorThreshold,
	})
	for provider, list := range map[string][]string{
		analysis.ProviderAnalysis:   cfg.AnalysisKeys(),
		analysis.ProviderEmbedding:  cfg.AnalysisKeys(),
		analysis.ProviderGatekeeper: cfg.GatekeeperKeys(),
	} {
		if err := keys.Register(provider, list); err != nil {
			return nil, fmt.Errorf("register %s keys: %w", provider, err)
		}
	}

	if local == nil {
		local = cache.Nop{}
	}
	stack := &analysisStack{keys: keys, cache: local}
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedis(cfg.RedisURL, gatekeeperCachePrefix)
		if err != nil {
			return nil, fmt.Errorf("open redis cache: %w", err)
		}
		if err := redisCache.Ping(ctx); err != nil {
			_ = redisCache.Close()
			return nil, fmt.Errorf("ping redis cache: %w", err)
		}
		stack.cache = redisCache
		stack.closeCache = func() { _ = redisCache.Close() }
	} else if _, ok := local.(cache.Nop); ok {
		logger.Warn().Msg("REDIS_URL not set, gatekeeper results are not cached")
	}

	stack.gatekeeper = analysis.NewGatekeeper(provider, keys, stack.cache, analysis.GatekeeperConfig{
		Model:             cfg.GatekeeperModel,
		Timeout:           cfg.GatekeeperTimeout,
		RequestsPerMinute: cfg.GatekeeperRPM,
	}, logger)

	orchestratorCfg := analysis.DefaultOrchestratorConfig()
	orchestratorCfg.Model = cfg.AnalysisModel
	orchestratorCfg.Timeout = cfg.AnalysisTimeout
	stack.orchestrator = analysis.NewOrchestrator(provider, keys, orchestratorCfg, logger)

	stack.embedder = analysis.NewEmbedder(provider, keys, analysis.EmbedderConfig{
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
		Timeout:    cfg.EmbeddingTimeout,
	}, logger)
	return stack, nil
}

func newFilter(cfg *config.Config, logger zerolog.Logger) (*filter.Filter, error) {
	rules, err := filter.LoadConfig(cfg.FilterConfigPath)
	if err != nil {
		return nil, err
	}
	return filter.New(rules, logger), nil
}

// clusterStore is satisfied by both the Postgres pool and the in-memory store.
type clusterStore interface {
	cluster.Store
	cluster.Counter
}

func newDriver(cfg *config.Config, store pipeline.Store, clusters clusterStore, stack *analysisStack, logger zerolog.Logger) *pipeline.Driver {
	clusterCfg := cluster.DefaultConfig()
	clusterCfg.DuplicateThreshold = cfg.ClusterDuplicateThreshold
	clusterCfg.TopicThreshold = cfg.ClusterTopicThreshold
	engine := cluster.NewEngine(clusters, clusters, clusterCfg, logger)

	return pipeline.NewDriver(store, stack.gatekeeper, stack.orchestrator, stack.embedder, engine, pipeline.Config{
		AnalysisVersion: cfg.AnalysisVersion,
		DefaultCountry:  cfg.DefaultCountry,
		Delay:           cfg.PipelineDelay,
		IdlePoll:        cfg.PipelineIdlePoll,
		LeaseTTL:        cfg.PipelineLeaseTTL,
		RetryBackoff:    cfg.PipelineRetryBackoff,
	}, logger)
}
