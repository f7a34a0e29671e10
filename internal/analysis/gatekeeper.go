package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"horse.fit/narrative/internal/cache"
	"horse.fit/narrative/internal/keypool"
	"horse.fit/narrative/internal/news"
)

const (
	ProviderGatekeeper = "gatekeeper"

	DepthHardNews = "Hard News"
	DepthSoftNews = "Soft News"
	DepthJunk     = "Junk"

	DepthDeep    = "deep"
	DepthShallow = "shallow"

	gatekeeperCacheTTL    = 24 * time.Hour
	gatekeeperCachePrefix = "gatekeeper:v1:"
)

type Classification struct {
	Category   string `json:"category"`
	DepthType  string `json:"depth_type"`
	IsJunk     bool   `json:"is_junk"`
	Depth      string `json:"depth"`
	FailedOpen bool   `json:"-"`
}

// failOpen keeps the article on the cheap path rather than dropping it.
func failOpen() Classification {
	return Classification{
		Category:   defaultCategory,
		DepthType:  DepthSoftNews,
		Depth:      DepthShallow,
		FailedOpen: true,
	}
}

type GatekeeperConfig struct {
	Model             string
	Timeout           time.Duration
	RequestsPerMinute int
}

type Gatekeeper struct {
	provider Provider
	keys     *keypool.Manager
	cache    cache.Cache
	limiter  *rate.Limiter
	cfg      GatekeeperConfig
	logger   zerolog.Logger
}

func NewGatekeeper(provider Provider, keys *keypool.Manager, store cache.Cache, cfg GatekeeperConfig, logger zerolog.Logger) *Gatekeeper {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash-lite"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}
	if store == nil {
		store = cache.Nop{}
	}
	return &Gatekeeper{
		provider: provider,
		keys:     keys,
		cache:    store,
		limiter:  rate.NewLimiter(limit, 1),
		cfg:      cfg,
		logger:   logger,
	}
}

// Classify decides whether a candidate deserves deep analysis. Any failure
// fails open to not-junk Soft News.
func (g *Gatekeeper) Classify(ctx context.Context, c news.Candidate) Classification {
	cacheKey := ""
	if url := strings.TrimSpace(c.URL); url != "" {
		cacheKey = gatekeeperCachePrefix + url
		var cached Classification
		if ok, err := cache.GetJSON(ctx, g.cache, cacheKey, &cached); err != nil {
			g.logger.Warn().Err(err).Str("url", url).Msg("gatekeeper cache read failed")
		} else if ok {
			return cached
		}
	}

	result, err := g.classify(ctx, c)
	if err != nil {
		g.logger.Warn().Err(err).Str("url", c.URL).Msg("gatekeeper failed open")
		return failOpen()
	}

	if cacheKey != "" {
		if err := cache.SetJSON(ctx, g.cache, cacheKey, result, gatekeeperCacheTTL); err != nil {
			g.logger.Warn().Err(err).Str("url", c.URL).Msg("gatekeeper cache write failed")
		}
	}
	return result
}

func (g *Gatekeeper) classify(ctx context.Context, c news.Candidate) (Classification, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return Classification{}, fmt.Errorf("gatekeeper rate limit wait: %w", err)
	}

	generateCfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		MaxOutputTokens:  256,
		ResponseMIMEType: "application/json",
	}
	contents := genai.Text(gatekeeperPrompt(c.Title, c.Description))

	resp, err := keypool.Execute(ctx, g.keys, ProviderGatekeeper, c.Title, func(ctx context.Context, key string) (*genai.GenerateContentResponse, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
		return g.provider.GenerateContent(callCtx, key, g.cfg.Model, contents, generateCfg)
	})
	if err != nil {
		return Classification{}, err
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return Classification{}, ErrNoCandidates
	}

	object, _, ok := extractJSONObject(responseText(resp.Candidates[0]))
	if !ok {
		return Classification{}, ErrNoJSON
	}
	var decoded struct {
		Category string `json:"category"`
		Type     string `json:"type"`
	}
	if err := json.Unmarshal([]byte(object), &decoded); err != nil {
		return Classification{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	depthType, ok := matchFold(decoded.Type, []string{DepthHardNews, DepthSoftNews, DepthJunk})
	if !ok {
		return Classification{}, fmt.Errorf("%w: unknown news type %q", ErrMalformed, decoded.Type)
	}
	category, ok := matchFold(decoded.Category, knownCategories)
	if !ok {
		category = defaultCategory
	}

	out := Classification{
		Category:  category,
		DepthType: depthType,
		IsJunk:    depthType == DepthJunk,
		Depth:     DepthShallow,
	}
	if depthType == DepthHardNews {
		out.Depth = DepthDeep
	}
	return out, nil
}
