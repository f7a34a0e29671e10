package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/narrative/internal/keypool"
	"horse.fit/narrative/internal/news"
)

const ProviderEmbedding = "embedding"

type EmbedderConfig struct {
	Model      string
	Dimensions int32
	Timeout    time.Duration
}

// Embedder computes article vectors for the clustering tiers.
type Embedder struct {
	provider Provider
	keys     *keypool.Manager
	cfg      EmbedderConfig
	logger   zerolog.Logger
}

func NewEmbedder(provider Provider, keys *keypool.Manager, cfg EmbedderConfig, logger zerolog.Logger) *Embedder {
	if cfg.Model == "" {
		cfg.Model = "gemini-embedding-001"
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 768
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Embedder{provider: provider, keys: keys, cfg: cfg, logger: logger}
}

func (e *Embedder) Dimensions() int32 {
	return e.cfg.Dimensions
}

// EmbedArticle embeds the title and description of an article.
func (e *Embedder) EmbedArticle(ctx context.Context, article news.Article) ([]float32, error) {
	text := strings.TrimSpace(article.Title + "\n\n" + article.Description)
	if text == "" {
		return nil, fmt.Errorf("article %d has no text to embed", article.ID)
	}

	vector, err := keypool.Execute(ctx, e.keys, ProviderEmbedding, article.Context(), func(ctx context.Context, key string) ([]float32, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
		return e.provider.EmbedContent(callCtx, key, e.cfg.Model, text, e.cfg.Dimensions)
	})
	if err != nil {
		return nil, err
	}
	if int32(len(vector)) != e.cfg.Dimensions {
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(vector), e.cfg.Dimensions)
	}
	e.logger.Debug().Int64("article_id", article.ID).Int("dimensions", len(vector)).Msg("article embedded")
	return vector, nil
}
