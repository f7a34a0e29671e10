package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/narrative/internal/filter"
	"horse.fit/narrative/internal/globaltime"
	"horse.fit/narrative/internal/news"
	payloadschema "horse.fit/narrative/schema"
)

type Store interface {
	// InsertPending stores a pending article unless its URL already exists.
	InsertPending(ctx context.Context, article news.Article) (int64, bool, error)
}

type Service struct {
	store  Store
	filter *filter.Filter
	logger zerolog.Logger
}

type Result struct {
	Source     string                `json:"source"`
	Received   int                   `json:"received"`
	Accepted   int                   `json:"accepted"`
	Inserted   int                   `json:"inserted"`
	Existing   int                   `json:"existing"`
	Rejected   map[filter.Reason]int `json:"rejected"`
	ArticleIDs []int64               `json:"article_ids"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
}

func NewService(store Store, f *filter.Filter, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		filter: f,
		logger: logger,
	}
}

// IngestPayload validates a raw candidate batch and ingests its articles.
func (s *Service) IngestPayload(ctx context.Context, payload []byte, defaultCountry string) (Result, error) {
	batch, candidates, err := payloadschema.ValidateCandidateBatch(payload, defaultCountry)
	if err != nil {
		return Result{}, err
	}
	return s.IngestBatch(ctx, batch.Source, candidates)
}

// IngestBatch filters a batch and stores the survivors as Pending articles.
// Insertion stops at the first store error; rows already written stay.
func (s *Service) IngestBatch(ctx context.Context, source string, candidates []news.Candidate) (Result, error) {
	if s == nil || s.store == nil || s.filter == nil {
		return Result{}, fmt.Errorf("ingest service is not initialized")
	}

	result := Result{
		Source:    strings.TrimSpace(source),
		Received:  len(candidates),
		StartedAt: globaltime.UTC(),
	}

	report := s.filter.Evaluate(candidates)
	result.Accepted = len(report.Accepted)
	result.Rejected = report.Counts()

	for _, candidate := range report.Accepted {
		id, inserted, err := s.store.InsertPending(ctx, news.Pending(candidate))
		if err != nil {
			result.FinishedAt = globaltime.UTC()
			return result, fmt.Errorf("insert candidate %q: %w", candidate.URL, err)
		}
		if inserted {
			result.Inserted++
			result.ArticleIDs = append(result.ArticleIDs, id)
		} else {
			result.Existing++
		}
	}
	result.FinishedAt = globaltime.UTC()

	s.logger.Info().
		Str("source", result.Source).
		Int("received", result.Received).
		Int("accepted", result.Accepted).
		Int("inserted", result.Inserted).
		Int("existing", result.Existing).
		Dur("elapsed", result.FinishedAt.Sub(result.StartedAt)).
		Msg("candidate batch ingested")
	return result, nil
}
