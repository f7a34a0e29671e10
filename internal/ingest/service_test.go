package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/narrative/internal/filter"
	"horse.fit/narrative/internal/memstore"
	"horse.fit/narrative/internal/news"
)

const description = "Lawmakers debated the measure for hours before a final vote late on Tuesday night, " +
	"with supporters arguing it would stabilize funding for schools, roads and hospitals while critics " +
	"warned about rising deficits and the long term cost to taxpayers across the country."

func newTestFilter() *filter.Filter {
	return filter.New(filter.DefaultConfig(), zerolog.Nop()).WithLanguageDetector(func(string) string { return "en" })
}

func batch() []news.Candidate {
	published := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	return []news.Candidate{
		{
			Title:       "Senate Passes Sweeping Budget Bill After Long Debate",
			Description: description,
			URL:         "https://example.com/budget",
			ImageURL:    "https://example.com/budget.jpg",
			SourceName:  "Reuters",
			Country:     "us",
			PublishedAt: published,
		},
		{
			Title:       "Wildfire Forces Thousands To Evacuate Northern Towns",
			Description: description,
			URL:         "https://example.com/wildfire",
			ImageURL:    "https://example.com/wildfire.jpg",
			SourceName:  "Local Herald",
			Country:     "us",
			PublishedAt: published.Add(time.Hour),
		},
		{
			Title:       "Senate Passes Sweeping Budget Bill After Long Debate",
			Description: description,
			URL:         "https://example.com/budget",
			ImageURL:    "https://example.com/budget.jpg",
			SourceName:  "Reuters",
			Country:     "us",
			PublishedAt: published,
		},
	}
}

func TestIngestBatchStoresAcceptedCandidatesAsPending(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := NewService(store, newTestFilter(), zerolog.Nop())

	result, err := svc.IngestBatch(context.Background(), "newsapi", batch())
	if err != nil {
		t.Fatalf("IngestBatch() error = %v", err)
	}
	if result.Received != 3 || result.Accepted != 2 || result.Inserted != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Rejected[filter.ReasonDuplicateURL] != 1 {
		t.Fatalf("expected one duplicate URL rejection, got %v", result.Rejected)
	}

	articles := store.All()
	if len(articles) != 2 {
		t.Fatalf("expected 2 stored articles, got %d", len(articles))
	}
	for _, article := range articles {
		if article.AnalysisType != news.AnalysisPending {
			t.Fatalf("expected Pending article, got %s", article.AnalysisType)
		}
		if article.Complexity == nil || article.Language != "en" {
			t.Fatalf("expected complexity and language to be attached, got %+v", article.Candidate)
		}
	}
}

func TestIngestBatchSkipsExistingURLs(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := NewService(store, newTestFilter(), zerolog.Nop())

	if _, err := svc.IngestBatch(context.Background(), "newsapi", batch()); err != nil {
		t.Fatalf("first IngestBatch() error = %v", err)
	}
	result, err := svc.IngestBatch(context.Background(), "newsapi", batch())
	if err != nil {
		t.Fatalf("second IngestBatch() error = %v", err)
	}
	if result.Inserted != 0 || result.Existing != 2 {
		t.Fatalf("expected both URLs to already exist, got %+v", result)
	}
	if len(store.All()) != 2 {
		t.Fatalf("expected no new rows, got %d", len(store.All()))
	}
}

type failingStore struct{}

func (failingStore) InsertPending(context.Context, news.Article) (int64, bool, error) {
	return 0, false, errors.New("connection reset")
}

func TestIngestBatchReturnsStoreError(t *testing.T) {
	t.Parallel()

	svc := NewService(failingStore{}, newTestFilter(), zerolog.Nop())
	result, err := svc.IngestBatch(context.Background(), "newsapi", batch())
	if err == nil {
		t.Fatalf("expected store error")
	}
	if result.Accepted != 2 || result.Inserted != 0 {
		t.Fatalf("unexpected partial result %+v", result)
	}
}

func TestIngestPayloadValidatesBeforeFiltering(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	svc := NewService(store, newTestFilter(), zerolog.Nop())

	payload := []byte(`{"payload_version":"v1","source":"rss","articles":[
		{"title":"Wildfire Forces Thousands To Evacuate Northern Towns","description":"` + description + `",
		 "url":"https://example.com/wildfire","image_url":"https://example.com/w.jpg",
		 "source_name":"NPR","published_at":"2026-02-13T14:00:00Z"}
	]}`)
	result, err := svc.IngestPayload(context.Background(), payload, "ca")
	if err != nil {
		t.Fatalf("IngestPayload() error = %v", err)
	}
	if result.Source != "rss" || result.Inserted != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if got := store.All()[0].Country; got != "ca" {
		t.Fatalf("expected default country ca, got %q", got)
	}

	if _, err := svc.IngestPayload(context.Background(), []byte(`{"payload_version":"v2"}`), "us"); err == nil {
		t.Fatalf("expected invalid payload to fail")
	}
}
