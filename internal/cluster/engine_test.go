package cluster_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/narrative/internal/cluster"
	"horse.fit/narrative/internal/memstore"
	"horse.fit/narrative/internal/news"
)

func int64Ptr(v int64) *int64 { return &v }

func newEngine(store *memstore.Store) *cluster.Engine {
	return cluster.NewEngine(store, store, cluster.DefaultConfig(), zerolog.Nop())
}

func analyzed(url, country, category, topic string, publishedAgo time.Duration, clusterID *int64, embedding []float32) news.Article {
	return news.Article{
		Candidate: news.Candidate{
			Title:       "Stored " + url,
			URL:         url,
			Country:     country,
			PublishedAt: time.Now().UTC().Add(-publishedAgo),
			Embedding:   embedding,
		},
		AnalysisType: news.AnalysisFull,
		Scores: news.ScoreSet{
			Category:         category,
			ClusterTopic:     topic,
			Summary:          "Original summary for " + url,
			CredibilityScore: 88,
		},
		ClusterID: clusterID,
	}
}

func TestAssignSemanticDuplicateInheritsOriginal(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	originalID := store.Put(analyzed("https://a.example/orig", "us", "Politics", "Budget", time.Hour, int64Ptr(7), []float32{1, 0, 0}))

	decision := newEngine(store).Assign(context.Background(), cluster.Input{
		ArticleID: 99,
		Embedding: []float32{1, 0, 0},
		Country:   "us",
		Category:  "Politics",
		Topic:     "Budget",
	})

	if decision.Kind != cluster.KindDuplicate {
		t.Fatalf("expected duplicate, got %s", decision.Kind)
	}
	if decision.DuplicateOf == nil || *decision.DuplicateOf != originalID {
		t.Fatalf("expected duplicate of %d, got %v", originalID, decision.DuplicateOf)
	}
	if decision.ClusterID == nil || *decision.ClusterID != 7 {
		t.Fatalf("expected original's cluster 7, got %v", decision.ClusterID)
	}
	if decision.Inherit == nil || decision.Inherit.CredibilityScore != 88 {
		t.Fatalf("expected inherited scores, got %+v", decision.Inherit)
	}
}

func TestAssignNeverMatchesAcrossCountries(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	store.Put(analyzed("https://a.example/gb", "gb", "Politics", "Budget", time.Hour, int64Ptr(7), []float32{1, 0, 0}))

	decision := newEngine(store).Assign(context.Background(), cluster.Input{
		ArticleID: 99,
		Embedding: []float32{1, 0, 0},
		Country:   "us",
		Category:  "Politics",
		Topic:     "Budget",
	})
	if decision.Kind != cluster.KindNew {
		t.Fatalf("expected a new cluster for a different country, got %s", decision.Kind)
	}
	if decision.ClusterID == nil || *decision.ClusterID != 8 {
		t.Fatalf("expected counter reconciled past stored id 7, got %v", decision.ClusterID)
	}
}

func TestAssignVectorTopicalMatch(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	// Outside the duplicate window but inside the topic window.
	store.Put(analyzed("https://a.example/old", "us", "Politics", "Budget", 3*24*time.Hour, int64Ptr(5), []float32{1, 0, 0}))
	// Inside the duplicate window but below the duplicate threshold.
	store.Put(analyzed("https://a.example/near", "us", "Politics", "Budget", time.Hour, int64Ptr(6), []float32{0.85, 0.52678, 0}))

	decision := newEngine(store).Assign(context.Background(), cluster.Input{
		ArticleID: 99,
		Embedding: []float32{1, 0, 0},
		Country:   "us",
	})
	if decision.Kind != cluster.KindVector {
		t.Fatalf("expected vector match, got %s", decision.Kind)
	}
	if decision.ClusterID == nil || *decision.ClusterID != 5 {
		t.Fatalf("expected nearest cluster 5, got %v", decision.ClusterID)
	}
	if decision.DuplicateOf != nil || decision.Inherit != nil {
		t.Fatalf("expected no inheritance for topical match")
	}
}

func TestAssignFieldFallbackPicksMostRecent(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	store.Put(analyzed("https://a.example/older", "us", "Politics", "Federal budget vote", 5*24*time.Hour, int64Ptr(3), nil))
	store.Put(analyzed("https://a.example/newer", "us", "Politics", "Federal Budget Vote", 2*24*time.Hour, int64Ptr(9), nil))
	store.Put(analyzed("https://a.example/sports", "us", "Sports", "Federal budget vote", time.Hour, int64Ptr(11), nil))
	store.Put(analyzed("https://a.example/stale", "us", "Politics", "Federal budget vote", 9*24*time.Hour, int64Ptr(2), nil))

	decision := newEngine(store).Assign(context.Background(), cluster.Input{
		ArticleID: 99,
		Country:   "us",
		Category:  "Politics",
		Topic:     "federal budget vote",
	})
	if decision.Kind != cluster.KindFieldMatch {
		t.Fatalf("expected field match, got %s", decision.Kind)
	}
	if decision.ClusterID == nil || *decision.ClusterID != 9 {
		t.Fatalf("expected most recent matching cluster 9, got %v", decision.ClusterID)
	}
}

func TestAssignNewClusterFromFreshCounter(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	engine := newEngine(store)

	first := engine.Assign(context.Background(), cluster.Input{ArticleID: 1, Country: "us", Topic: "Storm"})
	second := engine.Assign(context.Background(), cluster.Input{ArticleID: 2, Country: "us", Topic: "Election"})
	if first.Kind != cluster.KindNew || *first.ClusterID != 1 {
		t.Fatalf("expected first new cluster id 1, got %s %v", first.Kind, first.ClusterID)
	}
	if *second.ClusterID != 2 {
		t.Fatalf("expected second new cluster id 2, got %d", *second.ClusterID)
	}
}

func TestAssignReconcilesCounterPastStoredIDs(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	store.Put(analyzed("https://a.example/legacy", "gb", "World", "Legacy", time.Hour, int64Ptr(40), nil))

	decision := newEngine(store).Assign(context.Background(), cluster.Input{ArticleID: 99, Country: "us", Topic: "Storm"})
	if decision.ClusterID == nil || *decision.ClusterID != 41 {
		t.Fatalf("expected reconciled id 41, got %v", decision.ClusterID)
	}

	next, err := store.IncrementCounter(context.Background(), cluster.CounterName)
	if err != nil {
		t.Fatalf("IncrementCounter() error = %v", err)
	}
	if next != 42 {
		t.Fatalf("expected counter to continue from 41, got %d", next)
	}
}

func TestAssignFallsBackToTimestampWhenCounterFails(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	store.FailCounter(errors.New("database unavailable"))

	before := time.Now().Unix()
	decision := newEngine(store).Assign(context.Background(), cluster.Input{ArticleID: 99, Country: "us"})
	after := time.Now().Unix()

	if !decision.Degraded || decision.Kind != cluster.KindNew {
		t.Fatalf("expected degraded new cluster, got %+v", decision)
	}
	if *decision.ClusterID < before || *decision.ClusterID > after {
		t.Fatalf("expected timestamp id in [%d,%d], got %d", before, after, *decision.ClusterID)
	}
}

func TestAssignSkipsFailedLookups(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	store.Put(analyzed("https://a.example/orig", "us", "Politics", "Budget", time.Hour, int64Ptr(7), []float32{1, 0, 0}))
	store.FailLookups(errors.New("vector index unavailable"))

	decision := newEngine(store).Assign(context.Background(), cluster.Input{
		ArticleID: 99,
		Embedding: []float32{1, 0, 0},
		Country:   "us",
		Category:  "Politics",
		Topic:     "Budget",
	})
	if decision.Kind != cluster.KindNew || *decision.ClusterID != 8 {
		t.Fatalf("expected lookups skipped and a new cluster 8, got %s %v", decision.Kind, decision.ClusterID)
	}
}

func TestAssignConcurrentAllocationsAreUnique(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	engine := newEngine(store)

	const workers = 32
	ids := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decision := engine.Assign(context.Background(), cluster.Input{ArticleID: int64(i + 1), Country: "us"})
			ids[i] = *decision.ClusterID
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, workers)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("cluster id %d allocated twice: %v", id, ids)
		}
		if id < 1 || id > workers {
			t.Fatalf("expected ids in [1,%d], got %d", workers, id)
		}
		seen[id] = true
	}
}
