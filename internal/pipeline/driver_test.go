package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/narrative/internal/analysis"
	"horse.fit/narrative/internal/cluster"
	"horse.fit/narrative/internal/memstore"
	"horse.fit/narrative/internal/news"
	"horse.fit/narrative/internal/pipeline"
)

type stubClassifier struct {
	result analysis.Classification
	calls  int
}

func (s *stubClassifier) Classify(context.Context, news.Candidate) analysis.Classification {
	s.calls++
	return s.result
}

type stubAnalyzer struct {
	result   analysis.Result
	failURL  string
	requests []analysis.Request
}

func (s *stubAnalyzer) Analyze(_ context.Context, req analysis.Request) analysis.Result {
	s.requests = append(s.requests, req)
	if s.failURL != "" && req.Article.URL == s.failURL {
		return analysis.Result{Outcome: analysis.OutcomeFailed, Err: analysis.ErrBlocked}
	}
	return s.result
}

type stubEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (s *stubEmbedder) EmbedArticle(context.Context, news.Article) ([]float32, error) {
	s.calls++
	return s.vector, s.err
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return nil
}

func hardNews() analysis.Classification {
	return analysis.Classification{Category: "Politics", DepthType: analysis.DepthHardNews, Depth: analysis.DepthDeep}
}

func fullResult(topic string) analysis.Result {
	return analysis.Result{
		Outcome:      analysis.OutcomeAnalyzed,
		AnalysisType: news.AnalysisFull,
		Scores: news.ScoreSet{
			Summary:      "Lawmakers approved the budget.",
			Category:     "Politics",
			Sentiment:    "Neutral",
			ClusterTopic: topic,
			BiasScore:    30,
		},
	}
}

func pendingArticle(url string, published time.Time, embedding []float32) news.Article {
	a := news.Pending(news.Candidate{
		Title:       "Senate passes sweeping budget bill after long debate",
		Description: "The measure now heads to the house for a final vote next week.",
		URL:         url,
		SourceName:  "Reuters",
		Country:     "us",
		PublishedAt: published,
		Embedding:   embedding,
	})
	return a
}

func newDriver(store *memstore.Store, gate pipeline.Classifier, analyzer pipeline.Analyzer, embedder pipeline.Embedder, sleeps *sleepRecorder) *pipeline.Driver {
	engine := cluster.NewEngine(store, store, cluster.DefaultConfig(), zerolog.Nop())
	return pipeline.NewDriver(store, gate, analyzer, embedder, engine, pipeline.Config{
		AnalysisVersion: "v1",
		Delay:           31 * time.Second,
		IdlePoll:        time.Minute,
		LeaseTTL:        10 * time.Minute,
		WorkerID:        "worker-a",
	}, zerolog.Nop()).WithSleep(sleeps.sleep)
}

func TestRunOnceIdleReturnsWithoutDelay(t *testing.T) {
	t.Parallel()

	sleeps := &sleepRecorder{}
	driver := newDriver(memstore.New(), &stubClassifier{}, &stubAnalyzer{}, nil, sleeps)

	cycle, err := driver.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if !cycle.Idle || cycle.Outcome != pipeline.OutcomeIdle {
		t.Fatalf("expected idle cycle, got %+v", cycle)
	}
	if len(sleeps.waits) != 0 {
		t.Fatalf("expected no delay on idle cycle, got %v", sleeps.waits)
	}
}

func TestRunOnceAnalyzesAndClustersFullArticle(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	id := store.Put(pendingArticle("https://example.com/a", time.Now().Add(-time.Hour), nil))

	gate := &stubClassifier{result: hardNews()}
	analyzer := &stubAnalyzer{result: fullResult("Federal budget vote")}
	embedder := &stubEmbedder{vector: []float32{0, 1, 0}}
	sleeps := &sleepRecorder{}
	driver := newDriver(store, gate, analyzer, embedder, sleeps)

	cycle, err := driver.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if cycle.Outcome != pipeline.OutcomeAnalyzed || cycle.ArticleID != id {
		t.Fatalf("unexpected cycle %+v", cycle)
	}
	if len(analyzer.requests) != 1 || analyzer.requests[0].Depth != analysis.DepthDeep || analyzer.requests[0].CategoryHint != "Politics" {
		t.Fatalf("expected analyzer to receive gatekeeper depth and category, got %+v", analyzer.requests)
	}
	if embedder.calls != 1 {
		t.Fatalf("expected one embedding call, got %d", embedder.calls)
	}

	saved, ok := store.Get(id)
	if !ok {
		t.Fatalf("expected article %d to remain stored", id)
	}
	if saved.AnalysisType != news.AnalysisFull || saved.AnalysisVersion != "v1" {
		t.Fatalf("expected Full v1 article, got %s %s", saved.AnalysisType, saved.AnalysisVersion)
	}
	if saved.ClusterID == nil || *saved.ClusterID != 1 {
		t.Fatalf("expected first cluster id 1, got %v", saved.ClusterID)
	}
	if len(saved.Embedding) != 3 {
		t.Fatalf("expected embedding saved with analysis, got %v", saved.Embedding)
	}
	if saved.AnalyzedAt == nil {
		t.Fatalf("expected analyzed timestamp")
	}
	if len(sleeps.waits) != 1 || sleeps.waits[0] != 31*time.Second {
		t.Fatalf("expected single inter-call delay, got %v", sleeps.waits)
	}

	next, err := driver.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce() error = %v", err)
	}
	if !next.Idle {
		t.Fatalf("expected analyzed article to no longer qualify, got %+v", next)
	}
}

func TestRunOnceSemanticDuplicateInheritsOriginal(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	clusterID := int64(5)
	original := pendingArticle("https://example.com/original", time.Now().Add(-2*time.Hour), []float32{1, 0})
	original.AnalysisType = news.AnalysisFull
	original.AnalysisVersion = "v1"
	original.ClusterID = &clusterID
	original.Scores = news.ScoreSet{Summary: "original summary", Category: "Politics", ClusterTopic: "Budget", BiasScore: 12}
	originalID := store.Put(original)
	dupID := store.Put(pendingArticle("https://example.com/copy", time.Now().Add(-time.Hour), []float32{1, 0}))

	embedder := &stubEmbedder{}
	driver := newDriver(store, &stubClassifier{result: hardNews()}, &stubAnalyzer{result: fullResult("Budget vote")}, embedder, &sleepRecorder{})

	cycle, err := driver.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if cycle.Outcome != pipeline.OutcomeDuplicate || cycle.ClusterTier != cluster.KindDuplicate {
		t.Fatalf("expected duplicate cycle, got %+v", cycle)
	}
	if embedder.calls != 0 {
		t.Fatalf("expected stored embedding to be reused, got %d calls", embedder.calls)
	}

	saved, _ := store.Get(dupID)
	if saved.DuplicateOf == nil || *saved.DuplicateOf != originalID {
		t.Fatalf("expected duplicate_of %d, got %v", originalID, saved.DuplicateOf)
	}
	if saved.ClusterID == nil || *saved.ClusterID != clusterID {
		t.Fatalf("expected inherited cluster %d, got %v", clusterID, saved.ClusterID)
	}
	if saved.Scores.Summary != "original summary" || saved.Scores.BiasScore != 12 {
		t.Fatalf("expected inherited scores, got %+v", saved.Scores)
	}
}

func TestRunOnceSentimentOnlySkipsClustering(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	id := store.Put(pendingArticle("https://example.com/soft", time.Now().Add(-time.Hour), nil))

	result := fullResult("Celebrity wedding")
	result.AnalysisType = news.AnalysisSentimentOnly
	embedder := &stubEmbedder{vector: []float32{1}}
	driver := newDriver(store, &stubClassifier{result: analysis.Classification{Category: "Entertainment", Depth: analysis.DepthShallow}}, &stubAnalyzer{result: result}, embedder, &sleepRecorder{})

	if _, err := driver.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	saved, _ := store.Get(id)
	if saved.AnalysisType != news.AnalysisSentimentOnly || saved.ClusterID != nil {
		t.Fatalf("expected unclustered SentimentOnly article, got %s cluster=%v", saved.AnalysisType, saved.ClusterID)
	}
	if embedder.calls != 0 {
		t.Fatalf("expected no embedding for SentimentOnly article")
	}
}

func TestRunOnceDeletesJunk(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name     string
		gate     analysis.Classification
		analyzer analysis.Result
		analyzed int
	}{
		{name: "gatekeeper", gate: analysis.Classification{IsJunk: true, DepthType: analysis.DepthJunk}, analyzed: 0},
		{name: "analysis", gate: hardNews(), analyzer: analysis.Result{Outcome: analysis.OutcomeJunk}, analyzed: 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := memstore.New()
			id := store.Put(pendingArticle("https://example.com/junk", time.Now(), nil))
			analyzer := &stubAnalyzer{result: tc.analyzer}
			driver := newDriver(store, &stubClassifier{result: tc.gate}, analyzer, nil, &sleepRecorder{})

			cycle, err := driver.RunOnce(context.Background())
			if err != nil {
				t.Fatalf("RunOnce() error = %v", err)
			}
			if cycle.Outcome != pipeline.OutcomeDeleted {
				t.Fatalf("expected deleted outcome, got %+v", cycle)
			}
			if _, ok := store.Get(id); ok {
				t.Fatalf("expected junk article to be deleted")
			}
			if len(analyzer.requests) != tc.analyzed {
				t.Fatalf("expected %d analyzer calls, got %d", tc.analyzed, len(analyzer.requests))
			}
		})
	}
}

func TestRunOnceFailedAnalysisHoldsArticleUntilRetry(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	now := time.Now().UTC()
	blockedID := store.Put(pendingArticle("https://example.com/blocked", now.Add(-2*time.Hour), nil))
	analyzer := &stubAnalyzer{
		result:  fullResult("Federal budget vote"),
		failURL: "https://example.com/blocked",
	}
	driver := newDriver(store, &stubClassifier{result: hardNews()}, analyzer, nil, &sleepRecorder{})

	first, err := driver.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if first.ArticleID != blockedID || first.Outcome != pipeline.OutcomeFailed || first.Error == "" {
		t.Fatalf("expected failed cycle for blocked article, got %+v", first)
	}
	if first.RetryAt == nil || first.RetryAt.Sub(now) < 9*time.Minute {
		t.Fatalf("expected retry at least one lease ahead, got %v", first.RetryAt)
	}

	// A newer article arriving later must not wait behind the failed one.
	newerID := store.Put(pendingArticle("https://example.com/newer", now.Add(-time.Hour), nil))
	for i := 0; i < 3; i++ {
		if _, err := driver.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
	}

	newer, _ := store.Get(newerID)
	if newer.AnalysisType != news.AnalysisFull {
		t.Fatalf("expected newer article to be analyzed, got %s", newer.AnalysisType)
	}
	blocked, _ := store.Get(blockedID)
	if blocked.AnalysisType != news.AnalysisPending {
		t.Fatalf("expected blocked article to stay Pending, got %s", blocked.AnalysisType)
	}
	if len(analyzer.requests) != 2 {
		t.Fatalf("expected blocked article analyzed once before retry, got %d analyzer calls", len(analyzer.requests))
	}

	next, err := store.NextQualifying(context.Background(), "v1", first.RetryAt.Add(time.Second))
	if err != nil || next == nil || next.ID != blockedID {
		t.Fatalf("expected blocked article to qualify after its retry time, got %+v err=%v", next, err)
	}

	status := driver.Status()
	if status.Failed != 1 || status.Cycles != 4 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestRunOnceSkipsArticleClaimedByAnotherWorker(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	id := store.Put(pendingArticle("https://example.com/leased", time.Now(), nil))
	claimed, err := store.Claim(context.Background(), news.Claim{
		ArticleID: id,
		PrevType:  news.AnalysisPending,
		Worker:    "worker-b",
		Until:     time.Now().Add(time.Hour),
	})
	if err != nil || !claimed {
		t.Fatalf("Claim() = %v, %v", claimed, err)
	}

	driver := newDriver(store, &stubClassifier{result: hardNews()}, &stubAnalyzer{result: fullResult("x")}, nil, &sleepRecorder{})
	cycle, err := driver.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if !cycle.Idle {
		t.Fatalf("expected leased article to be skipped, got %+v", cycle)
	}
}

func TestRunOnceEmbeddingFailureStillClusters(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	clusterID := int64(9)
	other := pendingArticle("https://example.com/other", time.Now().Add(-3*time.Hour), nil)
	other.AnalysisType = news.AnalysisFull
	other.AnalysisVersion = "v1"
	other.ClusterID = &clusterID
	other.Scores = news.ScoreSet{Category: "Politics", ClusterTopic: "Federal budget vote"}
	store.Put(other)
	id := store.Put(pendingArticle("https://example.com/new", time.Now().Add(-time.Hour), nil))

	embedder := &stubEmbedder{err: errors.New("quota exhausted")}
	driver := newDriver(store, &stubClassifier{result: hardNews()}, &stubAnalyzer{result: fullResult("federal budget vote")}, embedder, &sleepRecorder{})

	cycle, err := driver.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if cycle.ClusterTier != cluster.KindFieldMatch {
		t.Fatalf("expected field fallback tier, got %+v", cycle)
	}
	saved, _ := store.Get(id)
	if saved.ClusterID == nil || *saved.ClusterID != clusterID {
		t.Fatalf("expected field-matched cluster %d, got %v", clusterID, saved.ClusterID)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	driver := newDriver(memstore.New(), &stubClassifier{}, &stubAnalyzer{}, nil, &sleepRecorder{}).
		WithSleep(func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		})

	done := make(chan error, 1)
	go func() { done <- driver.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run() did not stop after cancel")
	}
	if driver.Status().Running {
		t.Fatalf("expected worker to report stopped")
	}
}
