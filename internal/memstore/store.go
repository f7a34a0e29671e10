// Package memstore is an in-memory article store with the same semantics as
// the Postgres store. It backs the simulate command and scenario tests.
package memstore

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"horse.fit/narrative/internal/cluster"
	"horse.fit/narrative/internal/globaltime"
	"horse.fit/narrative/internal/news"
	"horse.fit/narrative/internal/similarity"
)

type record struct {
	article      news.Article
	claimedBy    string
	claimedUntil time.Time
}

type Store struct {
	mu       sync.Mutex
	nextID   int64
	articles map[int64]*record
	byURL    map[string]int64
	counters map[string]int64

	counterErr error
	lookupErr  error
}

func New() *Store {
	return &Store{
		articles: make(map[int64]*record),
		byURL:    make(map[string]int64),
		counters: make(map[string]int64),
	}
}

// FailCounter makes every counter operation return err until cleared with nil.
func (s *Store) FailCounter(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counterErr = err
}

// FailLookups makes cluster lookups return err until cleared with nil.
func (s *Store) FailLookups(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookupErr = err
}

// InsertPending stores a new article unless its URL already exists.
func (s *Store) InsertPending(_ context.Context, article news.Article) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, exists := s.byURL[article.URL]; exists {
		return id, false, nil
	}
	s.nextID++
	article.ID = s.nextID
	if article.AnalysisType == "" {
		article.AnalysisType = news.AnalysisPending
	}
	s.articles[article.ID] = &record{article: cloneArticle(article)}
	s.byURL[article.URL] = article.ID
	return article.ID, true, nil
}

// Put stores an article as-is, replacing any previous row with the same id.
func (s *Store) Put(article news.Article) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if article.ID == 0 {
		s.nextID++
		article.ID = s.nextID
	} else if article.ID > s.nextID {
		s.nextID = article.ID
	}
	s.articles[article.ID] = &record{article: cloneArticle(article)}
	s.byURL[article.URL] = article.ID
	return article.ID
}

func (s *Store) Get(id int64) (news.Article, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.articles[id]
	if !ok {
		return news.Article{}, false
	}
	return cloneArticle(rec.article), true
}

// All returns every article ordered by id.
func (s *Store) All() []news.Article {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]news.Article, 0, len(s.articles))
	for _, rec := range s.articles {
		out = append(out, cloneArticle(rec.article))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) NextQualifying(_ context.Context, version string, now time.Time) (*news.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *record
	for _, rec := range s.articles {
		if !qualifies(rec, version, now) {
			continue
		}
		if best == nil || rec.article.PublishedAt.Before(best.article.PublishedAt) ||
			(rec.article.PublishedAt.Equal(best.article.PublishedAt) && rec.article.ID < best.article.ID) {
			best = rec
		}
	}
	if best == nil {
		return nil, nil
	}
	article := cloneArticle(best.article)
	return &article, nil
}

func (s *Store) Claim(_ context.Context, claim news.Claim) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.articles[claim.ArticleID]
	if !ok || !matchesPrevious(rec, claim) {
		return false, nil
	}
	if rec.claimedBy != "" && rec.claimedBy != claim.Worker && globaltime.UTC().Before(rec.claimedUntil) {
		return false, nil
	}
	rec.claimedBy = claim.Worker
	rec.claimedUntil = claim.Until
	return true, nil
}

func (s *Store) SaveAnalysis(_ context.Context, claim news.Claim, article news.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.articles[claim.ArticleID]
	if !ok || !ownedBy(rec, claim) {
		return news.ErrClaimLost
	}
	updated := cloneArticle(article)
	updated.ID = rec.article.ID
	updated.UUID = rec.article.UUID
	rec.article = updated
	rec.claimedBy = ""
	rec.claimedUntil = time.Time{}
	return nil
}

func (s *Store) Postpone(_ context.Context, claim news.Claim, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.articles[claim.ArticleID]
	if !ok || rec.claimedBy != claim.Worker {
		return nil
	}
	rec.claimedUntil = until
	return nil
}

func (s *Store) Delete(_ context.Context, claim news.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.articles[claim.ArticleID]
	if !ok || !ownedBy(rec, claim) {
		return news.ErrClaimLost
	}
	delete(s.byURL, rec.article.URL)
	delete(s.articles, claim.ArticleID)
	return nil
}

func (s *Store) NearestArticle(_ context.Context, q cluster.VectorQuery) (*cluster.Neighbor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lookupErr != nil {
		return nil, s.lookupErr
	}

	var best *cluster.Neighbor
	for _, rec := range s.articles {
		a := rec.article
		if a.ID == q.ExcludeID || a.AnalysisType == news.AnalysisPending || len(a.Embedding) == 0 {
			continue
		}
		if !strings.EqualFold(a.Country, q.Country) || a.PublishedAt.Before(q.Since) {
			continue
		}
		if q.RequireCluster && a.ClusterID == nil {
			continue
		}
		score := similarity.Cosine(q.Embedding, a.Embedding)
		if best == nil || score > best.Similarity {
			best = &cluster.Neighbor{
				ArticleID:    a.ID,
				ClusterID:    cloneInt(a.ClusterID),
				AnalysisType: a.AnalysisType,
				Scores:       a.Scores,
				Similarity:   score,
			}
		}
	}
	return best, nil
}

func (s *Store) RecentClusteredArticles(_ context.Context, q cluster.TopicQuery) ([]cluster.TopicCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lookupErr != nil {
		return nil, s.lookupErr
	}

	var out []cluster.TopicCandidate
	for _, rec := range s.articles {
		a := rec.article
		if a.ID == q.ExcludeID || a.ClusterID == nil || a.PublishedAt.Before(q.Since) {
			continue
		}
		if !strings.EqualFold(a.Country, q.Country) || !strings.EqualFold(a.Scores.Category, q.Category) {
			continue
		}
		out = append(out, cluster.TopicCandidate{
			ArticleID:    a.ID,
			ClusterID:    *a.ClusterID,
			ClusterTopic: a.Scores.ClusterTopic,
			PublishedAt:  a.PublishedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].ArticleID > out[j].ArticleID
		}
		return out[i].PublishedAt.After(out[j].PublishedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) IncrementCounter(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.counterErr != nil {
		return 0, s.counterErr
	}
	s.counters[name]++
	return s.counters[name], nil
}

func (s *Store) AdvanceCounter(_ context.Context, name string, floor int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.counterErr != nil {
		return 0, s.counterErr
	}
	s.counters[name] = max(s.counters[name], floor) + 1
	return s.counters[name], nil
}

func (s *Store) MaxClusterID(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.counterErr != nil {
		return 0, s.counterErr
	}
	var out int64
	for _, rec := range s.articles {
		if rec.article.ClusterID == nil || slices.Contains(rec.article.DegradedFields, "clusterId") {
			continue
		}
		out = max(out, *rec.article.ClusterID)
	}
	return out, nil
}

func (s *Store) ArticleStats(_ context.Context, version string) (news.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := globaltime.UTC()
	clusters := make(map[int64]struct{})
	var stats news.Stats
	for _, rec := range s.articles {
		a := rec.article
		stats.Total++
		switch a.AnalysisType {
		case news.AnalysisPending:
			stats.Pending++
		case news.AnalysisFull:
			stats.Full++
		case news.AnalysisSentimentOnly:
			stats.SentimentOnly++
		}
		if a.AnalysisType != news.AnalysisPending && a.AnalysisVersion != version {
			stats.Stale++
		}
		if a.DuplicateOf != nil {
			stats.Duplicates++
		}
		if a.ClusterID != nil {
			clusters[*a.ClusterID] = struct{}{}
		}
		if rec.claimedBy != "" && now.Before(rec.claimedUntil) {
			stats.Leased++
		}
	}
	stats.Clusters = int64(len(clusters))
	return stats, nil
}

func qualifies(rec *record, version string, now time.Time) bool {
	stale := rec.article.AnalysisType == news.AnalysisPending || rec.article.AnalysisVersion != version
	leased := rec.claimedBy != "" && now.Before(rec.claimedUntil)
	return stale && !leased
}

func matchesPrevious(rec *record, claim news.Claim) bool {
	return rec.article.AnalysisType == claim.PrevType && rec.article.AnalysisVersion == claim.PrevVersion
}

func ownedBy(rec *record, claim news.Claim) bool {
	return rec.claimedBy == claim.Worker && matchesPrevious(rec, claim)
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneArticle(a news.Article) news.Article {
	a.Embedding = append([]float32(nil), a.Embedding...)
	a.ClusterID = cloneInt(a.ClusterID)
	a.DuplicateOf = cloneInt(a.DuplicateOf)
	a.DegradedFields = append([]string(nil), a.DegradedFields...)
	return a
}
