package cluster

import (
	"context"
	"time"

	"horse.fit/narrative/internal/news"
)

// VectorQuery asks for the single nearest stored article by cosine similarity.
type VectorQuery struct {
	Embedding      []float32
	Country        string
	Since          time.Time
	ExcludeID      int64
	RequireCluster bool
}

type Neighbor struct {
	ArticleID    int64
	ClusterID    *int64
	AnalysisType news.AnalysisType
	Scores       news.ScoreSet
	Similarity   float64
}

// TopicQuery lists recent clustered articles sharing category and country.
type TopicQuery struct {
	Category  string
	Country   string
	Since     time.Time
	ExcludeID int64
	Limit     int
}

type TopicCandidate struct {
	ArticleID    int64
	ClusterID    int64
	ClusterTopic string
	PublishedAt  time.Time
}

type Store interface {
	// NearestArticle returns nil when no article matches the query.
	NearestArticle(ctx context.Context, q VectorQuery) (*Neighbor, error)
	// RecentClusteredArticles returns matches newest-published first.
	RecentClusteredArticles(ctx context.Context, q TopicQuery) ([]TopicCandidate, error)
}

// Counter is the shared cluster id sequence.
type Counter interface {
	IncrementCounter(ctx context.Context, name string) (int64, error)
	// AdvanceCounter atomically sets the counter to max(value, floor)+1 and returns it.
	AdvanceCounter(ctx context.Context, name string, floor int64) (int64, error)
	MaxClusterID(ctx context.Context) (int64, error)
}
