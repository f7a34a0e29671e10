package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	"horse.fit/narrative/internal/cluster"
	"horse.fit/narrative/internal/news"
)

const vectorSearchEF = 100

const articleColumns = `
	a.article_id,
	a.article_uuid::text,
	a.url,
	a.title,
	a.description,
	COALESCE(a.image_url, ''),
	a.source_name,
	a.country,
	COALESCE(a.language, ''),
	a.complexity,
	a.published_at,
	a.analysis_type,
	a.analysis_version,
	a.scores,
	a.degraded_fields,
	a.cluster_id,
	a.duplicate_of,
	COALESCE(a.embedding::text, ''),
	a.analyzed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanArticle(row scanner) (news.Article, error) {
	var (
		article   news.Article
		scores    []byte
		degraded  []byte
		embedding string
		analysis  string
	)
	if err := row.Scan(
		&article.ID,
		&article.UUID,
		&article.URL,
		&article.Title,
		&article.Description,
		&article.ImageURL,
		&article.SourceName,
		&article.Country,
		&article.Language,
		&article.Complexity,
		&article.PublishedAt,
		&analysis,
		&article.AnalysisVersion,
		&scores,
		&degraded,
		&article.ClusterID,
		&article.DuplicateOf,
		&embedding,
		&article.AnalyzedAt,
	); err != nil {
		return news.Article{}, err
	}

	article.AnalysisType = news.AnalysisType(analysis)
	if len(scores) > 0 {
		if err := json.Unmarshal(scores, &article.Scores); err != nil {
			return news.Article{}, fmt.Errorf("decode scores for article %d: %w", article.ID, err)
		}
	}
	if len(degraded) > 0 {
		if err := json.Unmarshal(degraded, &article.DegradedFields); err != nil {
			return news.Article{}, fmt.Errorf("decode degraded fields for article %d: %w", article.ID, err)
		}
	}
	if embedding != "" {
		var vector pgvector.Vector
		if err := vector.Scan(embedding); err != nil {
			return news.Article{}, fmt.Errorf("decode embedding for article %d: %w", article.ID, err)
		}
		article.Embedding = vector.Slice()
	}
	return article, nil
}

// InsertPending stores an accepted candidate. A URL that already exists is
// left untouched and reported with inserted=false.
func (p *Pool) InsertPending(ctx context.Context, article news.Article) (int64, bool, error) {
	const q = `
INSERT INTO news.articles (
	url, title, description, image_url, source_name, country, language,
	complexity, published_at, analysis_type, embedding
)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''), $8, $9, 'Pending', $10)
ON CONFLICT (url) DO NOTHING
RETURNING article_id
`
	var id int64
	err := p.QueryRow(ctx, q,
		article.URL,
		article.Title,
		article.Description,
		article.ImageURL,
		article.SourceName,
		article.Country,
		article.Language,
		article.Complexity,
		article.PublishedAt.UTC(),
		vectorParam(article.Embedding),
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !IsNoRows(err) {
		return 0, false, fmt.Errorf("insert article: %w", err)
	}

	if err := p.QueryRow(ctx, `SELECT article_id FROM news.articles WHERE url = $1`, article.URL).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("lookup existing article: %w", err)
	}
	return id, false, nil
}

func (p *Pool) NextQualifying(ctx context.Context, version string, now time.Time) (*news.Article, error) {
	q := `
SELECT` + articleColumns + `
FROM news.articles a
WHERE (a.analysis_type = 'Pending' OR a.analysis_version <> $1)
  AND (a.claimed_until IS NULL OR a.claimed_until <= $2)
ORDER BY a.published_at ASC, a.article_id ASC
LIMIT 1
`
	article, err := scanArticle(p.QueryRow(ctx, q, version, now.UTC()))
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select qualifying article: %w", err)
	}
	return &article, nil
}

// Claim leases an article to a worker. It only succeeds while the article
// still has the analysis state the worker selected it in.
func (p *Pool) Claim(ctx context.Context, claim news.Claim) (bool, error) {
	const q = `
UPDATE news.articles
SET claimed_by = $2,
	claimed_until = $3,
	updated_at = now()
WHERE article_id = $1
  AND analysis_type = $4
  AND analysis_version = $5
  AND (claimed_by IS NULL OR claimed_by = $2 OR claimed_until <= now())
`
	tag, err := p.Exec(ctx, q, claim.ArticleID, claim.Worker, claim.Until.UTC(), string(claim.PrevType), claim.PrevVersion)
	if err != nil {
		return false, fmt.Errorf("claim article %d: %w", claim.ArticleID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// SaveAnalysis writes every analysis field in one statement and clears the lease.
func (p *Pool) SaveAnalysis(ctx context.Context, claim news.Claim, article news.Article) error {
	scores, err := json.Marshal(article.Scores)
	if err != nil {
		return fmt.Errorf("encode scores: %w", err)
	}
	degraded := article.DegradedFields
	if degraded == nil {
		degraded = []string{}
	}
	degradedJSON, err := json.Marshal(degraded)
	if err != nil {
		return fmt.Errorf("encode degraded fields: %w", err)
	}

	const q = `
UPDATE news.articles
SET analysis_type = $4,
	analysis_version = $5,
	category = NULLIF($6, ''),
	cluster_topic = NULLIF($7, ''),
	scores = $8::jsonb,
	degraded_fields = $9::jsonb,
	cluster_id = $10,
	duplicate_of = $11,
	embedding = COALESCE($12::vector, embedding),
	country = $13,
	analyzed_at = $14,
	claimed_by = NULL,
	claimed_until = NULL,
	updated_at = now()
WHERE article_id = $1
  AND claimed_by = $2
  AND analysis_type = $3
  AND analysis_version = $15
`
	tag, err := p.Exec(ctx, q,
		claim.ArticleID,
		claim.Worker,
		string(claim.PrevType),
		string(article.AnalysisType),
		article.AnalysisVersion,
		article.Scores.Category,
		article.Scores.ClusterTopic,
		string(scores),
		string(degradedJSON),
		article.ClusterID,
		article.DuplicateOf,
		vectorParam(article.Embedding),
		article.Country,
		article.AnalyzedAt,
		claim.PrevVersion,
	)
	if err != nil {
		return fmt.Errorf("save analysis for article %d: %w", claim.ArticleID, err)
	}
	if tag.RowsAffected() != 1 {
		return news.ErrClaimLost
	}
	return nil
}

func (p *Pool) Postpone(ctx context.Context, claim news.Claim, until time.Time) error {
	const q = `
UPDATE news.articles
SET claimed_until = $3,
	updated_at = now()
WHERE article_id = $1
  AND claimed_by = $2
`
	if _, err := p.Exec(ctx, q, claim.ArticleID, claim.Worker, until.UTC()); err != nil {
		return fmt.Errorf("postpone article %d: %w", claim.ArticleID, err)
	}
	return nil
}

func (p *Pool) Delete(ctx context.Context, claim news.Claim) error {
	const q = `
DELETE FROM news.articles
WHERE article_id = $1
  AND claimed_by = $2
  AND analysis_type = $3
  AND analysis_version = $4
`
	tag, err := p.Exec(ctx, q, claim.ArticleID, claim.Worker, string(claim.PrevType), claim.PrevVersion)
	if err != nil {
		return fmt.Errorf("delete article %d: %w", claim.ArticleID, err)
	}
	if tag.RowsAffected() != 1 {
		return news.ErrClaimLost
	}
	return nil
}

func (p *Pool) NearestArticle(ctx context.Context, query cluster.VectorQuery) (*cluster.Neighbor, error) {
	if len(query.Embedding) == 0 {
		return nil, nil
	}

	tx, err := p.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin vector search tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", vectorSearchEF)); err != nil {
		return nil, fmt.Errorf("set hnsw.ef_search: %w", err)
	}

	const q = `
SELECT
	a.article_id,
	a.cluster_id,
	a.analysis_type,
	a.scores,
	(1 - (a.embedding <=> $1::vector))::DOUBLE PRECISION AS cosine
FROM news.articles a
WHERE a.article_id <> $2
  AND a.analysis_type <> 'Pending'
  AND a.embedding IS NOT NULL
  AND lower(a.country) = lower($3)
  AND a.published_at >= $4
  AND ($5::BOOLEAN = FALSE OR a.cluster_id IS NOT NULL)
ORDER BY a.embedding <=> $1::vector ASC
LIMIT 1
`
	var (
		neighbor     cluster.Neighbor
		analysisType string
		scores       []byte
	)
	err = tx.QueryRow(ctx, q,
		vectorParam(query.Embedding),
		query.ExcludeID,
		query.Country,
		query.Since.UTC(),
		query.RequireCluster,
	).Scan(&neighbor.ArticleID, &neighbor.ClusterID, &analysisType, &scores, &neighbor.Similarity)
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query nearest article: %w", err)
	}
	neighbor.AnalysisType = news.AnalysisType(analysisType)
	if err := json.Unmarshal(scores, &neighbor.Scores); err != nil {
		return nil, fmt.Errorf("decode neighbor scores: %w", err)
	}
	return &neighbor, nil
}

func (p *Pool) RecentClusteredArticles(ctx context.Context, query cluster.TopicQuery) ([]cluster.TopicCandidate, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}

	const q = `
SELECT
	a.article_id,
	a.cluster_id,
	COALESCE(a.cluster_topic, ''),
	a.published_at
FROM news.articles a
WHERE a.article_id <> $1
  AND a.cluster_id IS NOT NULL
  AND lower(a.country) = lower($2)
  AND lower(COALESCE(a.category, '')) = lower($3)
  AND a.published_at >= $4
ORDER BY a.published_at DESC, a.article_id DESC
LIMIT $5
`
	rows, err := p.Query(ctx, q, query.ExcludeID, query.Country, strings.TrimSpace(query.Category), query.Since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query clustered articles: %w", err)
	}
	defer rows.Close()

	out := make([]cluster.TopicCandidate, 0, limit)
	for rows.Next() {
		var row cluster.TopicCandidate
		if err := rows.Scan(&row.ArticleID, &row.ClusterID, &row.ClusterTopic, &row.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan clustered article: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clustered articles: %w", err)
	}
	return out, nil
}

func (p *Pool) IncrementCounter(ctx context.Context, name string) (int64, error) {
	const q = `
INSERT INTO news.counters (name, value)
VALUES ($1, 1)
ON CONFLICT (name) DO UPDATE
SET value = news.counters.value + 1,
	updated_at = now()
RETURNING value
`
	var value int64
	if err := p.QueryRow(ctx, q, name).Scan(&value); err != nil {
		return 0, fmt.Errorf("increment counter %q: %w", name, err)
	}
	return value, nil
}

func (p *Pool) AdvanceCounter(ctx context.Context, name string, floor int64) (int64, error) {
	const q = `
INSERT INTO news.counters (name, value)
VALUES ($1, $2::BIGINT + 1)
ON CONFLICT (name) DO UPDATE
SET value = GREATEST(news.counters.value, $2::BIGINT) + 1,
	updated_at = now()
RETURNING value
`
	var value int64
	if err := p.QueryRow(ctx, q, name, floor).Scan(&value); err != nil {
		return 0, fmt.Errorf("advance counter %q: %w", name, err)
	}
	return value, nil
}

// MaxClusterID ignores ids that came from the timestamp fallback.
func (p *Pool) MaxClusterID(ctx context.Context) (int64, error) {
	const q = `
SELECT COALESCE(MAX(a.cluster_id), 0)::BIGINT
FROM news.articles a
WHERE a.cluster_id IS NOT NULL
  AND NOT (a.degraded_fields @> '["clusterId"]'::jsonb)
`
	var value int64
	if err := p.QueryRow(ctx, q).Scan(&value); err != nil {
		return 0, fmt.Errorf("query max cluster id: %w", err)
	}
	return value, nil
}

func vectorParam(values []float32) any {
	if len(values) == 0 {
		return nil
	}
	return pgvector.NewVector(values)
}
