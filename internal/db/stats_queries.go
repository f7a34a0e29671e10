package db

import (
	"context"
	"fmt"

	"horse.fit/narrative/internal/news"
)

// ArticleStats counts articles by analysis state.
func (p *Pool) ArticleStats(ctx context.Context, version string) (news.Stats, error) {
	const q = `
SELECT
	COUNT(*)::BIGINT,
	COUNT(*) FILTER (WHERE a.analysis_type = 'Pending')::BIGINT,
	COUNT(*) FILTER (WHERE a.analysis_type = 'Full')::BIGINT,
	COUNT(*) FILTER (WHERE a.analysis_type = 'SentimentOnly')::BIGINT,
	COUNT(*) FILTER (WHERE a.analysis_type <> 'Pending' AND a.analysis_version <> $1)::BIGINT,
	COUNT(*) FILTER (WHERE a.duplicate_of IS NOT NULL)::BIGINT,
	COUNT(DISTINCT a.cluster_id)::BIGINT,
	COUNT(*) FILTER (WHERE a.claimed_until > now())::BIGINT
FROM news.articles a
`
	var stats news.Stats
	if err := p.QueryRow(ctx, q, version).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Full,
		&stats.SentimentOnly,
		&stats.Stale,
		&stats.Duplicates,
		&stats.Clusters,
		&stats.Leased,
	); err != nil {
		return news.Stats{}, fmt.Errorf("query article stats: %w", err)
	}
	return stats, nil
}
