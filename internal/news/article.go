package news

import (
	"strings"
	"time"
)

// AnalysisType is the persisted analysis depth of an article.
type AnalysisType string

const (
	AnalysisPending       AnalysisType = "Pending"
	AnalysisFull          AnalysisType = "Full"
	AnalysisSentimentOnly AnalysisType = "SentimentOnly"
)

// Candidate is a raw article handed over by a feed collaborator.
type Candidate struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	ImageURL    string    `json:"image_url,omitempty"`
	SourceName  string    `json:"source_name"`
	Country     string    `json:"country,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	Embedding   []float32 `json:"embedding,omitempty"`

	Complexity *float64 `json:"complexity,omitempty"`
	Language   string   `json:"language,omitempty"`
}

// HasImage reports whether the candidate carries a usable image URL.
func (c Candidate) HasImage() bool {
	return strings.TrimSpace(c.ImageURL) != ""
}

// ScoredComponents holds a score together with its component breakdown.
type ScoredComponents struct {
	Score      float64            `json:"score"`
	Components map[string]float64 `json:"components"`
}

// ScoreSet is everything a semantic duplicate inherits from its original.
type ScoreSet struct {
	Summary       string   `json:"summary"`
	Category      string   `json:"category"`
	Sentiment     string   `json:"sentiment"`
	PoliticalLean string   `json:"political_lean"`
	ClusterTopic  string   `json:"cluster_topic"`
	KeyFindings   []string `json:"key_findings"`

	Recommendations []string `json:"recommendations"`

	BiasScore      float64            `json:"bias_score"`
	BiasLabel      string             `json:"bias_label"`
	BiasComponents map[string]float64 `json:"bias_components"`

	CredibilityScore      float64            `json:"credibility_score"`
	CredibilityGrade      string             `json:"credibility_grade"`
	CredibilityComponents map[string]float64 `json:"credibility_components"`

	ReliabilityScore      float64            `json:"reliability_score"`
	ReliabilityGrade      string             `json:"reliability_grade"`
	ReliabilityComponents map[string]float64 `json:"reliability_components"`

	TrustScore float64 `json:"trust_score"`
	TrustLevel string  `json:"trust_level"`

	CoverageLeft   float64 `json:"coverage_left"`
	CoverageCenter float64 `json:"coverage_center"`
	CoverageRight  float64 `json:"coverage_right"`
}

// Article is the persisted form of an analyzed (or pending) article.
type Article struct {
	ID   int64
	UUID string

	Candidate

	AnalysisType    AnalysisType
	AnalysisVersion string
	Scores          ScoreSet
	ClusterID       *int64
	DuplicateOf     *int64
	DegradedFields  []string
	AnalyzedAt      *time.Time
}

// Pending builds a fresh pending article from an accepted candidate.
func Pending(c Candidate) Article {
	return Article{
		Candidate:    c,
		AnalysisType: AnalysisPending,
	}
}

// HasTopic reports whether the analysis produced a usable cluster topic.
func (a Article) HasTopic() bool {
	return strings.TrimSpace(a.Scores.ClusterTopic) != ""
}

// Context returns a short human-readable label used in error messages and logs.
func (a Article) Context() string {
	if title := strings.TrimSpace(a.Title); title != "" {
		return title
	}
	return a.URL
}
