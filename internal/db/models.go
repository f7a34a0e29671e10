package db

import (
	"encoding/json"
	"time"

	"github.com/pgvector/pgvector-go"
)

// Article maps news.articles.
type Article struct {
	ArticleID       int64            `gorm:"column:article_id;primaryKey;autoIncrement"`
	ArticleUUID     string           `gorm:"column:article_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	URL             string           `gorm:"column:url;type:text;not null;unique"`
	Title           string           `gorm:"column:title;type:text;not null"`
	Description     string           `gorm:"column:description;type:text;not null;default:''"`
	ImageURL        *string          `gorm:"column:image_url;type:text"`
	SourceName      string           `gorm:"column:source_name;type:text;not null;default:''"`
	Country         string           `gorm:"column:country;type:text;not null;default:us"`
	Language        *string          `gorm:"column:language;type:text"`
	Complexity      *float64         `gorm:"column:complexity;type:double precision"`
	PublishedAt     time.Time        `gorm:"column:published_at;type:timestamptz;not null"`
	AnalysisType    string           `gorm:"column:analysis_type;type:text;not null;default:Pending"`
	AnalysisVersion string           `gorm:"column:analysis_version;type:text;not null;default:''"`
	Category        *string          `gorm:"column:category;type:text"`
	ClusterTopic    *string          `gorm:"column:cluster_topic;type:text"`
	Scores          json.RawMessage  `gorm:"column:scores;type:jsonb;not null;default:'{}'"`
	DegradedFields  json.RawMessage  `gorm:"column:degraded_fields;type:jsonb;not null;default:'[]'"`
	ClusterID       *int64           `gorm:"column:cluster_id;type:bigint"`
	DuplicateOf     *int64           `gorm:"column:duplicate_of;type:bigint"`
	Embedding       *pgvector.Vector `gorm:"column:embedding;type:vector(768)"`
	ClaimedBy       *string          `gorm:"column:claimed_by;type:text"`
	ClaimedUntil    *time.Time       `gorm:"column:claimed_until;type:timestamptz"`
	AnalyzedAt      *time.Time       `gorm:"column:analyzed_at;type:timestamptz"`
	CreatedAt       time.Time        `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt       time.Time        `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Article) TableName() string { return "news.articles" }

// Counter maps news.counters.
type Counter struct {
	Name      string    `gorm:"column:name;type:text;primaryKey"`
	Value     int64     `gorm:"column:value;type:bigint;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Counter) TableName() string { return "news.counters" }

func autoMigrateModels() []any {
	return []any{
		&Article{},
		&Counter{},
	}
}
