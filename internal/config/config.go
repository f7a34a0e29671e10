package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBMinConns  int32  `envconfig:"NR_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"NR_DB_MAX_CONNS" default:"8"`

	RedisURL string `envconfig:"REDIS_URL" default:""`

	GeminiAPIKeys     string `envconfig:"GEMINI_API_KEYS" default:""`
	GatekeeperAPIKeys string `envconfig:"GATEKEEPER_API_KEYS" default:""`

	AnalysisModel       string `envconfig:"ANALYSIS_MODEL" default:"gemini-2.5-flash"`
	GatekeeperModel     string `envconfig:"GATEKEEPER_MODEL" default:"gemini-2.5-flash-lite"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	EmbeddingDimensions int32  `envconfig:"EMBEDDING_DIMENSIONS" default:"768"`

	AnalysisTimeout   time.Duration `envconfig:"ANALYSIS_TIMEOUT" default:"45s"`
	GatekeeperTimeout time.Duration `envconfig:"GATEKEEPER_TIMEOUT" default:"10s"`
	EmbeddingTimeout  time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"30s"`
	GatekeeperRPM     int           `envconfig:"GATEKEEPER_RPM" default:"30"`

	RetryMaxAttempts  int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	KeyErrorThreshold int `envconfig:"KEY_ERROR_THRESHOLD" default:"5"`

	PipelineDelay        time.Duration `envconfig:"PIPELINE_DELAY" default:"31s"`
	PipelineIdlePoll     time.Duration `envconfig:"PIPELINE_IDLE_POLL" default:"60s"`
	PipelineLeaseTTL     time.Duration `envconfig:"PIPELINE_LEASE_TTL" default:"10m"`
	PipelineRetryBackoff time.Duration `envconfig:"PIPELINE_RETRY_BACKOFF" default:"30m"`
	AnalysisVersion      string        `envconfig:"ANALYSIS_VERSION" default:"v1"`
	DefaultCountry       string        `envconfig:"DEFAULT_COUNTRY" default:"us"`
	FilterConfigPath     string        `envconfig:"FILTER_CONFIG_PATH" default:""`

	ClusterDuplicateThreshold float64 `envconfig:"CLUSTER_DUPLICATE_THRESHOLD" default:"0.92"`
	ClusterTopicThreshold     float64 `envconfig:"CLUSTER_TOPIC_THRESHOLD" default:"0.82"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks settings every command needs. Commands that touch the
// database or the AI provider call RequireDatabase / RequireProviders on top.
func (c *Config) Validate() error {
	if c.DBMinConns < 0 {
		return fmt.Errorf("NR_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("NR_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("NR_DB_MIN_CONNS (%d) cannot exceed NR_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 1")
	}
	if c.KeyErrorThreshold < 1 {
		return fmt.Errorf("KEY_ERROR_THRESHOLD must be >= 1")
	}
	if c.EmbeddingDimensions < 1 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be >= 1")
	}
	if c.GatekeeperRPM < 1 {
		return fmt.Errorf("GATEKEEPER_RPM must be >= 1")
	}
	for name, d := range map[string]time.Duration{
		"ANALYSIS_TIMEOUT":       c.AnalysisTimeout,
		"GATEKEEPER_TIMEOUT":     c.GatekeeperTimeout,
		"EMBEDDING_TIMEOUT":      c.EmbeddingTimeout,
		"PIPELINE_LEASE_TTL":     c.PipelineLeaseTTL,
		"PIPELINE_RETRY_BACKOFF": c.PipelineRetryBackoff,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if budget := c.CallBudget(); budget >= c.PipelineLeaseTTL {
		return fmt.Errorf("PIPELINE_LEASE_TTL (%s) must exceed the worst-case provider call budget (%s)", c.PipelineLeaseTTL, budget)
	}
	if c.PipelineDelay < 0 || c.PipelineIdlePoll < 0 {
		return fmt.Errorf("PIPELINE_DELAY and PIPELINE_IDLE_POLL must be >= 0")
	}
	if strings.TrimSpace(c.AnalysisVersion) == "" {
		return fmt.Errorf("ANALYSIS_VERSION is required")
	}
	if !inUnitInterval(c.ClusterDuplicateThreshold) || !inUnitInterval(c.ClusterTopicThreshold) {
		return fmt.Errorf("cluster thresholds must be within (0,1]")
	}
	return nil
}

func (c *Config) RequireDatabase() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

func (c *Config) RequireProviders() error {
	if len(c.AnalysisKeys()) == 0 {
		return fmt.Errorf("GEMINI_API_KEYS is required")
	}
	return nil
}

// AnalysisKeys returns the comma-separated GEMINI_API_KEYS, deduplicated.
func (c *Config) AnalysisKeys() []string {
	if c == nil {
		return nil
	}
	return splitList(c.GeminiAPIKeys)
}

// GatekeeperKeys falls back to the analysis keys when no dedicated keys are set.
func (c *Config) GatekeeperKeys() []string {
	if c == nil {
		return nil
	}
	if keys := splitList(c.GatekeeperAPIKeys); len(keys) > 0 {
		return keys
	}
	return c.AnalysisKeys()
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		values = append(values, value)
	}
	return values
}

func inUnitInterval(v float64) bool {
	return v > 0 && v <= 1
}

// CallBudget is the longest one article can spend in provider calls: every
// attempt of the gatekeeper, analysis and embedding calls running to its
// timeout, plus the retry backoff between attempts (jitter counted at 1s).
func (c *Config) CallBudget() time.Duration {
	attempts := time.Duration(c.RetryMaxAttempts)
	perAttempt := c.GatekeeperTimeout + c.AnalysisTimeout + c.EmbeddingTimeout

	var backoff time.Duration
	for attempt := 1; attempt < c.RetryMaxAttempts; attempt++ {
		backoff += time.Duration(1<<attempt)*time.Second + time.Second
	}
	return attempts*perAttempt + 3*backoff
}
