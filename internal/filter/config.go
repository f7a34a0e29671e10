package filter

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Weights are signed score adjustments. A negative value is a penalty.
type Weights struct {
	ImageBonus                   float64 `yaml:"image_bonus"`
	MissingImagePenalty          float64 `yaml:"missing_image_penalty"`
	MissingImageUntrustedPenalty float64 `yaml:"missing_image_untrusted_penalty"`
	TrustedSourceBonus           float64 `yaml:"trusted_source_bonus"`
	TitleLengthBonus             float64 `yaml:"title_length_bonus"`
	JunkKeywordPenalty           float64 `yaml:"junk_keyword_penalty"`
	MinScoreCutoff               float64 `yaml:"min_score_cutoff"`
}

func DefaultWeights() Weights {
	return Weights{
		ImageBonus:                   2,
		MissingImagePenalty:          1,
		MissingImageUntrustedPenalty: -10,
		TrustedSourceBonus:           3,
		TitleLengthBonus:             1,
		JunkKeywordPenalty:           -20,
		MinScoreCutoff:               0,
	}
}

type Config struct {
	Weights        Weights  `yaml:"weights"`
	TrustedSources []string `yaml:"trusted_sources"`
	JunkKeywords   []string `yaml:"junk_keywords"`
	// Languages is an optional ISO 639-1 allow-list. Empty accepts every language.
	Languages []string `yaml:"languages"`
}

func DefaultConfig() Config {
	return Config{
		Weights: DefaultWeights(),
		TrustedSources: []string{
			"Associated Press",
			"BBC News",
			"NPR",
			"Reuters",
			"The Guardian",
			"The New York Times",
			"The Wall Street Journal",
			"The Washington Post",
		},
		JunkKeywords: []string{
			"coupon",
			"deal of the day",
			"giveaway",
			"horoscope",
			"promo code",
			"sponsored",
			"you won't believe",
		},
	}
}

// LoadConfig reads a YAML rule file on top of the defaults. Keys absent from
// the file keep their default values. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read filter config %s: %w", path, err)
	}
	if err := ParseConfig(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse filter config %s: %w", path, err)
	}
	return cfg, nil
}

func ParseConfig(raw []byte, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config target is nil")
	}
	return yaml.Unmarshal(raw, cfg)
}
