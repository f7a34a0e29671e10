package analysis

import (
	"math"
	"strconv"
	"strings"

	"horse.fit/narrative/internal/news"
)

const (
	// NeutralScore replaces a missing or invalid 0-100 score.
	NeutralScore = 50.0
	// DefaultCoverage replaces a missing or invalid coverage share.
	DefaultCoverage = 0.0

	defaultCategory = "General"
)

var (
	knownCategories = []string{
		"Politics", "World", "Business", "Economy", "Technology", "Science",
		"Health", "Environment", "Crime", "Education", "Sports",
		"Entertainment", "Lifestyle", "General",
	}
	sentiments     = []string{"Positive", "Negative", "Neutral"}
	politicalLeans = []string{"Left", "Left-Leaning", "Center", "Right-Leaning", "Right", "Not Applicable"}
)

// payload is the decoded model response with coercion helpers. Every field
// that had to be substituted is recorded in degraded.
type payload struct {
	raw      map[string]any
	full     bool
	degraded []string
}

func newPayload(raw map[string]any) *payload {
	p := &payload{raw: raw}
	p.full = p.analysisType() == news.AnalysisFull
	return p
}

func (p *payload) degrade(field string) {
	p.degraded = append(p.degraded, field)
}

func (p *payload) has(field string) bool {
	v, ok := p.raw[field]
	return ok && v != nil
}

func (p *payload) isJunk() bool {
	switch v := p.raw["isJunk"].(type) {
	case bool:
		return v
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && parsed
	default:
		return false
	}
}

func (p *payload) str(field string) string {
	v, _ := p.raw[field].(string)
	return strings.TrimSpace(v)
}

func (p *payload) analysisType() news.AnalysisType {
	switch strings.ToLower(strings.ReplaceAll(p.str("analysisType"), " ", "")) {
	case "full":
		return news.AnalysisFull
	case "sentimentonly":
		return news.AnalysisSentimentOnly
	default:
		return news.AnalysisFull
	}
}

func (p *payload) enum(field string, allowed []string, fallback string, quietWhenAbsent bool) string {
	value := p.str(field)
	if match, ok := matchFold(value, allowed); ok {
		return match
	}
	if value != "" || !quietWhenAbsent {
		p.degrade(field)
	}
	return fallback
}

// category keeps a known category and substitutes the default for anything
// else. The gatekeeper's guess only steers the prompt.
func (p *payload) category() string {
	if match, ok := matchFold(p.str("category"), knownCategories); ok {
		return match
	}
	p.degrade("category")
	return defaultCategory
}

// score reads a 0-100 value that may arrive as a number or a numeric string.
// Absent scores on SentimentOnly analyses are expected and not recorded.
func (p *payload) score(field string, fallback float64) float64 {
	if !p.has(field) {
		if p.full {
			p.degrade(field)
		}
		return fallback
	}
	value, ok := number(p.raw[field])
	if !ok || value < 0 || value > 100 {
		p.degrade(field)
		return fallback
	}
	return value
}

// optionalScore is like score but reports absence instead of defaulting.
func (p *payload) optionalScore(field string) (float64, bool) {
	if !p.has(field) {
		return 0, false
	}
	value, ok := number(p.raw[field])
	if !ok || value < 0 || value > 100 {
		p.degrade(field)
		return 0, false
	}
	return value, true
}

func (p *payload) components(field string) map[string]float64 {
	out := map[string]float64{}
	if !p.has(field) {
		return out
	}
	obj, ok := p.raw[field].(map[string]any)
	if !ok {
		p.degrade(field)
		return out
	}
	for key, raw := range obj {
		if value, ok := number(raw); ok {
			out[key] = value
		}
	}
	return out
}

func (p *payload) list(field string) []string {
	items, ok := p.raw[field].([]any)
	if !ok {
		if p.has(field) {
			p.degrade(field)
		}
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if text, ok := item.(string); ok && strings.TrimSpace(text) != "" {
			out = append(out, strings.TrimSpace(text))
		}
	}
	return out
}

// scoreSet applies defaults and derives labels the model left out.
func (p *payload) scoreSet() news.ScoreSet {
	analysisType := p.analysisType()
	if !p.has("analysisType") {
		p.degrade("analysisType")
	} else if _, ok := matchFold(strings.ReplaceAll(p.str("analysisType"), " ", ""), []string{"Full", "SentimentOnly"}); !ok {
		p.degrade("analysisType")
	}

	leanDefault := "Center"
	if analysisType == news.AnalysisSentimentOnly {
		leanDefault = "Not Applicable"
	}

	set := news.ScoreSet{
		Summary:         p.str("summary"),
		Category:        p.category(),
		Sentiment:       p.enum("sentiment", sentiments, "Neutral", false),
		PoliticalLean:   p.enum("politicalLean", politicalLeans, leanDefault, !p.full),
		ClusterTopic:    p.str("clusterTopic"),
		KeyFindings:     p.list("keyFindings"),
		Recommendations: p.list("recommendations"),

		BiasScore:      p.score("biasScore", NeutralScore),
		BiasLabel:      p.str("biasLabel"),
		BiasComponents: p.components("biasComponents"),

		CredibilityScore:      p.score("credibilityScore", NeutralScore),
		CredibilityGrade:      p.str("credibilityGrade"),
		CredibilityComponents: p.components("credibilityComponents"),

		ReliabilityScore:      p.score("reliabilityScore", NeutralScore),
		ReliabilityGrade:      p.str("reliabilityGrade"),
		ReliabilityComponents: p.components("reliabilityComponents"),

		TrustLevel: p.str("trustLevel"),

		CoverageLeft:   p.coverage("coverageLeft"),
		CoverageCenter: p.coverage("coverageCenter"),
		CoverageRight:  p.coverage("coverageRight"),
	}

	if set.BiasLabel == "" {
		set.BiasLabel = news.BiasLabel(set.BiasScore)
	}
	if set.CredibilityGrade == "" {
		set.CredibilityGrade = news.LetterGrade(set.CredibilityScore)
	}
	if set.ReliabilityGrade == "" {
		set.ReliabilityGrade = news.LetterGrade(set.ReliabilityScore)
	}
	if trust, ok := p.optionalScore("trustScore"); ok {
		set.TrustScore = trust
	} else {
		set.TrustScore = news.TrustScore(set.CredibilityScore, set.ReliabilityScore)
	}
	if set.TrustLevel == "" {
		set.TrustLevel = news.TrustLevel(set.TrustScore)
	}
	return set
}

func (p *payload) coverage(field string) float64 {
	if !p.has(field) {
		if p.full {
			p.degrade(field)
		}
		return DefaultCoverage
	}
	value, ok := number(p.raw[field])
	if !ok || value < 0 || value > 100 {
		p.degrade(field)
		return DefaultCoverage
	}
	return value
}

func number(v any) (float64, bool) {
	var value float64
	switch typed := v.(type) {
	case float64:
		value = typed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(typed), "%"), 64)
		if err != nil {
			return 0, false
		}
		value = parsed
	default:
		return 0, false
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return value, true
}

func matchFold(value string, allowed []string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	for _, candidate := range allowed {
		if strings.EqualFold(candidate, value) {
			return candidate, true
		}
	}
	return "", false
}
