package filter

import (
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/narrative/internal/langdetect"
	"horse.fit/narrative/internal/news"
	"horse.fit/narrative/internal/similarity"
)

const (
	placeholderTitle = "No Title"

	minTitleRunes       = 20
	minDescriptionRunes = 30
	minCombinedWords    = 40
	longTitleRunes      = 40

	duplicateMaxLengthDiff = 20
	duplicateTitleScore    = 0.8
)

// Reason is a machine-readable rejection cause.
type Reason string

const (
	ReasonBelowCutoff      Reason = "below_cutoff"
	ReasonMissingTitle     Reason = "missing_title"
	ReasonMissingURL       Reason = "missing_url"
	ReasonShortTitle       Reason = "short_title"
	ReasonPlaceholderTitle Reason = "placeholder_title"
	ReasonShortDescription Reason = "short_description"
	ReasonTooFewWords      Reason = "too_few_words"
	ReasonLanguage         Reason = "language_not_allowed"
	ReasonDuplicateURL     Reason = "duplicate_url"
	ReasonDuplicateTitle   Reason = "duplicate_title"
)

type Rejection struct {
	Candidate news.Candidate
	Score     float64
	Reason    Reason
}

type Report struct {
	Accepted []news.Candidate
	Rejected []Rejection
}

// Counts tallies rejections by reason.
func (r Report) Counts() map[Reason]int {
	out := make(map[Reason]int, len(r.Rejected))
	for _, rejection := range r.Rejected {
		out[rejection.Reason]++
	}
	return out
}

type Filter struct {
	weights   Weights
	trusted   map[string]struct{}
	junk      []string
	languages *langdetect.AllowList
	logger    zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) *Filter {
	trusted := make(map[string]struct{}, len(cfg.TrustedSources))
	for _, source := range cfg.TrustedSources {
		if key := sourceKey(source); key != "" {
			trusted[key] = struct{}{}
		}
	}
	junk := make([]string, 0, len(cfg.JunkKeywords))
	for _, keyword := range cfg.JunkKeywords {
		if keyword = strings.ToLower(strings.TrimSpace(keyword)); keyword != "" {
			junk = append(junk, keyword)
		}
	}
	return &Filter{
		weights:   cfg.Weights,
		trusted:   trusted,
		junk:      junk,
		languages: langdetect.NewAllowList(cfg.Languages),
		logger:    logger,
	}
}

// WithLanguageDetector replaces the detector used for the allow-list and the
// Language field of accepted candidates.
func (f *Filter) WithLanguageDetector(detect func(string) string) *Filter {
	f.languages.WithDetector(detect)
	return f
}

func (f *Filter) Trusted(source string) bool {
	_, ok := f.trusted[sourceKey(source)]
	return ok
}

// Score is the additive quality score of a candidate.
func (f *Filter) Score(c news.Candidate) float64 {
	trusted := f.Trusted(c.SourceName)
	score := 0.0

	switch {
	case c.HasImage():
		score += f.weights.ImageBonus
	case trusted:
		score += f.weights.MissingImagePenalty
	default:
		score += f.weights.MissingImageUntrustedPenalty
	}
	if len([]rune(strings.TrimSpace(c.Title))) > longTitleRunes {
		score += f.weights.TitleLengthBonus
	}
	if trusted {
		score += f.weights.TrustedSourceBonus
	}
	if f.hasJunkKeyword(c.Title) {
		score += f.weights.JunkKeywordPenalty
	}
	return score
}

// Select returns the accepted candidates of a batch, newest first.
func (f *Filter) Select(batch []news.Candidate) []news.Candidate {
	return f.Evaluate(batch).Accepted
}

// Evaluate scores, validates and deduplicates a batch.
func (f *Filter) Evaluate(batch []news.Candidate) Report {
	type scored struct {
		candidate news.Candidate
		score     float64
	}

	ranked := make([]scored, 0, len(batch))
	for _, candidate := range batch {
		candidate.Title, candidate.Description = normalizeCandidateText(candidate.Title, candidate.Description)
		candidate.URL = strings.TrimSpace(candidate.URL)
		candidate.SourceName = strings.TrimSpace(candidate.SourceName)
		ranked = append(ranked, scored{candidate: candidate, score: f.Score(candidate)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	report := Report{}
	seenURLs := make(map[string]struct{}, len(ranked))
	var acceptedTitles []string

	for _, item := range ranked {
		candidate := item.candidate
		reason := f.validate(candidate, item.score)

		if reason == "" {
			if _, dup := seenURLs[candidate.URL]; dup {
				reason = ReasonDuplicateURL
			}
		}
		if reason == "" {
			for _, title := range acceptedTitles {
				if similarity.NearDuplicate(candidate.Title, title, duplicateMaxLengthDiff, duplicateTitleScore) {
					reason = ReasonDuplicateTitle
					break
				}
			}
		}
		var code string
		if reason == "" {
			var allowed bool
			code, allowed = f.languages.Check(candidate.Title + ". " + candidate.Description)
			if !allowed {
				reason = ReasonLanguage
			}
		}

		if reason != "" {
			report.Rejected = append(report.Rejected, Rejection{Candidate: candidate, Score: item.score, Reason: reason})
			continue
		}

		complexity := readingEase(candidate.Title + ". " + candidate.Description)
		candidate.Complexity = &complexity
		candidate.Language = code

		seenURLs[candidate.URL] = struct{}{}
		acceptedTitles = append(acceptedTitles, candidate.Title)
		report.Accepted = append(report.Accepted, candidate)
	}

	sort.SliceStable(report.Accepted, func(i, j int) bool {
		return report.Accepted[i].PublishedAt.After(report.Accepted[j].PublishedAt)
	})

	f.logger.Debug().
		Int("batch", len(batch)).
		Int("accepted", len(report.Accepted)).
		Int("rejected", len(report.Rejected)).
		Msg("candidate batch filtered")

	return report
}

func (f *Filter) validate(c news.Candidate, score float64) Reason {
	titleRunes := len([]rune(c.Title))
	switch {
	case score < f.weights.MinScoreCutoff:
		return ReasonBelowCutoff
	case c.Title == "":
		return ReasonMissingTitle
	case c.URL == "":
		return ReasonMissingURL
	case strings.EqualFold(c.Title, placeholderTitle):
		return ReasonPlaceholderTitle
	case titleRunes < minTitleRunes:
		return ReasonShortTitle
	case len([]rune(c.Description)) < minDescriptionRunes:
		return ReasonShortDescription
	case len(strings.Fields(c.Title+" "+c.Description)) < minCombinedWords:
		return ReasonTooFewWords
	}
	return ""
}

func (f *Filter) hasJunkKeyword(title string) bool {
	lower := strings.ToLower(title)
	for _, keyword := range f.junk {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func sourceKey(source string) string {
	return strings.ToLower(strings.Join(strings.Fields(source), " "))
}
