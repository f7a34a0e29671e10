package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

// minLetters is the shortest sample worth sending to the detector.
const minLetters = 6

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// DetectISO6391 returns the lower-case ISO 639-1 code of text, or "" when the
// sample is too short or the detector is not confident.
func DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" || letterCount(sample) < minLetters {
		return ""
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

// AllowList accepts text whose detected language is in the configured set.
// Text the detector cannot place is accepted; only a confident mismatch rejects.
type AllowList struct {
	codes  map[string]struct{}
	detect func(string) string
}

func NewAllowList(codes []string) *AllowList {
	set := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		normalized := NormalizeCode(code)
		if normalized == "" {
			continue
		}
		set[normalized] = struct{}{}
	}
	return &AllowList{codes: set, detect: DetectISO6391}
}

// WithDetector swaps the detection function, mainly for tests and callers
// that already know the language.
func (a *AllowList) WithDetector(detect func(string) string) *AllowList {
	if a != nil && detect != nil {
		a.detect = detect
	}
	return a
}

// Enabled reports whether any language restriction is configured.
func (a *AllowList) Enabled() bool {
	return a != nil && len(a.codes) > 0
}

// Check returns the detected code and whether text passes the allow-list.
func (a *AllowList) Check(text string) (string, bool) {
	if a == nil {
		return "", true
	}
	detect := a.detect
	if detect == nil {
		detect = DetectISO6391
	}
	code := detect(text)
	if !a.Enabled() || code == "" {
		return code, true
	}
	_, ok := a.codes[code]
	return code, ok
}

func letterCount(sample string) int {
	count := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			count++
		}
	}
	return count
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			WithMinimumRelativeDistance(0.1).
			Build()
	})
	return detector
}
