package filter

import (
	"math"
	"strings"
	"unicode"
)

// readingEase is the Flesch reading-ease score of text clamped to [0,100].
// Higher is easier to read.
func readingEase(text string) float64 {
	words := 0
	syllables := 0
	sentences := 0
	inSentence := false

	for _, token := range strings.Fields(text) {
		word := strings.TrimFunc(token, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if word != "" {
			words++
			syllables += countSyllables(word)
			inSentence = true
		}
		if strings.ContainsAny(token, ".!?") && inSentence {
			sentences++
			inSentence = false
		}
	}
	if inSentence {
		sentences++
	}
	if words == 0 || sentences == 0 {
		return 0
	}

	score := 206.835 - 1.015*(float64(words)/float64(sentences)) - 84.6*(float64(syllables)/float64(words))
	score = math.Max(0, math.Min(100, score))
	return math.Round(score*10) / 10
}

func countSyllables(word string) int {
	lower := strings.ToLower(word)
	count := 0
	prevVowel := false
	for _, r := range lower {
		vowel := strings.ContainsRune("aeiouy", r)
		if vowel && !prevVowel {
			count++
		}
		prevVowel = vowel
	}
	if strings.HasSuffix(lower, "e") && !strings.HasSuffix(lower, "le") && count > 1 {
		count--
	}
	if count < 1 {
		count = 1
	}
	return count
}
