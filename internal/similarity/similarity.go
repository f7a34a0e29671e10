package similarity

import (
	"math"
	"strings"
	"unicode"
)

// Score returns the Sørensen–Dice coefficient of the character bigrams of a and b.
// Case and whitespace are ignored. The result is symmetric and lies in [0,1];
// strings equal after that normalization score 1, even when empty.
func Score(a, b string) float64 {
	left := compact(a)
	right := compact(b)
	if left == right {
		return 1
	}

	leftRunes := []rune(left)
	rightRunes := []rune(right)
	if len(leftRunes) < 2 || len(rightRunes) < 2 {
		return 0
	}

	leftBigrams := bigramCounts(leftRunes)
	intersection := 0
	for i := 0; i < len(rightRunes)-1; i++ {
		bigram := string(rightRunes[i : i+2])
		if count := leftBigrams[bigram]; count > 0 {
			leftBigrams[bigram] = count - 1
			intersection++
		}
	}

	total := (len(leftRunes) - 1) + (len(rightRunes) - 1)
	return (2 * float64(intersection)) / float64(total)
}

// NearDuplicate reports whether two headlines should be treated as the same story:
// their rune lengths differ by at most maxLengthDiff and Score exceeds threshold.
func NearDuplicate(a, b string, maxLengthDiff int, threshold float64) bool {
	diff := len([]rune(strings.TrimSpace(a))) - len([]rune(strings.TrimSpace(b)))
	if diff < 0 {
		diff = -diff
	}
	if diff > maxLengthDiff {
		return false
	}
	return Score(a, b) > threshold
}

// Cosine returns the cosine similarity of two vectors, or 0 when they cannot be compared.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func compact(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range strings.ToLower(input) {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func bigramCounts(runes []rune) map[string]int {
	counts := make(map[string]int, len(runes))
	for i := 0; i < len(runes)-1; i++ {
		counts[string(runes[i:i+2])]++
	}
	return counts
}
