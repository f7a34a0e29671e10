package news

import "math"

var gradeSteps = []struct {
	min   float64
	grade string
}{
	{90, "A+"},
	{85, "A"},
	{80, "A-"},
	{75, "B+"},
	{70, "B"},
	{65, "B-"},
	{60, "C+"},
	{55, "C"},
	{50, "C-"},
	{40, "D"},
}

// LetterGrade maps a 0-100 score to a letter grade.
func LetterGrade(score float64) string {
	for _, step := range gradeSteps {
		if score >= step.min {
			return step.grade
		}
	}
	return "F"
}

// BiasLabel maps a 0-100 bias score (higher = more biased) to a label.
func BiasLabel(score float64) string {
	switch {
	case score < 20:
		return "Minimal Bias"
	case score < 40:
		return "Low Bias"
	case score < 60:
		return "Moderate Bias"
	case score < 80:
		return "High Bias"
	default:
		return "Extreme Bias"
	}
}

// TrustScore combines credibility and reliability into one 0-100 score.
func TrustScore(credibility, reliability float64) float64 {
	if credibility <= 0 || reliability <= 0 {
		return 0
	}
	return math.Round(math.Sqrt(credibility*reliability)*10) / 10
}

// TrustLevel maps a trust score to a coarse level.
func TrustLevel(score float64) string {
	switch {
	case score >= 80:
		return "High"
	case score >= 60:
		return "Medium"
	case score >= 40:
		return "Low"
	default:
		return "Very Low"
	}
}
