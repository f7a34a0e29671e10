package analysis

import (
	"fmt"
	"strings"

	"horse.fit/narrative/internal/news"
)

const gatekeeperInstructions = `Classify the news item below. Respond with JSON only:
{"category": "<Politics|World|Business|Economy|Technology|Science|Health|Environment|Crime|Education|Sports|Entertainment|Lifestyle|General>",
 "type": "<Hard News|Soft News|Junk>"}
Junk means advertising, listicles, coupons, horoscopes or content that is not news.`

const analysisInstructions = `You are a media analyst. Analyze the news article below and respond with a single JSON object:
{
 "isJunk": false,
 "analysisType": "Full" | "SentimentOnly",
 "summary": "...",
 "category": "...",
 "sentiment": "Positive" | "Negative" | "Neutral",
 "politicalLean": "Left" | "Left-Leaning" | "Center" | "Right-Leaning" | "Right" | "Not Applicable",
 "clusterTopic": "short topic label shared by articles about the same story",
 "biasScore": 0-100, "biasLabel": "...", "biasComponents": {"name": 0-100},
 "credibilityScore": 0-100, "credibilityGrade": "...", "credibilityComponents": {"name": 0-100},
 "reliabilityScore": 0-100, "reliabilityGrade": "...", "reliabilityComponents": {"name": 0-100},
 "trustScore": 0-100, "trustLevel": "...",
 "coverageLeft": 0-100, "coverageCenter": 0-100, "coverageRight": 0-100,
 "keyFindings": ["..."], "recommendations": ["..."]
}
Set isJunk to true for advertising or non-news content.`

func gatekeeperPrompt(title, description string) string {
	var b strings.Builder
	b.WriteString(gatekeeperInstructions)
	b.WriteString("\n\nTitle: ")
	b.WriteString(strings.TrimSpace(title))
	if description = strings.TrimSpace(description); description != "" {
		b.WriteString("\nDescription: ")
		b.WriteString(description)
	}
	return b.String()
}

func analysisPrompt(article news.Article, depth, categoryHint string) string {
	var b strings.Builder
	b.WriteString(analysisInstructions)
	if depth == DepthShallow {
		b.WriteString("\nThis is soft news: prefer analysisType SentimentOnly unless the article has political substance.")
	}
	if categoryHint != "" {
		fmt.Fprintf(&b, "\nSuggested category: %s", categoryHint)
	}
	fmt.Fprintf(&b, "\n\nSource: %s\nPublished: %s\nTitle: %s\nDescription: %s\nURL: %s",
		article.SourceName,
		article.PublishedAt.UTC().Format("2006-01-02T15:04:05Z"),
		article.Title,
		article.Description,
		article.URL,
	)
	return b.String()
}
