package payloadschema

import (
	"strings"
	"testing"
)

func TestValidateCandidateBatch_Valid(t *testing.T) {
	payload := []byte(`{
		"payload_version":"v1",
		"source":"newsapi",
		"country":"GB",
		"articles":[
			{
				"title":"Parliament debates new housing bill",
				"description":"Members argued over funding for social housing.",
				"url":"https://example.com/housing",
				"image_url":"https://example.com/housing.jpg",
				"source_name":"BBC News",
				"published_at":"2026-02-13T14:00:00Z"
			},
			{
				"title":"Markets rally after rate decision",
				"url":"https://example.com/markets",
				"source_name":"Reuters",
				"country":"us",
				"published_at":"2026-02-13T15:30:00+01:00",
				"embedding":[0.1, 0.2, 0.3]
			}
		]
	}`)

	batch, candidates, err := ValidateCandidateBatch(payload, "us")
	if err != nil {
		t.Fatalf("expected payload to be valid, got error: %v", err)
	}
	if batch.Source != "newsapi" {
		t.Fatalf("expected source=newsapi, got %q", batch.Source)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].Country != "gb" || candidates[0].ImageURL == "" {
		t.Fatalf("expected batch country and image on first candidate, got %+v", candidates[0])
	}
	if candidates[1].Country != "us" {
		t.Fatalf("expected article country override, got %q", candidates[1].Country)
	}
	if candidates[1].PublishedAt.Hour() != 14 || candidates[1].PublishedAt.Location().String() != "UTC" {
		t.Fatalf("expected published_at normalized to UTC, got %s", candidates[1].PublishedAt)
	}
	if len(candidates[1].Embedding) != 3 {
		t.Fatalf("expected embedding to be carried, got %v", candidates[1].Embedding)
	}
}

func TestValidateCandidateBatch_DefaultCountry(t *testing.T) {
	payload := []byte(`{"payload_version":"v1","source":"rss","articles":[
		{"title":"t","url":"https://example.com/a","source_name":"NPR","published_at":"2026-02-13T14:00:00Z"}
	]}`)

	_, candidates, err := ValidateCandidateBatch(payload, "US")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if candidates[0].Country != "us" {
		t.Fatalf("expected default country us, got %q", candidates[0].Country)
	}
}

func TestValidateCandidateBatch_MissingRequired(t *testing.T) {
	payload := []byte(`{"payload_version":"v1","source":"rss","articles":[
		{"title":"no url","source_name":"NPR","published_at":"2026-02-13T14:00:00Z"}
	]}`)

	if _, _, err := ValidateCandidateBatch(payload, "us"); err == nil {
		t.Fatalf("expected validation to fail for missing url")
	}
}

func TestValidateCandidateBatch_BadTimestamp(t *testing.T) {
	payload := []byte(`{"payload_version":"v1","source":"rss","articles":[
		{"title":"t","url":"https://example.com/a","source_name":"NPR","published_at":"yesterday"}
	]}`)

	if _, _, err := ValidateCandidateBatch(payload, "us"); err == nil {
		t.Fatalf("expected validation to fail for non RFC3339 published_at")
	}
}

func TestValidateCandidateBatch_RejectsNonHTTPURL(t *testing.T) {
	payload := []byte(`{"payload_version":"v1","source":"rss","articles":[
		{"title":"t","url":"ftp://example.com/a","source_name":"NPR","published_at":"2026-02-13T14:00:00Z"}
	]}`)

	_, _, err := ValidateCandidateBatch(payload, "us")
	if err == nil || !strings.Contains(err.Error(), "http(s)") {
		t.Fatalf("expected http(s) URL error, got %v", err)
	}
}

func TestValidateCandidateBatch_TrailingContent(t *testing.T) {
	payload := []byte(`{"payload_version":"v1","source":"rss","articles":[]} {}`)

	_, _, err := ValidateCandidateBatch(payload, "us")
	if err == nil || !strings.Contains(err.Error(), "trailing") {
		t.Fatalf("expected trailing content error, got %v", err)
	}
}

func TestValidateCandidateBatch_UnknownField(t *testing.T) {
	payload := []byte(`{"payload_version":"v1","source":"rss","articles":[],"extra":true}`)

	if _, _, err := ValidateCandidateBatch(payload, "us"); err == nil {
		t.Fatalf("expected validation to fail for unknown field")
	}
}
