package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"horse.fit/narrative/internal/news"
)

//go:embed candidate_batch.schema.json
var candidateBatchSchemaJSON string

const schemaName = "candidate_batch.schema.json"

// CandidateBatch is one handoff from a feed collaborator.
type CandidateBatch struct {
	PayloadVersion string             `json:"payload_version"`
	Source         string             `json:"source"`
	Country        string             `json:"country,omitempty"`
	Articles       []CandidateArticle `json:"articles"`
}

type CandidateArticle struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url"`
	ImageURL    *string   `json:"image_url,omitempty"`
	SourceName  string    `json:"source_name"`
	Country     string    `json:"country,omitempty"`
	PublishedAt string    `json:"published_at"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateCandidateBatch checks a raw batch against the embedded schema and
// returns its articles as candidates. Article country falls back to the batch
// country, then to defaultCountry.
func ValidateCandidateBatch(payload []byte, defaultCountry string) (*CandidateBatch, []news.Candidate, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, nil, fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, nil, fmt.Errorf("normalize payload JSON: %w", err)
	}
	var batch CandidateBatch
	if err := json.Unmarshal(normalized, &batch); err != nil {
		return nil, nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	candidates, err := toCandidates(&batch, defaultCountry)
	if err != nil {
		return nil, nil, err
	}
	return &batch, candidates, nil
}

func toCandidates(batch *CandidateBatch, defaultCountry string) ([]news.Candidate, error) {
	if strings.TrimSpace(batch.Source) == "" {
		return nil, fmt.Errorf("source must not be empty")
	}

	country := strings.ToLower(strings.TrimSpace(batch.Country))
	if country == "" {
		country = strings.ToLower(strings.TrimSpace(defaultCountry))
	}

	out := make([]news.Candidate, 0, len(batch.Articles))
	for i, article := range batch.Articles {
		publishedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(article.PublishedAt))
		if err != nil {
			return nil, fmt.Errorf("articles[%d].published_at must be RFC3339: %w", i, err)
		}
		if err := validateURI(fmt.Sprintf("articles[%d].url", i), article.URL); err != nil {
			return nil, err
		}

		candidate := news.Candidate{
			Title:       article.Title,
			Description: article.Description,
			URL:         strings.TrimSpace(article.URL),
			SourceName:  article.SourceName,
			Country:     country,
			PublishedAt: publishedAt.UTC(),
			Embedding:   article.Embedding,
		}
		if c := strings.ToLower(strings.TrimSpace(article.Country)); c != "" {
			candidate.Country = c
		}
		if article.ImageURL != nil && strings.TrimSpace(*article.ImageURL) != "" {
			if err := validateURI(fmt.Sprintf("articles[%d].image_url", i), *article.ImageURL); err != nil {
				return nil, err
			}
			candidate.ImageURL = strings.TrimSpace(*article.ImageURL)
		}
		out = append(out, candidate)
	}
	return out, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource(schemaName, strings.NewReader(candidateBatchSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile(schemaName)
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}
		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}
	return value, nil
}

func validateURI(fieldName, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%s must not be empty", fieldName)
	}
	parsed, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return fmt.Errorf("%s is not a valid URI: %w", fieldName, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) URL", fieldName)
	}
	return nil
}
