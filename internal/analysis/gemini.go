package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"horse.fit/narrative/internal/keypool"
)

// Provider is the AI backend. Each call names the credential to use so key
// rotation stays outside the client.
type Provider interface {
	GenerateContent(ctx context.Context, apiKey, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, apiKey, model, text string, dimensions int32) ([]float32, error)
}

// Gemini talks to the Gemini API, keeping one client per key.
type Gemini struct {
	mu      sync.Mutex
	clients map[string]*genai.Client
}

func NewGemini() *Gemini {
	return &Gemini{clients: make(map[string]*genai.Client)}
}

func (g *Gemini) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if client, ok := g.clients[apiKey]; ok {
		return client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	g.clients[apiKey] = client
	return client, nil
}

func (g *Gemini) GenerateContent(ctx context.Context, apiKey, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	client, err := g.client(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	resp, err := client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, withProviderStatus(err)
	}
	return resp, nil
}

func (g *Gemini) EmbedContent(ctx context.Context, apiKey, model, text string, dimensions int32) ([]float32, error) {
	client, err := g.client(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	cfg := &genai.EmbedContentConfig{}
	if dimensions > 0 {
		cfg.OutputDimensionality = genai.Ptr(dimensions)
	}
	resp, err := client.Models.EmbedContent(ctx, model, genai.Text(text), cfg)
	if err != nil {
		return nil, withProviderStatus(err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("embedding response is empty")
	}
	return resp.Embeddings[0].Values, nil
}

// withProviderStatus attaches the HTTP status of a Gemini API error so the
// key pool can decide whether to retry.
func withProviderStatus(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return keypool.WithStatus(apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return keypool.WithStatus(apiErrPtr.Code, err)
	}
	return err
}

// responseText joins the non-thought text parts of the first candidate.
func responseText(candidate *genai.Candidate) string {
	if candidate == nil || candidate.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	return strings.TrimSpace(b.String())
}

func safetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	out := make([]*genai.SafetySetting, 0, len(categories))
	for _, category := range categories {
		out = append(out, &genai.SafetySetting{
			Category:  category,
			Threshold: genai.HarmBlockThresholdBlockOnlyHigh,
		})
	}
	return out
}
