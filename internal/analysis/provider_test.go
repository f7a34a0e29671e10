package analysis

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"horse.fit/narrative/internal/keypool"
)

// stubProvider replays queued responses and records the keys it was called with.
type stubProvider struct {
	mu        sync.Mutex
	responses []*genai.GenerateContentResponse
	errs      []error
	keys      []string
	models    []string
	embedding []float32
	embedErr  error
}

func (s *stubProvider) GenerateContent(_ context.Context, apiKey, model string, _ []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys = append(s.keys, apiKey)
	s.models = append(s.models, model)
	idx := len(s.keys) - 1
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	if idx < len(s.responses) {
		return s.responses[idx], nil
	}
	return nil, errors.New("no queued response")
}

func (s *stubProvider) EmbedContent(_ context.Context, apiKey, _ string, _ string, _ int32) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, apiKey)
	return s.embedding, s.embedErr
}

func (s *stubProvider) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

func textResponse(finish genai.FinishReason, text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			FinishReason: finish,
			Content: &genai.Content{
				Parts: []*genai.Part{{Text: text}},
			},
		}},
	}
}

func testKeys(t *testing.T) *keypool.Manager {
	t.Helper()

	m := keypool.NewManager(zerolog.Nop(), keypool.Options{
		MaxAttempts: 3,
		Sleep:       func(context.Context, time.Duration) error { return nil },
		Jitter:      func() time.Duration { return 0 },
	})
	for _, provider := range []string{ProviderAnalysis, ProviderGatekeeper, ProviderEmbedding} {
		if err := m.Register(provider, []string{"key-one-1111", "key-two-2222"}); err != nil {
			t.Fatalf("Register(%s) error = %v", provider, err)
		}
	}
	return m
}

func rateLimited() error {
	return keypool.WithStatus(http.StatusTooManyRequests, errors.New("resource exhausted"))
}
