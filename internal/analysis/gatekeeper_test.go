package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"horse.fit/narrative/internal/cache"
	"horse.fit/narrative/internal/news"
)

func newTestGatekeeper(t *testing.T, provider Provider, store cache.Cache) *Gatekeeper {
	t.Helper()
	return NewGatekeeper(provider, testKeys(t), store, GatekeeperConfig{Model: "gate-model", Timeout: time.Second}, zerolog.Nop())
}

func gateCandidate() news.Candidate {
	return news.Candidate{
		Title:       "Senate Passes Sweeping Budget Bill After Long Debate",
		Description: "Lawmakers approved the plan late on Tuesday.",
		URL:         "https://news.example/budget",
	}
}

func TestClassifyHardNewsIsDeep(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{responses: []*genai.GenerateContentResponse{
		textResponse(genai.FinishReasonStop, `{"category": "politics", "type": "hard news"}`),
	}}
	got := newTestGatekeeper(t, provider, nil).Classify(context.Background(), gateCandidate())

	if got.DepthType != DepthHardNews || got.Depth != DepthDeep || got.IsJunk || got.FailedOpen {
		t.Fatalf("unexpected classification %+v", got)
	}
	if got.Category != "Politics" {
		t.Fatalf("expected Politics, got %q", got.Category)
	}
}

func TestClassifyJunk(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{responses: []*genai.GenerateContentResponse{
		textResponse(genai.FinishReasonStop, `{"category": "Lifestyle", "type": "Junk"}`),
	}}
	got := newTestGatekeeper(t, provider, nil).Classify(context.Background(), gateCandidate())
	if !got.IsJunk || got.Depth != DepthShallow {
		t.Fatalf("expected junk classification, got %+v", got)
	}
}

func TestClassifyFailsOpen(t *testing.T) {
	t.Parallel()

	cases := map[string]*stubProvider{
		"provider error": {errs: []error{errors.New("connection reset")}},
		"unknown type":   {responses: []*genai.GenerateContentResponse{textResponse(genai.FinishReasonStop, `{"type": "Opinion"}`)}},
		"no json":        {responses: []*genai.GenerateContentResponse{textResponse(genai.FinishReasonStop, "hard news")}},
	}
	for name, provider := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := newTestGatekeeper(t, provider, nil).Classify(context.Background(), gateCandidate())
			if !got.FailedOpen || got.IsJunk || got.DepthType != DepthSoftNews || got.Depth != DepthShallow {
				t.Fatalf("expected fail-open classification, got %+v", got)
			}
		})
	}
}

func TestClassifyCachesByURL(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{responses: []*genai.GenerateContentResponse{
		textResponse(genai.FinishReasonStop, `{"category": "World", "type": "Hard News"}`),
	}}
	gate := newTestGatekeeper(t, provider, cache.NewMemory())

	first := gate.Classify(context.Background(), gateCandidate())
	second := gate.Classify(context.Background(), gateCandidate())
	if provider.calls() != 1 {
		t.Fatalf("expected cached second classification, got %d calls", provider.calls())
	}
	if first != second {
		t.Fatalf("expected identical cached result, got %+v vs %+v", first, second)
	}
}

func TestClassifyDoesNotCacheFailOpen(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{
		errs:      []error{errors.New("boom")},
		responses: []*genai.GenerateContentResponse{nil, textResponse(genai.FinishReasonStop, `{"category": "World", "type": "Hard News"}`)},
	}
	gate := newTestGatekeeper(t, provider, cache.NewMemory())

	if got := gate.Classify(context.Background(), gateCandidate()); !got.FailedOpen {
		t.Fatalf("expected first call to fail open, got %+v", got)
	}
	if got := gate.Classify(context.Background(), gateCandidate()); got.FailedOpen || got.Depth != DepthDeep {
		t.Fatalf("expected second call to reach the provider, got %+v", got)
	}
}
