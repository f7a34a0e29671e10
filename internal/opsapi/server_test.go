package opsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/narrative/internal/filter"
	"horse.fit/narrative/internal/ingest"
	"horse.fit/narrative/internal/keypool"
	"horse.fit/narrative/internal/memstore"
	"horse.fit/narrative/internal/news"
	"horse.fit/narrative/internal/pipeline"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubWorker struct{ status pipeline.Status }

func (s stubWorker) Status() pipeline.Status { return s.status }

func do(t *testing.T, srv *Server, method, path string, body []byte) (*httptest.ResponseRecorder, jsendResponse) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var resp jsendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, resp
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv := NewServer(Deps{Store: stubPinger{}}, zerolog.Nop(), Options{})
	rec, resp := do(t, srv, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK || resp.Status != "success" {
		t.Fatalf("expected healthy response, got %d %+v", rec.Code, resp)
	}

	down := NewServer(Deps{Store: stubPinger{err: errors.New("refused")}}, zerolog.Nop(), Options{})
	rec, resp = do(t, down, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusServiceUnavailable || resp.Status != "error" {
		t.Fatalf("expected 503 error envelope, got %d %+v", rec.Code, resp)
	}
}

func TestKeysAreMasked(t *testing.T) {
	t.Parallel()

	keys := keypool.NewManager(zerolog.Nop(), keypool.Options{})
	if err := keys.Register("analysis", []string{"secret-key-abcd"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	srv := NewServer(Deps{Keys: keys}, zerolog.Nop(), Options{})

	rec, _ := do(t, srv, http.MethodGet, "/api/v1/keys", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "secret-key") || !strings.Contains(body, "abcd") {
		t.Fatalf("expected masked key in %s", body)
	}
}

func TestWorkerStatus(t *testing.T) {
	t.Parallel()

	srv := NewServer(Deps{Worker: stubWorker{status: pipeline.Status{WorkerID: "worker-a", Cycles: 3}}}, zerolog.Nop(), Options{})
	rec, _ := do(t, srv, http.MethodGet, "/api/v1/worker", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"worker_id":"worker-a"`) {
		t.Fatalf("unexpected worker response %d %s", rec.Code, rec.Body.String())
	}

	missing := NewServer(Deps{}, zerolog.Nop(), Options{})
	rec, _ = do(t, missing, http.MethodGet, "/api/v1/worker", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without worker, got %d", rec.Code)
	}
}

func TestStatsCountsArticles(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	store.Put(news.Pending(news.Candidate{URL: "https://example.com/a"}))
	analyzed := news.Pending(news.Candidate{URL: "https://example.com/b"})
	analyzed.AnalysisType = news.AnalysisFull
	analyzed.AnalysisVersion = "v0"
	store.Put(analyzed)

	srv := NewServer(Deps{Stats: store, AnalysisVersion: "v1"}, zerolog.Nop(), Options{})
	rec, _ := do(t, srv, http.MethodGet, "/api/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{`"total":2`, `"pending":1`, `"full":1`, `"stale":1`} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in %s", want, body)
		}
	}
}

func TestCandidatesEndpoint(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	f := filter.New(filter.DefaultConfig(), zerolog.Nop()).WithLanguageDetector(func(string) string { return "en" })
	srv := NewServer(Deps{Ingester: ingest.NewService(store, f, zerolog.Nop()), DefaultCountry: "us"}, zerolog.Nop(), Options{})

	rec, resp := do(t, srv, http.MethodPost, "/api/v1/candidates", []byte(`{"payload_version":"v1","source":"rss","articles":[]}`))
	if rec.Code != http.StatusAccepted || resp.Status != "success" {
		t.Fatalf("expected accepted empty batch, got %d %+v", rec.Code, resp)
	}

	rec, resp = do(t, srv, http.MethodPost, "/api/v1/candidates", []byte(`{"source":"rss"}`))
	if rec.Code != http.StatusBadRequest || resp.Status != "fail" {
		t.Fatalf("expected validation failure, got %d %+v", rec.Code, resp)
	}
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	t.Parallel()

	srv := NewServer(Deps{}, zerolog.Nop(), Options{})
	rec, resp := do(t, srv, http.MethodGet, "/api/v1/nope", nil)
	if rec.Code != http.StatusNotFound || resp.Status != "fail" {
		t.Fatalf("expected 404 fail envelope, got %d %+v", rec.Code, resp)
	}
}
