package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/kadirpekel/seeker/pkg/config"
	"github.com/kadirpekel/seeker/pkg/errkind"
)

func newTestGenerator(t *testing.T, url string) *OpenAIGenerator {
	t.Helper()
	cfg := config.LLMConfig{APIKey: "test", BaseURL: url, Model: "test-model"}
	cfg.SetDefaults()
	cfg.APIKey = "test"
	cfg.BaseURL = url
	gen, err := NewOpenAIGenerator(cfg)
	if err != nil {
		t.Fatalf("NewOpenAIGenerator: %v", err)
	}
	return gen
}

func TestGenerateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test" {
			t.Errorf("missing auth header")
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "Paris"}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 3},
		})
	}))
	defer srv.Close()

	gen := newTestGenerator(t, srv.URL)
	res, err := gen.Generate(context.Background(), []Message{{Role: "user", Content: "capital of France?"}}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Text != "Paris" {
		t.Errorf("Text = %q, want Paris", res.Text)
	}
	if res.PromptTokens != 12 || res.CompletionTokens != 3 {
		t.Errorf("usage = %d/%d, want 12/3", res.PromptTokens, res.CompletionTokens)
	}
}

func TestGenerateRetriesTransportOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "ok"}},
			},
		})
	}))
	defer srv.Close()

	gen := newTestGenerator(t, srv.URL)
	res, err := gen.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Text != "ok" {
		t.Errorf("Text = %q, want ok", res.Text)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestGenerateSurfacesGenerationFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	gen := newTestGenerator(t, srv.URL)
	_, err := gen.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errkind.Is(err, errkind.GenerationFailure) {
		t.Errorf("kind = %q, want generation_failure", errkind.KindOf(err))
	}
}

func TestGenerateClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	gen := newTestGenerator(t, srv.URL)
	_, err := gen.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (4xx must not retry)", calls.Load())
	}
}

func TestGenerateEmptyMessages(t *testing.T) {
	gen := newTestGenerator(t, "http://localhost:0")
	_, err := gen.Generate(context.Background(), nil, nil)
	if !errkind.Is(err, errkind.InvalidArgument) {
		t.Errorf("kind = %q, want invalid_argument", errkind.KindOf(err))
	}
}
