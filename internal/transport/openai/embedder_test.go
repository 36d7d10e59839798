package openai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrec/internal/domain"
)

type embeddingData struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingResponse struct {
	Object string          `json:"object"`
	Data   []embeddingData `json:"data"`
	Model  string          `json:"model"`
	Usage  struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

func serve(t *testing.T, tokens int, data ...embeddingData) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		resp := embeddingResponse{Object: "list", Model: "test-model", Data: data}
		resp.Usage.PromptTokens = tokens
		resp.Usage.TotalTokens = tokens
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEmbedder(url string, bc BreakerConfig) *Embedder {
	return NewEmbedder(&Config{
		APIKey:   "test-key",
		BaseURL:  url,
		Model:    "test-model",
		Provider: "test",
		Breaker:  bc,
		Logger:   zap.NewNop(),
	})
}

func TestEmbedder_Embed(t *testing.T) {
	srv := serve(t, 42, embeddingData{Object: "embedding", Embedding: []float32{0.1, 0.2, 0.3, 0.4}})
	res, err := newTestEmbedder(srv.URL, BreakerConfig{}).Embed(context.Background(), "سلام دنیا")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(res.Embedding) != 4 || res.Embedding[3] != 0.4 {
		t.Errorf("unexpected vector: %v", res.Embedding)
	}
	if res.PromptTokens != 42 || res.TotalTokens != 42 {
		t.Errorf("usage = %d/%d, want 42/42", res.PromptTokens, res.TotalTokens)
	}
}

func TestEmbedder_BatchEmbed_RestoresOrder(t *testing.T) {
	srv := serve(t, 20,
		embeddingData{Object: "embedding", Embedding: []float32{0.3, 0.4}, Index: 1},
		embeddingData{Object: "embedding", Embedding: []float32{0.1, 0.2}, Index: 0},
	)
	res, err := newTestEmbedder(srv.URL, BreakerConfig{}).BatchEmbed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("BatchEmbed failed: %v", err)
	}
	if res.Embeddings[0][0] != 0.1 || res.Embeddings[1][0] != 0.3 {
		t.Errorf("order not restored by index: %v", res.Embeddings)
	}
	if res.TotalTokens != 20 {
		t.Errorf("TotalTokens = %d", res.TotalTokens)
	}
}

func TestEmbedder_BatchEmbed_Empty(t *testing.T) {
	res, err := newTestEmbedder("http://unused", BreakerConfig{}).BatchEmbed(context.Background(), nil)
	if err != nil || res.Embeddings != nil {
		t.Fatalf("expected empty result, got %v, %v", res, err)
	}
}

func TestEmbedder_BatchEmbed_CountMismatch(t *testing.T) {
	srv := serve(t, 5, embeddingData{Object: "embedding", Embedding: []float32{0.1}})
	_, err := newTestEmbedder(srv.URL, BreakerConfig{}).BatchEmbed(context.Background(), []string{"a", "b"})
	if !errors.Is(err, domain.ErrEmbeddingProvider) {
		t.Fatalf("expected ErrEmbeddingProvider, got %v", err)
	}
}

func TestEmbedder_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limit exceeded", "type": "rate_limit_error"},
		})
	}))
	defer srv.Close()

	_, err := newTestEmbedder(srv.URL, BreakerConfig{}).Embed(context.Background(), "hello")
	if !errors.Is(err, domain.ErrEmbeddingProvider) {
		t.Fatalf("expected ErrEmbeddingProvider, got %v", err)
	}
}

func TestEmbedder_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"boom"}`))
	}))
	defer srv.Close()

	emb := newTestEmbedder(srv.URL, BreakerConfig{ConsecutiveFailures: 2, Timeout: time.Hour})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := emb.Embed(ctx, "x"); err == nil {
			t.Fatal("expected server error")
		}
	}

	_, err := emb.Embed(ctx, "x")
	if !errors.Is(err, domain.ErrEmbeddingProvider) {
		t.Fatalf("open breaker must still map to ErrEmbeddingProvider, got %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("open breaker must short-circuit, server saw %d requests", hits.Load())
	}
}

func TestExtractDetail(t *testing.T) {
	if got := extractDetail([]byte(`{"detail":"model not found"}`)); got != "model not found" {
		t.Errorf("extractDetail = %q", got)
	}
	if got := extractDetail([]byte("not json")); got != "" {
		t.Errorf("extractDetail on garbage = %q", got)
	}
}
