package embcache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrec/internal/db"
	"github.com/kailas-cloud/bookrec/internal/domain"
)

type mockEmbedder struct {
	result     domain.EmbeddingResult
	err        error
	batchErr   error
	calls      int
	batchCalls int
	lastBatch  []string
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	m.calls++
	return m.result, m.err
}

func (m *mockEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.batchCalls++
	m.lastBatch = texts
	if m.batchErr != nil {
		return domain.BatchEmbeddingResult{}, m.batchErr
	}
	embeddings := make([]domain.Vector, len(texts))
	for i := range texts {
		embeddings[i] = m.result.Embedding
	}
	return domain.BatchEmbeddingResult{
		Embeddings:   embeddings,
		PromptTokens: m.result.PromptTokens * len(texts),
		TotalTokens:  m.result.TotalTokens * len(texts),
	}, nil
}

// memStore is an in-memory KV with call accounting.
type memStore struct {
	data   map[string][]byte
	ttls   map[string]time.Duration
	getErr error
	sets   int
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte) error {
	m.sets++
	m.data[key] = value
	return nil
}

func (m *memStore) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.ttls[key] = ttl
	return m.Set(context.Background(), key, value)
}

func newCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_cache_total"}, []string{"result"})
}

func TestEmbed_MissThenHit(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1, 0.2, 0.3}, TotalTokens: 10}}
	st := newMemStore()
	counter := newCounter()
	ce := New(inner, st, Options{Namespace: "local"}, counter, zap.NewNop())
	ctx := context.Background()

	first, err := ce.Embed(ctx, "کتاب")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.TotalTokens != 10 || st.sets != 1 {
		t.Fatalf("miss: tokens=%d sets=%d", first.TotalTokens, st.sets)
	}

	second, err := ce.Embed(ctx, "کتاب")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("hit must not call inner, calls=%d", inner.calls)
	}
	if second.TotalTokens != 0 || second.Embedding[2] != 0.3 {
		t.Errorf("hit result = %+v", second)
	}
	if testutil.ToFloat64(counter.WithLabelValues("hit")) != 1 || testutil.ToFloat64(counter.WithLabelValues("miss")) != 1 {
		t.Error("hit/miss counters not updated")
	}
}

func TestEmbed_KeyNamespace(t *testing.T) {
	st := newMemStore()
	ce := New(&mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}}}, st, Options{Namespace: "openai:m"}, nil, zap.NewNop())
	if _, err := ce.Embed(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	for k := range st.data {
		if !strings.HasPrefix(k, "bookrec:emb:openai:m:") {
			t.Errorf("unexpected key %q", k)
		}
	}
}

func TestEmbed_TTL(t *testing.T) {
	st := newMemStore()
	ce := New(&mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}}}, st, Options{TTL: time.Hour}, nil, zap.NewNop())
	if _, err := ce.Embed(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	if len(st.ttls) != 1 {
		t.Fatalf("expected a TTL write, got %v", st.ttls)
	}
	for _, ttl := range st.ttls {
		if ttl != time.Hour {
			t.Errorf("ttl = %v", ttl)
		}
	}
}

func TestEmbed_StoreErrorFallsThrough(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}}}
	st := newMemStore()
	st.getErr = errors.New("conn refused")
	ce := New(inner, st, Options{}, nil, zap.NewNop())

	if _, err := ce.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("cache failure must not fail the embed: %v", err)
	}
	if inner.calls != 1 {
		t.Error("expected inner call on cache read failure")
	}
}

func TestEmbed_CorruptEntry(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}}}
	st := newMemStore()
	ce := New(inner, st, Options{}, nil, zap.NewNop())
	st.data[ce.key("x")] = []byte{1, 2, 3}

	if _, err := ce.Embed(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 1 {
		t.Error("corrupt entry must be treated as a miss")
	}
}

func TestEmbed_InnerError(t *testing.T) {
	inner := &mockEmbedder{err: domain.ErrEmbeddingProvider}
	ce := New(inner, newMemStore(), Options{}, nil, zap.NewNop())
	if _, err := ce.Embed(context.Background(), "x"); !errors.Is(err, domain.ErrEmbeddingProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestBatchEmbed_MixedHitsMisses(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.5}, PromptTokens: 3, TotalTokens: 3}}
	st := newMemStore()
	ce := New(inner, st, Options{}, nil, zap.NewNop())
	st.data[ce.key("hit")] = encodeVector([]float32{0.9})

	res, err := ce.BatchEmbed(context.Background(), []string{"miss1", "hit", "miss2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 3 {
		t.Fatalf("expected 3 embeddings, got %d", len(res.Embeddings))
	}
	if res.Embeddings[1][0] != 0.9 {
		t.Errorf("expected cached vector at index 1, got %v", res.Embeddings[1])
	}
	if res.Embeddings[0][0] != 0.5 || res.Embeddings[2][0] != 0.5 {
		t.Errorf("expected inner vectors for misses, got %v", res.Embeddings)
	}
	if strings.Join(inner.lastBatch, ",") != "miss1,miss2" {
		t.Errorf("only misses go to inner, got %v", inner.lastBatch)
	}
	if res.TotalTokens != 6 {
		t.Errorf("TotalTokens = %d, want 6", res.TotalTokens)
	}
}

func TestBatchEmbed_AllHits(t *testing.T) {
	inner := &mockEmbedder{}
	st := newMemStore()
	ce := New(inner, st, Options{}, nil, zap.NewNop())
	st.data[ce.key("a")] = encodeVector([]float32{1})
	st.data[ce.key("b")] = encodeVector([]float32{2})

	res, err := ce.BatchEmbed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if inner.batchCalls != 0 || res.TotalTokens != 0 {
		t.Errorf("all hits: batchCalls=%d tokens=%d", inner.batchCalls, res.TotalTokens)
	}
}

func TestBatchEmbed_InnerError(t *testing.T) {
	inner := &mockEmbedder{batchErr: errors.New("api down")}
	ce := New(inner, newMemStore(), Options{}, nil, zap.NewNop())
	if _, err := ce.BatchEmbed(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error from inner batch embedder")
	}
}

func TestBatchEmbed_Empty(t *testing.T) {
	ce := New(&mockEmbedder{}, newMemStore(), Options{}, nil, zap.NewNop())
	res, err := ce.BatchEmbed(context.Background(), nil)
	if err != nil || res.Embeddings != nil {
		t.Fatalf("expected empty result, got %v, %v", res, err)
	}
}

func TestVectorCodec(t *testing.T) {
	in := []float32{0, -1.5, 3.25}
	out, err := decodeVector(encodeVector(in))
	if err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("round trip mismatch at %d: %v vs %v", i, in, out)
		}
	}
}
