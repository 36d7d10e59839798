package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrec/internal/domain"
	"github.com/kailas-cloud/bookrec/internal/metrics"
)

type mockEmbedder struct {
	result     domain.EmbeddingResult
	err        error
	batchErr   error
	batchSizes []int
	healthErr  error
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	return m.result, m.err
}

func (m *mockEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.batchSizes = append(m.batchSizes, len(texts))
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

func (m *mockEmbedder) HealthCheck(_ context.Context) error { return m.healthErr }

// plainEmbedder has no native batch call.
type plainEmbedder struct {
	calls int
}

func (p *plainEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	p.calls++
	return domain.EmbeddingResult{Embedding: []float32{1}, TotalTokens: 1}, nil
}

func TestInstrumentedEmbedder_Embed(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1, 0.2, 0.3}}}
	p := NewInstrumentedEmbedder(inner, "test-ok", "m", nil, zap.NewNop())

	res, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embedding) != 3 {
		t.Fatalf("expected 3 dimensions, got %d", len(res.Embedding))
	}
	if v := testutil.ToFloat64(metrics.EmbeddingRequestsTotal.WithLabelValues("test-ok", "m", "success")); v != 1 {
		t.Errorf("success counter = %f", v)
	}
}

func TestInstrumentedEmbedder_AddsUsageToContext(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}, PromptTokens: 7, TotalTokens: 7}}
	p := NewInstrumentedEmbedder(inner, "test-usage", "m", nil, zap.NewNop())

	ctx, usage := domain.NewContextWithUsage(context.Background())
	if _, err := p.Embed(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.BatchEmbed(ctx, []string{"b", "c"}); err != nil {
		t.Fatal(err)
	}
	if usage.TotalTokens() != 21 {
		t.Errorf("TotalTokens = %d, want 21", usage.TotalTokens())
	}
	if usage.Calls() != 2 {
		t.Errorf("Calls = %d, want 2", usage.Calls())
	}
}

func TestInstrumentedEmbedder_Error(t *testing.T) {
	inner := &mockEmbedder{err: domain.ErrEmbeddingProvider}
	p := NewInstrumentedEmbedder(inner, "test-err", "m", nil, zap.NewNop())

	_, err := p.Embed(context.Background(), "hello")
	if !errors.Is(err, domain.ErrEmbeddingProvider) {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
	if v := testutil.ToFloat64(metrics.EmbeddingErrorsTotal.WithLabelValues("test-err", "m", "provider")); v != 1 {
		t.Errorf("error counter = %f", v)
	}
}

func TestInstrumentedEmbedder_BudgetRejection(t *testing.T) {
	budget := NewBudgetTracker("test-budget", 100, 0, BudgetActionReject, zap.NewNop())
	budget.Record(100)
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1}}}
	p := NewInstrumentedEmbedder(inner, "test-budget", "m", budget, zap.NewNop())

	if _, err := p.Embed(context.Background(), "hello"); !errors.Is(err, domain.ErrEmbeddingQuotaExceeded) {
		t.Fatalf("Embed: expected ErrEmbeddingQuotaExceeded, got %v", err)
	}
	if _, err := p.BatchEmbed(context.Background(), []string{"a"}); !errors.Is(err, domain.ErrEmbeddingQuotaExceeded) {
		t.Fatalf("BatchEmbed: expected ErrEmbeddingQuotaExceeded, got %v", err)
	}
	if len(inner.batchSizes) != 0 {
		t.Error("inner must not be called once the budget is exhausted")
	}
}

func TestInstrumentedEmbedder_RecordsBudget(t *testing.T) {
	budget := NewBudgetTracker("test-record", 1000000, 10000000, BudgetActionReject, zap.NewNop())
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1}, PromptTokens: 500, TotalTokens: 500}}
	p := NewInstrumentedEmbedder(inner, "test-record", "m", budget, zap.NewNop())

	beforeDaily := budget.RemainingDaily()
	if _, err := p.Embed(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.BatchEmbed(context.Background(), []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	if got := budget.RemainingDaily(); got != beforeDaily-1500 {
		t.Errorf("daily remaining %d -> %d, want a drop of 1500", beforeDaily, got)
	}
	if v := testutil.ToFloat64(metrics.EmbeddingBudgetTokensRemaining.WithLabelValues("test-record", "daily")); v != float64(budget.RemainingDaily()) {
		t.Errorf("budget gauge = %f", v)
	}
}

func TestInstrumentedEmbedder_BatchChunking(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}}}
	p := NewInstrumentedEmbedder(inner, "test-chunk", "m", nil, zap.NewNop())

	texts := make([]string, DefaultMaxBatchSize+10)
	res, err := p.BatchEmbed(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Embeddings) != len(texts) {
		t.Fatalf("got %d embeddings for %d texts", len(res.Embeddings), len(texts))
	}
	if len(inner.batchSizes) != 2 || inner.batchSizes[0] != DefaultMaxBatchSize || inner.batchSizes[1] != 10 {
		t.Errorf("chunk sizes = %v", inner.batchSizes)
	}
}

func TestInstrumentedEmbedder_BatchEmpty(t *testing.T) {
	inner := &mockEmbedder{}
	p := NewInstrumentedEmbedder(inner, "test-empty", "m", nil, zap.NewNop())
	res, err := p.BatchEmbed(context.Background(), nil)
	if err != nil || res.Embeddings != nil {
		t.Fatalf("expected empty result, got %v, %v", res, err)
	}
	if len(inner.batchSizes) != 0 {
		t.Error("inner must not be called for empty input")
	}
}

func TestInstrumentedEmbedder_BatchInnerError(t *testing.T) {
	inner := &mockEmbedder{batchErr: errors.New("api down")}
	p := NewInstrumentedEmbedder(inner, "test-berr", "m", nil, zap.NewNop())
	if _, err := p.BatchEmbed(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestInstrumentedEmbedder_BatchFallbackToSingle(t *testing.T) {
	inner := &plainEmbedder{}
	p := NewInstrumentedEmbedder(inner, "test-fallback", "m", nil, zap.NewNop())

	res, err := p.BatchEmbed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if inner.calls != 3 || len(res.Embeddings) != 3 || res.TotalTokens != 3 {
		t.Errorf("calls=%d embeddings=%d tokens=%d", inner.calls, len(res.Embeddings), res.TotalTokens)
	}
}

func TestInstrumentedEmbedder_HealthCheck(t *testing.T) {
	inner := &mockEmbedder{healthErr: errors.New("unreachable")}
	p := NewInstrumentedEmbedder(inner, "test-health", "m", nil, zap.NewNop())
	if err := p.HealthCheck(context.Background()); err == nil {
		t.Error("expected inner health error")
	}

	plain := NewInstrumentedEmbedder(&plainEmbedder{}, "test-health-plain", "m", nil, zap.NewNop())
	if err := plain.HealthCheck(context.Background()); err != nil {
		t.Errorf("embedders without health checks are healthy, got %v", err)
	}
}
