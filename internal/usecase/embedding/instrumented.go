// Package embedding decorates embedders with token budgets, usage
// accounting, metrics and logging.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrec/internal/domain"
	"github.com/kailas-cloud/bookrec/internal/metrics"
)

// DefaultMaxBatchSize caps texts per inner batch call.
const DefaultMaxBatchSize = 256

// BudgetChecker is the local interface for budget enforcement.
type BudgetChecker interface {
	Check(ctx context.Context) error
	Record(tokens int64)
	RemainingDaily() int64
	RemainingMonthly() int64
}

// InstrumentedEmbedder is the outermost embedder decorator.
// Budget is optional and only meaningful for token-billed providers.
type InstrumentedEmbedder struct {
	inner    domain.Embedder
	provider string
	model    string
	budget   BudgetChecker
	logger   *zap.Logger
}

// NewInstrumentedEmbedder wraps inner. budget may be nil.
func NewInstrumentedEmbedder(
	inner domain.Embedder, provider, model string,
	budget BudgetChecker, logger *zap.Logger,
) *InstrumentedEmbedder {
	return &InstrumentedEmbedder{
		inner:    inner,
		provider: provider,
		model:    model,
		budget:   budget,
		logger:   logger,
	}
}

// Embed checks the budget, delegates, then records usage and metrics.
func (p *InstrumentedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if err := p.checkBudget(ctx, 1); err != nil {
		return domain.EmbeddingResult{}, err
	}

	start := time.Now()
	result, err := p.inner.Embed(ctx, text)
	duration := time.Since(start)

	if err != nil {
		p.fail(err)
		p.logger.Error("Embedding request failed",
			zap.String("provider", p.provider),
			zap.String("model", p.model),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}

	p.succeed(duration, result.PromptTokens, result.TotalTokens)
	domain.UsageFromContext(ctx).Add(result.TotalTokens)

	p.logger.Debug("Embedding request completed",
		zap.String("provider", p.provider),
		zap.Duration("duration", duration),
		zap.Int("dimensions", len(result.Embedding)),
		zap.Int("total_tokens", result.TotalTokens),
	)
	return result, nil
}

// BatchEmbed splits texts into chunks of DefaultMaxBatchSize, re-checking the budget per chunk.
func (p *InstrumentedEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	var out domain.BatchEmbeddingResult
	start := time.Now()
	for offset := 0; offset < len(texts); offset += DefaultMaxBatchSize {
		if err := p.checkBudget(ctx, len(texts)); err != nil {
			return domain.BatchEmbeddingResult{}, err
		}
		chunk := texts[offset:min(offset+DefaultMaxBatchSize, len(texts))]

		chunkStart := time.Now()
		res, err := p.embedInner(ctx, chunk)
		if err != nil {
			p.fail(err)
			p.logger.Error("Batch embedding request failed",
				zap.String("provider", p.provider),
				zap.Int("chunk_offset", offset),
				zap.Int("chunk_size", len(chunk)),
				zap.Error(err),
			)
			return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed: %w", err)
		}
		p.succeed(time.Since(chunkStart), res.PromptTokens, res.TotalTokens)

		out.Embeddings = append(out.Embeddings, res.Embeddings...)
		out.PromptTokens += res.PromptTokens
		out.TotalTokens += res.TotalTokens
	}
	domain.UsageFromContext(ctx).Add(out.TotalTokens)

	p.logger.Debug("Batch embedding completed",
		zap.String("provider", p.provider),
		zap.Duration("duration", time.Since(start)),
		zap.Int("batch_size", len(texts)),
		zap.Int("total_tokens", out.TotalTokens),
	)
	return out, nil
}

// HealthCheck delegates to the inner embedder when it supports it.
func (p *InstrumentedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := p.inner.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s health: %w", p.provider, err)
		}
	}
	return nil
}

func (p *InstrumentedEmbedder) embedInner(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if be, ok := p.inner.(domain.BatchEmbedder); ok {
		res, err := be.BatchEmbed(ctx, texts)
		if err != nil {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("inner batch embed: %w", err)
		}
		return res, nil
	}
	res, err := domain.BatchFallback(ctx, p.inner, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("inner batch fallback: %w", err)
	}
	return res, nil
}

func (p *InstrumentedEmbedder) checkBudget(ctx context.Context, size int) error {
	if p.budget == nil {
		return nil
	}
	if err := p.budget.Check(ctx); err != nil {
		metrics.EmbeddingErrorsTotal.WithLabelValues(p.provider, p.model, "budget").Inc()
		p.logger.Error("Budget exceeded",
			zap.String("provider", p.provider),
			zap.Int("texts", size),
			zap.Error(err),
		)
		return fmt.Errorf("budget check: %w", err)
	}
	return nil
}

func (p *InstrumentedEmbedder) fail(err error) {
	metrics.EmbeddingRequestsTotal.WithLabelValues(p.provider, p.model, "error").Inc()
	kind := "provider"
	switch {
	case errors.Is(err, context.Canceled):
		kind = "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		kind = "timeout"
	}
	metrics.EmbeddingErrorsTotal.WithLabelValues(p.provider, p.model, kind).Inc()
}

func (p *InstrumentedEmbedder) succeed(d time.Duration, promptTokens, totalTokens int) {
	metrics.EmbeddingRequestsTotal.WithLabelValues(p.provider, p.model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(p.provider, p.model).Observe(d.Seconds())
	if totalTokens > 0 {
		metrics.EmbeddingTokensTotal.WithLabelValues(p.provider, p.model, "prompt").Add(float64(promptTokens))
		metrics.EmbeddingTokensTotal.WithLabelValues(p.provider, p.model, "total").Add(float64(totalTokens))
	}
	if p.budget != nil && totalTokens > 0 {
		p.budget.Record(int64(totalTokens))
		metrics.EmbeddingBudgetTokensRemaining.WithLabelValues(p.provider, "daily").Set(float64(p.budget.RemainingDaily()))
		metrics.EmbeddingBudgetTokensRemaining.WithLabelValues(p.provider, "monthly").Set(float64(p.budget.RemainingMonthly()))
	}
}
