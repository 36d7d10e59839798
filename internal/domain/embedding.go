package domain

import (
	"context"
	"fmt"
)

// Vector is a dense embedding.
type Vector = []float32

// Embedder is the shared text vectorization contract between layers.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder vectorizes multiple texts in a single call.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// HealthChecker verifies embedding provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries the embedding vector and token usage through the decorator chain.
// Local models report zero tokens.
type EmbeddingResult struct {
	Embedding    Vector
	PromptTokens int
	TotalTokens  int
}

// BatchEmbeddingResult carries multiple embedding vectors and aggregate token usage.
type BatchEmbeddingResult struct {
	Embeddings   []Vector
	PromptTokens int
	TotalTokens  int
}

// EmbedAll vectorizes texts, using the native batch call when e supports it.
func EmbedAll(ctx context.Context, e Embedder, texts []string) ([]Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if be, ok := e.(BatchEmbedder); ok {
		res, err := be.BatchEmbed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("batch embed: %w", err)
		}
		if len(res.Embeddings) != len(texts) {
			return nil, fmt.Errorf("batch embed: got %d vectors for %d texts: %w",
				len(res.Embeddings), len(texts), ErrEmbeddingProvider)
		}
		return res.Embeddings, nil
	}
	res, err := BatchFallback(ctx, e, texts)
	if err != nil {
		return nil, err
	}
	return res.Embeddings, nil
}

// BatchFallback calls Embed once per text. Safety net for providers without a native batch call.
func BatchFallback(ctx context.Context, e Embedder, texts []string) (BatchEmbeddingResult, error) {
	embeddings := make([]Vector, len(texts))
	var totalPrompt, totalTokens int

	for i, text := range texts {
		res, err := e.Embed(ctx, text)
		if err != nil {
			return BatchEmbeddingResult{}, fmt.Errorf("fallback embed [%d]: %w", i, err)
		}
		embeddings[i] = res.Embedding
		totalPrompt += res.PromptTokens
		totalTokens += res.TotalTokens
	}

	return BatchEmbeddingResult{
		Embeddings:   embeddings,
		PromptTokens: totalPrompt,
		TotalTokens:  totalTokens,
	}, nil
}
