package recommender

import (
	"context"

	"github.com/kailas-cloud/bookrec/internal/domain"
)

// ModelLoader loads the pre-trained artifacts of the pipeline.
type ModelLoader interface {
	Load(ctx context.Context) error
	Loaded() bool
}

// Extractor selects up to k ranked keyphrases of a document.
type Extractor interface {
	Extract(ctx context.Context, text string, k int) ([]string, error)
}

// Embedder vectorizes keyphrases.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
