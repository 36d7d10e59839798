package domain

import "errors"

var (
	// ErrModelLoad signals an unreadable or malformed pre-trained artifact.
	ErrModelLoad = errors.New("model load failed")
	// ErrModelNotLoaded signals a pipeline call before the models were loaded.
	ErrModelNotLoaded = errors.New("model not loaded")
	// ErrUnknownBook signals a query for a book id absent from the index.
	ErrUnknownBook = errors.New("unknown book")
	// ErrInvalidInput signals a malformed request payload.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmbeddingProvider signals a remote embedding provider failure.
	ErrEmbeddingProvider = errors.New("embedding provider error")
	// ErrEmbeddingQuotaExceeded signals an exhausted remote token budget.
	ErrEmbeddingQuotaExceeded = errors.New("embedding token budget exceeded")
)
