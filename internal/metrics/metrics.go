// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bookrec"

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestDuration,
			httpRequestsTotal,
			EmbeddingRequestsTotal,
			EmbeddingRequestDuration,
			EmbeddingTokensTotal,
			EmbeddingErrorsTotal,
			EmbeddingBudgetTokensRemaining,
			EmbeddingCacheTotal,
			EmbeddingBreakerState,
			PipelineDuration,
			KeyphrasesSelected,
			BooksProcessedTotal,
			IndexBooks,
			AskDuration,
			BookEventsTotal,
		)
	})
}
