package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recommender pipeline and index metrics.
var (
	PipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Keyphrase pipeline duration per book",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation"}, // init / insert
	)

	KeyphrasesSelected = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "keyphrases_selected",
			Help:      "Number of keyphrases selected per book",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
		},
	)

	BooksProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "books_processed_total",
			Help:      "Books run through the pipeline by outcome",
		},
		[]string{"operation", "result"}, // result: ok / skipped / failed
	)

	IndexBooks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_books",
			Help:      "Books currently held in the similarity index",
		},
	)

	AskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ask_duration_seconds",
			Help:      "Similarity query duration",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	BookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "book_events_total",
			Help:      "Book events received from the message bus",
		},
		[]string{"subject", "result"},
	)
)
