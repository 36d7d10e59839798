// Package recommender owns the similarity index and runs the keyphrase
// pipeline for book mutations.
//
// Mutations are serialized by a writer mutex; pipeline work runs outside the
// index lock, and only the final swap, put or delete takes the write lock.
// Queries share a read lock.
package recommender

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/bookrec/internal/domain"
	"github.com/kailas-cloud/bookrec/internal/index"
	"github.com/kailas-cloud/bookrec/internal/keyphrase"
	logpkg "github.com/kailas-cloud/bookrec/internal/logger"
	"github.com/kailas-cloud/bookrec/internal/metrics"
)

// BulkPolicy decides what Init does with a book whose pipeline fails.
type BulkPolicy string

const (
	// BulkStrict aborts Init on the first failure and keeps the previous index.
	BulkStrict BulkPolicy = "strict"
	// BulkSkip logs the failure and indexes the remaining books.
	BulkSkip BulkPolicy = "skip"
)

// Config tunes the service.
type Config struct {
	BulkPolicy  BulkPolicy
	Workers     int
	DefaultTopN int
}

const defaultWorkers = 4

// Service is the book similarity façade.
type Service struct {
	models    ModelLoader
	extractor Extractor
	embedder  Embedder
	cfg       Config
	logger    *zap.Logger

	writeMu sync.Mutex
	mu      sync.RWMutex
	idx     *index.Index
	ready   atomic.Bool
}

// New creates a service with an empty index and unloaded models.
func New(models ModelLoader, extractor Extractor, embedder Embedder, cfg Config, logger *zap.Logger) *Service {
	if cfg.BulkPolicy == "" {
		cfg.BulkPolicy = BulkStrict
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.DefaultTopN <= 0 {
		cfg.DefaultTopN = index.DefaultTopN
	}
	return &Service{
		models:    models,
		extractor: extractor,
		embedder:  embedder,
		cfg:       cfg,
		logger:    logger,
		idx:       index.New(),
	}
}

// Ready reports whether models are loaded and the service accepts queries.
func (s *Service) Ready() bool {
	return s.ready.Load()
}

type representation struct {
	phrases []string
	vectors []domain.Vector
}

// Init loads models on first use, runs the pipeline for every book and
// replaces the whole index. On failure the previous index is untouched.
func (s *Service) Init(ctx context.Context, books map[domain.BookID]string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.loadModels(ctx); err != nil {
		return err
	}

	start := time.Now()
	ids := make([]domain.BookID, 0, len(books))
	for id := range books {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	reps := make([]*representation, len(ids))
	var skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, id := range ids {
		g.Go(func() error {
			rep, err := s.represent(gctx, books[id])
			if err == nil {
				reps[i] = rep
				metrics.BooksProcessedTotal.WithLabelValues("init", "ok").Inc()
				return nil
			}
			if s.cfg.BulkPolicy == BulkSkip && gctx.Err() == nil {
				skipped.Add(1)
				metrics.BooksProcessedTotal.WithLabelValues("init", "skipped").Inc()
				logpkg.FromContextOr(ctx, s.logger).Warn("book skipped", zap.Stringer("book_id", id), zap.Error(err))
				return nil
			}
			metrics.BooksProcessedTotal.WithLabelValues("init", "failed").Inc()
			return fmt.Errorf("book %d: %w", id, err)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("init: %w", err)
	}

	fresh := index.New()
	for i, id := range ids {
		if reps[i] != nil {
			fresh.Put(id, reps[i].vectors)
		}
	}

	s.mu.Lock()
	s.idx = fresh
	s.mu.Unlock()

	metrics.IndexBooks.Set(float64(fresh.Len()))
	metrics.PipelineDuration.WithLabelValues("init").Observe(time.Since(start).Seconds())
	s.logger.Info("index built",
		zap.Int("books", fresh.Len()),
		zap.Int64("skipped", skipped.Load()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Insert runs the pipeline for one book and stores or replaces its entry.
// It returns the selected keyphrases in rank order.
func (s *Service) Insert(ctx context.Context, id domain.BookID, text string) ([]string, error) {
	if !s.Ready() {
		return nil, fmt.Errorf("insert book %d: %w", id, domain.ErrModelNotLoaded)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	rep, err := s.represent(ctx, text)
	if err != nil {
		metrics.BooksProcessedTotal.WithLabelValues("insert", "failed").Inc()
		return nil, fmt.Errorf("insert book %d: %w", id, err)
	}

	s.mu.Lock()
	s.idx.Put(id, rep.vectors)
	n, stored := s.idx.Len(), s.idx.Vectors(id)
	s.mu.Unlock()

	logpkg.FromContextOr(ctx, s.logger).Debug("book indexed",
		zap.Stringer("book_id", id),
		zap.Int("vectors", stored),
		zap.Int("index_size", n),
	)
	metrics.BooksProcessedTotal.WithLabelValues("insert", "ok").Inc()
	metrics.IndexBooks.Set(float64(n))
	metrics.PipelineDuration.WithLabelValues("insert").Observe(time.Since(start).Seconds())
	return rep.phrases, nil
}

// Delete removes a book. Unknown ids are a no-op.
func (s *Service) Delete(_ context.Context, id domain.BookID) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.idx.Delete(id)
	n := s.idx.Len()
	s.mu.Unlock()

	metrics.IndexBooks.Set(float64(n))
	return nil
}

// Ask returns up to topn books most similar to id. topn <= 0 uses the configured default.
func (s *Service) Ask(_ context.Context, id domain.BookID, topn int) ([]domain.BookID, error) {
	if !s.Ready() {
		return nil, fmt.Errorf("ask book %d: %w", id, domain.ErrModelNotLoaded)
	}
	if topn <= 0 {
		topn = s.cfg.DefaultTopN
	}
	start := time.Now()
	defer func() { metrics.AskDuration.Observe(time.Since(start).Seconds()) }()

	s.mu.RLock()
	defer s.mu.RUnlock()
	ids, err := s.idx.Ask(id, topn)
	if err != nil {
		return nil, fmt.Errorf("ask: %w", err)
	}
	return ids, nil
}

// IDs returns every indexed book id in insertion order.
func (s *Service) IDs(_ context.Context) []domain.BookID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.IDs()
}

// Len returns the number of indexed books.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.Len()
}

func (s *Service) loadModels(ctx context.Context) error {
	if s.models.Loaded() {
		s.ready.Store(true)
		return nil
	}
	if err := s.models.Load(ctx); err != nil {
		if !errors.Is(err, domain.ErrModelLoad) {
			err = fmt.Errorf("%w: %w", domain.ErrModelLoad, err)
		}
		return fmt.Errorf("init: %w", err)
	}
	s.ready.Store(true)
	return nil
}

// represent extracts keyphrases sized by document length and embeds them.
func (s *Service) represent(ctx context.Context, text string) (*representation, error) {
	phrases, err := s.extractor.Extract(ctx, text, keyphrase.KeyphraseCount(text))
	if err != nil {
		return nil, fmt.Errorf("extract keyphrases: %w", err)
	}
	metrics.KeyphrasesSelected.Observe(float64(len(phrases)))

	vectors, err := domain.EmbedAll(ctx, s.embedder, phrases)
	if err != nil {
		return nil, fmt.Errorf("embed keyphrases: %w", err)
	}
	return &representation{phrases: phrases, vectors: vectors}, nil
}
