// Package embcache is a content-addressed embedding cache over a key-value store.
package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrec/internal/db"
	"github.com/kailas-cloud/bookrec/internal/domain"
)

// store is the consumer interface for the cache.
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Options tune the cache.
type Options struct {
	// Namespace separates vector spaces, usually the provider and model name.
	Namespace string
	// TTL of a cached vector; zero keeps entries until evicted.
	TTL time.Duration
}

// CachedEmbedder caches embeddings keyed by the sha256 of the text.
type CachedEmbedder struct {
	inner      domain.Embedder
	store      store
	prefix     string
	ttl        time.Duration
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a caching decorator. cacheTotal carries a "result" label (hit/miss) and may be nil.
func New(
	inner domain.Embedder,
	s store,
	opts Options,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *CachedEmbedder {
	prefix := db.KeyPrefix + "emb:"
	if opts.Namespace != "" {
		prefix += opts.Namespace + ":"
	}
	return &CachedEmbedder{
		inner:      inner,
		store:      s,
		prefix:     prefix,
		ttl:        opts.TTL,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// Embed returns a cached vector or calls the inner embedder.
// A hit reports zero tokens.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	key := c.key(text)
	if vec, ok := c.lookup(ctx, key); ok {
		c.count("hit")
		return domain.EmbeddingResult{Embedding: vec}, nil
	}
	c.count("miss")

	res, err := c.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", err)
	}
	c.put(ctx, key, res.Embedding)
	return res, nil
}

// BatchEmbed serves hits from the cache and sends only the misses to the inner embedder.
func (c *CachedEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	out := make([]domain.Vector, len(texts))
	keys := make([]string, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		keys[i] = c.key(text)
		if vec, ok := c.lookup(ctx, keys[i]); ok {
			c.count("hit")
			out[i] = vec
			continue
		}
		c.count("miss")
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return domain.BatchEmbeddingResult{Embeddings: out}, nil
	}

	res, err := c.embedMisses(ctx, missTexts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, err
	}
	if len(res.Embeddings) != len(missTexts) {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("inner returned %d vectors for %d texts: %w",
			len(res.Embeddings), len(missTexts), domain.ErrEmbeddingProvider)
	}
	for j, i := range missIdx {
		out[i] = res.Embeddings[j]
		c.put(ctx, keys[i], res.Embeddings[j])
	}
	return domain.BatchEmbeddingResult{
		Embeddings:   out,
		PromptTokens: res.PromptTokens,
		TotalTokens:  res.TotalTokens,
	}, nil
}

// HealthCheck delegates to the inner embedder when it supports it.
func (c *CachedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := c.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx) //nolint:wrapcheck // transparent decorator
	}
	return nil
}

func (c *CachedEmbedder) embedMisses(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if be, ok := c.inner.(domain.BatchEmbedder); ok {
		res, err := be.BatchEmbed(ctx, texts)
		if err != nil {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("embed misses: %w", err)
		}
		return res, nil
	}
	res, err := domain.BatchFallback(ctx, c.inner, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("embed misses: %w", err)
	}
	return res, nil
}

func (c *CachedEmbedder) count(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

func (c *CachedEmbedder) key(text string) string {
	h := sha256.Sum256([]byte(text))
	return c.prefix + hex.EncodeToString(h[:])
}

func (c *CachedEmbedder) lookup(ctx context.Context, key string) (domain.Vector, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to read cached embedding", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}
	vec, err := decodeVector(data)
	if err != nil {
		c.logger.Warn("Failed to decode cached embedding", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return vec, true
}

func (c *CachedEmbedder) put(ctx context.Context, key string, vec domain.Vector) {
	data := encodeVector(vec)
	var err error
	if c.ttl > 0 {
		err = c.store.SetWithTTL(ctx, key, data, c.ttl)
	} else {
		err = c.store.Set(ctx, key, data)
	}
	if err != nil {
		c.logger.Warn("Failed to cache embedding", zap.String("key", key), zap.Error(err))
	}
}

// encodeVector writes float32 values little-endian.
func encodeVector(v domain.Vector) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) (domain.Vector, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid cached vector: len=%d is not a multiple of 4", len(data))
	}
	vec := make(domain.Vector, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
