// Package openai is a remote embedding provider speaking the OpenAI-compatible
// /embeddings API, guarded by a circuit breaker.
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	openai "github.com/sashabaranov/go-openai"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrec/internal/domain"
	"github.com/kailas-cloud/bookrec/internal/metrics"
)

// BreakerConfig tunes the circuit breaker. Zero values take defaults.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// Config holds the provider settings.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	User       string
	Provider   string
	Breaker    BreakerConfig
	Logger     *zap.Logger
}

// Embedder calls an OpenAI-compatible embeddings endpoint.
type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	user       string
	provider   string
	cb         *gobreaker.CircuitBreaker[domain.BatchEmbeddingResult]
	logger     *zap.Logger
}

// NewEmbedder creates the provider.
func NewEmbedder(cfg *Config) *Embedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}

	e := &Embedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		user:       cfg.User,
		provider:   provider,
		logger:     logger,
	}
	e.cb = gobreaker.NewCircuitBreaker[domain.BatchEmbeddingResult](e.breakerSettings(cfg.Breaker))
	metrics.EmbeddingBreakerState.WithLabelValues(provider).Set(0)
	return e
}

func (e *Embedder) breakerSettings(bc BreakerConfig) gobreaker.Settings {
	if bc.MaxRequests == 0 {
		bc.MaxRequests = 1
	}
	if bc.Interval == 0 {
		bc.Interval = time.Minute
	}
	if bc.Timeout == 0 {
		bc.Timeout = 30 * time.Second
	}
	if bc.ConsecutiveFailures == 0 {
		bc.ConsecutiveFailures = 5
	}
	return gobreaker.Settings{
		Name:        e.provider + "-embeddings",
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bc.ConsecutiveFailures
		},
		// Caller cancellations say nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn("Embedding circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.EmbeddingBreakerState.WithLabelValues(e.provider).Set(float64(to))
		},
	}
}

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{
		Embedding:    res.Embeddings[0],
		PromptTokens: res.PromptTokens,
		TotalTokens:  res.TotalTokens,
	}, nil
}

// BatchEmbed implements domain.BatchEmbedder with one API request.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}
	res, err := e.cb.Execute(func() (domain.BatchEmbeddingResult, error) {
		return e.request(ctx, texts)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("%s circuit open: %w: %w", e.provider, domain.ErrEmbeddingProvider, err)
		}
		return domain.BatchEmbeddingResult{}, err
	}
	return res, nil
}

func (e *Embedder) request(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		User:           e.user,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("embedding request: %w", ctxErr)
		}
		return domain.BatchEmbeddingResult{}, parseAPIError(err)
	}
	if len(resp.Data) != len(texts) {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("embedding response has %d vectors for %d inputs: %w",
			len(resp.Data), len(texts), domain.ErrEmbeddingProvider)
	}

	out := make([]domain.Vector, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("embedding index %d out of range: %w", d.Index, domain.ErrEmbeddingProvider)
		}
		out[d.Index] = d.Embedding
	}
	return domain.BatchEmbeddingResult{
		Embeddings:   out,
		PromptTokens: resp.Usage.PromptTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}, nil
}

// HealthCheck lists models, a free endpoint on most providers.
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// parseAPIError wraps every failure with domain.ErrEmbeddingProvider.
func parseAPIError(err error) error {
	wrap := domain.ErrEmbeddingProvider

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
		return fmt.Errorf("embedding API error %d: %s: %w", reqErr.HTTPStatusCode, detail, wrap)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("embedding API error %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, wrap)
	}
	return fmt.Errorf("embedding request failed: %w: %w", wrap, err)
}

// extractDetail reads the "detail" field some providers use for error bodies.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		return parsed.Detail
	}
	return ""
}
