package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrec/internal/config"
	"github.com/kailas-cloud/bookrec/internal/db"
	dbRedis "github.com/kailas-cloud/bookrec/internal/db/redis"
	"github.com/kailas-cloud/bookrec/internal/domain"
	"github.com/kailas-cloud/bookrec/internal/keyphrase"
	logpkg "github.com/kailas-cloud/bookrec/internal/logger"
	"github.com/kailas-cloud/bookrec/internal/metrics"
	"github.com/kailas-cloud/bookrec/internal/nlp/chunk"
	"github.com/kailas-cloud/bookrec/internal/nlp/postag"
	"github.com/kailas-cloud/bookrec/internal/nlp/wordvec"
	budgetrepo "github.com/kailas-cloud/bookrec/internal/repository/budget"
	"github.com/kailas-cloud/bookrec/internal/repository/corpus"
	"github.com/kailas-cloud/bookrec/internal/repository/embcache"
	chiTransport "github.com/kailas-cloud/bookrec/internal/transport/chi"
	natsTransport "github.com/kailas-cloud/bookrec/internal/transport/nats"
	openaiEmb "github.com/kailas-cloud/bookrec/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/bookrec/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/bookrec/internal/usecase/health"
	"github.com/kailas-cloud/bookrec/internal/usecase/recommender"
	usageuc "github.com/kailas-cloud/bookrec/internal/usecase/usage"
	"github.com/kailas-cloud/bookrec/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting bookrec server",
		zap.String("build", version.String()),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("cache_driver", cfg.Cache.Driver),
		zap.String("corpus_driver", cfg.Corpus.Driver),
	)

	// Register collectors explicitly (no init())
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Cache)
	if err != nil {
		logger.Fatal("Cache store unavailable", zap.Error(err))
	}
	if store != nil {
		defer store.Close()
		logger.Info("Connected to cache", zap.Strings("addrs", cfg.Cache.Addrs))
	}

	// Models are loaded by the recommender on first init.
	var taggerOpts []postag.Option
	if cfg.Models.UniversalTags {
		taggerOpts = append(taggerOpts, postag.WithUniversalTags())
	}
	tagger := postag.New(taggerOpts...)
	vectors := wordvec.New()

	artifacts := []recommender.Artifact{
		{Name: "pos tagger", Path: cfg.Models.TaggerPath, Target: tagger},
	}
	if cfg.Embedding.Provider == config.ProviderLocal {
		artifacts = append(artifacts, recommender.Artifact{
			Name: "word vectors", Path: cfg.Models.EmbeddingPath, Target: vectors,
		})
	}

	embedder, budget := buildEmbedder(ctx, cfg, vectors, store, logger)

	ranker := keyphrase.NewRanker(embedder, cfg.Keyphrase.Beta)
	pipeline := keyphrase.NewPipeline(
		tagger,
		chunk.NewExtractor(chunk.Defaults(), cfg.Keyphrase.MaxPhraseWords),
		ranker,
	)
	svc := recommender.New(
		recommender.NewModels(logger, artifacts...),
		pipeline,
		embedder,
		recommender.Config{
			BulkPolicy:  recommender.BulkPolicy(cfg.Recommender.BulkPolicy),
			Workers:     cfg.Recommender.Workers,
			DefaultTopN: cfg.Recommender.DefaultTopN,
		},
		logger,
	)

	healthSvc := healthuc.New(svc).With("embedding", embeddingHealthChecker(embedder))
	if store != nil {
		healthSvc.With("cache", healthuc.CheckerFunc(store.Ping))
	}

	if err := bootstrap(ctx, cfg.Corpus, svc, logger); err != nil {
		logger.Fatal("Bootstrap failed", zap.Error(err))
	}
	describeModels(cfg, tagger, vectors, ranker, logger)

	if cfg.NATS.Enabled {
		sub, err := natsTransport.Connect(natsTransport.Config{
			URL:           cfg.NATS.URL,
			Name:          "bookrec",
			Queue:         cfg.NATS.Queue,
			UpsertSubject: cfg.NATS.UpsertSubject,
			DeleteSubject: cfg.NATS.DeleteSubject,
		}, svc, logger)
		if err != nil {
			logger.Fatal("NATS connect failed", zap.Error(err))
		}
		if err := sub.Start(); err != nil {
			logger.Fatal("NATS subscribe failed", zap.Error(err))
		}
		defer func() {
			if err := sub.Close(); err != nil {
				logger.Warn("NATS drain", zap.Error(err))
			}
		}()
		healthSvc.With("nats", sub)
	}

	// Same nil-interface rule for the usage reader.
	var budgetReader usageuc.BudgetReader
	if budget != nil {
		budgetReader = budget
	}
	server := chiTransport.NewServer(svc, healthSvc, logger).WithUsage(usageuc.New(budgetReader))
	handler := chiTransport.NewRouter(server, chiTransport.RouterConfig{
		APIKeys:           cfg.Auth.APIKeys,
		RateLimitRequests: cfg.HTTP.RateLimit,
		RateLimitWindow:   time.Minute,
		Legacy:            cfg.HTTP.Legacy,
		CORSOrigins:       cfg.HTTP.CORSOrigins,
	}, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// openStore connects the optional cache. Valkey and Redis share one client.
func openStore(ctx context.Context, cfg config.CacheConfig) (db.Store, error) {
	if cfg.Driver == "none" {
		return nil, nil
	}
	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Addrs,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s store: %w", cfg.Driver, err)
	}
	if err := store.WaitForReady(ctx, time.Duration(cfg.ReadinessTimeout)*time.Second); err != nil {
		store.Close()
		return nil, fmt.Errorf("%s not ready: %w", cfg.Driver, err)
	}
	return store, nil
}

// buildEmbedder assembles the decorator chain: provider -> Cached -> Instrumented.
// The local word-vector model is never cached; a lookup is cheaper than a round trip.
func buildEmbedder(
	ctx context.Context,
	cfg config.Config,
	vectors *wordvec.Model,
	store db.Store,
	logger *zap.Logger,
) (domain.Embedder, *embeddinguc.BudgetTracker) {
	if cfg.Embedding.Provider == config.ProviderLocal {
		return embeddinguc.NewInstrumentedEmbedder(vectors, config.ProviderLocal, "wordvec", nil, logger), nil
	}

	oc := cfg.Embedding.OpenAI
	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     oc.APIKey,
		BaseURL:    oc.BaseURL,
		Model:      oc.Model,
		Dimensions: oc.Dimensions,
		Provider:   config.ProviderOpenAI,
		Breaker: openaiEmb.BreakerConfig{
			ConsecutiveFailures: oc.Breaker.ConsecutiveFailures,
			Timeout:             time.Duration(oc.Breaker.TimeoutSec) * time.Second,
		},
		Logger: logger,
	})

	var embedder domain.Embedder = base
	if store != nil {
		embedder = embcache.New(base, store, embcache.Options{
			Namespace: fmt.Sprintf("%s:%s:%d", config.ProviderOpenAI, oc.Model, oc.Dimensions),
			TTL:       time.Duration(cfg.Cache.TTLHours) * time.Hour,
		}, metrics.EmbeddingCacheTotal, logger)
	}

	var budget *embeddinguc.BudgetTracker
	bc := cfg.Embedding.Budget
	if bc.DailyTokenLimit > 0 || bc.MonthlyTokenLimit > 0 {
		action := embeddinguc.BudgetActionWarn
		if bc.Action == "reject" {
			action = embeddinguc.BudgetActionReject
		}
		budget = embeddinguc.NewBudgetTracker(
			config.ProviderOpenAI, bc.DailyTokenLimit, bc.MonthlyTokenLimit, action, logger,
		)
		if store != nil {
			// Counters survive restarts and are shared by replicas.
			budget.WithStore(ctx, budgetrepo.New(store, 48*time.Hour, 62*24*time.Hour))
		}
	}

	// Pass nil interface (not typed nil pointer!) if budget is not configured.
	// Go gotcha: (*BudgetTracker)(nil) wrapped in BudgetChecker != nil.
	var budgetChecker embeddinguc.BudgetChecker
	if budget != nil {
		budgetChecker = budget
	}

	logger.Info("Embedder created",
		zap.String("model", oc.Model),
		zap.Int("dimensions", oc.Dimensions),
		zap.Bool("cached", store != nil),
		zap.Bool("budget", budgetChecker != nil),
	)
	return embeddinguc.NewInstrumentedEmbedder(embedder, config.ProviderOpenAI, oc.Model, budgetChecker, logger), budget
}

// embeddingHealthChecker adapts the embedder chain to a health probe.
func embeddingHealthChecker(embedder domain.Embedder) healthuc.Checker {
	hc, ok := embedder.(domain.HealthChecker)
	if !ok {
		return nil
	}
	return hc
}

// describeModels logs what the loaded models carry and, when a gold corpus is
// configured, the tagger accuracy on it.
func describeModels(cfg config.Config, tagger *postag.Tagger, vectors *wordvec.Model, ranker *keyphrase.Ranker, logger *zap.Logger) {
	fields := []zap.Field{
		zap.Int("pos_labels", len(tagger.Labels())),
		zap.Float64("beta", ranker.Beta()),
	}
	if vectors.Loaded() {
		fields = append(fields,
			zap.Int("vector_dims", vectors.Dimensions()),
			zap.Int("vocabulary", vectors.Vocabulary()),
		)
	}
	logger.Info("Models ready", fields...)

	if cfg.Models.TaggerEvalPath == "" {
		return
	}
	acc, n, err := tagger.EvaluateFile(cfg.Models.TaggerEvalPath)
	if err != nil {
		logger.Warn("Tagger evaluation failed", zap.String("path", cfg.Models.TaggerEvalPath), zap.Error(err))
		return
	}
	logger.Info("Tagger evaluated",
		zap.String("path", cfg.Models.TaggerEvalPath),
		zap.Int("sentences", n),
		zap.Float64("accuracy", acc),
	)
}

// bootstrap loads the models and indexes the configured corpus.
// Without a corpus the index starts empty and clients call init themselves.
func bootstrap(ctx context.Context, cfg config.CorpusConfig, svc *recommender.Service, logger *zap.Logger) error {
	books := map[domain.BookID]string{}
	if cfg.Driver == "sqlite" {
		src, err := corpus.OpenSQLite(cfg.Path, cfg.Query)
		if err != nil {
			return fmt.Errorf("open corpus: %w", err)
		}
		defer func() { _ = src.Close() }()

		books, err = src.Load(ctx)
		if err != nil {
			return fmt.Errorf("load corpus: %w", err)
		}
		logger.Info("Corpus loaded", zap.String("path", cfg.Path), zap.Int("books", len(books)))
	}
	if err := svc.Init(ctx, books); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	return nil
}
