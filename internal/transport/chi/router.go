package chi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrec/internal/metrics"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	APIKeys []string
	// RateLimitRequests per RateLimitWindow and client IP on mutation routes. Zero disables limiting.
	RateLimitRequests int
	RateLimitWindow   time.Duration
	Legacy            bool
	// CORSOrigins allowed for browser clients; empty disables CORS.
	CORSOrigins []string
}

// NewRouter mounts every route of s behind the standard middleware stack.
func NewRouter(s *Server, cfg RouterConfig, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(JSONRecoverer(logger))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			ExposedHeaders: []string{"X-Request-ID", "X-Embedding-Tokens"},
			MaxAge:         300,
		}))
	}
	r.Use(chiMiddleware.RequestID)
	r.Use(WideEvent(logger))
	r.Use(BearerAuthMiddleware(cfg.APIKeys))
	r.Use(metrics.Middleware())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeBadRequest, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed")
	})

	limit := rateLimiter(cfg)

	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/books", s.ListBooks)
		r.Get("/books/{id}/similar", s.SimilarBooks)
		if s.usage != nil {
			r.Get("/usage", s.GetUsage)
		}
		r.Group(func(r chi.Router) {
			r.Use(limit)
			r.Post("/init", s.InitBooks)
			r.Put("/books/{id}", s.UpsertBook)
			r.Delete("/books/{id}", s.DeleteBook)
		})
	})

	if cfg.Legacy {
		r.Post("/ask_book", s.LegacyAsk)
		r.Get("/print_books", s.LegacyPrint)
		r.Group(func(r chi.Router) {
			r.Use(limit)
			r.Post("/init_model", s.LegacyInit)
			r.Post("/insert_book", s.LegacyInsert)
			r.Post("/delete_book", s.LegacyDelete)
		})
	}
	return r
}

func rateLimiter(cfg RouterConfig) func(http.Handler) http.Handler {
	if cfg.RateLimitRequests <= 0 || cfg.RateLimitWindow <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		cfg.RateLimitRequests,
		cfg.RateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded")
		}),
	)
}
