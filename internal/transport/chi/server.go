// Package chi exposes the recommender over HTTP with a chi router.
package chi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrec/internal/domain"
	logpkg "github.com/kailas-cloud/bookrec/internal/logger"
	healthuc "github.com/kailas-cloud/bookrec/internal/usecase/health"
	usageuc "github.com/kailas-cloud/bookrec/internal/usecase/usage"
	"github.com/kailas-cloud/bookrec/internal/version"
)

const maxBodyBytes = 32 << 20

// Recommender is the façade consumed by the handlers.
type Recommender interface {
	Init(ctx context.Context, books map[domain.BookID]string) error
	Insert(ctx context.Context, id domain.BookID, text string) ([]string, error)
	Delete(ctx context.Context, id domain.BookID) error
	Ask(ctx context.Context, id domain.BookID, topn int) ([]domain.BookID, error)
	IDs(ctx context.Context) []domain.BookID
}

// HealthReporter aggregates dependency checks.
type HealthReporter interface {
	Check(ctx context.Context) healthuc.Report
}

// UsageReporter reports embedding token consumption.
type UsageReporter interface {
	GetReport(ctx context.Context, period usageuc.Period) usageuc.Report
}

// Server holds the HTTP handlers.
type Server struct {
	books         Recommender
	health        HealthReporter
	usage         UsageReporter
	validate      *validator.Validate
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(books Recommender, health HealthReporter, logger *zap.Logger) *Server {
	return &Server{
		books:         books,
		health:        health,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		logger:        logger,
		errorHandlers: defaultErrorHandlers(),
	}
}

// WithUsage enables GET /api/v1/usage.
func (s *Server) WithUsage(u UsageReporter) *Server {
	s.usage = u
	return s
}

// InitRequest replaces the whole index.
type InitRequest struct {
	Books map[domain.BookID]string `json:"books" validate:"required"`
}

// UpsertRequest carries the text of one book. Text must be present but may
// be empty; an empty book is indexed with no keyphrases.
type UpsertRequest struct {
	Text *string `json:"text" validate:"required"`
}

// UpsertResponse lists the keyphrases selected for a book.
type UpsertResponse struct {
	ID         domain.BookID `json:"id"`
	Keyphrases []string      `json:"keyphrases"`
}

// SimilarResponse lists books similar to ID, best first.
type SimilarResponse struct {
	ID      domain.BookID   `json:"id"`
	Similar []domain.BookID `json:"similar"`
}

// ListResponse lists every indexed book.
type ListResponse struct {
	IDs []domain.BookID `json:"ids"`
}

// HealthResponse reports aggregated health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

// UsageResponse reports token usage of one period. Times are unix milliseconds;
// a zero limit means unlimited.
type UsageResponse struct {
	Period          string `json:"period"`
	PeriodStart     int64  `json:"period_start"`
	PeriodEnd       int64  `json:"period_end"`
	TokensLimit     int64  `json:"tokens_limit"`
	TokensUsed      int64  `json:"tokens_used"`
	TokensRemaining int64  `json:"tokens_remaining"`
	Exhausted       bool   `json:"exhausted"`
}

// InitBooks handles POST /api/v1/init.
func (s *Server) InitBooks(w http.ResponseWriter, r *http.Request) {
	var req InitRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx, usage := requestUsage(r)
	if err := s.books.Init(ctx, req.Books); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	setEmbeddingHeaders(w, usage)
	w.WriteHeader(http.StatusNoContent)
}

// UpsertBook handles PUT /api/v1/books/{id}.
func (s *Server) UpsertBook(w http.ResponseWriter, r *http.Request) {
	id, ok := bindBookID(w, r)
	if !ok {
		return
	}
	var req UpsertRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx, usage := requestUsage(r)
	phrases, err := s.books.Insert(ctx, id, *req.Text)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, UpsertResponse{ID: id, Keyphrases: phrases})
}

// DeleteBook handles DELETE /api/v1/books/{id}.
func (s *Server) DeleteBook(w http.ResponseWriter, r *http.Request) {
	id, ok := bindBookID(w, r)
	if !ok {
		return
	}
	if err := s.books.Delete(r.Context(), id); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SimilarBooks handles GET /api/v1/books/{id}/similar.
func (s *Server) SimilarBooks(w http.ResponseWriter, r *http.Request) {
	id, ok := bindBookID(w, r)
	if !ok {
		return
	}
	var topn int
	if err := runtime.BindQueryParameter("form", true, false, "topn", r.URL.Query(), &topn); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid topn: "+err.Error())
		return
	}
	if topn < 0 {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "topn must not be negative")
		return
	}

	similar, err := s.books.Ask(r.Context(), id, topn)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SimilarResponse{ID: id, Similar: similar})
}

// ListBooks handles GET /api/v1/books.
func (s *Server) ListBooks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ListResponse{IDs: s.books.IDs(r.Context())})
}

// GetUsage handles GET /api/v1/usage?period=day|month.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	period, err := usageuc.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	rep := s.usage.GetReport(r.Context(), period)
	writeJSON(w, http.StatusOK, UsageResponse{
		Period:          string(rep.Period),
		PeriodStart:     rep.PeriodStart.UnixMilli(),
		PeriodEnd:       rep.PeriodEnd.UnixMilli(),
		TokensLimit:     rep.Limit,
		TokensUsed:      rep.Used,
		TokensRemaining: rep.Remaining,
		Exhausted:       rep.Exhausted,
	})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	status := http.StatusOK
	if report.Status != healthuc.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, HealthResponse{Status: string(report.Status), Version: version.String(), Checks: checks})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return false
	}
	return true
}

func bindBookID(w http.ResponseWriter, r *http.Request) (domain.BookID, bool) {
	var id domain.BookID
	err := runtime.BindStyledParameterWithLocation(
		"simple", false, "id", runtime.ParamLocationPath, chi.URLParam(r, "id"), &id,
	)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, fmt.Sprintf("invalid book id: %v", err))
		return 0, false
	}
	return id, true
}

// requestUsage returns the request's usage collector, attaching one when missing.
func requestUsage(r *http.Request) (context.Context, *domain.EmbeddingUsage) {
	if u := domain.UsageFromContext(r.Context()); u != nil {
		return r.Context(), u
	}
	return domain.NewContextWithUsage(r.Context())
}

func setEmbeddingHeaders(w http.ResponseWriter, usage *domain.EmbeddingUsage) {
	if usage.Calls() > 0 {
		w.Header().Set("X-Embedding-Tokens", strconv.FormatInt(usage.TotalTokens(), 10))
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContextOr(r.Context(), s.logger)
	for _, h := range s.errorHandlers {
		if h(w, err) {
			log.Warn("domain error", zap.Error(err))
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
