package chi

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/kailas-cloud/bookrec/internal/domain"
)

// ErrorCode is the machine-readable error identifier of an API response.
type ErrorCode string

// Error codes returned in ErrorResponse.Code.
const (
	CodeBadRequest             ErrorCode = "bad_request"
	CodeValidationFailed       ErrorCode = "validation_failed"
	CodeUnauthorized           ErrorCode = "unauthorized"
	CodeRateLimited            ErrorCode = "rate_limited"
	CodeModelLoadFailed        ErrorCode = "model_load_failed"
	CodeModelNotLoaded         ErrorCode = "model_not_loaded"
	CodeUnknownBook            ErrorCode = "unknown_book"
	CodeEmbeddingProviderError ErrorCode = "embedding_provider_error"
	CodeEmbeddingQuotaExceeded ErrorCode = "embedding_quota_exceeded"
	CodeInternalError          ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

func defaultErrorHandlers() []errorHandler {
	return []errorHandler{
		sentinelHandler(domain.ErrModelLoad, http.StatusServiceUnavailable, CodeModelLoadFailed),
		sentinelHandler(domain.ErrModelNotLoaded, http.StatusServiceUnavailable, CodeModelNotLoaded),
		sentinelHandler(domain.ErrUnknownBook, http.StatusNotFound, CodeUnknownBook),
		sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(domain.ErrEmbeddingQuotaExceeded, http.StatusTooManyRequests, CodeEmbeddingQuotaExceeded),
		sentinelHandler(domain.ErrEmbeddingProvider, http.StatusBadGateway, CodeEmbeddingProviderError),
	}
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
// The client sees only the sentinel's message.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, sentinel.Error())
		return true
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
