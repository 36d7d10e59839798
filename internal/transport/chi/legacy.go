package chi

import (
	"net/http"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrec/internal/domain"
	logpkg "github.com/kailas-cloud/bookrec/internal/logger"
)

// Form-encoded routes kept for clients of the first recommender API.
// They reply with a plain "success" or a bare JSON array.

// LegacyInit handles POST /init_model with a book_data JSON object of id to text.
func (s *Server) LegacyInit(w http.ResponseWriter, r *http.Request) {
	books := map[domain.BookID]string{}
	if raw := strings.TrimSpace(r.PostFormValue("book_data")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &books); err != nil {
			writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid book_data: "+err.Error())
			return
		}
	}
	if err := s.books.Init(r.Context(), books); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeSuccess(w)
}

// LegacyInsert handles POST /insert_book with id and summary.
func (s *Server) LegacyInsert(w http.ResponseWriter, r *http.Request) {
	id, ok := formBookID(w, r)
	if !ok {
		return
	}
	summary, present := r.PostForm["summary"]
	if !present {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "summary is required")
		return
	}
	phrases, err := s.books.Insert(r.Context(), id, summary[0])
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, phrases)
}

// LegacyDelete handles POST /delete_book with id.
func (s *Server) LegacyDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := formBookID(w, r)
	if !ok {
		return
	}
	if err := s.books.Delete(r.Context(), id); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeSuccess(w)
}

// LegacyAsk handles POST /ask_book with id and an optional topn.
func (s *Server) LegacyAsk(w http.ResponseWriter, r *http.Request) {
	id, ok := formBookID(w, r)
	if !ok {
		return
	}
	topn := 0
	if v := r.PostFormValue("topn"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, CodeValidationFailed, "invalid topn")
			return
		}
		topn = n
	}
	similar, err := s.books.Ask(r.Context(), id, topn)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, similar)
}

func formBookID(w http.ResponseWriter, r *http.Request) (domain.BookID, bool) {
	id, err := domain.ParseBookID(strings.TrimSpace(r.PostFormValue("id")))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "id must be an integer")
		return 0, false
	}
	return id, true
}

// LegacyPrint handles GET /print_books by logging the indexed ids.
func (s *Server) LegacyPrint(w http.ResponseWriter, r *http.Request) {
	ids := s.books.IDs(r.Context())
	logpkg.FromContextOr(r.Context(), s.logger).Info("indexed books",
		zap.Int("count", len(ids)), zap.Any("ids", ids))
	writeSuccess(w)
}

func writeSuccess(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("success"))
}
