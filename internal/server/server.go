package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bookstock/internal/app"
	"bookstock/internal/ratelimit"
	"bookstock/internal/util"
	"bookstock/pkg/domain"
)

const birthDateLayout = "2006-01-02"

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App

	// Bulk uploads are expensive; when a per-minute limit is set, they are
	// rate limited per client IP through Redis.
	RedisAddr              string
	RedisPassword          string
	BulkRateLimitPerMinute int
	TrustForwardedHeaders  bool

	MaxUploadBytes int64
}

// Server exposes the inventory HTTP endpoints.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	bulkLimiter    *ratelimit.FixedWindowLimiter
	trustForwarded bool
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 * 1024 * 1024
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		trustForwarded: cfg.TrustForwardedHeaders,
		maxUploadBytes: maxUploadBytes,
	}
	if cfg.BulkRateLimitPerMinute > 0 {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr,
			cfg.RedisPassword,
			"bookstock:ratelimit:bulk",
			cfg.BulkRateLimitPerMinute,
			time.Minute,
		)
		if err != nil {
			return nil, err
		}
		s.bulkLimiter = limiter
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("inventory", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// catalog
	s.mux.HandleFunc("/authors", s.handleAuthors)
	s.mux.HandleFunc("/authors/", s.handleAuthorByID)
	s.mux.HandleFunc("/books", s.handleBooks)
	s.mux.HandleFunc("/books/", s.handleBookByID)

	// ledger
	s.mux.HandleFunc("/history/", s.handleHistory)
	s.mux.HandleFunc("/leftover/add", s.handleLeftover(domain.AdjustAdd))
	s.mux.HandleFunc("/leftover/remove", s.handleLeftover(domain.AdjustRemove))
	s.mux.HandleFunc("/leftover/bulk", s.handleBulk)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createAuthorRequest struct {
	Name      string `json:"name"`
	BirthDate string `json:"birthDate"`
}

func (s *Server) handleAuthors(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createAuthorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		birthDate, err := time.Parse(birthDateLayout, strings.TrimSpace(req.BirthDate))
		if err != nil {
			writeError(w, http.StatusBadRequest, "birthDate must be formatted as YYYY-MM-DD")
			return
		}
		author, err := s.app.CreateAuthor(req.Name, birthDate)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, author)
	case http.MethodGet:
		authors, err := s.app.ListAuthors()
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, authors)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAuthorByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, ok := pathID(w, r, "/authors/")
	if !ok {
		return
	}
	author, err := s.app.GetAuthor(id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, author)
}

type createBookRequest struct {
	Title       string `json:"title"`
	PublishYear int    `json:"publishYear"`
	AuthorID    uint   `json:"authorId"`
	Barcode     string `json:"barcode"`
}

type searchBooksResponse struct {
	Found int           `json:"found"`
	Items []domain.Book `json:"items"`
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createBookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		book, err := s.app.CreateBook(req.Title, req.PublishYear, req.AuthorID, req.Barcode)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, book)
	case http.MethodGet:
		books, err := s.app.SearchBooksByBarcode(r.URL.Query().Get("barcode"))
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, searchBooksResponse{Found: len(books), Items: books})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, ok := pathID(w, r, "/books/")
	if !ok {
		return
	}
	details, err := s.app.GetBookDetails(id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

type recordDeltaRequest struct {
	Quantity *int `json:"quantity"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "/history/")
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		history, err := s.app.GetHistory(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, history)
	case http.MethodPost:
		var req recordDeltaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity == nil {
			writeError(w, http.StatusBadRequest, "quantity is required")
			return
		}
		entry, err := s.app.RecordDelta(id, *req.Quantity)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	default:
		methodNotAllowed(w)
	}
}

type leftoverRequest struct {
	Barcode  string `json:"barcode"`
	Quantity *int   `json:"quantity"`
}

func (s *Server) handleLeftover(direction domain.AdjustDirection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req leftoverRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity == nil {
			writeError(w, http.StatusBadRequest, "barcode and quantity are required")
			return
		}
		result, err := s.app.AdjustLeftover(req.Barcode, direction, *req.Quantity)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	}
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.bulkLimiter != nil {
		if !s.bulkLimiter.Allow(util.ClientIP(r, s.trustForwarded)) {
			writeError(w, http.StatusTooManyRequests, "too many bulk uploads, retry later")
			return
		}
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	contents, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read uploaded file")
		return
	}
	result, err := s.app.BulkReconcile(header.Filename, contents)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func pathID(w http.ResponseWriter, r *http.Request, prefix string) (uint, bool) {
	raw := strings.TrimPrefix(r.URL.Path, prefix)
	raw = strings.TrimSuffix(raw, "/")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return 0, false
	}
	return uint(id), true
}

type errorResponse struct {
	Errors    []string `json:"errors"`
	RequestID string   `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msgs ...string) {
	writeJSON(w, status, errorResponse{
		Errors:    msgs,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

// writeAppError maps the core error taxonomy onto HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	var validation *app.ValidationError
	if errors.As(err, &validation) {
		writeError(w, http.StatusBadRequest, validation.Messages...)
		return
	}
	var notFound *app.NotFoundError
	if errors.As(err, &notFound) {
		writeError(w, http.StatusNotFound, notFound.Msg)
		return
	}
	var conflict *app.ConflictError
	if errors.As(err, &conflict) {
		writeError(w, http.StatusConflict, conflict.Msg)
		return
	}
	var parse *app.ParseError
	if errors.As(err, &parse) {
		writeError(w, http.StatusBadRequest, parse.Msg)
		return
	}
	slog.Error("internal error", "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
