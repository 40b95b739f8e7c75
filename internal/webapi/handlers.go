package webapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/spboyer/querylens/internal/models"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// Handlers holds the HTTP handler methods of the scripted backend.
type Handlers struct {
	store        QueryStore
	plans        []*plan
	databaseDown bool
	logger       *slog.Logger
}

// NewHandlers creates Handlers that answer queries from script. A nil
// script means DefaultScript.
func NewHandlers(store QueryStore, script *Script, logger *slog.Logger) (*Handlers, error) {
	if script == nil {
		script = DefaultScript()
	}
	plans, err := compile(script)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{store: store, plans: plans, databaseDown: script.DatabaseDown, logger: logger}, nil
}

// HandleQuery answers POST /api/query from the first matching scenario.
func (h *Handlers) HandleQuery(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		writeError(w, http.StatusUnprocessableEntity, "query must not be empty")
		return
	}
	if utf8.RuneCountInString(query) > models.MaxQueryLength {
		writeError(w, http.StatusUnprocessableEntity, "query must be at most 500 characters")
		return
	}

	p := h.match(query)
	if p == nil {
		writeJSON(w, http.StatusOK, models.QueryResponse{
			Success:   false,
			Query:     query,
			Error:     "no scenario matches this query",
			ErrorType: models.ErrorTypeLLM,
		})
		return
	}
	h.logger.Debug("scripted query", "scenario", p.name, "kind", p.kind)

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-r.Context().Done():
			return
		}
	}

	switch p.kind {
	case KindHTTPError:
		writeError(w, p.statusCode, p.message)
	case KindError:
		writeJSON(w, http.StatusOK, models.QueryResponse{
			Success:   false,
			Query:     query,
			Error:     p.message,
			ErrorType: p.errorType,
		})
	default:
		writeJSON(w, http.StatusOK, h.results(p, query, start))
	}
}

func (h *Handlers) results(p *plan, query string, start time.Time) models.QueryResponse {
	id := p.queryLogID
	if id == "" {
		id = uuid.NewString()
	}
	entry := &QueryLog{
		ID:        id,
		Query:     query,
		SQL:       p.sql,
		CreatedAt: time.Now().UTC(),
		Steps:     p.evaluation,
		Scores:    p.scores,
	}

	resp := models.QueryResponse{
		Success:     true,
		Query:       query,
		Results:     p.rows,
		SQL:         p.sql,
		ResultCount: len(p.rows),
		QueryLogID:  id,
	}
	if p.inlineScores {
		entry.Steps = []models.EvaluationStatus{models.EvaluationCompleted}
		scores := *p.scores
		resp.RagasScores = &scores
	}
	resp.EvaluationStatus = h.store.Record(entry)
	resp.ExecutionTimeMs = time.Since(start).Milliseconds()
	return resp
}

// HandleStatus answers GET /api/query/{id}.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "query log id is required")
		return
	}

	status, err := h.store.Advance(id)
	if err != nil {
		if errors.Is(err, ErrQueryLogNotFound) {
			writeError(w, http.StatusNotFound, "Query log not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleAnalysis answers GET /api/reports/analysis.
func (h *Handlers) HandleAnalysis(w http.ResponseWriter, _ *http.Request) {
	report, err := h.store.Analysis()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate analysis report: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleHealth answers GET /api/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := models.HealthResponse{
		Status:     "healthy",
		Database:   "connected",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		PoolStatus: map[string]any{"backend": "scripted"},
	}
	if h.databaseDown {
		resp.Status = "unhealthy"
		resp.Database = "disconnected"
		resp.PoolStatus = nil
		resp.Error = "database connection refused"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) match(query string) *plan {
	for _, p := range h.plans {
		if p.matches(query) {
			return p
		}
	}
	return nil
}

// RegisterRoutes registers all backend routes on the given mux.
func RegisterRoutes(mux *http.ServeMux, h *Handlers) {
	mux.HandleFunc("POST /api/query", h.HandleQuery)
	mux.HandleFunc("GET /api/query/{id}", h.HandleStatus)
	mux.HandleFunc("GET /api/reports/analysis", h.HandleAnalysis)
	mux.HandleFunc("GET /api/health", h.HandleHealth)
}

// RequestIDMiddleware echoes the caller's X-Request-ID, or assigns one.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware wraps a handler with CORS headers.
// If allowedOrigins is empty, no CORS header is set (same-origin only).
// Otherwise, the request Origin is checked against the allowed list.
func CORSMiddleware(next http.Handler, allowedOrigins ...string) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if len(allowedOrigins) > 0 && origin != "" && allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+RequestIDHeader)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Detail: msg})
}
