// Package api serves the run ledger over HTTP, read only.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/artpar/stackship/internal/core/domain"
	"github.com/artpar/stackship/internal/shell/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the ledger API.
type Handler struct {
	store  store.Store
	logger *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	return &Handler{
		store:  s,
		logger: l.With("component", "api"),
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)

	r.Route("/api/v1/runs", func(r chi.Router) {
		r.Get("/", h.handleListRuns)
		r.Get("/{id}", h.handleGetRun)
		r.Get("/{id}/transitions", h.handleListTransitions)
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if _, err := h.store.ListRuns(r.Context(), store.ListOptions{Limit: 1}); err != nil {
		h.logger.Warn("ledger not ready", "error", err)
		checks["database"] = "failed"
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "not_ready",
			Checks: checks,
		})
		return
	}
	checks["database"] = "ok"

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Run Handlers
// =============================================================================

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	opts := store.DefaultListOptions()

	query := r.URL.Query()
	if limit := query.Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			opts.Limit = l
		}
	}
	if offset := query.Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil {
			opts.Offset = o
		}
	}
	opts.ServiceName = query.Get("service")
	opts = opts.Normalize()

	runs, err := h.store.ListRuns(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list runs", "internal_error")
		return
	}

	resp := ListRunsResponse{
		Runs:   make([]RunResponse, 0, len(runs)),
		Total:  len(runs),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}
	for i := range runs {
		resp.Runs = append(resp.Runs, runToResponse(&runs[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "run not found", "run_not_found")
			return
		}
		h.logger.Error("failed to get run", "run_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get run", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, runToResponse(run))
}

func (h *Handler) handleListTransitions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.store.GetRun(r.Context(), id); err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "run not found", "run_not_found")
			return
		}
		h.logger.Error("failed to get run", "run_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get run", "internal_error")
		return
	}

	transitions, err := h.store.ListTransitions(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list transitions", "run_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list transitions", "internal_error")
		return
	}

	resp := ListTransitionsResponse{
		RunID:       id,
		Transitions: make([]TransitionResponse, 0, len(transitions)),
	}
	for _, t := range transitions {
		resp.Transitions = append(resp.Transitions, TransitionResponse{
			From: string(t.From),
			To:   string(t.To),
			At:   t.At,
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func runToResponse(run *domain.Run) RunResponse {
	return RunResponse{
		ID:             run.ID,
		ServiceName:    run.ServiceName,
		Stage:          string(run.Stage),
		Status:         string(run.Status),
		Tag:            run.Tag,
		Image:          run.Image,
		Endpoint:       run.Endpoint,
		CleanupSummary: run.CleanupSummary,
		FailedStep:     run.FailedStep,
		Error:          run.ErrorMessage,
		StartedAt:      run.StartedAt,
		FinishedAt:     run.FinishedAt,
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
