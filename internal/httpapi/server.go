// Package httpapi exposes the sync engine to local tooling: health, metrics,
// status, manual drains and pulls, network toggling and entry edits.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Guizzs26/tdee-sync/internal/models"
	"github.com/Guizzs26/tdee-sync/internal/queue"
	"github.com/Guizzs26/tdee-sync/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine is the part of the sync engine served over HTTP
type Engine interface {
	GetStatus(ctx context.Context) service.Status
	SyncAll(ctx context.Context) service.DrainResult
	FetchAndMergeData(ctx context.Context) (service.MergeResult, error)
	SetOnline(online bool)
	ListQueue() []models.QueuedOperation
	ClearQueue(ctx context.Context) error
	RemoveStuck(ctx context.Context, maxRetries int) ([]models.QueuedOperation, error)
	FilterInvalid(ctx context.Context) (queue.FilterResult, error)
	Requeue(ctx context.Context, op models.QueuedOperation) (string, error)
	ListErrors() []models.ErrorEntry
	ClearErrors(ctx context.Context) error
	PutEntry(ctx context.Context, rec models.DailyRecord) (service.WriteResult, error)
	DeleteEntry(ctx context.Context, date string) (service.WriteResult, error)
	Entries(ctx context.Context, from, to string) ([]models.DailyRecord, error)
}

type handler struct {
	engine Engine
	logger *slog.Logger
}

// NewRouter wires every route
func NewRouter(engine Engine, logger *slog.Logger) http.Handler {
	h := &handler{engine: engine, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/health", h.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/status", h.status)
	r.Post("/sync", h.sync)
	r.Post("/pull", h.pull)
	r.Put("/network", h.network)
	r.Route("/queue", func(r chi.Router) {
		r.Get("/", h.listQueue)
		r.Delete("/", h.clearQueue)
		r.Post("/prune", h.pruneQueue)
		r.Post("/filter", h.filterQueue)
		r.Post("/requeue", h.requeue)
	})
	r.Route("/errors", func(r chi.Router) {
		r.Get("/", h.listErrors)
		r.Delete("/", h.clearErrors)
	})

	r.Route("/entries", func(r chi.Router) {
		r.Get("/", h.listEntries)
		r.Put("/{date}", h.putEntry)
		r.Delete("/{date}", h.deleteEntry)
	})

	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	st := h.engine.GetStatus(r.Context())
	if !st.Online {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "offline"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.GetStatus(r.Context()))
}

func (h *handler) sync(w http.ResponseWriter, r *http.Request) {
	res := h.engine.SyncAll(r.Context())
	if res.Skipped == service.SkipInProgress {
		writeJSON(w, http.StatusAccepted, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PullResponse summarizes a merge without the merged records
type PullResponse struct {
	Records    int `json:"records"`
	Applied    int `json:"applied"`
	LocalWins  int `json:"local_wins"`
	RemoteWins int `json:"remote_wins"`
	Added      int `json:"added"`
	Skipped    int `json:"skipped"`
}

func (h *handler) pull(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.FetchAndMergeData(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PullResponse{
		Records:    len(res.Records),
		Applied:    len(res.Applied),
		LocalWins:  res.LocalWins,
		RemoteWins: res.RemoteWins,
		Added:      res.Added,
		Skipped:    res.Skipped,
	})
}

type NetworkRequest struct {
	Online *bool `json:"online"`
}

func (h *handler) network(w http.ResponseWriter, r *http.Request) {
	var req NetworkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Online == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"online\": true|false}")
		return
	}
	h.engine.SetOnline(*req.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"online": *req.Online})
}

func (h *handler) listQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.ListQueue())
}

func (h *handler) clearQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ClearQueue(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pruneQueue removes operations that reached ?max retries, or the engine
// limit when max is absent
func (h *handler) pruneQueue(w http.ResponseWriter, r *http.Request) {
	maxRetries := 0
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "max must be a positive integer")
			return
		}
		maxRetries = n
	}

	removed, err := h.engine.RemoveStuck(r.Context(), maxRetries)
	if err != nil {
		h.fail(w, err)
		return
	}
	if removed == nil {
		removed = []models.QueuedOperation{}
	}
	writeJSON(w, http.StatusOK, removed)
}

func (h *handler) filterQueue(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.FilterInvalid(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RequeueResponse carries the id assigned to a requeued operation
type RequeueResponse struct {
	OperationID string `json:"operation_id"`
}

func (h *handler) requeue(w http.ResponseWriter, r *http.Request) {
	var op models.QueuedOperation
	if err := json.NewDecoder(r.Body).Decode(&op); err != nil {
		writeError(w, http.StatusBadRequest, "invalid operation body")
		return
	}

	id, err := h.engine.Requeue(r.Context(), op)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, RequeueResponse{OperationID: id})
}

func (h *handler) listErrors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.ListErrors())
}

func (h *handler) clearErrors(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ClearErrors(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listEntries(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" {
		from = "0000-01-01"
	}
	if to == "" {
		to = "9999-12-31"
	}

	recs, err := h.engine.Entries(r.Context(), from, to)
	if err != nil {
		h.fail(w, err)
		return
	}
	if recs == nil {
		recs = []models.DailyRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// EntryRequest is the body of PUT /entries/{date}
type EntryRequest struct {
	Weight   models.NullFloat `json:"weight"`
	Calories models.NullFloat `json:"calories"`
	Notes    string           `json:"notes"`
}

func (h *handler) putEntry(w http.ResponseWriter, r *http.Request) {
	var req EntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid entry body")
		return
	}

	res, err := h.engine.PutEntry(r.Context(), models.DailyRecord{
		Date:     chi.URLParam(r, "date"),
		Weight:   req.Weight,
		Calories: req.Calories,
		Notes:    req.Notes,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, writeResponse(res))
}

func (h *handler) deleteEntry(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.DeleteEntry(r.Context(), chi.URLParam(r, "date"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, writeResponse(res))
}

// WriteResponse is the wire form of service.WriteResult
type WriteResponse struct {
	Record      models.DailyRecord `json:"record"`
	Queued      bool               `json:"queued"`
	OperationID string             `json:"operation_id,omitempty"`
	QueueError  string             `json:"queue_error,omitempty"`
}

func writeResponse(res service.WriteResult) WriteResponse {
	out := WriteResponse{Record: res.Record, Queued: res.Queued, OperationID: res.OperationID}
	if res.QueueErr != nil {
		out.QueueError = res.QueueErr.Error()
	}
	return out
}

// ErrorResponse is returned with every non-2xx status
type ErrorResponse struct {
	Error string `json:"error"`
}

// fail maps engine errors to status codes
func (h *handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrMissingDateKey), errors.Is(err, models.ErrInvalidDateKey),
		errors.Is(err, queue.ErrInvalidOperation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrForeignOperation):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrNotAuthenticated), errors.Is(err, service.ErrNoSession):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrNoBackend):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
