// Package http exposes the read API over the projection store: initial page
// loads query here, then follow live updates over the realtime socket.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"agritrace/internal/logger"
	"agritrace/storage/store"
)

// BatchHandler serves projection queries. It never writes: the engine is the
// store's only writer.
type BatchHandler struct {
	store  store.Store
	logger *logger.Logger
}

// NewBatchHandler creates a new BatchHandler
func NewBatchHandler(s store.Store, l *logger.Logger) *BatchHandler {
	return &BatchHandler{store: s, logger: l}
}

// Register mounts the read routes on the mux.
func (h *BatchHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/batches", h.ListBatches)
	mux.HandleFunc("GET /v1/batches/{id}", h.GetBatch)
	mux.HandleFunc("GET /v1/batches/{id}/events", h.GetBatchEvents)
	mux.HandleFunc("GET /health", h.Health)
}

// GetBatch handles GET /v1/batches/{id}
func (h *BatchHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("id")
	p, err := h.store.GetProjection(r.Context(), batchID)
	if errors.Is(err, store.ErrNotFound) {
		h.respondError(w, "batch not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("projection query failed", "batch_id", batchID, "error", err)
		h.respondError(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, http.StatusOK, p)
}

// GetBatchEvents handles GET /v1/batches/{id}/events: the audit trail shown
// on the public trace page.
func (h *BatchHandler) GetBatchEvents(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("id")
	recs, err := h.store.EventLog(r.Context(), batchID)
	if err != nil {
		h.logger.Error("event log query failed", "batch_id", batchID, "error", err)
		h.respondError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if len(recs) == 0 {
		h.respondError(w, "batch not found", http.StatusNotFound)
		return
	}
	h.respondJSON(w, http.StatusOK, recs)
}

// ListBatches handles GET /v1/batches?limit=n
func (h *BatchHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			h.respondError(w, "limit must be an integer between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	ps, err := h.store.ListProjections(r.Context(), limit)
	if err != nil {
		h.logger.Error("projection list failed", "error", err)
		h.respondError(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, http.StatusOK, ps)
}

// Health handles GET /health
func (h *BatchHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *BatchHandler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}

func (h *BatchHandler) respondError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
