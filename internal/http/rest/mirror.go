package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/modmirror/internal/content"
	"github.com/italolelis/modmirror/internal/logctx"
	"github.com/italolelis/modmirror/internal/mirror"
	"github.com/italolelis/modmirror/internal/telemetry"
	"github.com/italolelis/modmirror/internal/transfer"
)

// PendingReference is the wire form of a queued transfer.
type PendingReference struct {
	ID          string `json:"id"`
	ItemID      string `json:"item_id,omitempty"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Hash        string `json:"hash,omitempty"`
}

type QueueResponse struct {
	Pending []PendingReference `json:"pending"`
}

type CancelRequest struct {
	Destination string `json:"destination"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// MirrorHandler exposes the orchestrator over HTTP.
type MirrorHandler struct {
	orch      *mirror.Orchestrator
	catalog   content.Lookup
	telemetry *telemetry.Telemetry
	kick      chan<- struct{}
}

// NewMirrorHandler creates the handler. kick, when non-nil, is signaled after
// every enqueue so the transfer loop does not wait for its next tick.
func NewMirrorHandler(orch *mirror.Orchestrator, catalog content.Lookup, tel *telemetry.Telemetry, kick chan<- struct{}) *MirrorHandler {
	return &MirrorHandler{
		orch:      orch,
		catalog:   catalog,
		telemetry: tel,
		kick:      kick,
	}
}

func (h *MirrorHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(h.telemetry).Middleware)

	r.Get("/healthz", h.HandleHealth)
	r.Handle("/metrics", h.telemetry.Handler())

	r.Get("/queue", h.HandleQueue)
	r.Post("/queue/cancel", h.HandleCancel)
	r.Post("/items/{id}", h.HandleInstall)
	r.Delete("/items/{id}", h.HandleRemove)

	return r
}

func (h *MirrorHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *MirrorHandler) HandleQueue(w http.ResponseWriter, r *http.Request) {
	refs := h.orch.Queue().List()
	resp := QueueResponse{Pending: make([]PendingReference, 0, len(refs))}

	for _, ref := range refs {
		resp.Pending = append(resp.Pending, PendingReference{
			ID:          ref.ID,
			ItemID:      ref.ItemID,
			Source:      ref.Source,
			Destination: ref.Destination,
			Hash:        ref.Hash,
		})
	}

	writeJSON(w, r, http.StatusOK, resp)
}

func (h *MirrorHandler) HandleInstall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	item, ok := h.catalog.Lookup(id)
	if !ok {
		writeJSON(w, r, http.StatusNotFound, errorResponse{Error: "unknown item " + id})

		return
	}

	refs := h.orch.Enqueue(ctx, item)

	if h.kick != nil {
		select {
		case h.kick <- struct{}{}:
		default:
		}
	}

	resp := QueueResponse{Pending: make([]PendingReference, 0, len(refs))}
	for _, ref := range refs {
		resp.Pending = append(resp.Pending, PendingReference{
			ID:          ref.ID,
			ItemID:      ref.ItemID,
			Source:      ref.Source,
			Destination: ref.Destination,
			Hash:        ref.Hash,
		})
	}

	writeJSON(w, r, http.StatusAccepted, resp)
}

func (h *MirrorHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)
	id := chi.URLParam(r, "id")

	item, ok := h.catalog.Lookup(id)
	if !ok {
		writeJSON(w, r, http.StatusNotFound, errorResponse{Error: "unknown item " + id})

		return
	}

	if err := h.orch.Hydrate(ctx, item); err != nil {
		logger.ErrorContext(ctx, "failed to hydrate item", "item_id", id, "err", err)
		writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: err.Error()})

		return
	}

	if err := h.orch.Remove(ctx, item); err != nil {
		status := http.StatusInternalServerError

		var removalErr *transfer.RemovalError
		if errors.As(err, &removalErr) {
			status = http.StatusConflict
		}

		logger.ErrorContext(ctx, "failed to remove item", "item_id", id, "err", err)
		writeJSON(w, r, status, errorResponse{Error: err.Error()})

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *MirrorHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Destination == "" {
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "destination is required"})

		return
	}

	if !h.orch.Cancel(req.Destination) {
		writeJSON(w, r, http.StatusNotFound, errorResponse{Error: "no pending transfer for " + req.Destination})

		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}
