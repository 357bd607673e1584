package handlers

import (
	"context"
	"net/http"
	"strconv"

	"watchsync/internal/logger"
	"watchsync/models"
	"watchsync/services/continuewatching"
)

type continueWatchingService interface {
	ContinueWatching(ctx context.Context) []models.ContinueWatchingItem
	Cached() []models.ContinueWatchingItem
	Invalidate()
	Dismiss(ctx context.Context, kind models.MediaKind, id string) error
}

var _ continueWatchingService = (*continuewatching.Aggregator)(nil)

type ContinueWatchingHandler struct {
	Service continueWatchingService
}

func NewContinueWatchingHandler(service continueWatchingService) *ContinueWatchingHandler {
	return &ContinueWatchingHandler{Service: service}
}

// List returns the continue-watching list. The last computed list is reused
// unless refresh=true is passed.
func (h *ContinueWatchingHandler) List(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	if refresh {
		h.Service.Invalidate()
	} else if cached := h.Service.Cached(); len(cached) > 0 {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	items := h.Service.ContinueWatching(r.Context())
	if items == nil {
		items = []models.ContinueWatchingItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

type dismissRequest struct {
	Kind string `json:"kind" validate:"required,oneof=movie show"`
	ID   string `json:"id" validate:"required"`
}

// Dismiss hides a movie or show until it has new activity.
func (h *ContinueWatchingHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	var req dismissRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.Service.Dismiss(r.Context(), models.MediaKind(req.Kind), req.ID); err != nil {
		logger.FromCtx(r.Context()).Warnw("dismiss failed", "kind", req.Kind, "id", req.ID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
