package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"watchsync/internal/logger"
	"watchsync/models"
	"watchsync/services/remote"
	"watchsync/services/watchstate"
)

type watchedStateService interface {
	EnsureReady(ctx context.Context)
	Stats() watchstate.Stats
	IsMovieWatched(ids models.ExternalIDs) bool
	IsEpisodeWatched(ref models.EpisodeRef) bool
	MarkWatched(ctx context.Context, fact models.WatchedFact) error
	MarkUnwatched(ctx context.Context, fact models.WatchedFact) error
	Invalidate()
}

var _ watchedStateService = (*watchstate.Cache)(nil)

type WatchedHandler struct {
	Service watchedStateService
}

func NewWatchedHandler(service watchedStateService) *WatchedHandler {
	return &WatchedHandler{Service: service}
}

type watchedResponse struct {
	ID      string `json:"id"`
	Season  int    `json:"season,omitempty"`
	Episode int    `json:"episode,omitempty"`
	Watched bool   `json:"watched"`
}

// Status reports the cache state and sizes.
func (h *WatchedHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.Stats())
}

func (h *WatchedHandler) Movie(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["id"])
	ids, err := models.ParseCatalogID(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.Service.EnsureReady(r.Context())
	writeJSON(w, http.StatusOK, watchedResponse{ID: id, Watched: h.Service.IsMovieWatched(ids)})
}

func (h *WatchedHandler) Episode(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := strings.TrimSpace(vars["id"])
	ids, err := models.ParseCatalogID(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	season, err := strconv.Atoi(vars["season"])
	if err != nil || season < 0 {
		writeError(w, http.StatusBadRequest, "invalid season")
		return
	}
	episode, err := strconv.Atoi(vars["episode"])
	if err != nil || episode <= 0 {
		writeError(w, http.StatusBadRequest, "invalid episode")
		return
	}

	h.Service.EnsureReady(r.Context())
	ref := models.EpisodeRef{Show: ids, Season: season, Episode: episode}
	writeJSON(w, http.StatusOK, watchedResponse{
		ID:      id,
		Season:  season,
		Episode: episode,
		Watched: h.Service.IsEpisodeWatched(ref),
	})
}

type watchedUpdateRequest struct {
	Kind           string `json:"kind" validate:"required,oneof=movie show"`
	ID             string `json:"id" validate:"required"`
	Season         int    `json:"season" validate:"gte=0"`
	Episode        int    `json:"episode" validate:"required_if=Kind show,gte=0"`
	TraktEpisodeID int64  `json:"traktEpisodeId" validate:"gte=0"`
	Watched        *bool  `json:"watched" validate:"required"`
}

func (req watchedUpdateRequest) fact() (models.WatchedFact, error) {
	ids, err := models.ParseCatalogID(req.ID)
	if err != nil {
		return models.WatchedFact{}, err
	}
	if req.Kind == string(models.MediaKindMovie) {
		return models.MovieFact(ids), nil
	}
	return models.EpisodeFact(models.EpisodeRef{
		Show:           ids,
		TraktEpisodeID: req.TraktEpisodeID,
		Season:         req.Season,
		Episode:        req.Episode,
	}), nil
}

// Update marks a movie or episode watched or unwatched.
func (h *WatchedHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req watchedUpdateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fact, err := req.fact()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if *req.Watched {
		err = h.Service.MarkWatched(r.Context(), fact)
	} else {
		err = h.Service.MarkUnwatched(r.Context(), fact)
	}
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, models.ErrInvalidFact):
			status = http.StatusBadRequest
		case errors.Is(err, remote.ErrUnavailable):
			status = http.StatusBadGateway
		}
		logger.FromCtx(r.Context()).Warnw("update watched state failed", "id", req.ID, "watched", *req.Watched, "error", err)
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, watchedResponse{ID: req.ID, Season: req.Season, Episode: req.Episode, Watched: *req.Watched})
}

// Invalidate drops the cache so the next query reloads it.
func (h *WatchedHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	h.Service.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}
