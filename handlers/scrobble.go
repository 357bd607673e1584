package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"watchsync/internal/logger"
	"watchsync/models"
	"watchsync/services/remote"
	"watchsync/services/scrobble"
)

type scrobbleService interface {
	Start(ctx context.Context, ev scrobble.Event) (scrobble.Result, error)
	Pause(ctx context.Context, ev scrobble.Event) (scrobble.Result, error)
	PauseImmediate(ctx context.Context, ev scrobble.Event) (scrobble.Result, error)
	Stop(ctx context.Context, ev scrobble.Event) (scrobble.Result, error)
}

var _ scrobbleService = (*scrobble.Coordinator)(nil)

type ScrobbleHandler struct {
	Service scrobbleService
}

func NewScrobbleHandler(service scrobbleService) *ScrobbleHandler {
	return &ScrobbleHandler{Service: service}
}

type scrobbleRequest struct {
	Kind           string  `json:"kind" validate:"required,oneof=movie show"`
	ID             string  `json:"id" validate:"required"`
	Title          string  `json:"title"`
	Year           int     `json:"year" validate:"gte=0"`
	Season         int     `json:"season" validate:"gte=0"`
	Episode        int     `json:"episode" validate:"gte=0"`
	TraktEpisodeID int64   `json:"traktEpisodeId" validate:"gte=0"`
	EpisodeTitle   string  `json:"episodeTitle"`
	Progress       float64 `json:"progress" validate:"gte=0,lte=100"`
	TraktShowID    int64   `json:"traktShowId" validate:"gte=0"`
}

// Scrobble handles start, pause and stop events.
func (h *ScrobbleHandler) Scrobble(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]

	var req scrobbleRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ids, err := models.ParseCatalogID(req.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TraktShowID > 0 {
		ids.Trakt = req.TraktShowID
	}
	ev := scrobble.Event{
		Kind:           models.MediaKind(req.Kind),
		IDs:            ids,
		Title:          req.Title,
		Year:           req.Year,
		Season:         req.Season,
		Episode:        req.Episode,
		TraktEpisodeID: req.TraktEpisodeID,
		EpisodeTitle:   req.EpisodeTitle,
		Progress:       req.Progress,
	}

	var res scrobble.Result
	switch action {
	case "start":
		res, err = h.Service.Start(r.Context(), ev)
	case "pause":
		if immediate, _ := strconv.ParseBool(r.URL.Query().Get("immediate")); immediate {
			res, err = h.Service.PauseImmediate(r.Context(), ev)
		} else {
			res, err = h.Service.Pause(r.Context(), ev)
		}
	case "stop":
		res, err = h.Service.Stop(r.Context(), ev)
	default:
		writeError(w, http.StatusNotFound, "unknown scrobble action "+strconv.Quote(action))
		return
	}

	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, scrobble.ErrInvalidEvent):
			status = http.StatusBadRequest
		case errors.Is(err, remote.ErrUnavailable):
			status = http.StatusBadGateway
		}
		logger.FromCtx(r.Context()).Warnw("scrobble failed", "action", action, "id", req.ID, "error", err)
		writeJSON(w, status, struct {
			scrobble.Result
			Error string `json:"error"`
		}{Result: res, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}
