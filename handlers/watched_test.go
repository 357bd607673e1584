package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchsync/handlers"
	"watchsync/models"
	"watchsync/services/remote"
	"watchsync/services/watchstate"
)

type fakeWatchedState struct {
	movies      map[string]bool
	episodes    map[models.EpisodeKey]bool
	marked      []models.WatchedFact
	unmarked    []models.WatchedFact
	markErr     error
	ensured     int
	invalidated int
}

func newFakeWatchedState() *fakeWatchedState {
	return &fakeWatchedState{movies: map[string]bool{}, episodes: map[models.EpisodeKey]bool{}}
}

func (f *fakeWatchedState) EnsureReady(context.Context) { f.ensured++ }

func (f *fakeWatchedState) Stats() watchstate.Stats {
	return watchstate.Stats{State: "ready", Movies: len(f.movies), Episodes: len(f.episodes)}
}

func (f *fakeWatchedState) IsMovieWatched(ids models.ExternalIDs) bool {
	return f.movies[ids.CatalogID()]
}

func (f *fakeWatchedState) IsEpisodeWatched(ref models.EpisodeRef) bool {
	key, _ := ref.Key()
	return f.episodes[key]
}

func (f *fakeWatchedState) MarkWatched(_ context.Context, fact models.WatchedFact) error {
	f.marked = append(f.marked, fact)
	return f.markErr
}

func (f *fakeWatchedState) MarkUnwatched(_ context.Context, fact models.WatchedFact) error {
	f.unmarked = append(f.unmarked, fact)
	return f.markErr
}

func (f *fakeWatchedState) Invalidate() { f.invalidated++ }

type watchedBody struct {
	ID      string `json:"id"`
	Season  int    `json:"season"`
	Episode int    `json:"episode"`
	Watched bool   `json:"watched"`
}

func TestWatchedMovie(t *testing.T) {
	svc := newFakeWatchedState()
	svc.movies["tmdb:949"] = true
	h := handlers.NewWatchedHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/watched/movies/tmdb:949", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "tmdb:949"})
	rec := httptest.NewRecorder()
	h.Movie(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body watchedBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, body.Watched)
	assert.Equal(t, 1, svc.ensured)
}

func TestWatchedMovieRejectsBadID(t *testing.T) {
	h := handlers.NewWatchedHandler(newFakeWatchedState())

	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/watched/movies/x", nil), map[string]string{"id": "nonsense"})
	rec := httptest.NewRecorder()
	h.Movie(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWatchedEpisode(t *testing.T) {
	svc := newFakeWatchedState()
	svc.episodes[models.EpisodeKey{Kind: models.KeyCatalogShow, ID: "tmdb:1399", Season: 2, Episode: 3}] = true
	h := handlers.NewWatchedHandler(svc)

	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil),
		map[string]string{"id": "tmdb:1399", "season": "2", "episode": "3"})
	rec := httptest.NewRecorder()
	h.Episode(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body watchedBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, body.Watched)
	assert.Equal(t, 2, body.Season)
	assert.Equal(t, 3, body.Episode)

	req = mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil),
		map[string]string{"id": "tmdb:1399", "season": "2", "episode": "zero"})
	rec = httptest.NewRecorder()
	h.Episode(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWatchedUpdate(t *testing.T) {
	svc := newFakeWatchedState()
	h := handlers.NewWatchedHandler(svc)

	body := bytes.NewBufferString(`{"kind":"show","id":"tmdb:1399","season":1,"episode":2,"watched":true}`)
	rec := httptest.NewRecorder()
	h.Update(rec, httptest.NewRequest(http.MethodPost, "/api/watched", body))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.marked, 1)
	assert.Equal(t, models.EpisodeFact(models.EpisodeRef{Show: models.ExternalIDs{TMDB: 1399}, Season: 1, Episode: 2}), svc.marked[0])

	body = bytes.NewBufferString(`{"kind":"movie","id":"imdb:tt0113277","watched":false}`)
	rec = httptest.NewRecorder()
	h.Update(rec, httptest.NewRequest(http.MethodPost, "/api/watched", body))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.unmarked, 1)
	assert.Equal(t, "tt0113277", svc.unmarked[0].Movie.IMDB)
}

func TestWatchedUpdateValidation(t *testing.T) {
	svc := newFakeWatchedState()
	h := handlers.NewWatchedHandler(svc)

	for _, body := range []string{
		`{"kind":"movie","id":"tmdb:1"}`,
		`{"kind":"show","id":"tmdb:1","season":1,"watched":true}`,
		`{"kind":"movie","id":"bogus","watched":true}`,
	} {
		rec := httptest.NewRecorder()
		h.Update(rec, httptest.NewRequest(http.MethodPost, "/api/watched", bytes.NewBufferString(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Empty(t, svc.marked)
}

func TestWatchedUpdateUnavailable(t *testing.T) {
	svc := newFakeWatchedState()
	svc.markErr = &remote.UnavailableError{Op: "authority.mark", Attempts: 3, Err: errors.New("down")}
	h := handlers.NewWatchedHandler(svc)

	body := bytes.NewBufferString(`{"kind":"movie","id":"tmdb:949","watched":true}`)
	rec := httptest.NewRecorder()
	h.Update(rec, httptest.NewRequest(http.MethodPost, "/api/watched", body))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestWatchedStatusAndInvalidate(t *testing.T) {
	svc := newFakeWatchedState()
	svc.movies["tmdb:1"] = true
	h := handlers.NewWatchedHandler(svc)

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/watched/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"state":"ready","movies":1,"episodes":0}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Invalidate(rec, httptest.NewRequest(http.MethodPost, "/api/watched/invalidate", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, svc.invalidated)
}
