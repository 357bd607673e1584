package handlers_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchsync/handlers"
	"watchsync/services/remote"
	"watchsync/services/scrobble"
)

type fakeScrobbler struct {
	calls  []string
	events []scrobble.Event
	err    error
}

func (f *fakeScrobbler) record(action string, ev scrobble.Event) (scrobble.Result, error) {
	f.calls = append(f.calls, action)
	f.events = append(f.events, ev)
	return scrobble.Result{Action: action, Sent: f.err == nil}, f.err
}

func (f *fakeScrobbler) Start(_ context.Context, ev scrobble.Event) (scrobble.Result, error) {
	return f.record("start", ev)
}

func (f *fakeScrobbler) Pause(_ context.Context, ev scrobble.Event) (scrobble.Result, error) {
	return f.record("pause", ev)
}

func (f *fakeScrobbler) PauseImmediate(_ context.Context, ev scrobble.Event) (scrobble.Result, error) {
	return f.record("pause-immediate", ev)
}

func (f *fakeScrobbler) Stop(_ context.Context, ev scrobble.Event) (scrobble.Result, error) {
	return f.record("stop", ev)
}

func scrobbleRequest(action, query, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/scrobble/"+action+query, bytes.NewBufferString(body))
	return mux.SetURLVars(req, map[string]string{"action": action})
}

func TestScrobbleDispatch(t *testing.T) {
	svc := &fakeScrobbler{}
	h := handlers.NewScrobbleHandler(svc)
	body := `{"kind":"show","id":"tmdb:1399","traktShowId":1390,"season":1,"episode":2,"progress":42.5}`

	for _, tc := range []struct{ action, query string }{
		{"start", ""}, {"pause", ""}, {"pause", "?immediate=true"}, {"stop", ""},
	} {
		rec := httptest.NewRecorder()
		h.Scrobble(rec, scrobbleRequest(tc.action, tc.query, body))
		assert.Equal(t, http.StatusOK, rec.Code, tc.action+tc.query)
	}

	assert.Equal(t, []string{"start", "pause", "pause-immediate", "stop"}, svc.calls)
	ev := svc.events[0]
	assert.Equal(t, int64(1399), ev.IDs.TMDB)
	assert.Equal(t, int64(1390), ev.IDs.Trakt)
	assert.Equal(t, 42.5, ev.Progress)
}

func TestScrobbleUnknownAction(t *testing.T) {
	svc := &fakeScrobbler{}
	h := handlers.NewScrobbleHandler(svc)

	rec := httptest.NewRecorder()
	h.Scrobble(rec, scrobbleRequest("rewind", "", `{"kind":"movie","id":"tmdb:1","progress":1}`))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, svc.calls)
}

func TestScrobbleValidation(t *testing.T) {
	svc := &fakeScrobbler{}
	h := handlers.NewScrobbleHandler(svc)

	rec := httptest.NewRecorder()
	h.Scrobble(rec, scrobbleRequest("start", "", `{"kind":"movie","id":"tmdb:1","progress":140}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.err = scrobble.ErrInvalidEvent
	rec = httptest.NewRecorder()
	h.Scrobble(rec, scrobbleRequest("start", "", `{"kind":"show","id":"tmdb:1","progress":1}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScrobbleRemoteFailure(t *testing.T) {
	svc := &fakeScrobbler{err: &remote.UnavailableError{Op: "trakt.scrobble.stop", Attempts: 3, Err: errors.New("503")}}
	h := handlers.NewScrobbleHandler(svc)

	rec := httptest.NewRecorder()
	h.Scrobble(rec, scrobbleRequest("stop", "", `{"kind":"movie","id":"tmdb:949","progress":97}`))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), `"action":"stop"`)
	assert.Contains(t, rec.Body.String(), `"error"`)
}
