package scrobble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchsync/models"
	"watchsync/services/remote"
	"watchsync/services/trakt"
	"watchsync/services/watchstate"
)

type call struct {
	action string
	target trakt.ScrobbleTarget
}

type fakeTracker struct {
	disabled bool
	err      error

	mu    sync.Mutex
	calls []call
}

func (f *fakeTracker) ScrobblingEnabled() bool { return !f.disabled }

func (f *fakeTracker) Scrobble(_ context.Context, action string, target trakt.ScrobbleTarget) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{action: action, target: target})
	return f.err
}

func (f *fakeTracker) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.action)
	}
	return out
}

type fakeState struct {
	tracker *fakeTracker
	events  []string
	markErr error
}

func (f *fakeState) Remember(models.WatchedFact) {
	f.events = append(f.events, "remember")
}

func (f *fakeState) MarkWatched(context.Context, models.WatchedFact) error {
	f.events = append(f.events, "mark")
	return f.markErr
}

func (f *fakeState) RecordWatched(context.Context, models.WatchedFact) error {
	f.events = append(f.events, "record")
	return f.markErr
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCoordinator(tracker Tracker, state WatchedState) (*Coordinator, *clock) {
	caller := remote.NewCaller(remote.Options{MaxAttempts: 1}, nil)
	c := New(tracker, state, caller, Options{WatchedThreshold: 90, PauseDebounce: 5 * time.Second}, nil)
	clk := &clock{t: time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)}
	c.now = clk.now
	return c, clk
}

var (
	movie   = Event{Kind: models.MediaKindMovie, IDs: models.ExternalIDs{TMDB: 949}, Title: "Heat", Year: 1995, Progress: 30}
	episode = Event{Kind: models.MediaKindShow, IDs: models.ExternalIDs{TMDB: 1399, Trakt: 1390}, Season: 1, Episode: 2, Progress: 40}
)

func TestStartForwardsTarget(t *testing.T) {
	tracker := &fakeTracker{}
	c, _ := newTestCoordinator(tracker, &fakeState{})

	res, err := c.Start(context.Background(), episode)

	require.NoError(t, err)
	assert.True(t, res.Sent)
	require.Len(t, tracker.calls, 1)
	assert.Equal(t, trakt.ScrobbleStart, tracker.calls[0].action)
	assert.Equal(t, 1, tracker.calls[0].target.Season)
	assert.Equal(t, 2, tracker.calls[0].target.Episode)
	assert.Equal(t, 40.0, tracker.calls[0].target.Progress)
}

func TestPauseDebounce(t *testing.T) {
	tracker := &fakeTracker{}
	c, clk := newTestCoordinator(tracker, &fakeState{})
	ctx := context.Background()

	res, err := c.Pause(ctx, episode)
	require.NoError(t, err)
	assert.True(t, res.Sent)

	clk.advance(2 * time.Second)
	res, err = c.Pause(ctx, episode)
	require.NoError(t, err)
	assert.True(t, res.Debounced)
	assert.False(t, res.Sent)

	other := episode
	other.Episode = 3
	res, err = c.Pause(ctx, other)
	require.NoError(t, err)
	assert.True(t, res.Sent, "different episode has its own window")

	clk.advance(4 * time.Second)
	res, err = c.Pause(ctx, episode)
	require.NoError(t, err)
	assert.True(t, res.Sent, "window elapsed")

	assert.Equal(t, []string{"pause", "pause", "pause"}, tracker.actions())
}

func TestPauseImmediateBypassesDebounce(t *testing.T) {
	tracker := &fakeTracker{}
	c, _ := newTestCoordinator(tracker, &fakeState{})
	ctx := context.Background()

	_, err := c.Pause(ctx, movie)
	require.NoError(t, err)
	res, err := c.PauseImmediate(ctx, movie)
	require.NoError(t, err)

	assert.True(t, res.Sent)
	assert.Len(t, tracker.calls, 2)
}

func TestStopClearsDebounce(t *testing.T) {
	tracker := &fakeTracker{}
	c, _ := newTestCoordinator(tracker, &fakeState{})
	ctx := context.Background()

	_, err := c.Pause(ctx, movie)
	require.NoError(t, err)
	_, err = c.Stop(ctx, movie)
	require.NoError(t, err)
	res, err := c.Pause(ctx, movie)
	require.NoError(t, err)

	assert.True(t, res.Sent)
	assert.Equal(t, []string{"pause", "stop", "pause"}, tracker.actions())
}

func TestFailedPauseIsNotDebounced(t *testing.T) {
	tracker := &fakeTracker{err: errors.New("boom")}
	c, _ := newTestCoordinator(tracker, &fakeState{})
	ctx := context.Background()

	_, err := c.Pause(ctx, movie)
	require.Error(t, err)

	tracker.err = nil
	res, err := c.Pause(ctx, movie)
	require.NoError(t, err)
	assert.True(t, res.Sent)
}

func TestStopAboveThresholdMarksWatchedBeforeRemote(t *testing.T) {
	tracker := &fakeTracker{err: &remote.StatusError{StatusCode: 503}}
	state := &fakeState{}
	c, _ := newTestCoordinator(tracker, state)

	ev := episode
	ev.Progress = 95
	res, err := c.Stop(context.Background(), ev)

	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrUnavailable)
	assert.True(t, res.MarkedWatched)
	assert.False(t, res.Sent)
	assert.Equal(t, []string{"remember", "mark"}, state.events)
}

func TestStopBelowThresholdDoesNotMark(t *testing.T) {
	tracker := &fakeTracker{}
	state := &fakeState{}
	c, _ := newTestCoordinator(tracker, state)

	res, err := c.Stop(context.Background(), movie)

	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.False(t, res.MarkedWatched)
	assert.Empty(t, state.events)
}

func TestDeliveredStopOnlyRecordsAuthority(t *testing.T) {
	tracker := &fakeTracker{}
	state := &fakeState{}
	c, _ := newTestCoordinator(tracker, state)

	ev := episode
	ev.Progress = 96
	res, err := c.Stop(context.Background(), ev)

	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.True(t, res.MarkedWatched)
	assert.Equal(t, []string{"remember", "record"}, state.events)
	assert.Equal(t, []string{trakt.ScrobbleStop}, tracker.actions())
}

type historyTracker struct {
	mu    sync.Mutex
	added []models.WatchedFact
}

func (h *historyTracker) WatchedMovies(context.Context) ([]models.ExternalIDs, error) { return nil, nil }

func (h *historyTracker) WatchedEpisodes(context.Context) ([]models.EpisodeRef, error) {
	return nil, nil
}

func (h *historyTracker) AddHistory(_ context.Context, fact models.WatchedFact, _ time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.added = append(h.added, fact)
	return nil
}

func (h *historyTracker) RemoveHistory(context.Context, models.WatchedFact) error { return nil }

type memoryAuthority struct {
	marked []models.WatchedFact
}

func (m *memoryAuthority) WatchedMovies(context.Context) ([]models.ExternalIDs, error) {
	return nil, nil
}

func (m *memoryAuthority) WatchedEpisodes(context.Context) ([]models.EpisodeRef, error) {
	return nil, nil
}

func (m *memoryAuthority) MarkWatched(_ context.Context, fact models.WatchedFact) (bool, error) {
	m.marked = append(m.marked, fact)
	return true, nil
}

func (m *memoryAuthority) MarkUnwatched(context.Context, models.WatchedFact) (bool, error) {
	return true, nil
}

func TestStopAtThresholdAddsNoTrackerHistory(t *testing.T) {
	history := &historyTracker{}
	authority := &memoryAuthority{}
	cache := watchstate.New(authority, history, nil)

	scrobbles := &fakeTracker{}
	c, _ := newTestCoordinator(scrobbles, cache)

	ev := movie
	ev.Progress = 97
	_, err := c.Stop(context.Background(), ev)
	require.NoError(t, err)

	assert.Empty(t, history.added, "the delivered stop already counts as a play")
	assert.Len(t, authority.marked, 1)
	assert.True(t, cache.IsMovieWatched(movie.IDs))

	// An undelivered stop falls back to a history add.
	scrobbles.err = &remote.StatusError{StatusCode: 503}
	ev = episode
	ev.Progress = 95
	_, err = c.Stop(context.Background(), ev)
	require.Error(t, err)
	assert.Len(t, history.added, 1)
}

func TestStopMarkFailureIsLogged(t *testing.T) {
	state := &fakeState{markErr: errors.New("db down")}
	c, _ := newTestCoordinator(&fakeTracker{}, state)

	ev := movie
	ev.Progress = 100
	res, err := c.Stop(context.Background(), ev)

	require.NoError(t, err)
	assert.True(t, res.MarkedWatched)
}

func TestDisabledScrobblingStillPromotes(t *testing.T) {
	tracker := &fakeTracker{disabled: true}
	state := &fakeState{}
	c, _ := newTestCoordinator(tracker, state)

	ev := movie
	ev.Progress = 150
	res, err := c.Stop(context.Background(), ev)

	require.NoError(t, err)
	assert.False(t, res.Sent)
	assert.True(t, res.MarkedWatched)
	assert.Empty(t, tracker.calls)

	res, err = c.Start(context.Background(), movie)
	require.NoError(t, err)
	assert.False(t, res.Sent)
}

func TestInvalidEvents(t *testing.T) {
	c, _ := newTestCoordinator(&fakeTracker{}, &fakeState{})
	ctx := context.Background()

	_, err := c.Start(ctx, Event{Kind: models.MediaKindMovie})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = c.Pause(ctx, Event{Kind: models.MediaKindShow, IDs: models.ExternalIDs{TMDB: 1}})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = c.Stop(ctx, Event{Kind: "album", IDs: models.ExternalIDs{TMDB: 1}})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}
