package trakt

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"watchsync/models"
)

// ErrNoShowID is returned when a show carries no id Trakt can resolve.
var ErrNoShowID = errors.New("show has no trakt, slug or imdb id")

const appVersion = "watchsync"

// Tracker exposes the Trakt endpoints the engine needs in terms of the
// shared models, using the session for authentication.
type Tracker struct {
	client   *Client
	session  *Session
	pageSize int
}

// NewTracker creates a Tracker. pageSize bounds /sync/playback pages.
func NewTracker(client *Client, session *Session, pageSize int) *Tracker {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Tracker{client: client, session: session, pageSize: pageSize}
}

// Authenticated reports whether the account has a token.
func (t *Tracker) Authenticated() bool {
	return t.session.Authenticated()
}

// ScrobblingEnabled reports whether scrobbles should be sent.
func (t *Tracker) ScrobblingEnabled() bool {
	return t.session.ScrobblingEnabled()
}

// PausedPlayback returns every paused entry, most recently paused first.
func (t *Tracker) PausedPlayback(ctx context.Context) ([]models.PlaybackEntry, error) {
	token, err := t.session.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	items, err := t.client.GetAllPlaybackProgress(ctx, token, t.pageSize)
	if err != nil {
		return nil, err
	}

	entries := make([]models.PlaybackEntry, 0, len(items))
	for _, item := range items {
		if entry, ok := toPlaybackEntry(item); ok {
			entries = append(entries, entry)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].PausedAt.After(entries[j].PausedAt)
	})
	return entries, nil
}

// RemovePlayback deletes a paused playback entry.
func (t *Tracker) RemovePlayback(ctx context.Context, id int64) error {
	token, err := t.session.AccessToken(ctx)
	if err != nil {
		return err
	}
	return t.client.RemovePlaybackItem(ctx, token, id)
}

// WatchedShows returns the watched-show summaries, most recent first.
func (t *Tracker) WatchedShows(ctx context.Context) ([]models.ShowSummary, error) {
	token, err := t.session.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	shows, err := t.client.GetWatchedShows(ctx, token)
	if err != nil {
		return nil, err
	}

	out := make([]models.ShowSummary, 0, len(shows))
	for _, s := range shows {
		out = append(out, toShowSummary(s))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastWatchedAt.After(out[j].LastWatchedAt)
	})
	return out, nil
}

// WatchedMovies returns the ids of every watched movie.
func (t *Tracker) WatchedMovies(ctx context.Context) ([]models.ExternalIDs, error) {
	token, err := t.session.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	movies, err := t.client.GetWatchedMovies(ctx, token)
	if err != nil {
		return nil, err
	}

	out := make([]models.ExternalIDs, 0, len(movies))
	for _, m := range movies {
		out = append(out, toModelIDs(m.Movie.IDs))
	}
	return out, nil
}

// WatchedEpisodes flattens the watched shows into episode references.
func (t *Tracker) WatchedEpisodes(ctx context.Context) ([]models.EpisodeRef, error) {
	token, err := t.session.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	shows, err := t.client.GetWatchedShows(ctx, token)
	if err != nil {
		return nil, err
	}

	var out []models.EpisodeRef
	for _, s := range shows {
		showIDs := toModelIDs(s.Show.IDs)
		for _, season := range s.Seasons {
			for _, ep := range season.Episodes {
				out = append(out, models.EpisodeRef{Show: showIDs, Season: season.Number, Episode: ep.Number})
			}
		}
	}
	return out, nil
}

// ShowProgress returns the watched progress snapshot for a show.
func (t *Tracker) ShowProgress(ctx context.Context, show models.ExternalIDs, includeSpecials bool) (*models.ShowProgress, error) {
	id := showPathID(show)
	if id == "" {
		return nil, ErrNoShowID
	}
	token, err := t.session.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	progress, err := t.client.GetShowProgress(ctx, token, id, includeSpecials)
	if err != nil {
		return nil, err
	}
	return toShowProgress(progress), nil
}

// ScrobbleTarget describes what is being played.
type ScrobbleTarget struct {
	Kind           models.MediaKind
	IDs            models.ExternalIDs // Movie ids, or show ids for episodes
	Title          string
	Year           int
	Season         int
	Episode        int
	TraktEpisodeID int64
	Progress       float64
}

// Scrobble sends a start, pause or stop for the target.
func (t *Tracker) Scrobble(ctx context.Context, action string, target ScrobbleTarget) error {
	token, err := t.session.AccessToken(ctx)
	if err != nil {
		return err
	}

	req := ScrobbleRequest{Progress: models.ClampProgress(target.Progress), AppVersion: appVersion}
	if target.Kind == models.MediaKindMovie {
		req.Movie = &Movie{Title: target.Title, Year: target.Year, IDs: fromModelIDs(target.IDs)}
	} else {
		req.Episode = &Episode{Season: target.Season, Number: target.Episode}
		if target.TraktEpisodeID > 0 {
			req.Episode = &Episode{IDs: IDs{Trakt: target.TraktEpisodeID}}
		} else {
			req.Show = &Show{Title: target.Title, Year: target.Year, IDs: fromModelIDs(target.IDs)}
		}
	}

	_, err = t.client.Scrobble(ctx, token, action, req)
	return err
}

// AddHistory records a fact in the Trakt watch history.
func (t *Tracker) AddHistory(ctx context.Context, fact models.WatchedFact, watchedAt time.Time) error {
	token, err := t.session.AccessToken(ctx)
	if err != nil {
		return err
	}
	_, err = t.client.AddToHistory(ctx, token, historyRequest(fact, watchedAt))
	return err
}

// RemoveHistory removes a fact from the Trakt watch history.
func (t *Tracker) RemoveHistory(ctx context.Context, fact models.WatchedFact) error {
	token, err := t.session.AccessToken(ctx)
	if err != nil {
		return err
	}
	_, err = t.client.RemoveFromHistory(ctx, token, historyRequest(fact, time.Time{}))
	return err
}

func showPathID(ids models.ExternalIDs) string {
	switch {
	case ids.Trakt > 0:
		return strconv.FormatInt(ids.Trakt, 10)
	case ids.Slug != "":
		return ids.Slug
	case ids.IMDB != "":
		return ids.IMDB
	default:
		return ""
	}
}
