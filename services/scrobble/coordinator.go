// Package scrobble forwards playback state changes to the tracker.
package scrobble

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"watchsync/models"
	"watchsync/services/remote"
	"watchsync/services/trakt"
)

// ErrInvalidEvent is returned for events that cannot identify their content.
var ErrInvalidEvent = errors.New("scrobble event has no usable identity")

const (
	defaultThreshold = 90
	defaultDebounce  = 5 * time.Second
)

// Tracker accepts scrobble calls.
type Tracker interface {
	ScrobblingEnabled() bool
	Scrobble(ctx context.Context, action string, target trakt.ScrobbleTarget) error
}

// WatchedState receives facts for playback that crossed the watched threshold.
// RecordWatched skips the tracker history write; MarkWatched includes it.
type WatchedState interface {
	Remember(fact models.WatchedFact)
	MarkWatched(ctx context.Context, fact models.WatchedFact) error
	RecordWatched(ctx context.Context, fact models.WatchedFact) error
}

// Event describes the content being played and how far along it is.
type Event struct {
	Kind           models.MediaKind   `json:"kind"`
	IDs            models.ExternalIDs `json:"ids"`
	Title          string             `json:"title,omitempty"`
	Year           int                `json:"year,omitempty"`
	Season         int                `json:"season,omitempty"`
	Episode        int                `json:"episode,omitempty"`
	TraktEpisodeID int64              `json:"traktEpisodeId,omitempty"`
	EpisodeTitle   string             `json:"episodeTitle,omitempty"`
	Progress       float64            `json:"progress"`
}

// Fact returns the watched fact the event would produce.
func (e Event) Fact() models.WatchedFact {
	if e.Kind == models.MediaKindMovie {
		return models.MovieFact(e.IDs)
	}
	return models.EpisodeFact(models.EpisodeRef{
		Show:           e.IDs,
		TraktEpisodeID: e.TraktEpisodeID,
		Season:         e.Season,
		Episode:        e.Episode,
	})
}

func (e Event) validate() error {
	switch e.Kind {
	case models.MediaKindMovie:
	case models.MediaKindShow:
		if e.Episode <= 0 && e.TraktEpisodeID == 0 {
			return ErrInvalidEvent
		}
	default:
		return ErrInvalidEvent
	}
	if e.IDs.IsZero() {
		return ErrInvalidEvent
	}
	return nil
}

func (e Event) debounceKey() string {
	id := e.IDs.CatalogID()
	if id == "" {
		id = "trakt:" + strconv.FormatInt(e.IDs.Trakt, 10)
	}
	return fmt.Sprintf("%s|%d|%d", id, e.Season, e.Episode)
}

func (e Event) target() trakt.ScrobbleTarget {
	return trakt.ScrobbleTarget{
		Kind:           e.Kind,
		IDs:            e.IDs,
		Title:          e.Title,
		Year:           e.Year,
		Season:         e.Season,
		Episode:        e.Episode,
		TraktEpisodeID: e.TraktEpisodeID,
		Progress:       e.Progress,
	}
}

// Result reports what a scrobble call did.
type Result struct {
	Action        string `json:"action"`
	Sent          bool   `json:"sent"`
	Debounced     bool   `json:"debounced,omitempty"`
	MarkedWatched bool   `json:"markedWatched,omitempty"`
}

// Options tunes the coordinator.
type Options struct {
	// WatchedThreshold is the progress percentage at which a stop marks the
	// content watched.
	WatchedThreshold float64
	// PauseDebounce suppresses repeated pauses for the same content.
	PauseDebounce time.Duration
}

// Coordinator sends start, pause and stop events.
type Coordinator struct {
	tracker Tracker
	state   WatchedState
	caller  *remote.Caller
	opts    Options
	log     *zap.SugaredLogger
	now     func() time.Time

	mu         sync.Mutex
	lastPauses map[string]time.Time
}

// New creates a coordinator. A nil tracker disables remote scrobbling.
func New(tracker Tracker, state WatchedState, caller *remote.Caller, opts Options, log *zap.SugaredLogger) *Coordinator {
	if opts.WatchedThreshold <= 0 {
		opts.WatchedThreshold = defaultThreshold
	}
	if opts.PauseDebounce < 0 {
		opts.PauseDebounce = defaultDebounce
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if caller == nil {
		caller = remote.NewCaller(remote.DefaultOptions(), log)
	}
	return &Coordinator{
		tracker:    tracker,
		state:      state,
		caller:     caller,
		opts:       opts,
		log:        log,
		now:        time.Now,
		lastPauses: make(map[string]time.Time),
	}
}

func (c *Coordinator) enabled() bool {
	return c.tracker != nil && c.tracker.ScrobblingEnabled()
}

func (c *Coordinator) send(ctx context.Context, action string, ev Event) error {
	return c.caller.Do(ctx, "trakt.scrobble."+action, func(ctx context.Context) error {
		return c.tracker.Scrobble(ctx, action, ev.target())
	})
}

// Start reports that playback began.
func (c *Coordinator) Start(ctx context.Context, ev Event) (Result, error) {
	ev.Progress = models.ClampProgress(ev.Progress)
	res := Result{Action: trakt.ScrobbleStart}
	if err := ev.validate(); err != nil {
		return res, err
	}
	if !c.enabled() {
		return res, nil
	}
	if err := c.send(ctx, trakt.ScrobbleStart, ev); err != nil {
		return res, err
	}
	res.Sent = true
	return res, nil
}

// Pause reports that playback paused. Pauses for the same content within the
// debounce window are dropped.
func (c *Coordinator) Pause(ctx context.Context, ev Event) (Result, error) {
	return c.pause(ctx, ev, false)
}

// PauseImmediate reports a pause without debouncing.
func (c *Coordinator) PauseImmediate(ctx context.Context, ev Event) (Result, error) {
	return c.pause(ctx, ev, true)
}

func (c *Coordinator) pause(ctx context.Context, ev Event, immediate bool) (Result, error) {
	ev.Progress = models.ClampProgress(ev.Progress)
	res := Result{Action: trakt.ScrobblePause}
	if err := ev.validate(); err != nil {
		return res, err
	}
	if !c.enabled() {
		return res, nil
	}

	key := ev.debounceKey()
	now := c.now()
	c.mu.Lock()
	for k, at := range c.lastPauses {
		if now.Sub(at) >= c.opts.PauseDebounce {
			delete(c.lastPauses, k)
		}
	}
	if _, recent := c.lastPauses[key]; recent && !immediate {
		c.mu.Unlock()
		res.Debounced = true
		return res, nil
	}
	c.lastPauses[key] = now
	c.mu.Unlock()

	if err := c.send(ctx, trakt.ScrobblePause, ev); err != nil {
		c.mu.Lock()
		if c.lastPauses[key].Equal(now) {
			delete(c.lastPauses, key)
		}
		c.mu.Unlock()
		return res, err
	}
	res.Sent = true
	return res, nil
}

// Stop reports that playback ended. When progress reached the watched
// threshold the content is marked watched locally before the remote call and
// then persisted; a failed remote stop does not undo the mark. A delivered
// stop already records the play on the tracker, so only the authoritative
// store is written after it.
func (c *Coordinator) Stop(ctx context.Context, ev Event) (Result, error) {
	ev.Progress = models.ClampProgress(ev.Progress)
	res := Result{Action: trakt.ScrobbleStop}
	if err := ev.validate(); err != nil {
		return res, err
	}

	c.mu.Lock()
	delete(c.lastPauses, ev.debounceKey())
	c.mu.Unlock()

	fact := ev.Fact()
	promote := c.state != nil && ev.Progress >= c.opts.WatchedThreshold && fact.Validate() == nil
	if promote {
		c.state.Remember(fact)
		res.MarkedWatched = true
	}

	var stopErr error
	if c.enabled() {
		if stopErr = c.send(ctx, trakt.ScrobbleStop, ev); stopErr == nil {
			res.Sent = true
		}
	}

	if promote {
		persist := c.state.MarkWatched
		if res.Sent {
			persist = c.state.RecordWatched
		}
		if err := persist(ctx, fact); err != nil {
			c.log.Warnw("persist watched after stop failed", "kind", ev.Kind, "ids", ev.IDs.CatalogID(),
				"season", ev.Season, "episode", ev.Episode, "error", err)
		}
	}
	return res, stopErr
}
