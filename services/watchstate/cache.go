// Package watchstate keeps an in-process view of which movies and episodes
// the user has watched, reconciled from the authoritative store and Trakt.
package watchstate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"watchsync/models"
	"watchsync/services/remote"
)

// State is the lifecycle of a Cache.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// Authority is the authoritative watched-state store.
type Authority interface {
	WatchedMovies(ctx context.Context) ([]models.ExternalIDs, error)
	WatchedEpisodes(ctx context.Context) ([]models.EpisodeRef, error)
	MarkWatched(ctx context.Context, fact models.WatchedFact) (bool, error)
	MarkUnwatched(ctx context.Context, fact models.WatchedFact) (bool, error)
}

// Tracker is the secondary activity tracker.
type Tracker interface {
	WatchedMovies(ctx context.Context) ([]models.ExternalIDs, error)
	WatchedEpisodes(ctx context.Context) ([]models.EpisodeRef, error)
	AddHistory(ctx context.Context, fact models.WatchedFact, watchedAt time.Time) error
	RemoveHistory(ctx context.Context, fact models.WatchedFact) error
}

// ChangeNotifier is told about every committed mutation.
type ChangeNotifier interface {
	PublishWatched(fact models.WatchedFact, watched bool)
}

// Stats summarises the cache contents.
type Stats struct {
	State    string `json:"state"`
	Movies   int    `json:"movies"`
	Episodes int    `json:"episodes"`
}

// Option customises a Cache.
type Option func(*Cache)

// WithAuthorityCaller sets the retry policy for authoritative store calls.
func WithAuthorityCaller(c *remote.Caller) Option {
	return func(cache *Cache) { cache.authorityCaller = c }
}

// WithTrackerCaller sets the retry policy for tracker calls.
func WithTrackerCaller(c *remote.Caller) Option {
	return func(cache *Cache) { cache.trackerCaller = c }
}

// WithNotifier publishes committed mutations.
func WithNotifier(n ChangeNotifier) Option {
	return func(cache *Cache) { cache.notifier = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(cache *Cache) { cache.now = now }
}

// Cache is the in-memory watched set.
type Cache struct {
	authority       Authority
	tracker         Tracker
	authorityCaller *remote.Caller
	trackerCaller   *remote.Caller
	notifier        ChangeNotifier
	log             *zap.SugaredLogger
	now             func() time.Time

	state      atomic.Int32
	generation atomic.Uint64
	loads      singleflight.Group

	mu       sync.RWMutex
	movies   *aliasSet[string]
	episodes *aliasSet[models.EpisodeKey]
	// pending holds local commits made while the cache is not ready. They are
	// replayed on top of the next successful load.
	pending []localCommit

	// writeMu serializes mutations.
	writeMu sync.Mutex
}

// New creates an uninitialized cache.
func New(authority Authority, tracker Tracker, log *zap.SugaredLogger, opts ...Option) *Cache {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	c := &Cache{
		authority: authority,
		tracker:   tracker,
		log:       log,
		now:       time.Now,
		movies:    newAliasSet[string](),
		episodes:  newAliasSet[models.EpisodeKey](),
	}
	for _, o := range opts {
		o(c)
	}
	if c.authorityCaller == nil {
		c.authorityCaller = remote.NewCaller(remote.DefaultOptions(), log)
	}
	if c.trackerCaller == nil {
		c.trackerCaller = remote.NewCaller(remote.DefaultOptions(), log)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Cache) State() State {
	return State(c.state.Load())
}

// Stats returns the lifecycle state and the number of known facts.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{State: c.State().String(), Movies: c.movies.len(), Episodes: c.episodes.len()}
}

type localCommit struct {
	fact    models.WatchedFact
	watched bool
}

// EnsureReady loads the watched sets once. Concurrent callers share the same
// load, which keeps running for the others when one caller's context is
// cancelled. A failed load leaves the cache uninitialized so a later call
// retries.
func (c *Cache) EnsureReady(ctx context.Context) {
	if c.State() == StateReady {
		return
	}
	gen := c.generation.Load()
	loadCtx := context.WithoutCancel(ctx)
	done := c.loads.DoChan("load", func() (any, error) {
		if c.State() == StateReady {
			return nil, nil
		}
		c.mu.Lock()
		c.state.Store(int32(StateInitializing))
		c.mu.Unlock()

		movies, episodes, ok := c.load(loadCtx)
		c.install(gen, movies, episodes, ok)
		return nil, nil
	})
	select {
	case <-done:
	case <-ctx.Done():
		c.log.Debugw("stopped waiting for watched state load", "error", ctx.Err())
	}
}

// install swaps in a loaded result. It holds writeMu so no mutation is half
// applied across the swap, and replays local commits made since the cache
// was last ready.
func (c *Cache) install(gen uint64, movies *aliasSet[string], episodes *aliasSet[models.EpisodeKey], ok bool) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation.Load() != gen {
		// Invalidated while loading; the result may predate the invalidation.
		c.state.CompareAndSwap(int32(StateInitializing), int32(StateUninitialized))
		return
	}
	if !ok {
		// Locally committed facts stay visible until a load succeeds.
		c.state.Store(int32(StateUninitialized))
		return
	}
	for _, lc := range c.pending {
		applyCommit(movies, episodes, lc)
	}
	replayed := len(c.pending)
	c.pending = nil
	c.movies, c.episodes = movies, episodes
	c.state.Store(int32(StateReady))
	c.log.Infow("watched state ready", "movies", movies.len(), "episodes", episodes.len(), "replayed", replayed)
}

// Invalidate drops every fact and returns the cache to uninitialized.
func (c *Cache) Invalidate() {
	c.generation.Add(1)
	c.loads.Forget("load")

	c.mu.Lock()
	c.movies = newAliasSet[string]()
	c.episodes = newAliasSet[models.EpisodeKey]()
	c.pending = nil
	c.state.Store(int32(StateUninitialized))
	c.mu.Unlock()
}

func (c *Cache) load(ctx context.Context) (*aliasSet[string], *aliasSet[models.EpisodeKey], bool) {
	var (
		wg                conc.WaitGroup
		movies            []models.ExternalIDs
		episodes          []models.EpisodeRef
		moviesErr, epsErr error
	)
	wg.Go(func() {
		movies, moviesErr = remote.Call(ctx, c.authorityCaller, "authority.watched_movies", c.authority.WatchedMovies)
	})
	wg.Go(func() {
		episodes, epsErr = remote.Call(ctx, c.authorityCaller, "authority.watched_episodes", c.authority.WatchedEpisodes)
	})
	wg.Wait()

	if err := errors.Join(moviesErr, epsErr); err != nil {
		c.log.Warnw("authoritative store unavailable, loading from tracker", "error", err)
		return c.loadTracker(ctx)
	}

	// Each collection falls back to the tracker on its own when empty.
	if len(movies) == 0 {
		if tm, err := remote.Call(ctx, c.trackerCaller, "trakt.watched_movies", c.tracker.WatchedMovies); err == nil {
			movies = tm
		} else {
			c.log.Debugw("tracker movie fallback failed", "error", err)
		}
	}
	if len(episodes) == 0 {
		if te, err := remote.Call(ctx, c.trackerCaller, "trakt.watched_episodes", c.tracker.WatchedEpisodes); err == nil {
			episodes = te
		} else {
			c.log.Debugw("tracker episode fallback failed", "error", err)
		}
	}
	ms, es := buildSets(movies, episodes)
	return ms, es, true
}

func (c *Cache) loadTracker(ctx context.Context) (*aliasSet[string], *aliasSet[models.EpisodeKey], bool) {
	movies, err := remote.Call(ctx, c.trackerCaller, "trakt.watched_movies", c.tracker.WatchedMovies)
	if err != nil {
		c.log.Warnw("tracker unavailable, watched state not loaded", "error", err)
		return nil, nil, false
	}
	episodes, err := remote.Call(ctx, c.trackerCaller, "trakt.watched_episodes", c.tracker.WatchedEpisodes)
	if err != nil {
		c.log.Warnw("tracker unavailable, watched state not loaded", "error", err)
		return nil, nil, false
	}
	ms, es := buildSets(movies, episodes)
	return ms, es, true
}

func buildSets(movies []models.ExternalIDs, episodes []models.EpisodeRef) (*aliasSet[string], *aliasSet[models.EpisodeKey]) {
	ms := newAliasSet[string]()
	for _, ids := range movies {
		ms.add(movieKeys(ids))
	}
	es := newAliasSet[models.EpisodeKey]()
	for _, ref := range episodes {
		es.add(ref.Keys())
	}
	return ms, es
}

func movieKeys(ids models.ExternalIDs) []string {
	keys := ids.CatalogIDs()
	if ids.Trakt > 0 {
		keys = append(keys, "trakt:"+strconv.FormatInt(ids.Trakt, 10))
	}
	return keys
}

// IsMovieWatched reports whether any id of the movie is known as watched.
func (c *Cache) IsMovieWatched(ids models.ExternalIDs) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.movies.contains(movieKeys(ids))
}

// IsEpisodeWatched reports whether the episode is known as watched.
func (c *Cache) IsEpisodeWatched(ref models.EpisodeRef) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.episodes.contains(ref.Keys())
}

// MarkWatched writes the fact to the authoritative store and the tracker
// history, then commits it locally. The local set changes only when at least
// one remote write succeeded.
func (c *Cache) MarkWatched(ctx context.Context, fact models.WatchedFact) error {
	return c.mutate(ctx, fact, true)
}

// MarkUnwatched removes the fact remotely, then locally.
func (c *Cache) MarkUnwatched(ctx context.Context, fact models.WatchedFact) error {
	return c.mutate(ctx, fact, false)
}

// RecordWatched writes the fact to the authoritative store only, then
// commits it locally. It is used for plays the tracker already recorded
// through a scrobble stop.
func (c *Cache) RecordWatched(ctx context.Context, fact models.WatchedFact) error {
	if err := fact.Validate(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	err := c.authorityCaller.Do(ctx, "authority.mark", func(ctx context.Context) error {
		_, err := c.authority.MarkWatched(ctx, fact)
		return err
	})
	if err != nil {
		return fmt.Errorf("record watched state: %w", err)
	}
	c.commit(fact, true)
	return nil
}

func (c *Cache) mutate(ctx context.Context, fact models.WatchedFact, watched bool) error {
	if err := fact.Validate(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var (
		authErr, trackErr error
		wg                conc.WaitGroup
	)
	wg.Go(func() {
		authErr = c.authorityCaller.Do(ctx, "authority.mark", func(ctx context.Context) error {
			var err error
			if watched {
				_, err = c.authority.MarkWatched(ctx, fact)
			} else {
				_, err = c.authority.MarkUnwatched(ctx, fact)
			}
			return err
		})
	})
	wg.Go(func() {
		trackErr = c.trackerCaller.Do(ctx, "trakt.history", func(ctx context.Context) error {
			if watched {
				return c.tracker.AddHistory(ctx, fact, c.now())
			}
			return c.tracker.RemoveHistory(ctx, fact)
		})
	})
	wg.Wait()

	if authErr != nil && trackErr != nil {
		return fmt.Errorf("update watched state: %w", errors.Join(authErr, trackErr))
	}
	if authErr != nil {
		c.log.Warnw("authoritative store write failed, tracker updated", "watched", watched, "error", authErr)
	}
	if trackErr != nil {
		c.log.Debugw("tracker history write failed", "watched", watched, "error", trackErr)
	}

	c.commit(fact, watched)
	return nil
}

func (c *Cache) commit(fact models.WatchedFact, watched bool) {
	c.apply(localCommit{fact: fact, watched: watched})
	if c.notifier != nil {
		c.notifier.PublishWatched(fact, watched)
	}
}

// Remember commits a fact locally without any remote write.
func (c *Cache) Remember(fact models.WatchedFact) {
	c.apply(localCommit{fact: fact, watched: true})
}

// Forget removes a fact locally without any remote write.
func (c *Cache) Forget(fact models.WatchedFact) {
	c.apply(localCommit{fact: fact, watched: false})
}

func (c *Cache) apply(lc localCommit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	applyCommit(c.movies, c.episodes, lc)
	if c.State() != StateReady {
		c.pending = append(c.pending, lc)
	}
}

func applyCommit(movies *aliasSet[string], episodes *aliasSet[models.EpisodeKey], lc localCommit) {
	switch lc.fact.Kind {
	case models.MediaKindMovie:
		if lc.watched {
			movies.add(movieKeys(lc.fact.Movie))
		} else {
			movies.remove(movieKeys(lc.fact.Movie))
		}
	case models.MediaKindShow:
		if lc.watched {
			episodes.add(lc.fact.Episode.Keys())
		} else {
			episodes.remove(lc.fact.Episode.Keys())
		}
	}
}
