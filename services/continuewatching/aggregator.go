// Package continuewatching builds the continue-watching list from paused
// playback and the next episodes of recently watched shows.
package continuewatching

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/iter"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"watchsync/internal/kvstore"
	"watchsync/models"
	"watchsync/services/remote"
)

// DefaultSnapshotKey is the kvstore key of the persisted list.
const DefaultSnapshotKey = "continue-watching"

// Tracker is the secondary tracker as seen by the aggregator.
type Tracker interface {
	Authenticated() bool
	PausedPlayback(ctx context.Context) ([]models.PlaybackEntry, error)
	RemovePlayback(ctx context.Context, id int64) error
	WatchedShows(ctx context.Context) ([]models.ShowSummary, error)
	ShowProgress(ctx context.Context, show models.ExternalIDs, includeSpecials bool) (*models.ShowProgress, error)
}

// WatchedState answers watched queries and accepts threshold promotions.
type WatchedState interface {
	EnsureReady(ctx context.Context)
	IsMovieWatched(ids models.ExternalIDs) bool
	IsEpisodeWatched(ref models.EpisodeRef) bool
	Remember(fact models.WatchedFact)
}

// Dismissals hides items the user dismissed.
type Dismissals interface {
	Dismiss(ctx context.Context, key string) error
	Filter(ctx context.Context, candidates []models.Candidate) []models.Candidate
}

// Options tunes an aggregation pass.
type Options struct {
	WatchedThreshold        float64
	MaxItems                int
	MaxPausedItems          int
	RecentShowsLimit        int
	ShowProgressConcurrency int
	IncludeSpecials         bool
	SnapshotKey             string
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		WatchedThreshold:        90,
		MaxItems:                20,
		MaxPausedItems:          100,
		RecentShowsLimit:        200,
		ShowProgressConcurrency: 10,
		SnapshotKey:             DefaultSnapshotKey,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.WatchedThreshold <= 0 {
		o.WatchedThreshold = def.WatchedThreshold
	}
	if o.MaxItems <= 0 {
		o.MaxItems = def.MaxItems
	}
	if o.MaxPausedItems <= 0 {
		o.MaxPausedItems = def.MaxPausedItems
	}
	if o.RecentShowsLimit <= 0 {
		o.RecentShowsLimit = def.RecentShowsLimit
	}
	if o.ShowProgressConcurrency <= 0 {
		o.ShowProgressConcurrency = def.ShowProgressConcurrency
	}
	if o.SnapshotKey == "" {
		o.SnapshotKey = def.SnapshotKey
	}
	return o
}

// Aggregator produces the continue-watching list.
type Aggregator struct {
	tracker    Tracker
	state      WatchedState
	dismissals Dismissals
	metadata   MetadataLookup
	store      kvstore.Store
	caller     *remote.Caller
	opts       Options
	log        *zap.SugaredLogger

	mu     sync.RWMutex
	cached []models.ContinueWatchingItem
}

// Deps groups the collaborators of an Aggregator. Metadata and Store are optional.
type Deps struct {
	Tracker    Tracker
	State      WatchedState
	Dismissals Dismissals
	Metadata   MetadataLookup
	Store      kvstore.Store
	Caller     *remote.Caller
}

// New creates an aggregator.
func New(deps Deps, opts Options, log *zap.SugaredLogger) *Aggregator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	caller := deps.Caller
	if caller == nil {
		caller = remote.NewCaller(remote.DefaultOptions(), log)
	}
	return &Aggregator{
		tracker:    deps.Tracker,
		state:      deps.State,
		dismissals: deps.Dismissals,
		metadata:   deps.Metadata,
		store:      deps.Store,
		caller:     caller,
		opts:       opts.withDefaults(),
		log:        log,
	}
}

// ContinueWatching runs one aggregation pass. It never fails: when nothing can
// be produced it returns the last good list, or the persisted snapshot.
func (a *Aggregator) ContinueWatching(ctx context.Context) []models.ContinueWatchingItem {
	if a.tracker == nil || !a.tracker.Authenticated() {
		return []models.ContinueWatchingItem{}
	}
	a.state.EnsureReady(ctx)

	var (
		wg     conc.WaitGroup
		paused []models.PlaybackEntry
		shows  []models.ShowSummary
	)
	wg.Go(func() {
		entries, err := remote.Call(ctx, a.caller, "trakt.paused_playback", a.tracker.PausedPlayback)
		if err != nil {
			a.log.Warnw("paused playback unavailable", "error", err)
			return
		}
		paused = capSlice(entries, a.opts.MaxPausedItems)
	})
	wg.Go(func() {
		summaries, err := remote.Call(ctx, a.caller, "trakt.watched_shows", a.tracker.WatchedShows)
		if err != nil {
			a.log.Warnw("watched shows unavailable", "error", err)
			return
		}
		shows = capSlice(summaries, a.opts.RecentShowsLimit)
	})
	wg.Wait()

	memo := newProgressMemo(a.tracker, a.caller, a.opts.ShowProgressConcurrency, a.opts.IncludeSpecials)

	pausedCandidates, stale, processedShows := a.pausedCandidates(ctx, paused, memo)

	var deletions conc.WaitGroup
	defer deletions.Wait()
	for _, id := range stale {
		deletions.Go(func() { a.removePlayback(ctx, id) })
	}

	upNext := a.upNextCandidates(ctx, shows, processedShows, memo)

	candidates := merge(pausedCandidates, upNext)
	if a.dismissals != nil {
		candidates = a.dismissals.Filter(ctx, candidates)
	}
	sortCandidates(candidates)
	candidates = capSlice(candidates, a.opts.MaxItems)

	items := a.hydrate(ctx, candidates)
	a.log.Debugw("continue watching pass complete",
		"paused", len(paused), "shows", len(shows), "candidates", len(pausedCandidates)+len(upNext),
		"items", len(items), "stale", len(stale))

	if len(items) > 0 {
		a.mu.Lock()
		a.cached = items
		a.mu.Unlock()
		a.persist(ctx, items)
		return cloneItems(items)
	}
	return a.fallback(ctx)
}

// pausedCandidates turns paused playback into candidates. It returns the
// playback ids that are stale and the shows that produced a candidate.
func (a *Aggregator) pausedCandidates(ctx context.Context, entries []models.PlaybackEntry, memo *progressMemo) ([]models.Candidate, []int64, map[string]struct{}) {
	seen := make(map[models.ContentKey]struct{}, len(entries))
	var remaining []models.PlaybackEntry
	for _, e := range entries {
		item := pausedItem(e)
		key := item.ContentKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if e.Progress >= a.opts.WatchedThreshold {
			if fact, ok := entryFact(e); ok {
				a.state.Remember(fact)
			}
			continue
		}
		remaining = append(remaining, e)
	}

	// Warm the memo for every show that still needs a progress check.
	warm := pool.New().WithMaxGoroutines(a.opts.ShowProgressConcurrency)
	for _, e := range remaining {
		if ref, ok := e.EpisodeRef(); ok && !a.state.IsEpisodeWatched(ref) {
			warm.Go(func() { _, _ = memo.get(ctx, e.IDs) })
		}
	}
	warm.Wait()

	var (
		out   []models.Candidate
		stale []int64
	)
	processed := make(map[string]struct{})
	staleSeen := make(map[int64]struct{})
	markStale := func(id int64) {
		if _, ok := staleSeen[id]; ok || id == 0 {
			return
		}
		staleSeen[id] = struct{}{}
		stale = append(stale, id)
	}
	for _, e := range remaining {
		switch e.Kind {
		case models.MediaKindMovie:
			if a.state.IsMovieWatched(e.IDs) {
				continue
			}
		case models.MediaKindShow:
			ref, ok := e.EpisodeRef()
			if !ok {
				continue
			}
			if a.state.IsEpisodeWatched(ref) {
				markStale(e.ID)
				continue
			}
			progress, err := memo.get(ctx, e.IDs)
			if err != nil {
				a.log.Debugw("show progress unavailable, keeping paused episode", "show", e.Title, "error", err)
			} else if progress.EpisodeCompleted(ref.Season, ref.Episode) || progress.FullyWatched() {
				markStale(e.ID)
				continue
			}
		default:
			continue
		}
		item := pausedItem(e)
		processed[item.ID] = struct{}{}
		out = append(out, models.Candidate{Item: item, LastActivityAt: e.PausedAt, Source: models.SourcePaused})
	}
	return out, stale, processed
}

func (a *Aggregator) upNextCandidates(ctx context.Context, shows []models.ShowSummary, processed map[string]struct{}, memo *progressMemo) []models.Candidate {
	p := pool.NewWithResults[*models.Candidate]().WithMaxGoroutines(a.opts.ShowProgressConcurrency)
	for _, show := range shows {
		if _, done := processed[itemID(show.IDs)]; done {
			continue
		}
		p.Go(func() *models.Candidate {
			progress, err := memo.get(ctx, show.IDs)
			if err != nil {
				a.log.Debugw("show progress unavailable, skipping up next", "show", show.Title, "error", err)
				return nil
			}
			if !progress.HasUpNext() {
				return nil
			}
			c := upNextCandidate(show, progress)
			return &c
		})
	}

	var out []models.Candidate
	for _, c := range p.Wait() {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}

func (a *Aggregator) removePlayback(ctx context.Context, id int64) {
	err := a.caller.Do(ctx, "trakt.remove_playback", func(ctx context.Context) error {
		return a.tracker.RemovePlayback(ctx, id)
	})
	if err != nil {
		a.log.Debugw("remove stale playback failed", "id", id, "error", err)
		return
	}
	a.log.Debugw("removed stale playback", "id", id)
}

func (a *Aggregator) hydrate(ctx context.Context, candidates []models.Candidate) []models.ContinueWatchingItem {
	return iter.Map(candidates, func(c *models.Candidate) models.ContinueWatchingItem {
		item := c.Item
		item.LastActivityAt = c.LastActivityAt
		if a.metadata == nil {
			return item
		}
		details, err := a.details(ctx, item)
		if err != nil {
			a.log.Debugw("hydration failed", "id", item.ID, "kind", item.Kind, "error", err)
			return item
		}
		if details == nil {
			return item
		}
		return details.Apply(item)
	})
}

func (a *Aggregator) details(ctx context.Context, item models.ContinueWatchingItem) (d *models.Details, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("metadata lookup panicked: %v", r)
		}
	}()
	return a.metadata.Details(ctx, item.Kind, item.ID)
}

func (a *Aggregator) fallback(ctx context.Context) []models.ContinueWatchingItem {
	items := a.Cached()
	if len(items) == 0 {
		snap, err := a.Snapshot(ctx)
		if err != nil {
			a.log.Warnw("read continue watching snapshot failed", "error", err)
		}
		items = snap
	}
	if len(items) == 0 || a.dismissals == nil {
		if items == nil {
			items = []models.ContinueWatchingItem{}
		}
		return items
	}

	candidates := make([]models.Candidate, 0, len(items))
	for _, it := range items {
		candidates = append(candidates, models.Candidate{Item: it, LastActivityAt: it.LastActivityAt})
	}
	candidates = a.dismissals.Filter(ctx, candidates)
	out := make([]models.ContinueWatchingItem, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.Item)
	}
	return out
}

func (a *Aggregator) persist(ctx context.Context, items []models.ContinueWatchingItem) {
	if a.store == nil {
		return
	}
	snapshot := make([]models.ContinueWatchingItem, len(items))
	for i, it := range items {
		it.Overview = ""
		snapshot[i] = it
	}
	if err := kvstore.SetJSON(ctx, a.store, a.opts.SnapshotKey, snapshot); err != nil {
		a.log.Warnw("persist continue watching snapshot failed", "items", len(items), "error", err)
	}
}

// Snapshot returns the persisted list from the last successful pass.
func (a *Aggregator) Snapshot(ctx context.Context) ([]models.ContinueWatchingItem, error) {
	if a.store == nil {
		return nil, nil
	}
	var items []models.ContinueWatchingItem
	if _, err := kvstore.GetJSON(ctx, a.store, a.opts.SnapshotKey, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Cached returns the in-memory result of the last successful pass.
func (a *Aggregator) Cached() []models.ContinueWatchingItem {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return cloneItems(a.cached)
}

// Invalidate drops the in-memory result.
func (a *Aggregator) Invalidate() {
	a.mu.Lock()
	a.cached = nil
	a.mu.Unlock()
}

// Dismiss hides the movie or show of item and removes it from the current
// result and snapshot.
func (a *Aggregator) Dismiss(ctx context.Context, kind models.MediaKind, id string) error {
	if a.dismissals == nil {
		return fmt.Errorf("dismissals not configured")
	}
	key := models.DismissalKey(kind, id)
	if err := a.dismissals.Dismiss(ctx, key); err != nil {
		return err
	}

	a.mu.Lock()
	kept := a.cached[:0:0]
	for _, it := range a.cached {
		if it.DismissalKey() != key {
			kept = append(kept, it)
		}
	}
	changed := len(kept) != len(a.cached)
	a.cached = kept
	a.mu.Unlock()

	if changed {
		a.persist(ctx, kept)
	}
	return nil
}

func merge(paused, upNext []models.Candidate) []models.Candidate {
	seen := make(map[models.ContentKey]struct{}, len(paused)+len(upNext))
	out := make([]models.Candidate, 0, len(paused)+len(upNext))
	for _, list := range [][]models.Candidate{paused, upNext} {
		for _, c := range list {
			key := c.Item.ContentKey()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

func sortCandidates(cs []models.Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if !cs[i].LastActivityAt.Equal(cs[j].LastActivityAt) {
			return cs[i].LastActivityAt.After(cs[j].LastActivityAt)
		}
		return cs[i].Item.ContentKey().String() < cs[j].Item.ContentKey().String()
	})
}

func pausedItem(e models.PlaybackEntry) models.ContinueWatchingItem {
	item := models.ContinueWatchingItem{
		ID:             itemID(e.IDs),
		Title:          e.Title,
		Kind:           e.Kind,
		Progress:       models.ClampProgress(e.Progress),
		Year:           e.Year,
		IDs:            e.IDs,
		LastActivityAt: e.PausedAt,
	}
	if e.Episode != nil {
		item.Season = e.Episode.Season
		item.Episode = e.Episode.Number
		item.EpisodeTitle = e.Episode.Title
	}
	return item
}

func upNextCandidate(show models.ShowSummary, progress *models.ShowProgress) models.Candidate {
	last := show.LastWatchedAt
	if last.IsZero() {
		last = progress.LastWatchedAt
	}
	next := progress.NextEpisode
	item := models.ContinueWatchingItem{
		ID:             itemID(show.IDs),
		Title:          show.Title,
		Kind:           models.MediaKindShow,
		Season:         next.Season,
		Episode:        next.Number,
		EpisodeTitle:   next.Title,
		Year:           show.Year,
		IDs:            show.IDs,
		LastActivityAt: last,
	}
	return models.Candidate{Item: item, LastActivityAt: last, Source: models.SourceUpNext}
}

func entryFact(e models.PlaybackEntry) (models.WatchedFact, bool) {
	var fact models.WatchedFact
	switch e.Kind {
	case models.MediaKindMovie:
		fact = models.MovieFact(e.IDs)
	case models.MediaKindShow:
		ref, ok := e.EpisodeRef()
		if !ok {
			return fact, false
		}
		fact = models.EpisodeFact(ref)
	default:
		return fact, false
	}
	return fact, fact.Validate() == nil
}

func itemID(ids models.ExternalIDs) string {
	if id := ids.CatalogID(); id != "" {
		return id
	}
	if ids.Trakt > 0 {
		return "trakt:" + strconv.FormatInt(ids.Trakt, 10)
	}
	return ""
}

func capSlice[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		return s[:n]
	}
	return s
}

func cloneItems(items []models.ContinueWatchingItem) []models.ContinueWatchingItem {
	if items == nil {
		return nil
	}
	out := make([]models.ContinueWatchingItem, len(items))
	copy(out, items)
	return out
}
