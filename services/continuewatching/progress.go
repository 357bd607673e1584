package continuewatching

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"watchsync/models"
	"watchsync/services/remote"
)

// progressMemo caches show progress for a single aggregation pass. Concurrent
// lookups for one show share a request and at most limit requests run at once.
type progressMemo struct {
	tracker  Tracker
	caller   *remote.Caller
	specials bool
	sem      *semaphore.Weighted
	group    singleflight.Group

	mu      sync.Mutex
	results map[string]progressResult
}

type progressResult struct {
	progress *models.ShowProgress
	err      error
}

func newProgressMemo(tracker Tracker, caller *remote.Caller, limit int, specials bool) *progressMemo {
	if limit <= 0 {
		limit = 1
	}
	return &progressMemo{
		tracker:  tracker,
		caller:   caller,
		specials: specials,
		sem:      semaphore.NewWeighted(int64(limit)),
		results:  make(map[string]progressResult),
	}
}

func (m *progressMemo) cached(key string) (progressResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[key]
	return r, ok
}

func (m *progressMemo) get(ctx context.Context, show models.ExternalIDs) (*models.ShowProgress, error) {
	key := showKey(show)
	if r, ok := m.cached(key); ok {
		return r.progress, r.err
	}
	v, err, _ := m.group.Do(key, func() (any, error) {
		if r, ok := m.cached(key); ok {
			return r.progress, r.err
		}
		if err := m.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer m.sem.Release(1)

		progress, err := remote.Call(ctx, m.caller, "trakt.show_progress", func(ctx context.Context) (*models.ShowProgress, error) {
			return m.tracker.ShowProgress(ctx, show, m.specials)
		})
		m.mu.Lock()
		m.results[key] = progressResult{progress: progress, err: err}
		m.mu.Unlock()
		return progress, err
	})
	if err != nil {
		return nil, err
	}
	progress, _ := v.(*models.ShowProgress)
	return progress, nil
}

func showKey(ids models.ExternalIDs) string {
	if ids.Trakt > 0 {
		return "trakt:" + strconv.FormatInt(ids.Trakt, 10)
	}
	if ids.Slug != "" {
		return "slug:" + ids.Slug
	}
	return ids.CatalogID()
}
