package scheduler

import (
	"context"
	"time"

	"watchsync/models"
)

const (
	TaskContinueWatchingRefresh = "continue-watching-refresh"
	TaskWatchedStateResync      = "watched-state-resync"
)

type continueWatchingRefresher interface {
	Invalidate()
	ContinueWatching(ctx context.Context) []models.ContinueWatchingItem
}

type watchedStateLoader interface {
	Invalidate()
	EnsureReady(ctx context.Context)
}

// ContinueWatchingRefresh rebuilds the continue-watching list so requests are
// served from a recent cached result and the snapshot stays current.
func ContinueWatchingRefresh(agg continueWatchingRefresher, every time.Duration) Task {
	return Task{
		ID:       TaskContinueWatchingRefresh,
		Name:     "Refresh continue watching",
		Interval: every,
		Run: func(ctx context.Context) error {
			agg.Invalidate()
			agg.ContinueWatching(ctx)
			return nil
		},
	}
}

// WatchedStateResync reloads the watched-state cache from the remote sources
// to pick up changes made outside this process.
func WatchedStateResync(cache watchedStateLoader, every time.Duration) Task {
	return Task{
		ID:       TaskWatchedStateResync,
		Name:     "Resync watched state",
		Interval: every,
		Run: func(ctx context.Context) error {
			cache.Invalidate()
			cache.EnsureReady(ctx)
			return nil
		},
	}
}
