package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchsync/models"
)

func TestRunTaskNowRecordsStatus(t *testing.T) {
	fail := errors.New("tracker down")
	calls := 0
	svc := NewService([]Task{
		{ID: "ok", Name: "ok", Interval: time.Minute, Run: func(context.Context) error { calls++; return nil }},
		{ID: "bad", Name: "bad", Run: func(context.Context) error { return fail }},
	}, time.Minute, nil)

	require.NoError(t, svc.RunTaskNow(context.Background(), "ok"))
	require.NoError(t, svc.RunTaskNow(context.Background(), "bad"))
	assert.ErrorIs(t, svc.RunTaskNow(context.Background(), "missing"), ErrTaskNotFound)
	assert.Equal(t, 1, calls)

	status := svc.TaskStatus()
	require.Len(t, status, 2)
	assert.Equal(t, StatusSuccess, status[0].LastStatus)
	assert.Equal(t, "1m0s", status[0].Interval)
	assert.NotNil(t, status[0].LastRunAt)
	assert.Equal(t, StatusError, status[1].LastStatus)
	assert.Equal(t, "tracker down", status[1].LastError)
	assert.Equal(t, "off", status[1].Interval)
}

func TestRunTaskNowRejectsConcurrentRun(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	svc := NewService([]Task{{ID: "slow", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}}, time.Minute, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, svc.RunTaskNow(context.Background(), "slow"))
	}()
	<-started

	assert.True(t, svc.IsTaskRunning("slow"))
	assert.Equal(t, StatusRunning, svc.TaskStatus()[0].LastStatus)
	assert.ErrorIs(t, svc.RunTaskNow(context.Background(), "slow"), ErrTaskRunning)

	close(release)
	wg.Wait()
	assert.False(t, svc.IsTaskRunning("slow"))
}

func TestShouldRun(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	task := Task{ID: "t", Interval: 15 * time.Minute, Run: func(context.Context) error { return nil }}
	svc := NewService([]Task{task}, time.Minute, nil)
	svc.now = func() time.Time { return now }

	assert.True(t, svc.shouldRun(task))
	require.NoError(t, svc.RunTaskNow(context.Background(), "t"))
	assert.False(t, svc.shouldRun(task))

	now = now.Add(15 * time.Minute)
	assert.True(t, svc.shouldRun(task))
	assert.False(t, svc.shouldRun(Task{ID: "off"}))
}

func TestStartStop(t *testing.T) {
	ran := make(chan struct{}, 1)
	svc := NewService([]Task{{ID: "t", Interval: time.Hour, Run: func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}}}, time.Second, nil)

	svc.Start(context.Background())
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("task did not run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	svc.Stop(ctx)
}

type fakeAggregator struct {
	invalidated, passes int
}

func (f *fakeAggregator) Invalidate() { f.invalidated++ }
func (f *fakeAggregator) ContinueWatching(context.Context) []models.ContinueWatchingItem {
	f.passes++
	return nil
}

type fakeCache struct {
	invalidated, loads int
}

func (f *fakeCache) Invalidate()                 { f.invalidated++ }
func (f *fakeCache) EnsureReady(context.Context) { f.loads++ }

func TestRefreshTasks(t *testing.T) {
	agg := &fakeAggregator{}
	cache := &fakeCache{}
	svc := NewService([]Task{
		ContinueWatchingRefresh(agg, 15*time.Minute),
		WatchedStateResync(cache, 6*time.Hour),
	}, time.Minute, nil)

	require.NoError(t, svc.RunTaskNow(context.Background(), TaskContinueWatchingRefresh))
	require.NoError(t, svc.RunTaskNow(context.Background(), TaskWatchedStateResync))

	assert.Equal(t, 1, agg.invalidated)
	assert.Equal(t, 1, agg.passes)
	assert.Equal(t, 1, cache.invalidated)
	assert.Equal(t, 1, cache.loads)
}
