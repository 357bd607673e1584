package remote

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastCaller(opts ...Option) *Caller {
	return NewCaller(Options{MaxAttempts: 3, InitialDelay: 0, MaxDelay: time.Millisecond}, nil, opts...)
}

func statusErr(code int) error {
	return &StatusError{Service: "test", StatusCode: code, Status: http.StatusText(code)}
}

type countingRefresher struct {
	calls int
	err   error
}

func (r *countingRefresher) Refresh(context.Context) error {
	r.calls++
	return r.err
}

func TestCallerRetriesServerErrorsUntilExhausted(t *testing.T) {
	calls := 0
	err := fastCaller().Do(context.Background(), "list", func(context.Context) error {
		calls++
		return statusErr(http.StatusBadGateway)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 3, calls)

	var ue *UnavailableError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, 3, ue.Attempts)
	assert.Equal(t, "list", ue.Op)
}

func TestCallerSucceedsAfterRateLimit(t *testing.T) {
	calls := 0
	got, err := Call(context.Background(), fastCaller(), "list", func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", statusErr(http.StatusTooManyRequests)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)
}

func TestCallerFailsFastOnNonRetryable(t *testing.T) {
	calls := 0
	err := fastCaller().Do(context.Background(), "get", func(context.Context) error {
		calls++
		return statusErr(http.StatusNotFound)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, IsNotFound(err))
}

func TestCallerRefreshesCredentialsOnce(t *testing.T) {
	refresher := &countingRefresher{}
	calls := 0
	err := fastCaller(WithRefresher(refresher)).Do(context.Background(), "sync", func(context.Context) error {
		calls++
		if calls == 1 {
			return statusErr(http.StatusUnauthorized)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, 2, calls)
}

func TestCallerGivesUpOnSecondUnauthorized(t *testing.T) {
	refresher := &countingRefresher{}
	calls := 0
	err := fastCaller(WithRefresher(refresher)).Do(context.Background(), "sync", func(context.Context) error {
		calls++
		return statusErr(http.StatusUnauthorized)
	})

	require.Error(t, err)
	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, 2, calls)
}

func TestCallerStopsWhenRefreshFails(t *testing.T) {
	refresher := &countingRefresher{err: errors.New("revoked")}
	calls := 0
	err := fastCaller(WithRefresher(refresher)).Do(context.Background(), "sync", func(context.Context) error {
		calls++
		return statusErr(http.StatusUnauthorized)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "revoked")
}

func TestCallerUnauthorizedWithoutRefresherFailsFast(t *testing.T) {
	calls := 0
	err := fastCaller().Do(context.Background(), "sync", func(context.Context) error {
		calls++
		return statusErr(http.StatusUnauthorized)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestCallerRecoversPanics(t *testing.T) {
	err := fastCaller().Do(context.Background(), "boom", func(context.Context) error {
		panic("nil map")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCallerHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := fastCaller().Do(ctx, "slow", func(context.Context) error {
		calls++
		cancel()
		return statusErr(http.StatusServiceUnavailable)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoffDoublesUpToCeiling(t *testing.T) {
	c := NewCaller(DefaultOptions(), nil)

	assert.Equal(t, time.Second, c.backoff(1))
	assert.Equal(t, 2*time.Second, c.backoff(2))
	assert.Equal(t, 4*time.Second, c.backoff(3))
	assert.Equal(t, 8*time.Second, c.backoff(4))
	assert.Equal(t, 10*time.Second, c.backoff(5))
	assert.Equal(t, 10*time.Second, c.backoff(9))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindRateLimited, Classify(statusErr(http.StatusTooManyRequests)))
	assert.Equal(t, KindServer, Classify(statusErr(http.StatusInternalServerError)))
	assert.Equal(t, KindUnauthorized, Classify(statusErr(http.StatusUnauthorized)))
	assert.Equal(t, KindOther, Classify(statusErr(http.StatusBadRequest)))
	assert.Equal(t, KindOther, Classify(context.Canceled))
	assert.Equal(t, KindOther, Classify(errors.New("decode response")))
}
