package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "settings.json")
	m := NewManager(path)

	s, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultSettings(), s)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestLoadBackfillsMissingSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "trakt": {"clientId": "abc", "accessToken": "tok"},
  "continueWatching": {"maxItems": 5, "watchedThreshold": 0}
}`), 0o644))

	s, err := NewManager(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "abc", s.Trakt.ClientID)
	assert.True(t, s.Trakt.Authenticated())
	assert.Equal(t, 5, s.ContinueWatching.MaxItems)
	assert.Equal(t, 90.0, s.ContinueWatching.WatchedThreshold)
	assert.Equal(t, 10, s.ContinueWatching.ShowProgressConcurrency)
	assert.Equal(t, 3, s.Retry.MaxAttempts)
	assert.Equal(t, StorageBackendSQLite, s.Storage.Backend)
}

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	m := NewManager(path)
	require.NoError(t, m.Save(DefaultSettings()))

	t.Setenv("WATCHSYNC_TRAKT_ACCESSTOKEN", "from-env")
	t.Setenv("WATCHSYNC_CONTINUEWATCHING_MAXITEMS", "7")

	s, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "from-env", s.Trakt.AccessToken)
	assert.Equal(t, 7, s.ContinueWatching.MaxItems)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	m := NewManager(path)

	s := DefaultSettings()
	s.Trakt.AccessToken = "a"
	s.Trakt.RefreshToken = "r"
	s.Trakt.ExpiresAt = 1760000000
	require.NoError(t, m.Save(s))

	loaded, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, s.Trakt, loaded.Trakt)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestDurations(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, "1s", s.Retry.InitialDelay().String())
	assert.Equal(t, "10s", s.Retry.MaxDelay().String())
	assert.Equal(t, "5s", s.Scrobble.PauseDebounce().String())
}

func TestScheduledTaskFrequencyInterval(t *testing.T) {
	assert.Equal(t, "15m0s", ScheduledTaskFrequency15Min.Interval().String())
	assert.Equal(t, "6h0m0s", ScheduledTaskFrequency6Hours.Interval().String())
	assert.Zero(t, ScheduledTaskFrequencyOff.Interval())
	assert.Zero(t, ScheduledTaskFrequency("weekly").Interval())
}
