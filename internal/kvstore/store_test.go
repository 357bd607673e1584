package kvstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "continue-watching")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "continue-watching", `[{"id":"tmdb:1"}]`))
	require.NoError(t, s.Set(ctx, "continue-watching", `[{"id":"tmdb:2"}]`))

	got, ok, err := s.Get(ctx, "continue-watching")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[{"id":"tmdb:2"}]`, got)

	type doc struct {
		Keys map[string]int64 `json:"keys"`
	}
	require.NoError(t, SetJSON(ctx, s, "dismissals", doc{Keys: map[string]int64{"show:tmdb:1399": 42}}))
	var out doc
	ok, err = GetJSON(ctx, s, "dismissals", &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(42), out.Keys["show:tmdb:1399"])
}

func TestFileStore(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s, err := NewFile(fsys, "/data/kv")
	require.NoError(t, err)

	exerciseStore(t, s)

	exists, err := afero.Exists(fsys, "/data/kv/dismissals.json")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestFileStoreEscapesKeys(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s, err := NewFile(fsys, "/kv")
	require.NoError(t, err)

	require.NoError(t, s.Set(context.Background(), "../escape/me", "x"))

	got, ok, err := s.Get(context.Background(), "../escape/me")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "x", got)

	entries, err := afero.ReadDir(fsys, "/kv")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "watchsync.db")
	s, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	exerciseStore(t, s)
}

func TestSQLiteStoreReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchsync.db")
	ctx := context.Background()

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "k", "v"))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	got, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, _, err := Open(context.Background(), "redis", "x")
	assert.Error(t, err)
}
