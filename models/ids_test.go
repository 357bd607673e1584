package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEpisodeRefKeyPriority(t *testing.T) {
	show := ExternalIDs{Trakt: 1390, TMDB: 1399, IMDB: "tt0944947"}

	full := EpisodeRef{Show: show, TraktEpisodeID: 73640, Season: 2, Episode: 3}
	key, ok := full.Key()
	require.True(t, ok)
	assert.Equal(t, EpisodeKey{Kind: KeyTraktEpisode, ID: "73640"}, key)

	noEpisodeID := EpisodeRef{Show: show, Season: 2, Episode: 3}
	key, ok = noEpisodeID.Key()
	require.True(t, ok)
	assert.Equal(t, EpisodeKey{Kind: KeyTraktShow, ID: "1390", Season: 2, Episode: 3}, key)

	catalogOnly := EpisodeRef{Show: ExternalIDs{TMDB: 1399}, Season: 2, Episode: 3}
	key, ok = catalogOnly.Key()
	require.True(t, ok)
	assert.Equal(t, EpisodeKey{Kind: KeyCatalogShow, ID: "tmdb:1399", Season: 2, Episode: 3}, key)

	_, ok = EpisodeRef{Season: 1, Episode: 1}.Key()
	assert.False(t, ok)
}

func TestEpisodeRefKeysListsEveryIdentity(t *testing.T) {
	ref := EpisodeRef{Show: ExternalIDs{Trakt: 1390, TMDB: 1399, IMDB: "tt0944947"}, TraktEpisodeID: 9, Season: 1, Episode: 4}

	keys := ref.Keys()

	require.Len(t, keys, 4)
	assert.Equal(t, KeyTraktEpisode, keys[0].Kind)
	assert.Equal(t, KeyTraktShow, keys[1].Kind)
	assert.Equal(t, "tmdb:1399", keys[2].ID)
	assert.Equal(t, "imdb:tt0944947", keys[3].ID)
}

func TestEpisodeKeyStringRoundTrip(t *testing.T) {
	keys := []EpisodeKey{
		{Kind: KeyTraktEpisode, ID: "73640"},
		{Kind: KeyTraktShow, ID: "1390", Season: 2, Episode: 3},
		{Kind: KeyCatalogShow, ID: "tmdb:1399", Season: 0, Episode: 12},
	}
	for _, k := range keys {
		parsed, err := ParseEpisodeKey(k.String())
		require.NoError(t, err, k.String())
		assert.Equal(t, k, parsed)
	}

	assert.Equal(t, "catalog:tmdb:1399:s02e03", EpisodeKey{Kind: KeyCatalogShow, ID: "tmdb:1399", Season: 2, Episode: 3}.String())

	_, err := ParseEpisodeKey("bogus")
	assert.ErrorIs(t, err, ErrInvalidEpisodeKey)
}

func TestCatalogIDs(t *testing.T) {
	ids := ExternalIDs{TVDB: 121361, IMDB: "tt0944947", TMDB: 1399}
	assert.Equal(t, "tmdb:1399", ids.CatalogID())
	assert.Equal(t, []string{"tmdb:1399", "imdb:tt0944947", "tvdb:121361"}, ids.CatalogIDs())
	assert.Empty(t, ExternalIDs{Trakt: 5}.CatalogID())

	parsed, err := ParseCatalogID("tmdb:1399")
	require.NoError(t, err)
	assert.Equal(t, ExternalIDs{TMDB: 1399}, parsed)

	parsed, err = ParseCatalogID("tt0944947")
	require.NoError(t, err)
	assert.Equal(t, ExternalIDs{IMDB: "tt0944947"}, parsed)

	_, err = ParseCatalogID("tmdb:abc")
	assert.Error(t, err)
}

func TestClampProgress(t *testing.T) {
	assert.Equal(t, 0.0, ClampProgress(-4))
	assert.Equal(t, 100.0, ClampProgress(130))
	assert.Equal(t, 45.5, ClampProgress(45.5))
	assert.Equal(t, 0.0, ClampProgress(math.NaN()))
}

func TestShowProgressHelpers(t *testing.T) {
	p := &ShowProgress{
		Aired:     10,
		Completed: 3,
		Seasons: []SeasonProgress{
			{Number: 1, Episodes: []EpisodeProgress{{Number: 1, Completed: true}, {Number: 2, Completed: false}}},
		},
		NextEpisode: &EpisodeInfo{Season: 1, Number: 2},
	}
	assert.True(t, p.EpisodeCompleted(1, 1))
	assert.False(t, p.EpisodeCompleted(1, 2))
	assert.False(t, p.EpisodeCompleted(3, 1))
	assert.False(t, p.FullyWatched())
	assert.True(t, p.HasUpNext())

	p.Completed = 0
	assert.False(t, p.HasUpNext())

	var nilProgress *ShowProgress
	assert.False(t, nilProgress.FullyWatched())
}
