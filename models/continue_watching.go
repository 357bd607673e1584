package models

import (
	"fmt"
	"math"
	"time"
)

// ContinueWatchingItem is a single entry of the continue-watching list.
type ContinueWatchingItem struct {
	ID             string      `json:"id"` // Catalog id of the movie or show (e.g. "tmdb:1399")
	Title          string      `json:"title"`
	Kind           MediaKind   `json:"kind"`
	Progress       float64     `json:"progress"` // Percent in [0,100]; 0 for up-next entries
	Season         int         `json:"season,omitempty"`
	Episode        int         `json:"episode,omitempty"`
	EpisodeTitle   string      `json:"episodeTitle,omitempty"`
	PosterPath     string      `json:"posterPath,omitempty"`
	BackdropPath   string      `json:"backdropPath,omitempty"`
	Overview       string      `json:"overview,omitempty"`
	Rating         float64     `json:"rating,omitempty"`
	RuntimeMinutes int         `json:"runtimeMinutes,omitempty"`
	Year           int         `json:"year,omitempty"`
	IDs            ExternalIDs `json:"ids"`
	LastActivityAt time.Time   `json:"lastActivityAt"`
	Hydrated       bool        `json:"hydrated"`
}

// ClampProgress bounds a percentage to [0,100].
func ClampProgress(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// IsEpisode reports whether the item points at a specific episode.
func (i ContinueWatchingItem) IsEpisode() bool {
	return i.Kind == MediaKindShow && i.Episode > 0
}

// ContentKey is the merge identity of the item.
func (i ContinueWatchingItem) ContentKey() ContentKey {
	if i.IsEpisode() {
		return ContentKey{ID: i.ID, Season: i.Season, Episode: i.Episode}
	}
	return ContentKey{ID: i.ID}
}

// DismissalKey identifies the movie or show the item belongs to.
func (i ContinueWatchingItem) DismissalKey() string {
	return DismissalKey(i.Kind, i.ID)
}

// DismissalKey builds the key under which a dismissal is recorded.
func DismissalKey(kind MediaKind, id string) string {
	return string(kind) + ":" + id
}

// ContentKey identifies a candidate for de-duplication: the catalog id, plus
// season and episode for per-episode entries.
type ContentKey struct {
	ID      string
	Season  int
	Episode int
}

func (k ContentKey) String() string {
	if k.Episode > 0 {
		return fmt.Sprintf("%s:s%02de%02d", k.ID, k.Season, k.Episode)
	}
	return k.ID
}

// CandidateSource records where a candidate came from.
type CandidateSource string

const (
	SourcePaused CandidateSource = "paused"
	SourceUpNext CandidateSource = "upnext"
)

// Candidate is a pre-ranking continue-watching entry.
type Candidate struct {
	Item           ContinueWatchingItem
	LastActivityAt time.Time
	Source         CandidateSource
}

// DismissalEntry records when the user hid an item from continue watching.
type DismissalEntry struct {
	Key         string    `json:"key"`
	DismissedAt time.Time `json:"dismissedAt"`
}
