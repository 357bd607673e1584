package models

import "time"

// EpisodeInfo describes an episode as reported by the tracker.
type EpisodeInfo struct {
	Season  int    `json:"season"`
	Number  int    `json:"number"`
	Title   string `json:"title,omitempty"`
	TraktID int64  `json:"traktId,omitempty"`
}

// PlaybackEntry is a paused playback position held by the tracker.
type PlaybackEntry struct {
	ID       int64        `json:"id"`
	Kind     MediaKind    `json:"kind"`
	Progress float64      `json:"progress"`
	PausedAt time.Time    `json:"pausedAt"`
	Title    string       `json:"title"`
	Year     int          `json:"year,omitempty"`
	IDs      ExternalIDs  `json:"ids"`               // Movie ids, or show ids for episodes
	Episode  *EpisodeInfo `json:"episode,omitempty"` // Set for episode entries
}

// EpisodeRef returns the episode reference for an episode entry.
func (p PlaybackEntry) EpisodeRef() (EpisodeRef, bool) {
	if p.Kind != MediaKindShow || p.Episode == nil {
		return EpisodeRef{}, false
	}
	return EpisodeRef{
		Show:           p.IDs,
		TraktEpisodeID: p.Episode.TraktID,
		Season:         p.Episode.Season,
		Episode:        p.Episode.Number,
	}, true
}

// ShowSummary is one row of the user's watched shows.
type ShowSummary struct {
	IDs           ExternalIDs `json:"ids"`
	Title         string      `json:"title"`
	Year          int         `json:"year,omitempty"`
	Plays         int         `json:"plays"`
	LastWatchedAt time.Time   `json:"lastWatchedAt"`
}

// EpisodeProgress is the completion flag for one episode.
type EpisodeProgress struct {
	Number    int  `json:"number"`
	Completed bool `json:"completed"`
}

// SeasonProgress groups episode completion for one season.
type SeasonProgress struct {
	Number    int               `json:"number"`
	Aired     int               `json:"aired"`
	Completed int               `json:"completed"`
	Episodes  []EpisodeProgress `json:"episodes,omitempty"`
}

// ShowProgress is the tracker's completion snapshot for a show.
type ShowProgress struct {
	Aired         int              `json:"aired"`
	Completed     int              `json:"completed"`
	LastWatchedAt time.Time        `json:"lastWatchedAt,omitempty"`
	NextEpisode   *EpisodeInfo     `json:"nextEpisode,omitempty"`
	Seasons       []SeasonProgress `json:"seasons,omitempty"`
}

// EpisodeCompleted reports whether the given episode is marked completed.
func (p *ShowProgress) EpisodeCompleted(season, episode int) bool {
	if p == nil {
		return false
	}
	for _, s := range p.Seasons {
		if s.Number != season {
			continue
		}
		for _, e := range s.Episodes {
			if e.Number == episode {
				return e.Completed
			}
		}
	}
	return false
}

// FullyWatched reports whether every aired episode has been completed.
func (p *ShowProgress) FullyWatched() bool {
	return p != nil && p.Aired > 0 && p.Completed >= p.Aired
}

// HasUpNext reports whether the show is started, unfinished and has a next episode.
func (p *ShowProgress) HasUpNext() bool {
	return p != nil && p.NextEpisode != nil && p.Completed > 0 && p.Completed < p.Aired
}
