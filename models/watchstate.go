package models

import (
	"errors"
	"time"
)

// ErrInvalidFact is returned when a fact carries no usable identity.
var ErrInvalidFact = errors.New("watched fact has no usable identity")

// WatchedFact records that a movie or a single episode has been watched.
type WatchedFact struct {
	Kind    MediaKind   `json:"kind"`
	Movie   ExternalIDs `json:"movie,omitempty"`
	Episode EpisodeRef  `json:"episode,omitempty"`
}

// MovieFact builds a fact for a watched movie.
func MovieFact(ids ExternalIDs) WatchedFact {
	return WatchedFact{Kind: MediaKindMovie, Movie: ids}
}

// EpisodeFact builds a fact for a watched episode.
func EpisodeFact(ref EpisodeRef) WatchedFact {
	return WatchedFact{Kind: MediaKindShow, Episode: ref}
}

// Validate checks that the fact can be keyed.
func (f WatchedFact) Validate() error {
	switch f.Kind {
	case MediaKindMovie:
		if len(f.Movie.CatalogIDs()) == 0 {
			return ErrInvalidFact
		}
	case MediaKindShow:
		if _, ok := f.Episode.Key(); !ok {
			return ErrInvalidFact
		}
	default:
		return ErrInvalidFact
	}
	return nil
}

// WatchedChange is published whenever a fact is added or removed so other
// instances can apply the same change to their caches.
type WatchedChange struct {
	EventID    string      `json:"eventId"`
	Origin     string      `json:"origin"`
	Fact       WatchedFact `json:"fact"`
	Watched    bool        `json:"watched"`
	OccurredAt time.Time   `json:"occurredAt"`
}
