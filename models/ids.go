package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MediaKind identifies the type of a watchable item. Episodes are show items
// with a season and episode number attached.
type MediaKind string

const (
	MediaKindMovie MediaKind = "movie"
	MediaKindShow  MediaKind = "show"
)

// ParseMediaKind accepts the kind names used by clients and the tracker.
func ParseMediaKind(s string) (MediaKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "movie", "movies":
		return MediaKindMovie, nil
	case "show", "shows", "series", "tv", "episode", "episodes":
		return MediaKindShow, nil
	default:
		return "", fmt.Errorf("unknown media kind %q", s)
	}
}

// ExternalIDs holds every identifier known for a movie or show.
type ExternalIDs struct {
	Trakt int64  `json:"trakt,omitempty"`
	Slug  string `json:"slug,omitempty"`
	IMDB  string `json:"imdb,omitempty"`
	TMDB  int64  `json:"tmdb,omitempty"`
	TVDB  int64  `json:"tvdb,omitempty"`
}

// IsZero reports whether no identifier is set.
func (ids ExternalIDs) IsZero() bool {
	return ids == ExternalIDs{}
}

// CatalogID returns the canonical external catalog id (tmdb > imdb > tvdb).
func (ids ExternalIDs) CatalogID() string {
	all := ids.CatalogIDs()
	if len(all) == 0 {
		return ""
	}
	return all[0]
}

// CatalogIDs returns all available catalog ids in priority order.
func (ids ExternalIDs) CatalogIDs() []string {
	out := make([]string, 0, 3)
	if ids.TMDB > 0 {
		out = append(out, "tmdb:"+strconv.FormatInt(ids.TMDB, 10))
	}
	if imdb := strings.TrimSpace(ids.IMDB); imdb != "" {
		out = append(out, "imdb:"+imdb)
	}
	if ids.TVDB > 0 {
		out = append(out, "tvdb:"+strconv.FormatInt(ids.TVDB, 10))
	}
	return out
}

// Merge fills unset identifiers from other.
func (ids ExternalIDs) Merge(other ExternalIDs) ExternalIDs {
	if ids.Trakt == 0 {
		ids.Trakt = other.Trakt
	}
	if ids.Slug == "" {
		ids.Slug = other.Slug
	}
	if ids.IMDB == "" {
		ids.IMDB = other.IMDB
	}
	if ids.TMDB == 0 {
		ids.TMDB = other.TMDB
	}
	if ids.TVDB == 0 {
		ids.TVDB = other.TVDB
	}
	return ids
}

// ParseCatalogID parses a single catalog id such as "tmdb:1399" or "imdb:tt0944947".
// A bare "tt…" value is accepted as an IMDB id.
func ParseCatalogID(s string) (ExternalIDs, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "tt") {
		return ExternalIDs{IMDB: s}, nil
	}
	prefix, value, ok := strings.Cut(s, ":")
	if !ok || value == "" {
		return ExternalIDs{}, fmt.Errorf("invalid catalog id %q", s)
	}
	switch strings.ToLower(prefix) {
	case "imdb":
		return ExternalIDs{IMDB: value}, nil
	case "tmdb", "tvdb", "trakt":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n <= 0 {
			return ExternalIDs{}, fmt.Errorf("invalid catalog id %q", s)
		}
		switch strings.ToLower(prefix) {
		case "tmdb":
			return ExternalIDs{TMDB: n}, nil
		case "tvdb":
			return ExternalIDs{TVDB: n}, nil
		default:
			return ExternalIDs{Trakt: n}, nil
		}
	default:
		return ExternalIDs{}, fmt.Errorf("unsupported catalog id %q", s)
	}
}

// EpisodeKeyKind tags which identity an EpisodeKey was derived from.
// Lower values take priority.
type EpisodeKeyKind uint8

const (
	// KeyTraktEpisode uses the tracker's own episode id.
	KeyTraktEpisode EpisodeKeyKind = iota + 1
	// KeyTraktShow uses the tracker's show id plus season and episode.
	KeyTraktShow
	// KeyCatalogShow uses an external catalog show id plus season and episode.
	KeyCatalogShow
)

func (k EpisodeKeyKind) String() string {
	switch k {
	case KeyTraktEpisode:
		return "trakt-episode"
	case KeyTraktShow:
		return "trakt-show"
	case KeyCatalogShow:
		return "catalog"
	default:
		return "unknown"
	}
}

// EpisodeKey identifies an episode. Two episodes are the same iff their keys
// are equal, so it is safe to use as a map key.
type EpisodeKey struct {
	Kind    EpisodeKeyKind
	ID      string
	Season  int
	Episode int
}

var ErrInvalidEpisodeKey = errors.New("invalid episode key")

func (k EpisodeKey) String() string {
	if k.Kind == KeyTraktEpisode {
		return k.Kind.String() + ":" + k.ID
	}
	return fmt.Sprintf("%s:%s:s%02de%02d", k.Kind, k.ID, k.Season, k.Episode)
}

// ParseEpisodeKey is the inverse of EpisodeKey.String.
func ParseEpisodeKey(s string) (EpisodeKey, error) {
	kind, rest, ok := strings.Cut(s, ":")
	if !ok || rest == "" {
		return EpisodeKey{}, fmt.Errorf("%w: %q", ErrInvalidEpisodeKey, s)
	}
	switch kind {
	case KeyTraktEpisode.String():
		return EpisodeKey{Kind: KeyTraktEpisode, ID: rest}, nil
	case KeyTraktShow.String(), KeyCatalogShow.String():
		idx := strings.LastIndex(rest, ":")
		if idx <= 0 {
			return EpisodeKey{}, fmt.Errorf("%w: %q", ErrInvalidEpisodeKey, s)
		}
		var season, episode int
		if _, err := fmt.Sscanf(rest[idx+1:], "s%de%d", &season, &episode); err != nil {
			return EpisodeKey{}, fmt.Errorf("%w: %q", ErrInvalidEpisodeKey, s)
		}
		k := EpisodeKey{Kind: KeyTraktShow, ID: rest[:idx], Season: season, Episode: episode}
		if kind == KeyCatalogShow.String() {
			k.Kind = KeyCatalogShow
		}
		return k, nil
	default:
		return EpisodeKey{}, fmt.Errorf("%w: %q", ErrInvalidEpisodeKey, s)
	}
}

// EpisodeRef carries everything known about one episode of a show.
type EpisodeRef struct {
	Show           ExternalIDs `json:"show"`
	TraktEpisodeID int64       `json:"traktEpisodeId,omitempty"`
	Season         int         `json:"season"`
	Episode        int         `json:"episode"`
}

// Key returns the highest priority key derivable from the reference.
func (r EpisodeRef) Key() (EpisodeKey, bool) {
	keys := r.Keys()
	if len(keys) == 0 {
		return EpisodeKey{}, false
	}
	return keys[0], true
}

// Keys returns every key derivable from the reference, highest priority first.
func (r EpisodeRef) Keys() []EpisodeKey {
	var keys []EpisodeKey
	if r.TraktEpisodeID > 0 {
		keys = append(keys, EpisodeKey{Kind: KeyTraktEpisode, ID: strconv.FormatInt(r.TraktEpisodeID, 10)})
	}
	if r.Season < 0 || r.Episode <= 0 {
		return keys
	}
	if r.Show.Trakt > 0 {
		keys = append(keys, EpisodeKey{
			Kind:    KeyTraktShow,
			ID:      strconv.FormatInt(r.Show.Trakt, 10),
			Season:  r.Season,
			Episode: r.Episode,
		})
	}
	for _, id := range r.Show.CatalogIDs() {
		keys = append(keys, EpisodeKey{Kind: KeyCatalogShow, ID: id, Season: r.Season, Episode: r.Episode})
	}
	return keys
}
