package trakt

import (
	"time"

	"watchsync/models"
)

func toModelIDs(ids IDs) models.ExternalIDs {
	return models.ExternalIDs{
		Trakt: ids.Trakt,
		Slug:  ids.Slug,
		IMDB:  ids.IMDB,
		TMDB:  ids.TMDB,
		TVDB:  ids.TVDB,
	}
}

func fromModelIDs(ids models.ExternalIDs) IDs {
	return IDs{
		Trakt: ids.Trakt,
		Slug:  ids.Slug,
		IMDB:  ids.IMDB,
		TMDB:  ids.TMDB,
		TVDB:  ids.TVDB,
	}
}

func toSyncIDs(ids models.ExternalIDs) SyncIDs {
	return SyncIDs{
		Trakt: ids.Trakt,
		IMDB:  ids.IMDB,
		TMDB:  ids.TMDB,
		TVDB:  ids.TVDB,
	}
}

// toPlaybackEntry converts a /sync/playback item. ok is false for entries
// that carry neither a movie nor a show episode.
func toPlaybackEntry(item PlaybackItem) (models.PlaybackEntry, bool) {
	entry := models.PlaybackEntry{
		ID:       item.ID,
		Progress: models.ClampProgress(item.Progress),
		PausedAt: item.PausedAt,
	}
	switch item.Type {
	case "movie":
		if item.Movie == nil {
			return entry, false
		}
		entry.Kind = models.MediaKindMovie
		entry.Title = item.Movie.Title
		entry.Year = item.Movie.Year
		entry.IDs = toModelIDs(item.Movie.IDs)
	case "episode":
		if item.Show == nil || item.Episode == nil {
			return entry, false
		}
		entry.Kind = models.MediaKindShow
		entry.Title = item.Show.Title
		entry.Year = item.Show.Year
		entry.IDs = toModelIDs(item.Show.IDs)
		entry.Episode = &models.EpisodeInfo{
			Season:  item.Episode.Season,
			Number:  item.Episode.Number,
			Title:   item.Episode.Title,
			TraktID: item.Episode.IDs.Trakt,
		}
	default:
		return entry, false
	}
	return entry, true
}

func toShowSummary(w WatchedShow) models.ShowSummary {
	return models.ShowSummary{
		IDs:           toModelIDs(w.Show.IDs),
		Title:         w.Show.Title,
		Year:          w.Show.Year,
		Plays:         w.Plays,
		LastWatchedAt: w.LastWatchedAt,
	}
}

func toShowProgress(p *ShowProgress) *models.ShowProgress {
	if p == nil {
		return nil
	}
	out := &models.ShowProgress{
		Aired:     p.Aired,
		Completed: p.Completed,
	}
	if p.LastWatchedAt != nil {
		out.LastWatchedAt = *p.LastWatchedAt
	}
	if p.NextEpisode != nil {
		out.NextEpisode = &models.EpisodeInfo{
			Season:  p.NextEpisode.Season,
			Number:  p.NextEpisode.Number,
			Title:   p.NextEpisode.Title,
			TraktID: p.NextEpisode.IDs.Trakt,
		}
	}
	for _, s := range p.Seasons {
		season := models.SeasonProgress{Number: s.Number, Aired: s.Aired, Completed: s.Completed}
		for _, e := range s.Episodes {
			season.Episodes = append(season.Episodes, models.EpisodeProgress{Number: e.Number, Completed: e.Completed})
		}
		out.Seasons = append(out.Seasons, season)
	}
	return out
}

// historyRequest builds a /sync/history body for a single fact.
func historyRequest(fact models.WatchedFact, watchedAt time.Time) SyncHistoryRequest {
	stamp := ""
	if !watchedAt.IsZero() {
		stamp = watchedAt.UTC().Format(time.RFC3339)
	}
	if fact.Kind == models.MediaKindMovie {
		return SyncHistoryRequest{Movies: []SyncMovie{{WatchedAt: stamp, IDs: toSyncIDs(fact.Movie)}}}
	}

	ref := fact.Episode
	if ref.TraktEpisodeID > 0 {
		return SyncHistoryRequest{Episodes: []SyncEpisode{{WatchedAt: stamp, IDs: &SyncIDs{Trakt: ref.TraktEpisodeID}}}}
	}
	return SyncHistoryRequest{
		Shows: []SyncShow{
			{
				IDs: toSyncIDs(ref.Show),
				Seasons: []SyncSeason{
					{
						Number:   ref.Season,
						Episodes: []SyncEpisode{{Number: ref.Episode, WatchedAt: stamp}},
					},
				},
			},
		},
	}
}
