// Package authority talks to the authoritative watched-state database.
package authority

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"watchsync/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotConfigured is returned by Disabled for every call.
var ErrNotConfigured = errors.New("authoritative store not configured")

// Postgres stores watched facts per user.
type Postgres struct {
	pool   *pgxpool.Pool
	userID string
}

// Open connects to dsn, applies migrations and scopes all queries to userID.
func Open(ctx context.Context, dsn, userID string) (*Postgres, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("authority user id is required")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool, userID: userID}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// WatchedMovies returns the ids of every watched movie.
func (p *Postgres) WatchedMovies(ctx context.Context) ([]models.ExternalIDs, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT content_id, tmdb_id, imdb_id, trakt_id
		FROM watched_movies
		WHERE user_id = $1`, p.userID)
	if err != nil {
		return nil, fmt.Errorf("query watched movies: %w", err)
	}
	defer rows.Close()

	var out []models.ExternalIDs
	for rows.Next() {
		var (
			contentID string
			tmdb      *int64
			imdb      *string
			trakt     *int64
		)
		if err := rows.Scan(&contentID, &tmdb, &imdb, &trakt); err != nil {
			return nil, fmt.Errorf("scan watched movie: %w", err)
		}
		ids, _ := models.ParseCatalogID(contentID)
		out = append(out, ids.Merge(models.ExternalIDs{
			TMDB:  deref(tmdb),
			IMDB:  derefString(imdb),
			Trakt: deref(trakt),
		}))
	}
	return out, rows.Err()
}

// WatchedEpisodes returns a reference for every watched episode.
func (p *Postgres) WatchedEpisodes(ctx context.Context) ([]models.EpisodeRef, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT show_id, season, episode, trakt_show_id, trakt_episode_id, tmdb_id, imdb_id, tvdb_id
		FROM watched_episodes
		WHERE user_id = $1`, p.userID)
	if err != nil {
		return nil, fmt.Errorf("query watched episodes: %w", err)
	}
	defer rows.Close()

	var out []models.EpisodeRef
	for rows.Next() {
		var (
			showID                            string
			season, episode                   int
			traktShow, traktEpisode, tmdb, tv *int64
			imdb                              *string
		)
		if err := rows.Scan(&showID, &season, &episode, &traktShow, &traktEpisode, &tmdb, &imdb, &tv); err != nil {
			return nil, fmt.Errorf("scan watched episode: %w", err)
		}
		ids, _ := models.ParseCatalogID(showID)
		out = append(out, models.EpisodeRef{
			Show: ids.Merge(models.ExternalIDs{
				Trakt: deref(traktShow),
				TMDB:  deref(tmdb),
				IMDB:  derefString(imdb),
				TVDB:  deref(tv),
			}),
			TraktEpisodeID: deref(traktEpisode),
			Season:         season,
			Episode:        episode,
		})
	}
	return out, rows.Err()
}

// MarkWatched records fact. The result reports whether a row was added.
func (p *Postgres) MarkWatched(ctx context.Context, fact models.WatchedFact) (bool, error) {
	if err := fact.Validate(); err != nil {
		return false, err
	}
	if fact.Kind == models.MediaKindMovie {
		ids := fact.Movie
		tag, err := p.pool.Exec(ctx, `
			INSERT INTO watched_movies (user_id, content_id, tmdb_id, imdb_id, trakt_id)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, content_id) DO NOTHING`,
			p.userID, ids.CatalogID(), nullInt(ids.TMDB), nullString(ids.IMDB), nullInt(ids.Trakt))
		if err != nil {
			return false, fmt.Errorf("insert watched movie: %w", err)
		}
		return tag.RowsAffected() > 0, nil
	}

	ref := fact.Episode
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO watched_episodes
			(user_id, show_id, season, episode, trakt_show_id, trakt_episode_id, tmdb_id, imdb_id, tvdb_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, show_id, season, episode) DO NOTHING`,
		p.userID, showKey(ref), ref.Season, ref.Episode,
		nullInt(ref.Show.Trakt), nullInt(ref.TraktEpisodeID), nullInt(ref.Show.TMDB), nullString(ref.Show.IMDB), nullInt(ref.Show.TVDB))
	if err != nil {
		return false, fmt.Errorf("insert watched episode: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkUnwatched removes fact. The result reports whether a row was removed.
func (p *Postgres) MarkUnwatched(ctx context.Context, fact models.WatchedFact) (bool, error) {
	if err := fact.Validate(); err != nil {
		return false, err
	}
	if fact.Kind == models.MediaKindMovie {
		tag, err := p.pool.Exec(ctx, `
			DELETE FROM watched_movies
			WHERE user_id = $1 AND content_id = ANY($2)`,
			p.userID, fact.Movie.CatalogIDs())
		if err != nil {
			return false, fmt.Errorf("delete watched movie: %w", err)
		}
		return tag.RowsAffected() > 0, nil
	}

	ref := fact.Episode
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM watched_episodes
		WHERE user_id = $1
		  AND ((show_id = $2 AND season = $3 AND episode = $4)
		       OR (trakt_episode_id IS NOT NULL AND trakt_episode_id = $5))`,
		p.userID, showKey(ref), ref.Season, ref.Episode, nullInt(ref.TraktEpisodeID))
	if err != nil {
		return false, fmt.Errorf("delete watched episode: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// showKey is the stored show identity: the catalog id, or the trakt id when
// no catalog id is known.
func showKey(ref models.EpisodeRef) string {
	if id := ref.Show.CatalogID(); id != "" {
		return id
	}
	if ref.Show.Trakt > 0 {
		return "trakt:" + strconv.FormatInt(ref.Show.Trakt, 10)
	}
	return ""
}

func nullInt(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

func nullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// Disabled stands in when no database is configured.
type Disabled struct{}

func (Disabled) WatchedMovies(context.Context) ([]models.ExternalIDs, error) {
	return nil, ErrNotConfigured
}

func (Disabled) WatchedEpisodes(context.Context) ([]models.EpisodeRef, error) {
	return nil, ErrNotConfigured
}

func (Disabled) MarkWatched(context.Context, models.WatchedFact) (bool, error) {
	return false, ErrNotConfigured
}

func (Disabled) MarkUnwatched(context.Context, models.WatchedFact) (bool, error) {
	return false, ErrNotConfigured
}
