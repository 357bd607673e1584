// Package metadata decorates continue-watching items with TMDB artwork and details.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"watchsync/models"
	"watchsync/services/remote"
)

const (
	tmdbBaseURL      = "https://api.themoviedb.org/3"
	tmdbImageBaseURL = "https://image.tmdb.org/t/p"
	tmdbPosterSize   = "w500"
	tmdbBackdropSize = "w1280"

	detailsTTL = 24 * time.Hour
)

var (
	// ErrNotConfigured is returned when no TMDB API key is set.
	ErrNotConfigured = errors.New("tmdb api key not configured")
	// ErrNotFound is returned when an external id has no TMDB match.
	ErrNotFound = errors.New("tmdb title not found")
	// ErrUnsupportedID is returned for ids TMDB cannot resolve.
	ErrUnsupportedID = errors.New("unsupported id for tmdb lookup")
)

type cachedDetails struct {
	details   models.Details
	expiresAt time.Time
}

// TMDB looks up movie and show details.
type TMDB struct {
	apiKey   string
	language string
	baseURL  string
	httpc    *http.Client
	caller   *remote.Caller
	log      *zap.SugaredLogger
	now      func() time.Time

	throttleMu  sync.Mutex
	lastRequest time.Time
	minInterval time.Duration

	cacheMu sync.Mutex
	cache   map[string]cachedDetails
}

// NewTMDB creates a client. An empty baseURL uses the public API.
func NewTMDB(apiKey, language, baseURL string, httpc *http.Client, caller *remote.Caller, log *zap.SugaredLogger) *TMDB {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if caller == nil {
		caller = remote.NewCaller(remote.DefaultOptions(), log)
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = tmdbBaseURL
	}
	return &TMDB{
		apiKey:      strings.TrimSpace(apiKey),
		language:    language,
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpc:       httpc,
		caller:      caller,
		log:         log,
		now:         time.Now,
		minInterval: 20 * time.Millisecond,
		cache:       make(map[string]cachedDetails),
	}
}

// Configured reports whether an API key is set.
func (c *TMDB) Configured() bool {
	return c != nil && c.apiKey != ""
}

// Details returns display metadata for the movie or show with the given
// catalog id ("tmdb:…", "imdb:…" or "tvdb:…").
func (c *TMDB) Details(ctx context.Context, kind models.MediaKind, id string) (*models.Details, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	cacheKey := string(kind) + ":" + id
	if d, ok := c.cached(cacheKey); ok {
		return &d, nil
	}

	ids, err := models.ParseCatalogID(id)
	if err != nil {
		return nil, err
	}
	tmdbID := ids.TMDB
	if tmdbID == 0 {
		if tmdbID, err = c.find(ctx, kind, ids); err != nil {
			return nil, err
		}
	}

	var details *models.Details
	switch kind {
	case models.MediaKindMovie:
		details, err = c.movieDetails(ctx, tmdbID)
	case models.MediaKindShow:
		details, err = c.showDetails(ctx, tmdbID)
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnsupportedID, kind)
	}
	if err != nil {
		return nil, err
	}

	c.cacheMu.Lock()
	c.cache[cacheKey] = cachedDetails{details: *details, expiresAt: c.now().Add(detailsTTL)}
	c.cacheMu.Unlock()
	return details, nil
}

func (c *TMDB) cached(key string) (models.Details, bool) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	entry, ok := c.cache[key]
	if !ok {
		return models.Details{}, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.cache, key)
		return models.Details{}, false
	}
	return entry.details, true
}

func (c *TMDB) movieDetails(ctx context.Context, tmdbID int64) (*models.Details, error) {
	var movie struct {
		Title        string  `json:"title"`
		Overview     string  `json:"overview"`
		PosterPath   string  `json:"poster_path"`
		BackdropPath string  `json:"backdrop_path"`
		VoteAverage  float64 `json:"vote_average"`
		Runtime      int     `json:"runtime"`
		ReleaseDate  string  `json:"release_date"`
	}
	if err := c.doGET(ctx, "movie/"+strconv.FormatInt(tmdbID, 10), nil, &movie); err != nil {
		return nil, err
	}
	return &models.Details{
		Title:          norm.NFC.String(movie.Title),
		Overview:       norm.NFC.String(movie.Overview),
		PosterPath:     buildTMDBImage(movie.PosterPath, tmdbPosterSize),
		BackdropPath:   buildTMDBImage(movie.BackdropPath, tmdbBackdropSize),
		Rating:         movie.VoteAverage,
		RuntimeMinutes: movie.Runtime,
		Year:           parseTMDBYear(movie.ReleaseDate),
	}, nil
}

func (c *TMDB) showDetails(ctx context.Context, tmdbID int64) (*models.Details, error) {
	var show struct {
		Name           string  `json:"name"`
		Overview       string  `json:"overview"`
		PosterPath     string  `json:"poster_path"`
		BackdropPath   string  `json:"backdrop_path"`
		VoteAverage    float64 `json:"vote_average"`
		EpisodeRunTime []int   `json:"episode_run_time"`
		FirstAirDate   string  `json:"first_air_date"`
	}
	if err := c.doGET(ctx, "tv/"+strconv.FormatInt(tmdbID, 10), nil, &show); err != nil {
		return nil, err
	}
	d := &models.Details{
		Title:        norm.NFC.String(show.Name),
		Overview:     norm.NFC.String(show.Overview),
		PosterPath:   buildTMDBImage(show.PosterPath, tmdbPosterSize),
		BackdropPath: buildTMDBImage(show.BackdropPath, tmdbBackdropSize),
		Rating:       show.VoteAverage,
		Year:         parseTMDBYear(show.FirstAirDate),
	}
	if len(show.EpisodeRunTime) > 0 {
		d.RuntimeMinutes = show.EpisodeRunTime[0]
	}
	return d, nil
}

// find resolves an IMDB or TVDB id to a TMDB id.
func (c *TMDB) find(ctx context.Context, kind models.MediaKind, ids models.ExternalIDs) (int64, error) {
	var externalID, source string
	switch {
	case ids.IMDB != "":
		externalID, source = ids.IMDB, "imdb_id"
		if !strings.HasPrefix(externalID, "tt") {
			externalID = "tt" + externalID
		}
	case ids.TVDB > 0:
		externalID, source = strconv.FormatInt(ids.TVDB, 10), "tvdb_id"
	default:
		return 0, ErrUnsupportedID
	}

	var result struct {
		MovieResults []struct {
			ID int64 `json:"id"`
		} `json:"movie_results"`
		TVResults []struct {
			ID int64 `json:"id"`
		} `json:"tv_results"`
	}
	query := url.Values{"external_source": {source}}
	if err := c.doGET(ctx, "find/"+url.PathEscape(externalID), query, &result); err != nil {
		return 0, err
	}

	if kind == models.MediaKindMovie && len(result.MovieResults) > 0 {
		return result.MovieResults[0].ID, nil
	}
	if kind == models.MediaKindShow && len(result.TVResults) > 0 {
		return result.TVResults[0].ID, nil
	}
	return 0, fmt.Errorf("%w: %s %s", ErrNotFound, source, externalID)
}

// doGET performs a throttled GET through the retry caller and decodes the body into v.
func (c *TMDB) doGET(ctx context.Context, endpoint string, query url.Values, v any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", c.apiKey)
	query.Set("language", normalizeLanguage(c.language))
	target := c.baseURL + "/" + endpoint + "?" + query.Encode()

	return c.caller.Do(ctx, "tmdb.get", func(ctx context.Context) error {
		c.throttle()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return remote.NewStatusError("tmdb", resp)
		}
		return json.NewDecoder(resp.Body).Decode(v)
	})
}

func (c *TMDB) throttle() {
	c.throttleMu.Lock()
	defer c.throttleMu.Unlock()
	since := time.Since(c.lastRequest)
	if since < c.minInterval {
		time.Sleep(c.minInterval - since)
	}
	c.lastRequest = time.Now()
}

func buildTMDBImage(imagePath, size string) string {
	imagePath = strings.TrimSpace(imagePath)
	if imagePath == "" {
		return ""
	}
	if !strings.HasPrefix(imagePath, "/") {
		imagePath = "/" + imagePath
	}
	return tmdbImageBaseURL + "/" + size + imagePath
}

func parseTMDBYear(date string) int {
	if len(date) < 4 {
		return 0
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return year
}

func normalizeLanguage(lang string) string {
	lang = strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	if len(lang) == 2 {
		return strings.ToLower(lang) + "-US"
	}
	if len(lang) >= 5 {
		return strings.ToLower(lang[:2]) + "-" + strings.ToUpper(lang[3:])
	}
	return "en-US"
}
