package trakt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"watchsync/services/remote"
)

const (
	traktAPIBaseURL = "https://api.trakt.tv"
	traktAPIVersion = "2"
	serviceName     = "trakt"
)

// Client handles Trakt API interactions for token refresh and data fetching
type Client struct {
	httpClient *http.Client
	baseURL    string

	mu           sync.RWMutex
	clientID     string
	clientSecret string
}

// TokenResponse represents the response from /oauth/token
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	CreatedAt    int64  `json:"created_at"`
}

// IDs holds external identifiers for a media item
type IDs struct {
	Trakt int64  `json:"trakt,omitempty"`
	Slug  string `json:"slug,omitempty"`
	IMDB  string `json:"imdb,omitempty"`
	TMDB  int64  `json:"tmdb,omitempty"`
	TVDB  int64  `json:"tvdb,omitempty"`
}

// Movie represents a Trakt movie
type Movie struct {
	Title string `json:"title"`
	Year  int    `json:"year"`
	IDs   IDs    `json:"ids"`
}

// Show represents a Trakt TV show
type Show struct {
	Title string `json:"title"`
	Year  int    `json:"year"`
	IDs   IDs    `json:"ids"`
}

// Episode represents a Trakt episode
type Episode struct {
	Season int    `json:"season"`
	Number int    `json:"number"`
	Title  string `json:"title,omitempty"`
	IDs    IDs    `json:"ids"`
}

// PlaybackItem is a paused playback position from /sync/playback
type PlaybackItem struct {
	ID       int64     `json:"id"`
	Progress float64   `json:"progress"`
	PausedAt time.Time `json:"paused_at"`
	Type     string    `json:"type"` // "movie" or "episode"
	Movie    *Movie    `json:"movie,omitempty"`
	Episode  *Episode  `json:"episode,omitempty"`
	Show     *Show     `json:"show,omitempty"`
}

// WatchedShow is one entry of /sync/watched/shows
type WatchedShow struct {
	Plays         int             `json:"plays"`
	LastWatchedAt time.Time       `json:"last_watched_at"`
	LastUpdatedAt time.Time       `json:"last_updated_at"`
	Show          Show            `json:"show"`
	Seasons       []WatchedSeason `json:"seasons,omitempty"`
}

// WatchedSeason groups watched episodes of one season
type WatchedSeason struct {
	Number   int              `json:"number"`
	Episodes []WatchedEpisode `json:"episodes"`
}

// WatchedEpisode is a watched episode inside a WatchedSeason
type WatchedEpisode struct {
	Number        int       `json:"number"`
	Plays         int       `json:"plays"`
	LastWatchedAt time.Time `json:"last_watched_at"`
}

// WatchedMovie is one entry of /sync/watched/movies
type WatchedMovie struct {
	Plays         int       `json:"plays"`
	LastWatchedAt time.Time `json:"last_watched_at"`
	Movie         Movie     `json:"movie"`
}

// ShowProgress is the response of /shows/{id}/progress/watched
type ShowProgress struct {
	Aired         int              `json:"aired"`
	Completed     int              `json:"completed"`
	LastWatchedAt *time.Time       `json:"last_watched_at"`
	Seasons       []SeasonProgress `json:"seasons"`
	NextEpisode   *Episode         `json:"next_episode"`
}

// SeasonProgress is the per-season part of ShowProgress
type SeasonProgress struct {
	Number    int               `json:"number"`
	Aired     int               `json:"aired"`
	Completed int               `json:"completed"`
	Episodes  []EpisodeProgress `json:"episodes"`
}

// EpisodeProgress is the per-episode part of ShowProgress
type EpisodeProgress struct {
	Number        int        `json:"number"`
	Completed     bool       `json:"completed"`
	LastWatchedAt *time.Time `json:"last_watched_at"`
}

// ScrobbleRequest is the body of /scrobble/{action}
type ScrobbleRequest struct {
	Progress   float64  `json:"progress"`
	Movie      *Movie   `json:"movie,omitempty"`
	Show       *Show    `json:"show,omitempty"`
	Episode    *Episode `json:"episode,omitempty"`
	AppVersion string   `json:"app_version,omitempty"`
}

// ScrobbleResponse is returned by /scrobble/{action}
type ScrobbleResponse struct {
	ID       int64   `json:"id"`
	Action   string  `json:"action"` // start, pause or scrobble
	Progress float64 `json:"progress"`
}

// Scrobble actions
const (
	ScrobbleStart = "start"
	ScrobblePause = "pause"
	ScrobbleStop  = "stop"
)

// NewClient creates a new Trakt API client
func NewClient(clientID, clientSecret string) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		baseURL:      traktAPIBaseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// WithBaseURL points the client at a different API host.
func (c *Client) WithBaseURL(baseURL string) *Client {
	if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
		c.baseURL = baseURL
	}
	return c
}

// HasCredentials checks if the client has valid credentials configured
func (c *Client) HasCredentials() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID != "" && c.clientSecret != ""
}

// UpdateCredentials updates the client credentials
func (c *Client) UpdateCredentials(clientID, clientSecret string) {
	c.mu.Lock()
	c.clientID = clientID
	c.clientSecret = clientSecret
	c.mu.Unlock()
}

func (c *Client) credentials() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID, c.clientSecret
}

// setTraktHeaders adds required Trakt API headers to a request
func (c *Client) setTraktHeaders(req *http.Request, accessToken string) {
	clientID, _ := c.credentials()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("trakt-api-version", traktAPIVersion)
	req.Header.Set("trakt-api-key", clientID)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
}

// do sends a request and decodes a JSON response into out when the status
// matches want. Any other status is returned as *remote.StatusError.
func (c *Client) do(ctx context.Context, method, path, accessToken string, body any, want int, out any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setTraktHeaders(req, accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trakt api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return resp, remote.NewStatusError(serviceName, resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp, nil
}

// RefreshAccessToken refreshes an expired access token
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	clientID, clientSecret := c.credentials()
	payload := map[string]string{
		"refresh_token": refreshToken,
		"client_id":     clientID,
		"client_secret": clientSecret,
		"redirect_uri":  "urn:ietf:wg:oauth:2.0:oob",
		"grant_type":    "refresh_token",
	}

	var token TokenResponse
	if _, err := c.do(ctx, http.MethodPost, "/oauth/token", "", payload, http.StatusOK, &token); err != nil {
		return nil, fmt.Errorf("trakt token refresh failed: %w", err)
	}
	return &token, nil
}

// GetPlaybackProgress retrieves one page of paused playback entries.
// Returns items, total item count, and error
func (c *Client) GetPlaybackProgress(ctx context.Context, accessToken string, page, limit int) ([]PlaybackItem, int, error) {
	path := fmt.Sprintf("/sync/playback?page=%d&limit=%d", page, limit)

	var items []PlaybackItem
	resp, err := c.do(ctx, http.MethodGet, path, accessToken, nil, http.StatusOK, &items)
	if err != nil {
		return nil, 0, err
	}

	// Get total count from headers
	totalCount := 0
	if totalHeader := resp.Header.Get("X-Pagination-Item-Count"); totalHeader != "" {
		totalCount, _ = strconv.Atoi(totalHeader)
	}
	return items, totalCount, nil
}

// GetAllPlaybackProgress retrieves every paused playback entry (all pages)
func (c *Client) GetAllPlaybackProgress(ctx context.Context, accessToken string, limit int) ([]PlaybackItem, error) {
	var allItems []PlaybackItem
	page := 1

	for {
		items, totalCount, err := c.GetPlaybackProgress(ctx, accessToken, page, limit)
		if err != nil {
			return nil, err
		}

		allItems = append(allItems, items...)

		if len(items) == 0 || (totalCount > 0 && len(allItems) >= totalCount) {
			break
		}

		page++
	}

	return allItems, nil
}

// RemovePlaybackItem deletes a paused playback entry
func (c *Client) RemovePlaybackItem(ctx context.Context, accessToken string, id int64) error {
	_, err := c.do(ctx, http.MethodDelete, "/sync/playback/"+strconv.FormatInt(id, 10), accessToken, nil, http.StatusNoContent, nil)
	return err
}

// GetWatchedShows retrieves every show the user has watched, with per-episode plays
func (c *Client) GetWatchedShows(ctx context.Context, accessToken string) ([]WatchedShow, error) {
	var shows []WatchedShow
	if _, err := c.do(ctx, http.MethodGet, "/sync/watched/shows", accessToken, nil, http.StatusOK, &shows); err != nil {
		return nil, err
	}
	return shows, nil
}

// GetWatchedMovies retrieves every movie the user has watched
func (c *Client) GetWatchedMovies(ctx context.Context, accessToken string) ([]WatchedMovie, error) {
	var movies []WatchedMovie
	if _, err := c.do(ctx, http.MethodGet, "/sync/watched/movies", accessToken, nil, http.StatusOK, &movies); err != nil {
		return nil, err
	}
	return movies, nil
}

// GetShowProgress retrieves the watched progress of a show. showID may be a
// Trakt id, slug or IMDB id.
func (c *Client) GetShowProgress(ctx context.Context, accessToken, showID string, includeSpecials bool) (*ShowProgress, error) {
	q := url.Values{}
	q.Set("hidden", "false")
	q.Set("specials", strconv.FormatBool(includeSpecials))
	q.Set("count_specials", strconv.FormatBool(includeSpecials))
	path := "/shows/" + url.PathEscape(showID) + "/progress/watched?" + q.Encode()

	var progress ShowProgress
	if _, err := c.do(ctx, http.MethodGet, path, accessToken, nil, http.StatusOK, &progress); err != nil {
		return nil, err
	}
	return &progress, nil
}

// Scrobble reports a playback state change (start, pause or stop)
func (c *Client) Scrobble(ctx context.Context, accessToken, action string, request ScrobbleRequest) (*ScrobbleResponse, error) {
	switch action {
	case ScrobbleStart, ScrobblePause, ScrobbleStop:
	default:
		return nil, fmt.Errorf("unknown scrobble action %q", action)
	}

	var out ScrobbleResponse
	if _, err := c.do(ctx, http.MethodPost, "/scrobble/"+action, accessToken, request, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncHistoryRequest represents the request body for /sync/history
type SyncHistoryRequest struct {
	Movies   []SyncMovie   `json:"movies,omitempty"`
	Shows    []SyncShow    `json:"shows,omitempty"`
	Episodes []SyncEpisode `json:"episodes,omitempty"`
}

// SyncMovie represents a movie to add to history
type SyncMovie struct {
	WatchedAt string  `json:"watched_at,omitempty"` // ISO 8601 format
	IDs       SyncIDs `json:"ids"`
}

// SyncShow represents a show with episodes to add to history
type SyncShow struct {
	IDs     SyncIDs      `json:"ids"`
	Seasons []SyncSeason `json:"seasons,omitempty"`
}

// SyncSeason represents a season with episodes
type SyncSeason struct {
	Number   int           `json:"number"`
	Episodes []SyncEpisode `json:"episodes,omitempty"`
}

// SyncEpisode represents an episode to add to history
type SyncEpisode struct {
	Number    int      `json:"number,omitempty"`
	WatchedAt string   `json:"watched_at,omitempty"` // ISO 8601 format
	IDs       *SyncIDs `json:"ids,omitempty"`
}

// SyncIDs holds IDs for sync operations
type SyncIDs struct {
	Trakt int64  `json:"trakt,omitempty"`
	IMDB  string `json:"imdb,omitempty"`
	TMDB  int64  `json:"tmdb,omitempty"`
	TVDB  int64  `json:"tvdb,omitempty"`
}

// SyncHistoryResponse represents the response from /sync/history
type SyncHistoryResponse struct {
	Added struct {
		Movies   int `json:"movies"`
		Episodes int `json:"episodes"`
	} `json:"added"`
	Deleted struct {
		Movies   int `json:"movies"`
		Episodes int `json:"episodes"`
	} `json:"deleted"`
}

// AddToHistory adds movies and/or episodes to the user's watch history on Trakt
func (c *Client) AddToHistory(ctx context.Context, accessToken string, request SyncHistoryRequest) (*SyncHistoryResponse, error) {
	var syncResp SyncHistoryResponse
	if _, err := c.do(ctx, http.MethodPost, "/sync/history", accessToken, request, http.StatusCreated, &syncResp); err != nil {
		return nil, err
	}
	return &syncResp, nil
}

// RemoveFromHistory removes movies and/or episodes from the user's watch history
func (c *Client) RemoveFromHistory(ctx context.Context, accessToken string, request SyncHistoryRequest) (*SyncHistoryResponse, error) {
	var syncResp SyncHistoryResponse
	if _, err := c.do(ctx, http.MethodPost, "/sync/history/remove", accessToken, request, http.StatusOK, &syncResp); err != nil {
		return nil, err
	}
	return &syncResp, nil
}
