package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g. WATCHSYNC_TRAKT_ACCESSTOKEN.
const EnvPrefix = "WATCHSYNC"

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server           ServerSettings           `json:"server" mapstructure:"server"`
	Trakt            TraktSettings            `json:"trakt" mapstructure:"trakt"`
	Authority        AuthoritySettings        `json:"authority" mapstructure:"authority"`
	Metadata         MetadataSettings         `json:"metadata" mapstructure:"metadata"`
	ContinueWatching ContinueWatchingSettings `json:"continueWatching" mapstructure:"continuewatching"`
	Retry            RetrySettings            `json:"retry" mapstructure:"retry"`
	Scrobble         ScrobbleSettings         `json:"scrobble" mapstructure:"scrobble"`
	Storage          StorageSettings          `json:"storage" mapstructure:"storage"`
	Events           EventSettings            `json:"events" mapstructure:"events"`
	ScheduledTasks   ScheduledTasksSettings   `json:"scheduledTasks" mapstructure:"scheduledtasks"`
	Log              LogConfig                `json:"log" mapstructure:"log"`
}

type ServerSettings struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// TraktSettings holds the Trakt application credentials and the OAuth tokens
// obtained out of band for the single account this process serves.
type TraktSettings struct {
	ClientID          string `json:"clientId" mapstructure:"clientid"`
	ClientSecret      string `json:"clientSecret" mapstructure:"clientsecret"`
	AccessToken       string `json:"accessToken" mapstructure:"accesstoken"`
	RefreshToken      string `json:"refreshToken" mapstructure:"refreshtoken"`
	ExpiresAt         int64  `json:"expiresAt" mapstructure:"expiresat"` // Unix timestamp
	Username          string `json:"username" mapstructure:"username"`
	ScrobblingEnabled bool   `json:"scrobblingEnabled" mapstructure:"scrobblingenabled"`
	BaseURL           string `json:"baseUrl" mapstructure:"baseurl"`
}

// Authenticated reports whether an access token is configured.
func (t TraktSettings) Authenticated() bool {
	return strings.TrimSpace(t.AccessToken) != ""
}

// AuthoritySettings points at the authoritative Postgres database.
type AuthoritySettings struct {
	DSN    string `json:"dsn" mapstructure:"dsn"`
	UserID string `json:"userId" mapstructure:"userid"`
}

type MetadataSettings struct {
	TMDBAPIKey string `json:"tmdbApiKey" mapstructure:"tmdbapikey"`
	Language   string `json:"language" mapstructure:"language"`
	BaseURL    string `json:"baseUrl" mapstructure:"baseurl"`
}

// ContinueWatchingSettings tunes the aggregation pass.
type ContinueWatchingSettings struct {
	WatchedThreshold        float64 `json:"watchedThreshold" mapstructure:"watchedthreshold"` // Percent at which playback counts as watched
	MaxItems                int     `json:"maxItems" mapstructure:"maxitems"`
	MaxPausedItems          int     `json:"maxPausedItems" mapstructure:"maxpauseditems"`
	RecentShowsLimit        int     `json:"recentShowsLimit" mapstructure:"recentshowslimit"`
	ShowProgressConcurrency int     `json:"showProgressConcurrency" mapstructure:"showprogressconcurrency"`
	PlaybackPageSize        int     `json:"playbackPageSize" mapstructure:"playbackpagesize"`
	IncludeSpecials         bool    `json:"includeSpecials" mapstructure:"includespecials"`
}

// RetrySettings configures the backoff used for every remote call.
type RetrySettings struct {
	MaxAttempts    int `json:"maxAttempts" mapstructure:"maxattempts"`
	InitialDelayMs int `json:"initialDelayMs" mapstructure:"initialdelayms"`
	MaxDelayMs     int `json:"maxDelayMs" mapstructure:"maxdelayms"`
}

func (r RetrySettings) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelayMs) * time.Millisecond
}

func (r RetrySettings) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

type ScrobbleSettings struct {
	PauseDebounceMs int `json:"pauseDebounceMs" mapstructure:"pausedebouncems"`
}

func (s ScrobbleSettings) PauseDebounce() time.Duration {
	return time.Duration(s.PauseDebounceMs) * time.Millisecond
}

const (
	StorageBackendSQLite = "sqlite"
	StorageBackendFile   = "file"
)

// StorageSettings selects the durable key-value backend used for the
// continue-watching snapshot and dismissals.
type StorageSettings struct {
	Backend string `json:"backend" mapstructure:"backend"` // sqlite | file
	Path    string `json:"path" mapstructure:"path"`       // Database file or directory
}

// EventSettings configures the watched-state change feed.
type EventSettings struct {
	NATSURL string `json:"natsUrl" mapstructure:"natsurl"`
	Subject string `json:"subject" mapstructure:"subject"`
}

// ScheduledTaskFrequency defines how often a background task runs.
type ScheduledTaskFrequency string

const (
	ScheduledTaskFrequencyOff     ScheduledTaskFrequency = "off"
	ScheduledTaskFrequency5Min    ScheduledTaskFrequency = "5min"
	ScheduledTaskFrequency15Min   ScheduledTaskFrequency = "15min"
	ScheduledTaskFrequency30Min   ScheduledTaskFrequency = "30min"
	ScheduledTaskFrequencyHourly  ScheduledTaskFrequency = "hourly"
	ScheduledTaskFrequency6Hours  ScheduledTaskFrequency = "6hours"
	ScheduledTaskFrequency12Hours ScheduledTaskFrequency = "12hours"
	ScheduledTaskFrequencyDaily   ScheduledTaskFrequency = "daily"
)

// Interval returns the period of the frequency, or 0 when disabled.
func (f ScheduledTaskFrequency) Interval() time.Duration {
	switch f {
	case ScheduledTaskFrequency5Min:
		return 5 * time.Minute
	case ScheduledTaskFrequency15Min:
		return 15 * time.Minute
	case ScheduledTaskFrequency30Min:
		return 30 * time.Minute
	case ScheduledTaskFrequencyHourly:
		return time.Hour
	case ScheduledTaskFrequency6Hours:
		return 6 * time.Hour
	case ScheduledTaskFrequency12Hours:
		return 12 * time.Hour
	case ScheduledTaskFrequencyDaily:
		return 24 * time.Hour
	default:
		return 0
	}
}

// ScheduledTasksSettings controls the background refresh tasks run by serve.
type ScheduledTasksSettings struct {
	CheckIntervalSeconds    int                    `json:"checkIntervalSeconds" mapstructure:"checkintervalseconds"`
	ContinueWatchingRefresh ScheduledTaskFrequency `json:"continueWatchingRefresh" mapstructure:"continuewatchingrefresh"`
	WatchedStateResync      ScheduledTaskFrequency `json:"watchedStateResync" mapstructure:"watchedstateresync"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	File       string `json:"file" mapstructure:"file"`
	Level      string `json:"level" mapstructure:"level"`
	JSON       bool   `json:"json" mapstructure:"json"`
	MaxSize    int    `json:"maxSize" mapstructure:"maxsize"`
	MaxAge     int    `json:"maxAge" mapstructure:"maxage"`
	MaxBackups int    `json:"maxBackups" mapstructure:"maxbackups"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{Host: "0.0.0.0", Port: 7788},
		Trakt:  TraktSettings{ScrobblingEnabled: true},
		Metadata: MetadataSettings{
			Language: "en-US",
		},
		ContinueWatching: ContinueWatchingSettings{
			WatchedThreshold:        90,
			MaxItems:                20,
			MaxPausedItems:          100,
			RecentShowsLimit:        200,
			ShowProgressConcurrency: 10,
			PlaybackPageSize:        100,
		},
		Retry: RetrySettings{
			MaxAttempts:    3,
			InitialDelayMs: 1000,
			MaxDelayMs:     10000,
		},
		Scrobble: ScrobbleSettings{PauseDebounceMs: 5000},
		Storage: StorageSettings{
			Backend: StorageBackendSQLite,
			Path:    "cache/watchsync.db",
		},
		Events: EventSettings{Subject: "watchsync.watched"},
		ScheduledTasks: ScheduledTasksSettings{
			CheckIntervalSeconds:    60,
			ContinueWatchingRefresh: ScheduledTaskFrequency15Min,
			WatchedStateResync:      ScheduledTaskFrequency6Hours,
		},
		Log: LogConfig{
			File:       "cache/logs/watchsync.log",
			Level:      "info",
			MaxSize:    50,
			MaxAge:     7,
			MaxBackups: 3,
		},
	}
}

// Manager loads and saves the settings file.
type Manager struct {
	path string
}

func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

// Path returns the settings file location.
func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads the settings file, creating it with defaults when missing.
// Values missing from the file fall back to the defaults and any key can be
// overridden from the environment.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		// create with defaults
		if err := m.Save(DefaultSettings()); err != nil {
			return Settings{}, err
		}
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults, err := toMap(DefaultSettings())
	if err != nil {
		return Settings{}, err
	}
	if err := v.MergeConfigMap(defaults); err != nil {
		return Settings{}, fmt.Errorf("apply defaults: %w", err)
	}

	f, err := os.Open(m.path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()
	if err := v.MergeConfig(f); err != nil {
		return Settings{}, fmt.Errorf("parse %s: %w", m.path, err)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	s.backfill()
	return s, nil
}

// backfill restores defaults for values that were explicitly zeroed.
func (s *Settings) backfill() {
	d := DefaultSettings()
	if s.ContinueWatching.WatchedThreshold <= 0 || s.ContinueWatching.WatchedThreshold > 100 {
		s.ContinueWatching.WatchedThreshold = d.ContinueWatching.WatchedThreshold
	}
	if s.ContinueWatching.MaxItems <= 0 {
		s.ContinueWatching.MaxItems = d.ContinueWatching.MaxItems
	}
	if s.ContinueWatching.MaxPausedItems <= 0 {
		s.ContinueWatching.MaxPausedItems = d.ContinueWatching.MaxPausedItems
	}
	if s.ContinueWatching.RecentShowsLimit <= 0 {
		s.ContinueWatching.RecentShowsLimit = d.ContinueWatching.RecentShowsLimit
	}
	if s.ContinueWatching.ShowProgressConcurrency <= 0 {
		s.ContinueWatching.ShowProgressConcurrency = d.ContinueWatching.ShowProgressConcurrency
	}
	if s.ContinueWatching.PlaybackPageSize <= 0 {
		s.ContinueWatching.PlaybackPageSize = d.ContinueWatching.PlaybackPageSize
	}
	if s.Retry.MaxAttempts <= 0 {
		s.Retry.MaxAttempts = d.Retry.MaxAttempts
	}
	if s.Retry.MaxDelayMs <= 0 {
		s.Retry.MaxDelayMs = d.Retry.MaxDelayMs
	}
	if strings.TrimSpace(s.Storage.Backend) == "" {
		s.Storage.Backend = d.Storage.Backend
	}
	if strings.TrimSpace(s.Storage.Path) == "" {
		s.Storage.Path = d.Storage.Path
	}
	if strings.TrimSpace(s.Events.Subject) == "" {
		s.Events.Subject = d.Events.Subject
	}
	if s.ScheduledTasks.CheckIntervalSeconds <= 0 {
		s.ScheduledTasks.CheckIntervalSeconds = d.ScheduledTasks.CheckIntervalSeconds
	}
	if s.Server.Port == 0 {
		s.Server.Port = d.Server.Port
	}
}

func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}

// toMap converts settings to the nested map viper merges, keyed by the JSON names.
func toMap(s Settings) (map[string]any, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
