package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"watchsync/config"
	"watchsync/internal/events"
	"watchsync/internal/kvstore"
	"watchsync/internal/logger"
	"watchsync/services/authority"
	"watchsync/services/continuewatching"
	"watchsync/services/dismissal"
	"watchsync/services/metadata"
	"watchsync/services/remote"
	"watchsync/services/scrobble"
	"watchsync/services/trakt"
	"watchsync/services/watchstate"
)

// app holds the wired services for one process.
type app struct {
	settings config.Settings
	log      *zap.SugaredLogger

	watched     *watchstate.Cache
	dismissals  *dismissal.Store
	aggregator  *continuewatching.Aggregator
	coordinator *scrobble.Coordinator

	closers []func() error
}

// newApp loads settings and builds every service. withEvents connects the
// change feed when one is configured.
func newApp(ctx context.Context, withEvents bool) (*app, error) {
	cfgManager := config.NewManager(configPath())
	settings, err := cfgManager.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if lvl := flags.GetString("log-level"); lvl != "" {
		settings.Log.Level = lvl
	}

	log, err := logger.Init(logger.Options{
		Level:      settings.Log.Level,
		JSON:       settings.Log.JSON,
		File:       settings.Log.File,
		MaxSize:    settings.Log.MaxSize,
		MaxAge:     settings.Log.MaxAge,
		MaxBackups: settings.Log.MaxBackups,
		Compress:   settings.Log.Compress,
	})
	if err != nil {
		return nil, err
	}

	a := &app{settings: settings, log: log}
	if err := a.wire(ctx, cfgManager, withEvents); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, cfgManager *config.Manager, withEvents bool) error {
	s := a.settings

	kv, closeKV, err := kvstore.Open(ctx, s.Storage.Backend, s.Storage.Path)
	if err != nil {
		return fmt.Errorf("open %s store: %w", s.Storage.Backend, err)
	}
	a.closers = append(a.closers, closeKV)

	retry := remote.Options{
		MaxAttempts:  s.Retry.MaxAttempts,
		InitialDelay: s.Retry.InitialDelay(),
		MaxDelay:     s.Retry.MaxDelay(),
	}

	var auth watchstate.Authority = authority.Disabled{}
	if strings.TrimSpace(s.Authority.DSN) != "" {
		pg, err := authority.Open(ctx, s.Authority.DSN, s.Authority.UserID)
		if err != nil {
			return fmt.Errorf("open authority: %w", err)
		}
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
		auth = pg
	} else {
		a.log.Warn("no authority database configured; watched state comes from trakt only")
	}

	client := trakt.NewClient(s.Trakt.ClientID, s.Trakt.ClientSecret)
	if s.Trakt.BaseURL != "" {
		client.WithBaseURL(s.Trakt.BaseURL)
	}
	session := trakt.NewSession(client, cfgManager, logger.Named("trakt"))
	tracker := trakt.NewTracker(client, session, s.ContinueWatching.PlaybackPageSize)

	authorityCaller := remote.NewCaller(retry, logger.Named("authority"))
	trackerCaller := remote.NewCaller(retry, logger.Named("trakt"), remote.WithRefresher(session))

	cacheOpts := []watchstate.Option{
		watchstate.WithAuthorityCaller(authorityCaller),
		watchstate.WithTrackerCaller(trackerCaller),
	}
	var nc *nats.Conn
	origin := uuid.NewString()
	if withEvents && strings.TrimSpace(s.Events.NATSURL) != "" {
		nc, err = events.Connect(s.Events.NATSURL, "watchsync-"+origin[:8], logger.Named("events"))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { nc.Close(); return nil })
		cacheOpts = append(cacheOpts, watchstate.WithNotifier(events.NewPublisher(nc, s.Events.Subject, origin, logger.Named("events"))))
	}
	a.watched = watchstate.New(auth, tracker, logger.Named("watchstate"), cacheOpts...)

	if nc != nil {
		sub, err := events.Subscribe(nc, s.Events.Subject, origin, a.watched, logger.Named("events"))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, sub.Unsubscribe)
	}

	a.dismissals = dismissal.New(kv, logger.Named("dismissal"))

	deps := continuewatching.Deps{
		Tracker:    tracker,
		State:      a.watched,
		Dismissals: a.dismissals,
		Store:      kv,
		Caller:     trackerCaller,
	}
	tmdb := metadata.NewTMDB(s.Metadata.TMDBAPIKey, s.Metadata.Language, s.Metadata.BaseURL, nil,
		remote.NewCaller(retry, logger.Named("tmdb")), logger.Named("tmdb"))
	if tmdb.Configured() {
		deps.Metadata = tmdb
	} else {
		a.log.Warn("tmdb api key not set; continue watching items will not be hydrated")
	}
	cw := s.ContinueWatching
	a.aggregator = continuewatching.New(deps, continuewatching.Options{
		WatchedThreshold:        cw.WatchedThreshold,
		MaxItems:                cw.MaxItems,
		MaxPausedItems:          cw.MaxPausedItems,
		RecentShowsLimit:        cw.RecentShowsLimit,
		ShowProgressConcurrency: cw.ShowProgressConcurrency,
		IncludeSpecials:         cw.IncludeSpecials,
	}, logger.Named("continuewatching"))

	a.coordinator = scrobble.New(tracker, a.watched, trackerCaller, scrobble.Options{
		WatchedThreshold: cw.WatchedThreshold,
		PauseDebounce:    s.Scrobble.PauseDebounce(),
	}, logger.Named("scrobble"))
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.log != nil {
		_ = a.log.Sync()
	}
	return errors.Join(errs...)
}
