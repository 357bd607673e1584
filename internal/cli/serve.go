package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"watchsync/api"
	"watchsync/handlers"
	"watchsync/internal/logger"
	"watchsync/services/scheduler"
)

var (
	servePort      int
	serveAccessLog bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "override server port from config")
	serveCmd.Flags().BoolVar(&serveAccessLog, "access-log", false, "write combined access log lines to stdout")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	// Warm the watched-state cache in the background so the first request
	// does not pay for the initial load.
	go a.watched.EnsureReady(ctx)

	tasks := a.settings.ScheduledTasks
	sched := scheduler.NewService([]scheduler.Task{
		scheduler.ContinueWatchingRefresh(a.aggregator, tasks.ContinueWatchingRefresh.Interval()),
		scheduler.WatchedStateResync(a.watched, tasks.WatchedStateResync.Interval()),
	}, time.Duration(tasks.CheckIntervalSeconds)*time.Second, logger.Named("scheduler"))
	sched.Start(ctx)

	r := mux.NewRouter()
	api.Register(r,
		handlers.NewContinueWatchingHandler(a.aggregator),
		handlers.NewWatchedHandler(a.watched),
		handlers.NewScrobbleHandler(a.coordinator),
		handlers.NewScheduledTasksHandler(sched),
	)
	var handler http.Handler = api.Handler(r)
	if serveAccessLog {
		handler = api.AccessLog(os.Stdout, handler)
	}

	port := a.settings.Server.Port
	if servePort > 0 {
		port = servePort
	}
	addr := fmt.Sprintf("%s:%d", a.settings.Server.Host, port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infow("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warnw("server shutdown error", "error", err)
	}
	sched.Stop(shutdownCtx)
	a.log.Info("shutdown complete")
	return nil
}
