package api

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	watchhandlers "watchsync/handlers"
)

func health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Register mounts API endpoints onto the provided router.
func Register(
	r *mux.Router,
	continueWatchingHandler *watchhandlers.ContinueWatchingHandler,
	watchedHandler *watchhandlers.WatchedHandler,
	scrobbleHandler *watchhandlers.ScrobbleHandler,
	tasksHandler *watchhandlers.ScheduledTasksHandler,
) {
	r.Use(requestLogger)
	r.HandleFunc("/health", health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	// Continue watching
	api.HandleFunc("/continue-watching", continueWatchingHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/continue-watching/dismiss", continueWatchingHandler.Dismiss).Methods(http.MethodPost)

	// Watched state
	api.HandleFunc("/watched", watchedHandler.Update).Methods(http.MethodPost)
	api.HandleFunc("/watched/status", watchedHandler.Status).Methods(http.MethodGet)
	api.HandleFunc("/watched/invalidate", watchedHandler.Invalidate).Methods(http.MethodPost)
	api.HandleFunc("/watched/movies/{id}", watchedHandler.Movie).Methods(http.MethodGet)
	api.HandleFunc("/watched/shows/{id}/seasons/{season:[0-9]+}/episodes/{episode:[0-9]+}", watchedHandler.Episode).Methods(http.MethodGet)

	// Scrobbling
	api.HandleFunc("/scrobble/{action}", scrobbleHandler.Scrobble).Methods(http.MethodPost)

	// Background tasks
	api.HandleFunc("/tasks", tasksHandler.ListTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{taskID}/run", tasksHandler.RunTask).Methods(http.MethodPost)
}

// Handler wraps the router with CORS and panic recovery. Preflight requests
// are answered by the CORS layer and never reach the router.
func Handler(r *mux.Router) http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{}),
		handlers.PrintRecoveryStack(true),
	)(cors(r))
}
