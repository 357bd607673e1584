package api

import (
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"

	"watchsync/internal/logger"
)

// requestLogger attaches a request scoped logger to the context and logs the
// completed request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logger.Named("http").With("request_path", r.URL.Path, "id", uuid.New().String())
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(logger.WithCtx(r.Context(), log)))
		log.Debugw("request", "method", r.Method, "status", rec.status, "duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	logger.Named("http").Errorw("handler panic", "detail", v)
}

// AccessLog writes combined log format lines to w.
func AccessLog(w io.Writer, h http.Handler) http.Handler {
	return handlers.CombinedLoggingHandler(w, h)
}
