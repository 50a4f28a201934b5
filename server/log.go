package server

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const RequestIDHeader = "X-Request-Id"

// InitializeLogger points the global logger at stdout with the given level.
// Store and handler code logs through zerolog.Ctx, which falls back to this
// logger outside of a request.
func InitializeLogger(lvl string) error {
	level, err := zerolog.ParseLevel(lvl)
	if err != nil {
		return fmt.Errorf("parsing log level %q: %w", lvl, err)
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &log.Logger
	return nil
}

// LogInterceptor gives every request a logger tagged with its request id,
// reusing the caller's X-Request-Id when one is sent, and logs the outcome
// of each upload or download once the handler returns.
func LogInterceptor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)

		route := r.URL.Path
		if cr := mux.CurrentRoute(r); cr != nil {
			if tmpl, err := cr.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		logger := log.With().
			Str("request_id", requestID).
			Str("route", route).
			Logger()

		m := httpsnoop.CaptureMetrics(next, w, r.WithContext(logger.WithContext(r.Context())))

		ev := logger.Debug()
		if m.Code >= http.StatusInternalServerError {
			ev = logger.Warn()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", m.Code).
			Int64("response_size", m.Written).
			Int64("request_size", r.ContentLength).
			Dur("duration", m.Duration).
			Msg("file store request served")
	})
}
