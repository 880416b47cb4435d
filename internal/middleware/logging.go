package middleware

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
)

// statusRecorder captures the status code the wrapped handler writes so the
// request log line can include it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Logging emits one line per request with method, path, status and elapsed
// time. The health and status endpoints are polled by dashboards, so they
// log at debug to keep sync cycle output readable.
func Logging(logger arbor.ILogger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next(rec, r)

			event := logger.Info()
			if r.URL.Path == "/health" || r.URL.Path == "/status" {
				event = logger.Debug()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("elapsed", time.Since(start)).
				Msg("request")
		}
	}
}
