package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/fluxion/pkg/metrics"
	"github.com/rs/zerolog"
)

// statusRecorder captures the status code a handler wrote so the logging
// middleware can report it after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withLogging wraps next with a request-scoped access log line: method,
// path, status, and duration once the handler returns, and records the
// same observation against the submission API's request-count and
// latency metrics.
func withLogging(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		duration := time.Since(start)

		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", duration).
			Msg("request")

		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(duration.Seconds())
	})
}
