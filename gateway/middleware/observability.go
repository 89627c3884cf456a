package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"vbmsd/observability"
)

// Observe records request metrics and a structured access log line for every
// request passing through the route.
func Observe(logger *slog.Logger, route string) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			duration := time.Since(start)
			observability.HTTP().Observe(route, statusClass(recorder.status), duration)
			logger.Info("request",
				slog.String("route", route),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", recorder.status),
				slog.Duration("duration", duration),
				slog.String("client", clientID(r)),
			)
		})
	}
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
