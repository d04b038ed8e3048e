package middleware

import (
	"net/http"
	"strconv"
	"time"

	"pedalsync/internal/metrics"
)

// statusRecorder captures the response status code for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// WrapHandler wraps an http.HandlerFunc with request count and latency
// metrics labeled by endpoint and status code
func WrapHandler(endpoint string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(rec, r)

		duration := time.Since(start).Seconds()
		statusCode := strconv.Itoa(rec.status)

		metrics.HTTPRequestsTotal.WithLabelValues(endpoint, statusCode).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(endpoint, statusCode).Observe(duration)
	})
}
