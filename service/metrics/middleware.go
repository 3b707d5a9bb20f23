package metrics

import (
	"net/http"
	"time"
)

// HTTPMetricsMiddleware wraps a handler and records request count and latency
// under handlerName, which should be the route pattern rather than the raw path.
func HTTPMetricsMiddleware(m *Metrics, handlerName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sw, r)

			if m != nil {
				m.RecordHTTPRequest(handlerName, r.Method, sw.statusCode, time.Since(start).Seconds())
			}
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
