package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/raakeshmj/imagegate/internal/metrics"
)

// Instrument records request latency under a route group label.
func Instrument(m *metrics.Metrics, route string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriterInterceptor{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			m.Duration.WithLabelValues(route, strconv.Itoa(rw.statusCode)).
				Observe(time.Since(start).Seconds())
		})
	}
}
