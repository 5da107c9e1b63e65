package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/raakeshmj/imagegate/internal/audit"
)

// RequestLog emits one structured line per request. This is operational
// logging; the audit package owns the durable access records.
func RequestLog(log zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriterInterceptor{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.statusCode).
				Dur("duration", time.Since(start)).
				Str("client_ip", audit.ClientIP(r)).
				Str("request_id", GetRequestID(r.Context())).
				Msg("request")
		})
	}
}
