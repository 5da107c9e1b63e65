package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/raakeshmj/imagegate/internal/audit"
	"github.com/raakeshmj/imagegate/internal/limiter"
	"github.com/raakeshmj/imagegate/internal/metrics"
)

// RateLimit gates a route group with the given fixed-window class, keyed
// by client IP. Denials carry retryAfter seconds in the body and the
// standard rate headers; they also land in the security log so repeat
// offenders are visible.
//
// The image gateway does not use this middleware: its pipeline order
// puts the limit check after token verification, inline in the handler.
func RateLimit(class string, l *limiter.Limiter, auditLog *audit.Logger, m *metrics.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := l.Check(r.Context(), class, audit.ClientIP(r))
			if err != nil {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetTime.UnixMilli(), 10))

			if !res.Allowed {
				m.RateLimited.WithLabelValues(class).Inc()
				auditLog.LogSuspicious(r, class+"_rate_limit", map[string]interface{}{
					"path":      r.URL.Path,
					"resetTime": res.ResetTime.UnixMilli(),
				}, audit.LevelWarning, "")

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"success":    false,
					"error":      "Too many requests",
					"retryAfter": res.RetryAfter(time.Now()),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
