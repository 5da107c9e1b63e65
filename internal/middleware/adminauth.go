package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/raakeshmj/imagegate/internal/audit"
)

// AdminAuth gates a route group behind the bearer token from
// configuration. An empty configured token disables the group outright:
// there is no unauthenticated mode for endpoints that rewrite policy.
// Failed attempts land in the security log.
func AdminAuth(token string, auditLog *audit.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := bearerToken(r)
			if token == "" || presented == "" ||
				subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				auditLog.LogSuspicious(r, "admin_auth_failed", map[string]interface{}{
					"path": r.URL.Path,
				}, audit.LevelWarning, "")

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"success":false,"error":"Unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}
