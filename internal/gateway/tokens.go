package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/raakeshmj/imagegate/internal/audit"
	"github.com/raakeshmj/imagegate/internal/limiter"
)

// anonymousSubject is the token subject for unauthenticated batch
// issuance, so the public index can still render covers. Single-token
// issuance always requires a session.
const anonymousSubject = "anonymous"

const sessionCookie = "session"

type issueTokenRequest struct {
	ImagePath string `json:"imagePath" validate:"required"`
}

type issueBatchRequest struct {
	ImagePaths []string `json:"imagePaths" validate:"required,max=100"`
}

// IssueToken handles POST /api/images/token: one signed token for one
// path, session required.
func (g *Gateway) IssueToken(w http.ResponseWriter, r *http.Request) {
	if !g.allowIssuance(w, r, limiter.ClassToken, "image_token_rate_limit") {
		return
	}

	userID, ok := g.sessionUser(r)
	if !ok {
		g.audit.LogSuspicious(r, "image_token_no_session", map[string]interface{}{}, audit.LevelWarning, "")
		writeJSON(w, http.StatusUnauthorized, errorBody("Login required"))
		return
	}

	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid image path"))
		return
	}
	if err := g.validate.Struct(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid image path"))
		return
	}

	clean, err := normalizePath(req.ImagePath)
	if err != nil {
		g.audit.LogSuspicious(r, "path_traversal_attempt", map[string]interface{}{
			"imagePath": req.ImagePath,
		}, audit.LevelCritical, userID)
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid image path"))
		return
	}

	tok, err := g.tokens.Issue(userID, clean)
	if err != nil {
		g.log.Error().Err(err).Msg("token signing failed")
		writeJSON(w, http.StatusInternalServerError, errorBody("Failed to generate token"))
		return
	}

	g.metrics.TokensIssued.WithLabelValues("single").Inc()
	g.audit.LogSecurity(audit.SecurityEntry{
		Level:     audit.LevelInfo,
		Type:      "image_token_generated",
		UserID:    userID,
		IPAddress: audit.ClientIP(r),
		Details:   map[string]interface{}{"imagePath": clean},
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"token":     tok,
		"expiresIn": g.tokens.ExpiresIn(),
	})
}

// IssueTokenBatch handles POST /api/images/tokens: up to 100 paths per
// call, anonymous fallback allowed. Paths that fail normalization are
// skipped (and traversal attempts logged) rather than failing the batch.
func (g *Gateway) IssueTokenBatch(w http.ResponseWriter, r *http.Request) {
	if !g.allowIssuance(w, r, limiter.ClassTokenBatch, "image_token_batch_rate_limit") {
		return
	}

	userID, ok := g.sessionUser(r)
	if !ok {
		userID = anonymousSubject
	}

	var req issueBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid image path list"))
		return
	}
	if err := g.validate.Struct(&req); err != nil {
		if len(req.ImagePaths) > 100 {
			writeJSON(w, http.StatusBadRequest, errorBody("At most 100 tokens per request"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid image path list"))
		return
	}

	tokens := make(map[string]string, len(req.ImagePaths))
	for _, raw := range req.ImagePaths {
		if raw == "" {
			continue
		}
		clean, err := normalizePath(raw)
		if err != nil {
			g.audit.LogSuspicious(r, "path_traversal_attempt", map[string]interface{}{
				"imagePath": raw,
			}, audit.LevelCritical, userID)
			continue
		}
		tok, err := g.tokens.Issue(userID, clean)
		if err != nil {
			g.log.Error().Err(err).Str("path", clean).Msg("token signing failed")
			continue
		}
		tokens[clean] = tok
	}

	g.metrics.TokensIssued.WithLabelValues("batch").Inc()
	g.audit.LogSecurity(audit.SecurityEntry{
		Level:     audit.LevelInfo,
		Type:      "image_tokens_batch_generated",
		UserID:    userID,
		IPAddress: audit.ClientIP(r),
		Details:   map[string]interface{}{"count": len(tokens)},
	})

	w.Header().Set("Cache-Control", "private, max-age=300")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"tokens":    tokens,
		"expiresIn": g.tokens.ExpiresIn(),
	})
}

// allowIssuance applies the class budget for a token endpoint, keyed by
// client IP. Runs before session resolution, matching the pipeline order
// clients observe.
func (g *Gateway) allowIssuance(w http.ResponseWriter, r *http.Request, class, eventType string) bool {
	res, err := g.limiter.Check(r.Context(), class, audit.ClientIP(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("Internal error"))
		return false
	}
	if !res.Allowed {
		g.metrics.RateLimited.WithLabelValues(class).Inc()
		g.audit.LogSuspicious(r, eventType, map[string]interface{}{
			"resetTime": res.ResetTime.UnixMilli(),
		}, audit.LevelWarning, "")
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"success":    false,
			"error":      "Too many requests",
			"retryAfter": res.RetryAfter(time.Now()),
		})
		return false
	}
	return true
}

// sessionUser resolves the session cookie to a user ID.
func (g *Gateway) sessionUser(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return "", false
	}
	user, err := g.authSvc.ResolveSession(r.Context(), c.Value)
	if err != nil {
		return "", false
	}
	return user.ID, true
}
