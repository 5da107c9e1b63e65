// Package gateway is the HTTP face of the protected-image core: it
// validates path safety, referer, token, and rate limit in that order,
// then serves the image bytes. Every branch, success or rejection, lands
// in the access log with a reason code.
package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/raakeshmj/imagegate/internal/audit"
	"github.com/raakeshmj/imagegate/internal/config"
	"github.com/raakeshmj/imagegate/internal/limiter"
	"github.com/raakeshmj/imagegate/internal/metrics"
	"github.com/raakeshmj/imagegate/internal/service"
	"github.com/raakeshmj/imagegate/internal/token"
	"github.com/raakeshmj/imagegate/internal/watermark"
)

// Gateway ties the codec, limiter, and audit logger into the request
// pipeline. It holds no mutable state of its own; everything shared
// lives behind the injected components.
type Gateway struct {
	root            string
	codec           *token.Codec
	tokens          *service.TokenService
	authSvc         *service.AuthService
	limiter         *limiter.Limiter
	audit           *audit.Logger
	metrics         *metrics.Metrics
	watermarker     *watermark.Tiled // nil when disabled
	allowedReferers []string
	refererStrict   bool
	validate        *validator.Validate
	log             zerolog.Logger
}

func New(cfg *config.Config, codec *token.Codec, tokens *service.TokenService,
	authSvc *service.AuthService, lim *limiter.Limiter, auditLog *audit.Logger,
	m *metrics.Metrics, log zerolog.Logger) *Gateway {

	var wm *watermark.Tiled
	if cfg.Watermark.Enabled {
		wm = watermark.NewTiled(cfg.Watermark.Text, cfg.Watermark.Opacity)
	}
	return &Gateway{
		root:            cfg.ImageRoot,
		codec:           codec,
		tokens:          tokens,
		authSvc:         authSvc,
		limiter:         lim,
		audit:           auditLog,
		metrics:         m,
		watermarker:     wm,
		allowedReferers: cfg.AllowedReferers,
		refererStrict:   cfg.RefererStrict,
		validate:        validator.New(),
		log:             log.With().Str("component", "gateway").Logger(),
	}
}

var contentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// ServeImage handles GET /images/*. Pipeline order is load-bearing: path
// safety before any filesystem access, token before rate limit so
// unauthorized traffic cannot burn a client's budget.
func (g *Gateway) ServeImage(w http.ResponseWriter, r *http.Request) {
	wild := chi.URLParam(r, "*")

	segments, err := decodeSegments(wild)
	if err != nil {
		if err == ErrTraversal {
			g.reject(w, r, "path_traversal")
			g.audit.LogSuspicious(r, "path_traversal_attempt", map[string]interface{}{
				"imagePath": wild,
			}, audit.LevelCritical, "")
			writeJSON(w, http.StatusBadRequest, errorBody("Invalid path"))
			return
		}
		g.reject(w, r, "bad_encoding")
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid path"))
		return
	}

	imageID := strings.Join(segments, "/")
	fullPath := filepath.Join(g.root, filepath.FromSlash(imageID))

	info, err := os.Stat(fullPath)
	if err != nil {
		g.reject(w, r, "file_not_found")
		g.audit.LogImageAccess(r, imageID, false, "", "file_not_found")
		writeJSON(w, http.StatusNotFound, errorBody("File not found"))
		return
	}
	if !info.Mode().IsRegular() {
		g.reject(w, r, "not_a_file")
		g.audit.LogImageAccess(r, imageID, false, "", "not_a_file")
		writeJSON(w, http.StatusBadRequest, errorBody("Not a file"))
		return
	}

	if !g.checkReferer(w, r, imageID) {
		return
	}

	tok := r.URL.Query().Get("token")
	if tok == "" {
		g.reject(w, r, "missing_token")
		g.audit.LogSuspicious(r, "missing_image_token", map[string]interface{}{
			"imagePath": imageID,
		}, audit.LevelWarning, "")
		g.audit.LogImageAccess(r, imageID, false, "", "missing_token")
		writeJSON(w, http.StatusUnauthorized, errorBody("Access token required"))
		return
	}

	userID, ok := g.codec.Verify(tok, imageID)
	if !ok {
		g.reject(w, r, "invalid_token")
		g.audit.LogSuspicious(r, "invalid_image_token", map[string]interface{}{
			"imagePath":   imageID,
			"tokenPrefix": tokenPrefix(tok),
		}, audit.LevelWarning, "")
		g.audit.LogImageAccess(r, imageID, false, "", "invalid_token")
		writeJSON(w, http.StatusUnauthorized, errorBody("Invalid or expired token"))
		return
	}

	res, err := g.limiter.Check(r.Context(), limiter.ClassImage, audit.ClientIP(r))
	if err != nil {
		g.reject(w, r, "limiter_error")
		g.audit.LogImageAccess(r, imageID, false, userID, "limiter_error")
		writeJSON(w, http.StatusInternalServerError, errorBody("Internal error"))
		return
	}
	if !res.Allowed {
		g.metrics.RateLimited.WithLabelValues(limiter.ClassImage).Inc()
		g.reject(w, r, "rate_limited")
		g.audit.LogSuspicious(r, "image_rate_limit_exceeded", map[string]interface{}{
			"imagePath": imageID,
			"resetTime": res.ResetTime.UnixMilli(),
		}, audit.LevelWarning, userID)
		g.audit.LogImageAccess(r, imageID, false, userID, "rate_limited")
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":      "Too many requests",
			"retryAfter": res.RetryAfter(time.Now()),
		})
		return
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		g.reject(w, r, "read_error")
		g.audit.LogImageAccess(r, imageID, false, userID, "read_error")
		writeJSON(w, http.StatusInternalServerError, errorBody("Failed to read image"))
		return
	}

	if g.watermarker != nil && userID != "" {
		marked, err := g.watermarker.Apply(data)
		if err != nil {
			// Serve the unmarked original rather than fail the request.
			g.log.Warn().Err(err).Str("image", imageID).Msg("watermark skipped")
		}
		data = marked
	}

	g.metrics.ImagesServed.Inc()
	g.audit.LogImageAccess(r, imageID, true, userID, "")

	ext := strings.ToLower(filepath.Ext(fullPath))
	contentType, ok := contentTypes[ext]
	if !ok {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	// Cache lifetime matches the token TTL so a cached copy never
	// outlives its authorization window.
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d, immutable", int(g.codec.DefaultTTL()/time.Second)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// checkReferer applies the hotlink policy. Absent referers always pass:
// privacy-minded clients routinely omit the header. A mismatch is logged
// either way; only strict mode turns it into a 403 (the permissive
// default favors availability over a header browsers don't guarantee).
func (g *Gateway) checkReferer(w http.ResponseWriter, r *http.Request, imageID string) bool {
	referer := r.Referer()
	if referer == "" {
		return true
	}
	for _, allowed := range g.allowedReferers {
		if strings.HasPrefix(referer, allowed) {
			return true
		}
	}

	g.audit.LogSuspicious(r, "invalid_referer", map[string]interface{}{
		"referer":   referer,
		"imagePath": imageID,
	}, audit.LevelWarning, "")

	if !g.refererStrict {
		g.log.Warn().Str("referer", referer).Msg("referer not in allow list, allowing for compatibility")
		return true
	}

	g.reject(w, r, "invalid_referer")
	g.audit.LogImageAccess(r, imageID, false, "", "invalid_referer")
	writeJSON(w, http.StatusForbidden, errorBody("Unauthorized access"))
	return false
}

func (g *Gateway) reject(_ http.ResponseWriter, _ *http.Request, reason string) {
	g.metrics.Rejections.WithLabelValues(reason).Inc()
}

// tokenPrefix returns just enough of a token to correlate log entries.
// Full tokens never reach any log.
func tokenPrefix(tok string) string {
	if len(tok) <= 10 {
		return tok
	}
	return tok[:10] + "..."
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func errorBody(msg string) map[string]interface{} {
	return map[string]interface{}{"success": false, "error": msg}
}
