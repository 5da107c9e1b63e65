// Package audit writes the append-only access and security logs: one JSON
// record per line, one file per stream, rotated by size. These files are
// the system of record for who fetched what; operational logging is
// zerolog's concern, not this package's.
package audit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// AccessEntry records one image access attempt, successful or not.
// Field names stay camelCase for compatibility with the existing log
// consumers.
type AccessEntry struct {
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
	UserID    string `json:"userId,omitempty"`
	IPAddress string `json:"ipAddress"`
	UserAgent string `json:"userAgent"`
	ImagePath string `json:"imagePath"`
	Referer   string `json:"referer,omitempty"`
	Success   bool   `json:"success"`
	Reason    string `json:"reason,omitempty"`
}

// SecurityEntry records one security-relevant event, separate from the
// plain access stream so alerting can watch it alone.
type SecurityEntry struct {
	Timestamp int64                  `json:"timestamp"`
	Level     Level                  `json:"level"`
	Type      string                 `json:"type"`
	UserID    string                 `json:"userId,omitempty"`
	IPAddress string                 `json:"ipAddress"`
	Details   map[string]interface{} `json:"details"`
}

const (
	accessFile   = "access-logs.jsonl"
	securityFile = "security-logs.jsonl"
)

// Options tunes rotation. Zero values take the defaults.
type Options struct {
	MaxFileSize   int64         // rotate past this size; default 10MB
	Retention     time.Duration // drop archives older than this; default 7 days
	CheckInterval time.Duration // background rotation check; default 24h
}

func (o *Options) withDefaults() {
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = 10 << 20
	}
	if o.Retention <= 0 {
		o.Retention = 7 * 24 * time.Hour
	}
	if o.CheckInterval <= 0 {
		o.CheckInterval = 24 * time.Hour
	}
}

// Logger owns the two log files exclusively and serializes appends so
// concurrent requests never interleave partial lines.
type Logger struct {
	mu   sync.Mutex
	dir  string
	opts Options
	log  zerolog.Logger

	stop chan struct{}
	once sync.Once
}

func New(dir string, opts Options, log zerolog.Logger) (*Logger, error) {
	opts.withDefaults()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	l := &Logger{
		dir:  dir,
		opts: opts,
		log:  log.With().Str("component", "audit").Logger(),
		stop: make(chan struct{}),
	}
	go l.rotateLoop()
	return l, nil
}

// Close stops the background rotation check.
func (l *Logger) Close() {
	l.once.Do(func() { close(l.stop) })
}

// LogAccess appends one entry to the access log. Write failures are
// reported on stderr and swallowed: logging must never abort the request
// that triggered it.
func (l *Logger) LogAccess(e AccessEntry) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	l.append(accessFile, e)
}

// LogSecurity appends one entry to the security log. Critical and error
// level events are mirrored to the operational logger for immediate
// visibility.
func (l *Logger) LogSecurity(e SecurityEntry) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	maskSensitive(e.Details)
	l.append(securityFile, e)

	if e.Level == LevelCritical || e.Level == LevelError {
		l.log.Error().
			Str("type", e.Type).
			Str("level", string(e.Level)).
			Str("ip", e.IPAddress).
			Str("user_id", e.UserID).
			Interface("details", e.Details).
			Msg("security event")
	}
}

// LogImageAccess records an image access attempt from its request.
func (l *Logger) LogImageAccess(r *http.Request, imagePath string, success bool, userID, reason string) {
	ua := r.UserAgent()
	if ua == "" {
		ua = "unknown"
	}
	l.LogAccess(AccessEntry{
		UserID:    userID,
		IPAddress: ClientIP(r),
		UserAgent: ua,
		ImagePath: imagePath,
		Referer:   r.Referer(),
		Success:   success,
		Reason:    reason,
	})
}

// LogSuspicious records abuse signals (traversal attempts, limit
// exceedance, missing tokens) in the security stream.
func (l *Logger) LogSuspicious(r *http.Request, activityType string, details map[string]interface{}, level Level, userID string) {
	if details == nil {
		details = map[string]interface{}{}
	}
	l.LogSecurity(SecurityEntry{
		Level:     level,
		Type:      activityType,
		UserID:    userID,
		IPAddress: ClientIP(r),
		Details:   details,
	})
}

func (l *Logger) append(name string, v interface{}) {
	line, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit: marshal %s entry: %v\n", name, err)
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(l.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit: open %s: %v\n", name, err)
		return
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		fmt.Fprintf(os.Stderr, "audit: write %s: %v\n", name, err)
	}
}

var sensitiveKeys = []string{"token", "secret", "password", "api_key"}

// maskSensitive redacts detail values whose key suggests a credential.
// Token prefixes logged for correlation use dedicated keys like
// "tokenPrefix" and are redacted too; nothing secret-shaped survives.
func maskSensitive(m map[string]interface{}) {
	for k := range m {
		lower := strings.ToLower(k)
		for _, s := range sensitiveKeys {
			if strings.Contains(lower, s) && lower != "tokenprefix" && lower != "token_prefix" {
				m[k] = "***REDACTED***"
				break
			}
		}
	}
}

// ClientIP extracts the client address from proxy headers, in trust
// order: x-forwarded-for (first hop), x-real-ip, cf-connecting-ip.
// These headers are client-supplied; the ordering is only sound behind a
// reverse proxy that strips or overwrites them. Exposed directly to the
// internet, a client picks its own rate-limit identity.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("x-forwarded-for"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if real := r.Header.Get("x-real-ip"); real != "" {
		return real
	}
	if cf := r.Header.Get("cf-connecting-ip"); cf != "" {
		return cf
	}
	return "unknown"
}
