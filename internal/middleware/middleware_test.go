package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/raakeshmj/imagegate/internal/audit"
	"github.com/raakeshmj/imagegate/internal/limiter"
	"github.com/raakeshmj/imagegate/internal/metrics"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestChain_Order(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(okHandler(), tag("outer"), tag("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Errorf("expected outer then inner, got %v", order)
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	// Generated when absent.
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if seen == "" {
		t.Error("expected a generated request ID in context")
	}
	if w.Header().Get("X-Request-ID") != seen {
		t.Error("response header does not match context value")
	}

	// Honored when the proxy already set one.
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Request-ID", "upstream-id")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if seen != "upstream-id" {
		t.Errorf("expected upstream-id, got %s", seen)
	}

	if GetRequestID(context.Background()) != "" {
		t.Error("expected empty ID outside a request")
	}
}

func TestSecureHeaders(t *testing.T) {
	h := SecureHeaders()(okHandler())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("expected nosniff, got %q", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("expected DENY, got %q", got)
	}
}

func TestAdminAuth(t *testing.T) {
	auditLog, err := audit.New(t.TempDir(), audit.Options{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("audit.New failed: %v", err)
	}
	defer auditLog.Close()

	h := AdminAuth("admin-secret", auditLog)(okHandler())

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic admin-secret", http.StatusUnauthorized},
		{"wrong token", "Bearer wrong", http.StatusUnauthorized},
		{"right token", "Bearer admin-secret", http.StatusOK},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("POST", "/api/admin/limits/reload", nil)
		if tc.header != "" {
			r.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, w.Code)
		}
	}

	// An empty configured token rejects everything.
	h = AdminAuth("", auditLog)(okHandler())
	r := httptest.NewRequest("GET", "/api/admin/limits", nil)
	r.Header.Set("Authorization", "Bearer ")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("empty configured token: expected 401, got %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	auditLog, err := audit.New(t.TempDir(), audit.Options{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("audit.New failed: %v", err)
	}
	defer auditLog.Close()

	registry := limiter.NewRegistry(map[string]limiter.Config{
		limiter.ClassLogin: {MaxRequests: 2, Window: time.Minute},
	})
	store := limiter.NewMemoryStore()
	defer store.Close()
	lim := limiter.New(store, registry, zerolog.Nop())
	m := metrics.New(prometheus.NewRegistry())

	h := RateLimit(limiter.ClassLogin, lim, auditLog, m)(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("POST", "/api/auth/login", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
		if w.Header().Get("X-RateLimit-Remaining") == "" {
			t.Error("missing X-RateLimit-Remaining header")
		}
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/api/auth/login", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	var body struct {
		Success    bool `json:"success"`
		RetryAfter int  `json:"retryAfter"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad 429 body: %v", err)
	}
	if body.Success {
		t.Error("expected success false in 429 body")
	}
	if body.RetryAfter < 1 {
		t.Errorf("expected positive retryAfter, got %d", body.RetryAfter)
	}
}
