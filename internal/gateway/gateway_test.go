package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/raakeshmj/imagegate/internal/audit"
	"github.com/raakeshmj/imagegate/internal/auth"
	"github.com/raakeshmj/imagegate/internal/cache"
	"github.com/raakeshmj/imagegate/internal/config"
	"github.com/raakeshmj/imagegate/internal/limiter"
	"github.com/raakeshmj/imagegate/internal/metrics"
	"github.com/raakeshmj/imagegate/internal/service"
	"github.com/raakeshmj/imagegate/internal/store"
	"github.com/raakeshmj/imagegate/internal/token"
)

type testEnv struct {
	gateway *Gateway
	router  *chi.Mux
	codec   *token.Codec
	authSvc *service.AuthService
	root    string
	dataDir string
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := &config.Config{
		ImageRoot:       t.TempDir(),
		DataDir:         t.TempDir(),
		JWTSecret:       "test-secret",
		TokenTTL:        5 * time.Minute,
		AllowedReferers: []string{"http://localhost:3000"},
		Limits: config.LimitsConfig{
			Window:     time.Minute,
			Image:      600,
			Token:      300,
			TokenBatch: 100,
			API:        60,
			Login:      5,
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	auditLog, err := audit.New(cfg.DataDir, audit.Options{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("audit.New failed: %v", err)
	}
	t.Cleanup(auditLog.Close)

	registry := limiter.NewRegistry(map[string]limiter.Config{
		limiter.ClassImage:      {MaxRequests: cfg.Limits.Image, Window: cfg.Limits.Window},
		limiter.ClassToken:      {MaxRequests: cfg.Limits.Token, Window: cfg.Limits.Window},
		limiter.ClassTokenBatch: {MaxRequests: cfg.Limits.TokenBatch, Window: cfg.Limits.Window},
	})
	memStore := limiter.NewMemoryStore()
	t.Cleanup(memStore.Close)
	lim := limiter.New(memStore, registry, zerolog.Nop())

	m := metrics.New(prometheus.NewRegistry())

	repo := store.NewMemory()
	sessions := auth.NewSessionManager(repo, auth.SessionTTL)
	authSvc := service.NewAuthService(repo, sessions)

	codec := token.NewCodec(cfg.JWTSecret, cfg.TokenTTL)
	tokenSvc := service.NewTokenService(codec, cache.NewTokenCache())

	g := New(cfg, codec, tokenSvc, authSvc, lim, auditLog, m, zerolog.Nop())

	r := chi.NewRouter()
	r.Get("/images/*", g.ServeImage)
	r.Post("/api/images/token", g.IssueToken)
	r.Post("/api/images/tokens", g.IssueTokenBatch)
	r.Post("/api/auth/register", g.Register)
	r.Post("/api/auth/login", g.Login)
	r.Post("/api/auth/logout", g.Logout)

	return &testEnv{
		gateway: g,
		router:  r,
		codec:   codec,
		authSvc: authSvc,
		root:    cfg.ImageRoot,
		dataDir: cfg.DataDir,
	}
}

func (e *testEnv) writeImage(t *testing.T, rel string, data []byte) {
	t.Helper()
	full := filepath.Join(e.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
}

func (e *testEnv) get(target string, headers map[string]string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	return w
}

func (e *testEnv) postJSON(target string, body interface{}, cookie *http.Cookie) *httptest.ResponseRecorder {
	buf, _ := json.Marshal(body)
	r := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(buf))
	r.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		r.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	return w
}

// securityEvents reads the security log written during a test.
func (e *testEnv) securityEvents(t *testing.T) []audit.SecurityEntry {
	t.Helper()
	f, err := os.Open(filepath.Join(e.dataDir, "security-logs.jsonl"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("open security log: %v", err)
	}
	defer f.Close()

	var out []audit.SecurityEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var entry audit.SecurityEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("bad security log line: %v", err)
		}
		out = append(out, entry)
	}
	return out
}

func TestServeImage_Success(t *testing.T) {
	env := newTestEnv(t, nil)
	imgBytes := []byte("jpeg-bytes")
	env.writeImage(t, "series/cover.jpg", imgBytes)

	tok, err := env.codec.Generate("u1", "series/cover.jpg", 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	w := env.get("/images/series/cover.jpg?token="+tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %s", ct)
	}
	if !bytes.Equal(w.Body.Bytes(), imgBytes) {
		t.Error("served bytes differ from the file on disk")
	}
	if cc := w.Header().Get("Cache-Control"); cc != "public, max-age=300, immutable" {
		t.Errorf("unexpected Cache-Control: %s", cc)
	}
}

func TestServeImage_MissingToken(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeImage(t, "series/cover.jpg", []byte("x"))

	w := env.get("/images/series/cover.jpg", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestServeImage_TokenForOtherPath(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeImage(t, "series/p1.jpg", []byte("p1"))
	env.writeImage(t, "series/p2.jpg", []byte("p2"))

	tok, err := env.codec.Generate("u1", "series/p1.jpg", 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	// The p1 token opens p1 but not p2.
	if w := env.get("/images/series/p1.jpg?token="+tok, nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for bound path, got %d", w.Code)
	}
	if w := env.get("/images/series/p2.jpg?token="+tok, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for other path, got %d", w.Code)
	}
}

func TestServeImage_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.get("/images/missing/page.jpg", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestServeImage_Traversal(t *testing.T) {
	env := newTestEnv(t, nil)

	secret := filepath.Join(filepath.Dir(env.root), "secret.txt")
	if err := os.WriteFile(secret, []byte("oops"), 0o644); err != nil {
		t.Fatalf("write secret: %v", err)
	}

	for _, target := range []string{
		"/images/../secret.txt",
		"/images/%2e%2e/secret.txt",
		"/images/a/%2e%2e/%2e%2e/secret.txt",
	} {
		w := env.get(target, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, w.Code)
		}
		if bytes.Contains(w.Body.Bytes(), []byte("oops")) {
			t.Fatalf("%s: traversal leaked file contents", target)
		}
	}

	var critical int
	for _, e := range env.securityEvents(t) {
		if e.Type == "path_traversal_attempt" && e.Level == audit.LevelCritical {
			critical++
		}
	}
	if critical == 0 {
		t.Error("traversal attempts did not produce critical security events")
	}
}

func TestServeImage_RateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Limits.Image = 2
	})
	env.writeImage(t, "a.jpg", []byte("a"))

	tok, err := env.codec.Generate("u1", "a.jpg", 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if w := env.get("/images/a.jpg?token="+tok, nil); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}

	w := env.get("/images/a.jpg?token="+tok, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	var body struct {
		RetryAfter int `json:"retryAfter"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad 429 body: %v", err)
	}
	if body.RetryAfter < 1 {
		t.Errorf("expected positive retryAfter, got %d", body.RetryAfter)
	}
}

func TestServeImage_RefererPermissive(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeImage(t, "a.jpg", []byte("a"))
	tok, _ := env.codec.Generate("u1", "a.jpg", 0)

	// Default policy logs the mismatch but serves anyway.
	w := env.get("/images/a.jpg?token="+tok, map[string]string{"Referer": "http://evil.example"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 under permissive referer policy, got %d", w.Code)
	}

	var warned bool
	for _, e := range env.securityEvents(t) {
		if e.Type == "invalid_referer" {
			warned = true
		}
	}
	if !warned {
		t.Error("referer mismatch was not logged")
	}
}

func TestServeImage_RefererStrict(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.RefererStrict = true
	})
	env.writeImage(t, "a.jpg", []byte("a"))
	tok, _ := env.codec.Generate("u1", "a.jpg", 0)

	w := env.get("/images/a.jpg?token="+tok, map[string]string{"Referer": "http://evil.example"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 under strict referer policy, got %d", w.Code)
	}

	// Allowed referer and absent referer still pass.
	if w := env.get("/images/a.jpg?token="+tok, map[string]string{"Referer": "http://localhost:3000/reader"}); w.Code != http.StatusOK {
		t.Errorf("allowed referer rejected: %d", w.Code)
	}
	if w := env.get("/images/a.jpg?token="+tok, nil); w.Code != http.StatusOK {
		t.Errorf("absent referer rejected: %d", w.Code)
	}
}

func TestIssueToken_RequiresSession(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.postJSON("/api/images/token", map[string]string{"imagePath": "a.jpg"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", w.Code)
	}
}

func TestIssueToken_WithSession(t *testing.T) {
	env := newTestEnv(t, nil)

	user, session, err := env.authSvc.Register(context.Background(), "reader", "reader@example.com", "password1")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	cookie := &http.Cookie{Name: "session", Value: session.ID}

	w := env.postJSON("/api/images/token", map[string]string{"imagePath": "/api/images/series/cover.jpg"}, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Success   bool   `json:"success"`
		Token     string `json:"token"`
		ExpiresIn int    `json:"expiresIn"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if !body.Success || body.Token == "" {
		t.Fatalf("expected a token, got %+v", body)
	}
	if body.ExpiresIn != 300 {
		t.Errorf("expected expiresIn 300, got %d", body.ExpiresIn)
	}

	// The token binds to the normalized path and the session's user.
	userID, ok := env.codec.Verify(body.Token, "series/cover.jpg")
	if !ok {
		t.Fatal("issued token does not verify for normalized path")
	}
	if userID != user.ID {
		t.Errorf("expected subject %s, got %s", user.ID, userID)
	}
}

func TestIssueToken_Traversal(t *testing.T) {
	env := newTestEnv(t, nil)

	_, session, err := env.authSvc.Register(context.Background(), "reader", "reader@example.com", "password1")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	cookie := &http.Cookie{Name: "session", Value: session.ID}

	w := env.postJSON("/api/images/token", map[string]string{"imagePath": "../secrets.db"}, cookie)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for traversal path, got %d", w.Code)
	}
}

func TestIssueTokenBatch_Anonymous(t *testing.T) {
	env := newTestEnv(t, nil)

	paths := []string{"series/p1.jpg", "series/p2.jpg"}
	w := env.postJSON("/api/images/tokens", map[string]interface{}{"imagePaths": paths}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Success bool              `json:"success"`
		Tokens  map[string]string `json:"tokens"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if len(body.Tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(body.Tokens))
	}
	for _, p := range paths {
		userID, ok := env.codec.Verify(body.Tokens[p], p)
		if !ok {
			t.Errorf("token for %s does not verify", p)
		}
		if userID != "anonymous" {
			t.Errorf("expected anonymous subject for %s, got %s", p, userID)
		}
	}
}

func TestIssueTokenBatch_Idempotent(t *testing.T) {
	env := newTestEnv(t, nil)

	req := map[string]interface{}{"imagePaths": []string{"series/p1.jpg"}}

	issue := func() string {
		w := env.postJSON("/api/images/tokens", req, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var body struct {
			Tokens map[string]string `json:"tokens"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("bad body: %v", err)
		}
		return body.Tokens["series/p1.jpg"]
	}

	// Two issuances back to back. Whether or not the strings match,
	// both must verify independently.
	tok1 := issue()
	tok2 := issue()
	if _, ok := env.codec.Verify(tok1, "series/p1.jpg"); !ok {
		t.Error("first issued token does not verify")
	}
	if _, ok := env.codec.Verify(tok2, "series/p1.jpg"); !ok {
		t.Error("second issued token does not verify")
	}
}

func TestIssueTokenBatch_SkipsBadPaths(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.postJSON("/api/images/tokens", map[string]interface{}{
		"imagePaths": []string{"good.jpg", "../etc/passwd", ""},
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body struct {
		Tokens map[string]string `json:"tokens"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if len(body.Tokens) != 1 {
		t.Fatalf("expected only the good path, got %v", body.Tokens)
	}
	if _, ok := body.Tokens["good.jpg"]; !ok {
		t.Error("good path missing from batch response")
	}

	var critical bool
	for _, e := range env.securityEvents(t) {
		if e.Type == "path_traversal_attempt" {
			critical = true
		}
	}
	if !critical {
		t.Error("traversal path in batch was not logged")
	}
}

func TestIssueTokenBatch_TooManyPaths(t *testing.T) {
	env := newTestEnv(t, nil)

	paths := make([]string, 101)
	for i := range paths {
		paths[i] = "p.jpg"
	}
	w := env.postJSON("/api/images/tokens", map[string]interface{}{"imagePaths": paths}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized batch, got %d", w.Code)
	}
}

func TestAuth_RegisterLoginLogout(t *testing.T) {
	env := newTestEnv(t, nil)

	// 1. Register sets a session cookie.
	w := env.postJSON("/api/auth/register", map[string]string{
		"username": "reader",
		"email":    "reader@example.com",
		"password": "password1",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("register: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(w.Result().Cookies()) == 0 {
		t.Fatal("register did not set a session cookie")
	}

	// 2. Duplicate username conflicts.
	w = env.postJSON("/api/auth/register", map[string]string{
		"username": "reader",
		"email":    "other@example.com",
		"password": "password2",
	}, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate register: expected 409, got %d", w.Code)
	}

	// 3. Login succeeds with the right password, fails uniformly otherwise.
	w = env.postJSON("/api/auth/login", map[string]string{
		"username": "reader",
		"password": "password1",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", w.Code)
	}
	var session *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "session" {
			session = c
		}
	}
	if session == nil || session.Value == "" {
		t.Fatal("login did not set a session cookie")
	}

	w = env.postJSON("/api/auth/login", map[string]string{
		"username": "reader",
		"password": "wrong",
	}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad password: expected 401, got %d", w.Code)
	}
	w = env.postJSON("/api/auth/login", map[string]string{
		"username": "nobody",
		"password": "password1",
	}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unknown user: expected 401, got %d", w.Code)
	}

	// 4. Logout invalidates the session for token issuance.
	w = env.postJSON("/api/auth/logout", nil, session)
	if w.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", w.Code)
	}
	w = env.postJSON("/api/images/token", map[string]string{"imagePath": "a.jpg"}, session)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", w.Code)
	}
}

func TestEndToEnd_IssueThenFetch(t *testing.T) {
	env := newTestEnv(t, nil)
	imgBytes := []byte("page-bytes")
	env.writeImage(t, "series/ch1/p1.jpg", imgBytes)

	_, session, err := env.authSvc.Register(context.Background(), "reader", "reader@example.com", "password1")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	cookie := &http.Cookie{Name: "session", Value: session.ID}

	// Issue a token over the wire, then spend it.
	w := env.postJSON("/api/images/token", map[string]string{"imagePath": "series/ch1/p1.jpg"}, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("issue: expected 200, got %d", w.Code)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad issue body: %v", err)
	}

	w = env.get("/images/series/ch1/p1.jpg?token="+body.Token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("fetch: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !bytes.Equal(w.Body.Bytes(), imgBytes) {
		t.Error("fetched bytes differ from the stored page")
	}
}
