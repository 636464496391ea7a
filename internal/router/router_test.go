package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hanfour/zeyang-construction-sub000/internal/api"
	"github.com/hanfour/zeyang-construction-sub000/internal/auth"
	"github.com/hanfour/zeyang-construction-sub000/internal/config"
	"github.com/hanfour/zeyang-construction-sub000/internal/contact"
	"github.com/hanfour/zeyang-construction-sub000/internal/project"
	"github.com/hanfour/zeyang-construction-sub000/internal/projectimage"
	"github.com/hanfour/zeyang-construction-sub000/internal/ratelimit"
	"github.com/hanfour/zeyang-construction-sub000/internal/setting"
	"github.com/hanfour/zeyang-construction-sub000/internal/system"
	"github.com/hanfour/zeyang-construction-sub000/internal/tag"
	tagrepo "github.com/hanfour/zeyang-construction-sub000/internal/tag/repo"
	"github.com/hanfour/zeyang-construction-sub000/internal/tasks"
	"github.com/hanfour/zeyang-construction-sub000/internal/user"
)

type fakeUsers map[int64]string

func (f fakeUsers) LoadIdentity(_ context.Context, id int64) (*auth.Identity, error) {
	role, ok := f[id]
	if !ok {
		return nil, auth.ErrUnknownUser
	}
	return &auth.Identity{UserID: id, Username: role, Role: role}, nil
}

type okPinger struct{}

func (okPinger) PingContext(context.Context) error { return nil }

type harness struct {
	handler http.Handler
	mock    sqlmock.Sqlmock
	tokens  *auth.TokenService
}

func (h *harness) token(t *testing.T, userID int64) string {
	t.Helper()
	p, err := h.tokens.Issue(userID)
	require.NoError(t, err)
	return p.AccessToken
}

func (h *harness) do(t *testing.T, method, target, token string, body io.Reader, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	req.RemoteAddr = "203.0.113.7:41000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func newHarness(t *testing.T, edit func(*Deps)) *harness {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zap.NewNop().Sugar()
	tokens := auth.NewTokenService(auth.TokenConfig{
		AccessSecret: "access", RefreshSecret: "refresh",
		AccessTTL: time.Hour, RefreshTTL: 2 * time.Hour,
		Issuer: "EstateHub", Audience: "estatehub-users",
	})
	users := fakeUsers{1: auth.RoleAdmin, 2: auth.RoleEditor, 3: auth.RoleViewer}

	cfg := config.Config{Env: "production", AppVersion: "1.2.3"}
	cfg.HTTP.AllowedOrigins = []string{"https://estatehub.example"}
	cfg.Storage.MaxUploadBytes = 1 << 20

	d := Deps{
		Config: cfg,
		Auth:   auth.NewMiddleware(tokens, auth.NewMemoryRevoker(), users, logger),
		Handlers: Handlers{
			System:   system.NewHandler(okPinger{}, nil, cfg.Env, cfg.AppVersion, logger),
			Auth:     user.NewHandler(user.NewUserService(nil, nil, tokens, nil, user.BcryptHasher{Cost: 4}, logger), logger),
			Contacts: contact.NewHandler(contact.NewService(nil, nil, tasks.Inline{Logger: logger}, logger), logger),
			Projects: project.NewHandler(project.NewService(nil, nil, tasks.Inline{Logger: logger}, logger), logger),
			Images:   projectimage.NewHandler(projectimage.NewService(nil, nil, nil, 0, logger), logger),
			Tags:     tag.NewHandler(tag.NewService(tagrepo.NewTagRepo(sqlx.NewDb(db, "mysql")), logger), logger),
			Settings: setting.NewHandler(setting.NewService(nil, setting.NewCipher("key", logger), nil, false, logger), logger),
		},
		Logger: logger,
	}
	if edit != nil {
		edit(&d)
	}
	h, err := RegisterRoutes(d)
	require.NoError(t, err)
	return &harness{handler: h, mock: mock, tokens: tokens}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body api.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	return body.Error.Code
}

func expectPopular(m sqlmock.Sqlmock) {
	m.ExpectQuery("FROM tags t").
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "identifier", "project_count"}).AddRow(4, "Sea View", "sea-view", 3))
}

func TestUnknownRouteAndOuterHeaders(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/api/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, api.CodeRouteNotFound, errorCode(t, rec))
	assert.Contains(t, rec.Body.String(), `"path":"/api/nowhere"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = h.do(t, http.MethodGet, "/health", "", nil, func(r *http.Request) { r.Header.Set("X-Request-Id", "abc123") })
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc123", rec.Header().Get("X-Request-Id"))

	rec = h.do(t, http.MethodGet, "/", "", nil)
	assert.Contains(t, rec.Body.String(), "EstateHub API Server")
}

func TestPublicRouteReachesHandler(t *testing.T) {
	h := newHarness(t, nil)
	expectPopular(h.mock)

	rec := h.do(t, http.MethodGet, "/api/tags/popular", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Sea View"`)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestRoleGating(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/api/contacts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, api.CodeUnauthorized, errorCode(t, rec))

	rec = h.do(t, http.MethodGet, "/api/contacts", "not-a-jwt", nil)
	assert.Equal(t, api.CodeInvalidToken, errorCode(t, rec))

	rec = h.do(t, http.MethodGet, "/api/contacts", h.token(t, 3), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, api.CodeForbidden, errorCode(t, rec))

	rec = h.do(t, http.MethodGet, "/api/system/info", h.token(t, 2), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/system/info", h.token(t, 1), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/settings", h.token(t, 2), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodDelete, "/api/projects/harbor-view", h.token(t, 2), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMalformedJSONRejectedBeforeService(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/api/contacts", "", strings.NewReader("{"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, api.CodeValidation, errorCode(t, rec))
}

func TestGeneralRateLimit(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Limiters.General = ratelimit.NewMemoryLimiter(1, GeneralWindow)
		d.Config.HTTP.RateLimitWhitelist = []string{"198.51.100.1"}
	})
	expectPopular(h.mock)
	expectPopular(h.mock)

	rec := h.do(t, http.MethodGet, "/api/tags/popular", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("RateLimit-Remaining"))

	rec = h.do(t, http.MethodGet, "/api/tags/popular", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, api.CodeRateLimited, errorCode(t, rec))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// outside /api and whitelisted clients are not counted
	rec = h.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(t, http.MethodGet, "/api/tags/popular", "", nil, func(r *http.Request) { r.RemoteAddr = "198.51.100.1:5000" })
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestLoginLimitSkippedInDevelopment(t *testing.T) {
	prod := newHarness(t, func(d *Deps) { d.Limiters.Login = ratelimit.NewMemoryLimiter(1, AuthWindow) })
	assert.Equal(t, http.StatusBadRequest, prod.do(t, http.MethodPost, "/api/auth/login", "", strings.NewReader("{")).Code)
	rec := prod.do(t, http.MethodPost, "/api/auth/login", "", strings.NewReader("{"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "authentication attempts")

	dev := newHarness(t, func(d *Deps) {
		d.Config.Env = "development"
		d.Limiters.Login = ratelimit.NewMemoryLimiter(1, AuthWindow)
	})
	for range 3 {
		assert.Equal(t, http.StatusBadRequest, dev.do(t, http.MethodPost, "/api/auth/login", "", strings.NewReader("{")).Code)
	}
}

func TestContactLimiterCountedSeparately(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Limiters.General = ratelimit.NewMemoryLimiter(5, GeneralWindow)
		d.Limiters.Contact = ratelimit.NewMemoryLimiter(1, GeneralWindow)
	})
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/contacts", "", strings.NewReader("{")).Code)
	assert.Equal(t, http.StatusTooManyRequests, h.do(t, http.MethodPost, "/api/contacts", "", strings.NewReader("{")).Code)

	expectPopular(h.mock)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/tags/popular", "", nil).Code)
}

func TestCORS(t *testing.T) {
	h := newHarness(t, nil)
	preflight := func(origin string) *httptest.ResponseRecorder {
		return h.do(t, http.MethodOptions, "/api/projects", "", nil, func(r *http.Request) {
			r.Header.Set("Origin", origin)
			r.Header.Set("Access-Control-Request-Method", http.MethodPost)
		})
	}

	rec := preflight("https://estatehub.example")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://estatehub.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")

	rec = preflight("https://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUploadsServedWithoutListing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "projects", "p1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "projects", "p1", "a-large.jpg"), []byte("jpeg"), 0o644))
	h := newHarness(t, func(d *Deps) { d.UploadDir = dir })

	rec := h.do(t, http.MethodGet, "/uploads/projects/p1/a-large.jpg", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg", rec.Body.String())

	rec = h.do(t, http.MethodGet, "/uploads/projects/p1/", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClientIP(t *testing.T) {
	proxies, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.0.2.1"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	req.Header.Set("X-Forwarded-For", "1.1.1.1")
	assert.Equal(t, "203.0.113.9", proxies.ClientIP(req), "untrusted peer cannot spoof")

	req.RemoteAddr = "10.1.2.3:1234"
	req.Header.Set("X-Forwarded-For", "1.1.1.1, 198.51.100.4, 192.0.2.1")
	assert.Equal(t, "198.51.100.4", proxies.ClientIP(req))

	req.Header.Del("X-Forwarded-For")
	assert.Equal(t, "10.1.2.3", proxies.ClientIP(req))

	_, err = NewTrustedProxies([]string{"not-an-ip"})
	assert.Error(t, err)
}

func TestBodyLimit(t *testing.T) {
	var readErr error
	h := BodyLimitMiddleware(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64)))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	h.ServeHTTP(httptest.NewRecorder(), req)
	var mbe *http.MaxBytesError
	assert.True(t, errors.As(readErr, &mbe))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64)))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.NoError(t, readErr)
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(zap.NewNop().Sugar())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, api.CodeInternal, errorCode(t, rec))
}
