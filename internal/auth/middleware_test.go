package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hanfour/zeyang-construction-sub000/internal/api"
)

type mockLoader struct{ mock.Mock }

func (m *mockLoader) LoadIdentity(ctx context.Context, userID int64) (*Identity, error) {
	args := m.Called(ctx, userID)
	id, _ := args.Get(0).(*Identity)
	return id, args.Error(1)
}

func setup(t *testing.T) (*Middleware, *TokenService, *mockLoader, Revoker) {
	t.Helper()
	tokens := newTestTokens()
	loader := &mockLoader{}
	rev := NewMemoryRevoker()
	return NewMiddleware(tokens, rev, loader, zap.NewNop().Sugar()), tokens, loader, rev
}

func call(h http.Handler, token string) (*httptest.ResponseRecorder, api.ErrorBody) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body api.ErrorBody
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		api.OK(w, http.StatusOK, "", map[string]any{"id": id.UserID, "role": id.Role})
	})
}

func TestAuthenticateMissingToken(t *testing.T) {
	m, _, _, _ := setup(t)
	rec, body := call(m.Authenticate(echoIdentity()), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, api.CodeUnauthorized, body.Error.Code)
}

func TestAuthenticateValidToken(t *testing.T) {
	m, tokens, loader, _ := setup(t)
	p, err := tokens.Issue(5)
	require.NoError(t, err)
	loader.On("LoadIdentity", mock.Anything, int64(5)).Return(&Identity{UserID: 5, Role: RoleAdmin}, nil)

	rec, _ := call(m.Authenticate(echoIdentity()), p.AccessToken)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{"id":5,"role":"admin"}}`, rec.Body.String())
	loader.AssertExpectations(t)
}

func TestAuthenticateExpiredToken(t *testing.T) {
	m, tokens, _, _ := setup(t)
	p, err := tokens.Issue(5)
	require.NoError(t, err)
	tokens.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	rec, body := call(m.Authenticate(echoIdentity()), p.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, api.CodeTokenExpired, body.Error.Code)
}

func TestAuthenticateRevokedToken(t *testing.T) {
	m, tokens, _, rev := setup(t)
	p, err := tokens.Issue(5)
	require.NoError(t, err)
	require.NoError(t, rev.Revoke(context.Background(), p.AccessJTI, time.Hour))

	rec, body := call(m.Authenticate(echoIdentity()), p.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, api.CodeInvalidToken, body.Error.Code)
}

func TestAuthenticateInactiveUser(t *testing.T) {
	m, tokens, loader, _ := setup(t)
	p, err := tokens.Issue(9)
	require.NoError(t, err)
	loader.On("LoadIdentity", mock.Anything, int64(9)).Return(nil, ErrUnknownUser)

	rec, body := call(m.Authenticate(echoIdentity()), p.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, api.CodeUnauthorized, body.Error.Code)
}

func TestAuthenticateLookupErrorWithNilLogger(t *testing.T) {
	tokens := newTestTokens()
	loader := &mockLoader{}
	m := NewMiddleware(tokens, nil, loader, nil)
	p, err := tokens.Issue(7)
	require.NoError(t, err)
	loader.On("LoadIdentity", mock.Anything, int64(7)).Return(nil, errors.New("connection refused"))

	var rec *httptest.ResponseRecorder
	require.NotPanics(t, func() { rec, _ = call(m.Authenticate(echoIdentity()), p.AccessToken) })
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestOptionalContinuesAnonymously(t *testing.T) {
	m, _, _, _ := setup(t)
	rec, _ := call(m.Optional(echoIdentity()), "garbage")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, _ = call(m.Optional(echoIdentity()), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequireRoles(t *testing.T) {
	m, tokens, loader, _ := setup(t)
	p, err := tokens.Issue(3)
	require.NoError(t, err)
	loader.On("LoadIdentity", mock.Anything, int64(3)).Return(&Identity{UserID: 3, Role: RoleViewer}, nil)

	h := m.Authenticate(RequireRoles(RoleAdmin, RoleEditor)(echoIdentity()))
	rec, body := call(h, p.AccessToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, api.CodeForbidden, body.Error.Code)

	rec, body = call(RequireRoles(RoleAdmin)(echoIdentity()), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, api.CodeUnauthorized, body.Error.Code)
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, BearerToken(req))
	req.Header.Set("Authorization", "bearer abc ")
	assert.Equal(t, "abc", BearerToken(req))
	req.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, BearerToken(req))
}
