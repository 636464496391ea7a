package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hanfour/zeyang-construction-sub000/internal/api"
)

// ErrUnknownUser is returned by an IdentityLoader for missing or inactive users.
var ErrUnknownUser = errors.New("user not found or inactive")

// IdentityLoader resolves the active user behind a verified token.
type IdentityLoader interface {
	LoadIdentity(ctx context.Context, userID int64) (*Identity, error)
}

// Middleware verifies bearer tokens and attaches the caller's Identity.
type Middleware struct {
	tokens  *TokenService
	revoker Revoker
	users   IdentityLoader
	logger  *zap.SugaredLogger
}

func NewMiddleware(tokens *TokenService, revoker Revoker, users IdentityLoader, logger *zap.SugaredLogger) *Middleware {
	if revoker == nil {
		revoker = NewMemoryRevoker()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Middleware{tokens: tokens, revoker: revoker, users: users, logger: logger}
}

type authFailure struct {
	status  int
	code    string
	message string
}

func (f *authFailure) write(w http.ResponseWriter) { api.Fail(w, f.status, f.code, f.message) }

func (m *Middleware) verify(ctx context.Context, token string) (*Identity, *authFailure) {
	claims, err := m.tokens.ParseAccess(token)
	switch {
	case errors.Is(err, ErrTokenExpired):
		return nil, &authFailure{http.StatusUnauthorized, api.CodeTokenExpired, "Token has expired"}
	case err != nil:
		return nil, &authFailure{http.StatusUnauthorized, api.CodeInvalidToken, "Invalid token"}
	}
	revoked, err := m.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		m.logger.Errorw("revocation lookup failed", "err", err)
		return nil, &authFailure{http.StatusInternalServerError, api.CodeInternal, "Token verification failed"}
	}
	if revoked {
		return nil, &authFailure{http.StatusUnauthorized, api.CodeInvalidToken, "Invalid token"}
	}
	id, err := m.users.LoadIdentity(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUnknownUser) {
			return nil, &authFailure{http.StatusUnauthorized, api.CodeUnauthorized, "Invalid token or user not found"}
		}
		m.logger.Errorw("identity lookup failed", "user_id", claims.UserID, "err", err)
		return nil, &authFailure{http.StatusInternalServerError, api.CodeInternal, "Token verification failed"}
	}
	id.JTI = claims.ID
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// Authenticate rejects requests without a valid bearer token.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			api.Fail(w, http.StatusUnauthorized, api.CodeUnauthorized, "Access token required")
			return
		}
		id, fail := m.verify(r.Context(), token)
		if fail != nil {
			fail.write(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// Optional attaches the identity when a valid token is present and otherwise continues anonymously.
func (m *Middleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := BearerToken(r); token != "" {
			if id, fail := m.verify(r.Context(), token); fail == nil {
				r = r.WithContext(WithIdentity(r.Context(), id))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRoles must run after Authenticate.
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok {
				api.Fail(w, http.StatusUnauthorized, api.CodeUnauthorized, "Authentication required")
				return
			}
			if !id.HasRole(roles...) {
				api.Fail(w, http.StatusForbidden, api.CodeForbidden, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
