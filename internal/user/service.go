package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/hanfour/zeyang-construction-sub000/internal/api"
	"github.com/hanfour/zeyang-construction-sub000/internal/auth"
	"github.com/hanfour/zeyang-construction-sub000/internal/user/entity"
	"github.com/hanfour/zeyang-construction-sub000/pkg/database"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
	NeedsRehash(hash string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) cost() int {
	if b.Cost == 0 {
		return 10
	}
	return b.Cost
}

func (b BcryptHasher) Hash(pw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), b.cost())
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// NeedsRehash is true when the stored hash was produced with a different cost.
func (b BcryptHasher) NeedsRehash(hash string) bool {
	c, err := bcrypt.Cost([]byte(hash))
	return err == nil && c != b.cost()
}

// Store is the persistence the service needs; *repo.UserRepo satisfies it.
type Store interface {
	Create(ctx context.Context, u *entity.User) (int64, error)
	GetActiveByLogin(ctx context.Context, login string) (*entity.User, error)
	GetByID(ctx context.Context, id int64) (*entity.User, error)
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
	TouchLogin(ctx context.Context, id int64) error
	UpdatePassword(ctx context.Context, id int64, hash string) error
}

// SessionStore tracks live refresh tokens; *authrepo.SessionRepo satisfies it.
type SessionStore interface {
	Save(ctx context.Context, jti string, userID int64, expiresAt time.Time) error
	Consume(ctx context.Context, jti string, userID int64) (bool, error)
	Delete(ctx context.Context, jti string) error
	DeleteByUser(ctx context.Context, userID int64) error
}

var (
	ErrBadCredentials   = errors.New("invalid credentials")
	ErrAlreadyExists    = errors.New("user already exists")
	ErrInvalidRefresh   = errors.New("invalid or expired refresh token")
	ErrUserNotFound     = errors.New("user not found")
	ErrWrongPassword    = errors.New("current password is incorrect")
	ErrWeakPassword     = errors.New("password does not meet policy")
	ErrMissingRefresh   = errors.New("refresh token required")
	errSessionNotIssued = errors.New("refresh session not stored")
)

// UserService orchestrates authentication and user lifecycle flows.
type UserService struct {
	repo     Store
	sessions SessionStore
	tokens   *auth.TokenService
	revoker  auth.Revoker
	hasher   PasswordHasher
	logger   *zap.SugaredLogger
}

func NewUserService(repo Store, sessions SessionStore, tokens *auth.TokenService, revoker auth.Revoker, hasher PasswordHasher, logger *zap.SugaredLogger) *UserService {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 10}
	}
	if revoker == nil {
		revoker = auth.NewMemoryRevoker()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &UserService{repo: repo, sessions: sessions, tokens: tokens, revoker: revoker, hasher: hasher, logger: logger}
}

// AuthResult is returned by login and registration.
type AuthResult struct {
	User         entity.AuthView `json:"user"`
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
}

// Tokens is returned by refresh.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Login authenticates by username or email. Unknown user and wrong password are indistinguishable.
func (s *UserService) Login(ctx context.Context, login, password string) (*AuthResult, error) {
	login = strings.TrimSpace(login)
	if login == "" {
		return nil, ErrBadCredentials
	}
	u, err := s.repo.GetActiveByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBadCredentials
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !s.hasher.Verify(u.PasswordHash, password) {
		return nil, ErrBadCredentials
	}

	pair, err := s.issue(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.TouchLogin(ctx, u.ID); err != nil {
		return nil, fmt.Errorf("touch login: %w", err)
	}
	if s.hasher.NeedsRehash(u.PasswordHash) {
		h, err := s.hasher.Hash(password)
		if err == nil {
			err = s.repo.UpdatePassword(ctx, u.ID, h)
		}
		if err != nil {
			s.logger.Warnw("password rehash failed", "user_id", u.ID, "err", err)
		}
	}
	s.logger.Infow("user login successful", "user_id", u.ID, "username", u.Username)
	return &AuthResult{User: u.AuthView(), AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}, nil
}

// Register creates a viewer account and signs it in.
func (s *UserService) Register(ctx context.Context, username, email, password string) (*AuthResult, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if !api.StrongPassword(password) {
		return nil, ErrWeakPassword
	}
	exists, err := s.repo.ExistsByUsernameOrEmail(ctx, username, email)
	if err != nil {
		return nil, fmt.Errorf("check user: %w", err)
	}
	if exists {
		return nil, ErrAlreadyExists
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &entity.User{Username: username, Email: email, PasswordHash: hash, Role: auth.RoleViewer, IsActive: true}
	if _, err := s.repo.Create(ctx, u); err != nil {
		if database.IsDuplicateKey(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	pair, err := s.issue(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("new user registered", "user_id", u.ID, "username", username)
	return &AuthResult{User: u.AuthView(), AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}, nil
}

// Refresh exchanges a refresh token for a new pair. The consumed token cannot be reused.
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	if refreshToken == "" {
		return nil, ErrMissingRefresh
	}
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidRefresh
	}
	u, err := s.repo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidRefresh
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !u.IsActive {
		return nil, ErrInvalidRefresh
	}
	ok, err := s.sessions.Consume(ctx, claims.ID, u.ID)
	if err != nil {
		return nil, fmt.Errorf("consume refresh session: %w", err)
	}
	if !ok {
		s.logger.Warnw("refresh token reuse or unknown session", "user_id", u.ID, "jti", claims.ID)
		return nil, ErrInvalidRefresh
	}
	pair, err := s.issue(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return &Tokens{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}, nil
}

// Logout revokes the presented access token and, when given, the caller's refresh session.
func (s *UserService) Logout(ctx context.Context, id *auth.Identity, refreshToken string) error {
	if ttl := time.Until(id.ExpiresAt); ttl > 0 {
		if err := s.revoker.Revoke(ctx, id.JTI, ttl); err != nil {
			return fmt.Errorf("revoke access token: %w", err)
		}
	}
	if refreshToken != "" {
		if claims, err := s.tokens.ParseRefresh(refreshToken); err == nil && claims.UserID == id.UserID {
			if err := s.sessions.Delete(ctx, claims.ID); err != nil {
				return fmt.Errorf("delete refresh session: %w", err)
			}
		}
	}
	s.logger.Infow("user logout", "user_id", id.UserID)
	return nil
}

// ChangePassword verifies the current password, stores the new hash and ends every refresh session.
func (s *UserService) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("find user: %w", err)
	}
	if !s.hasher.Verify(u.PasswordHash, current) {
		return ErrWrongPassword
	}
	if !api.StrongPassword(next) {
		return ErrWeakPassword
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := s.sessions.DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	s.logger.Infow("password changed", "user_id", userID)
	return nil
}

// Me returns the caller's profile without the password hash.
func (s *UserService) Me(ctx context.Context, userID int64) (*entity.Profile, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	p := u.Profile()
	return &p, nil
}

// LoadIdentity implements auth.IdentityLoader.
func (s *UserService) LoadIdentity(ctx context.Context, userID int64) (*auth.Identity, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrUnknownUser
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, auth.ErrUnknownUser
	}
	return &auth.Identity{UserID: u.ID, Username: u.Username, Email: u.Email, Role: u.Role}, nil
}

func (s *UserService) issue(ctx context.Context, userID int64) (auth.Pair, error) {
	pair, err := s.tokens.Issue(userID)
	if err != nil {
		return auth.Pair{}, err
	}
	if err := s.sessions.Save(ctx, pair.RefreshJTI, userID, pair.RefreshExpiresAt); err != nil {
		return auth.Pair{}, fmt.Errorf("%w: %v", errSessionNotIssued, err)
	}
	return pair, nil
}
