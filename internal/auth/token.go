// Package auth issues and verifies HS256 access/refresh tokens and gates HTTP routes on them.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hanfour/zeyang-construction-sub000/pkg/utilities"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("invalid token")
)

// Claims is the payload of both token kinds.
type Claims struct {
	UserID int64 `json:"userId"`
	jwt.RegisteredClaims
}

type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Audience      string
}

// TokenService signs tokens with separate secrets for access and refresh.
type TokenService struct {
	cfg TokenConfig
	now func() time.Time
}

func NewTokenService(cfg TokenConfig) *TokenService {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 24 * time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "EstateHub"
	}
	if cfg.Audience == "" {
		cfg.Audience = "estatehub-users"
	}
	return &TokenService{cfg: cfg, now: time.Now}
}

// Pair is a freshly issued access/refresh token pair.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessJTI        string
	RefreshJTI       string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Issue signs a new pair for userID.
func (s *TokenService) Issue(userID int64) (Pair, error) {
	now := s.now()
	p := Pair{
		AccessJTI:        utilities.NewKSUID(),
		RefreshJTI:       utilities.NewKSUID(),
		AccessExpiresAt:  now.Add(s.cfg.AccessTTL),
		RefreshExpiresAt: now.Add(s.cfg.RefreshTTL),
	}
	var err error
	if p.AccessToken, err = s.sign(userID, p.AccessJTI, now, p.AccessExpiresAt, s.cfg.AccessSecret); err != nil {
		return Pair{}, fmt.Errorf("sign access token: %w", err)
	}
	if p.RefreshToken, err = s.sign(userID, p.RefreshJTI, now, p.RefreshExpiresAt, s.cfg.RefreshSecret); err != nil {
		return Pair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return p, nil
}

func (s *TokenService) sign(userID int64, jti string, iat, exp time.Time, secret string) (string, error) {
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    s.cfg.Issuer,
			Audience:  jwt.ClaimStrings{s.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseAccess verifies an access token. Errors are ErrTokenExpired or ErrTokenInvalid.
func (s *TokenService) ParseAccess(token string) (*Claims, error) {
	return s.parse(token, s.cfg.AccessSecret)
}

// ParseRefresh verifies a refresh token against the refresh secret.
func (s *TokenService) ParseRefresh(token string) (*Claims, error) {
	return s.parse(token, s.cfg.RefreshSecret)
}

func (s *TokenService) parse(token, secret string) (*Claims, error) {
	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	var claims Claims
	_, err := p.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	default:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.UserID <= 0 || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing userId or jti", ErrTokenInvalid)
	}
	return &claims, nil
}
