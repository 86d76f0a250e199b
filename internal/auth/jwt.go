package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"backoffice/internal/ids"
)

const (
	defaultAccessTTL  = 24 * time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired and ErrTokenMalformed both match ErrInvalidToken.
	ErrTokenExpired   = fmt.Errorf("%w: token expired", ErrInvalidToken)
	ErrTokenMalformed = fmt.Errorf("%w: malformed token", ErrInvalidToken)
)

// Claims is the signed token payload.
type Claims struct {
	Username    string    `json:"username"`
	Level       Level     `json:"level"`
	TenantID    string    `json:"tenant_id,omitempty"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
	Type        TokenKind `json:"type"`
	jwt.RegisteredClaims
}

// AuthUser converts verified claims into a request identity.
func (c *Claims) AuthUser() AuthUser {
	return AuthUser{
		UserID:      c.Subject,
		Username:    c.Username,
		Level:       c.Level,
		TenantID:    c.TenantID,
		Roles:       append([]string(nil), c.Roles...),
		Permissions: append([]string(nil), c.Permissions...),
	}
}

// TokenPair is an access token together with its refresh token.
type TokenPair struct {
	AccessToken      string    `json:"token"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"expiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// TokenService signs and verifies HS256 tokens. Access and refresh tokens use
// different secrets so one can never stand in for the other.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
}

type TokenOption func(*TokenService)

func WithAccessTTL(d time.Duration) TokenOption {
	return func(s *TokenService) {
		if d > 0 {
			s.accessTTL = d
		}
	}
}

func WithRefreshTTL(d time.Duration) TokenOption {
	return func(s *TokenService) {
		if d > 0 {
			s.refreshTTL = d
		}
	}
}

func WithIssuer(iss string) TokenOption {
	return func(s *TokenService) { s.issuer = strings.TrimSpace(iss) }
}

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewTokenService(accessSecret, refreshSecret string, opts ...TokenOption) (*TokenService, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("token service: access and refresh secrets are required")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("token service: access and refresh secrets must differ")
	}
	s := &TokenService{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *TokenService) secret(kind TokenKind) []byte {
	if kind == RefreshToken {
		return s.refreshSecret
	}
	return s.accessSecret
}

func (s *TokenService) ttl(kind TokenKind) time.Duration {
	if kind == RefreshToken {
		return s.refreshTTL
	}
	return s.accessTTL
}

func (s *TokenService) issue(u AuthUser, kind TokenKind) (string, time.Time, error) {
	if strings.TrimSpace(u.UserID) == "" {
		return "", time.Time{}, errors.New("issue token: user id is required")
	}
	if !u.Level.Valid() {
		return "", time.Time{}, fmt.Errorf("issue token: invalid level %q", u.Level)
	}
	now := s.now().UTC()
	exp := now.Add(s.ttl(kind))
	claims := Claims{
		Username:    u.Username,
		Level:       u.Level,
		TenantID:    u.TenantID,
		Roles:       u.Roles,
		Permissions: u.Permissions,
		Type:        kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   u.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        ids.New(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret(kind))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, exp, nil
}

// IssueAccess signs an access token for u.
func (s *TokenService) IssueAccess(u AuthUser) (string, time.Time, error) {
	return s.issue(u, AccessToken)
}

// IssueRefresh signs a refresh token for u.
func (s *TokenService) IssueRefresh(u AuthUser) (string, time.Time, error) {
	return s.issue(u, RefreshToken)
}

// IssuePair mints an access and a refresh token carrying the same identity.
func (s *TokenService) IssuePair(u AuthUser) (TokenPair, error) {
	access, accessExp, err := s.IssueAccess(u)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.IssueRefresh(u)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Verify checks signature, expiry and token type. Failures are ErrTokenExpired
// or ErrTokenMalformed.
func (s *TokenService) Verify(token string, kind TokenKind) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMalformed
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret(kind), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}
	if !tok.Valid || claims.Type != kind {
		return nil, ErrTokenMalformed
	}
	if strings.TrimSpace(claims.Subject) == "" || !claims.Level.Valid() {
		return nil, ErrTokenMalformed
	}
	if claims.Level.TenantScoped() && claims.TenantID == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}
