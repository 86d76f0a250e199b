package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestTokens(t *testing.T, opts ...TokenOption) *TokenService {
	t.Helper()
	svc, err := NewTokenService("access-secret", "refresh-secret", opts...)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return svc
}

func tenantUser() AuthUser {
	return AuthUser{
		UserID:      "u-1",
		Username:    "alice",
		Level:       LevelUser,
		TenantID:    "t-1",
		Roles:       []string{"user"},
		Permissions: []string{"users:read"},
	}
}

func TestTokenRoundTrip(t *testing.T) {
	svc := newTestTokens(t)
	pair, err := svc.IssuePair(tenantUser())
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	claims, err := svc.Verify(pair.AccessToken, AccessToken)
	if err != nil {
		t.Fatalf("Verify access: %v", err)
	}
	got := claims.AuthUser()
	if got.UserID != "u-1" || got.Username != "alice" || got.Level != LevelUser || got.TenantID != "t-1" {
		t.Fatalf("unexpected identity %+v", got)
	}
	if !got.HasPermission("users:read") {
		t.Fatalf("permissions lost: %v", got.Permissions)
	}
	if claims.ID == "" {
		t.Fatal("expected jti")
	}
	if _, err := svc.Verify(pair.RefreshToken, RefreshToken); err != nil {
		t.Fatalf("Verify refresh: %v", err)
	}
	if !pair.RefreshExpiresAt.After(pair.AccessExpiresAt) {
		t.Fatal("refresh token should outlive access token")
	}
}

func TestTokenWrongSecret(t *testing.T) {
	a := newTestTokens(t)
	b, err := NewTokenService("other-access", "other-refresh")
	if err != nil {
		t.Fatal(err)
	}
	tok, _, err := a.IssueAccess(tenantUser())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Verify(tok, AccessToken); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected malformed, got %v", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokens(t, WithAccessTTL(time.Minute), WithClock(func() time.Time { return now }))
	tok, exp, err := svc.IssueAccess(tenantUser())
	if err != nil {
		t.Fatal(err)
	}
	if !exp.Equal(now.Add(time.Minute)) {
		t.Fatalf("exp = %v", exp)
	}
	now = now.Add(2 * time.Minute)
	_, err = svc.Verify(tok, AccessToken)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatal("expired should match ErrInvalidToken")
	}
}

func TestTokenKindsDoNotCross(t *testing.T) {
	svc := newTestTokens(t)
	pair, err := svc.IssuePair(tenantUser())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Verify(pair.RefreshToken, AccessToken); err == nil {
		t.Fatal("refresh token accepted as access token")
	}
	if _, err := svc.Verify(pair.AccessToken, RefreshToken); err == nil {
		t.Fatal("access token accepted as refresh token")
	}
}

func TestTokenRejectsGarbage(t *testing.T) {
	svc := newTestTokens(t)
	for _, tok := range []string{"", "abc", strings.Repeat("x", 40) + ".y.z"} {
		if _, err := svc.Verify(tok, AccessToken); !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("Verify(%q) = %v", tok, err)
		}
	}
}

func TestIssueRequiresTenantForScopedLevels(t *testing.T) {
	svc := newTestTokens(t)
	u := tenantUser()
	u.TenantID = ""
	tok, _, err := svc.IssueAccess(u)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Verify(tok, AccessToken); err == nil {
		t.Fatal("tenant-scoped token without tenant id verified")
	}
}

func TestNewTokenServiceRejectsSharedSecret(t *testing.T) {
	if _, err := NewTokenService("same", "same"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := NewTokenService("", "x"); err == nil {
		t.Fatal("expected error")
	}
}
