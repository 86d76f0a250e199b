package auth

import (
	"context"
	"strings"
)

type userKey struct{}

// AuthUser is the identity of an authenticated request. It is rebuilt from
// the verified token on every request and never persisted.
type AuthUser struct {
	UserID      string   `json:"userId"`
	Username    string   `json:"username"`
	Level       Level    `json:"level"`
	TenantID    string   `json:"tenantId,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func (u AuthUser) HasRole(role string) bool {
	for _, r := range u.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether u holds at least one of roles.
func (u AuthUser) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if u.HasRole(role) {
			return true
		}
	}
	return false
}

func (u AuthUser) HasPermission(perm string) bool {
	for _, p := range u.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether u holds every one of perms.
func (u AuthUser) HasAllPermissions(perms ...string) bool {
	for _, p := range perms {
		if !u.HasPermission(p) {
			return false
		}
	}
	return true
}

func WithUser(ctx context.Context, u AuthUser) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

func FromContext(ctx context.Context) (AuthUser, bool) {
	u, ok := ctx.Value(userKey{}).(AuthUser)
	return u, ok
}

func Subject(ctx context.Context) string {
	u, _ := FromContext(ctx)
	return u.UserID
}
