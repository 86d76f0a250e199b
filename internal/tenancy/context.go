// Package tenancy resolves the tenant of a request and scopes storage to the
// tenant's schema for the lifetime of that request.
package tenancy

import (
	"context"

	"gorm.io/gorm"

	"backoffice/internal/models"
)

type scopeKey struct{}

// Scope is the per-request tenant context. DB is nil until Resolver.Bind
// runs; it is then pinned to a single pooled connection whose search_path
// points at the tenant schema and must not be used after the request
// completes.
type Scope struct {
	Tenant *models.Tenant
	DB     *gorm.DB
}

func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	return s, ok && s.Tenant != nil
}

// TenantFrom returns the resolved tenant, or nil on the shared context.
func TenantFrom(ctx context.Context) *models.Tenant {
	s, _ := FromContext(ctx)
	return s.Tenant
}

// TenantID reports the id of the resolved tenant.
func TenantID(ctx context.Context) (string, bool) {
	if t := TenantFrom(ctx); t != nil {
		return t.ID, true
	}
	return "", false
}

// DB returns the tenant-scoped handle of the request, or fallback bound to
// ctx when no tenant was resolved.
func DB(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if s, ok := FromContext(ctx); ok && s.DB != nil {
		return s.DB.WithContext(ctx)
	}
	return fallback.WithContext(ctx)
}
