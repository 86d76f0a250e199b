package auth

import (
	"net/http"
	"regexp"
	"sort"
	"strings"

	"backoffice/internal/models"
)

// Role and permission names with special meaning to the pipeline.
const (
	RoleAdmin       = "admin"
	RoleSuperAdmin  = "super_admin"
	RoleTenantAdmin = "tenant_admin"
	PermTenantAdmin = "tenant.admin"
	ActionRead      = "read"
	ActionCreate    = "create"
	ActionUpdate    = "update"
	ActionDelete    = "delete"
)

// TenantScopedResources are resources a tenant administrator manages without
// holding the individual derived permission.
var TenantScopedResources = map[string]bool{
	"users":       true,
	"roles":       true,
	"permissions": true,
	"modules":     true,
	"settings":    true,
	"audit-logs":  true,
}

var versionSegment = regexp.MustCompile(`^v[0-9]+$`)

// FlattenPermissions returns the sorted union of the permissions of roles.
func FlattenPermissions(roles []models.Role) []string {
	seen := make(map[string]struct{})
	for _, r := range roles {
		for _, p := range r.Permissions {
			if p.Key != "" {
				seen[p.Key] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsTenantAdmin reports whether roles or permissions carry the tenant
// administration marker.
func IsTenantAdmin(roles, perms []string) bool {
	for _, r := range roles {
		if strings.EqualFold(r, RoleTenantAdmin) || strings.EqualFold(r, RoleAdmin) {
			return true
		}
	}
	for _, p := range perms {
		if p == PermTenantAdmin {
			return true
		}
	}
	return false
}

// DerivePermission maps an HTTP method and path to a `<resource>:<action>`
// permission. The resource is the first path segment after an optional "api"
// prefix and version segment.
func DerivePermission(method, path string) (string, bool) {
	var action string
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead:
		action = ActionRead
	case http.MethodPost:
		action = ActionCreate
	case http.MethodPut, http.MethodPatch:
		action = ActionUpdate
	case http.MethodDelete:
		action = ActionDelete
	default:
		return "", false
	}
	resource := resourceOf(path)
	if resource == "" {
		return "", false
	}
	return resource + ":" + action, true
}

func resourceOf(path string) string {
	for _, seg := range strings.Split(path, "/") {
		seg = strings.ToLower(strings.TrimSpace(seg))
		if seg == "" || seg == "api" || versionSegment.MatchString(seg) {
			continue
		}
		return seg
	}
	return ""
}

// derivedCheckExempt reports whether u skips the derived permission check for
// the given resource.
func derivedCheckExempt(u AuthUser, resource string) bool {
	if u.Level == LevelSystem && u.HasAnyRole(RoleAdmin, RoleSuperAdmin) {
		return true
	}
	if u.Level == LevelTenantAdmin && u.HasRole(RoleTenantAdmin) && TenantScopedResources[resource] {
		return true
	}
	return false
}
