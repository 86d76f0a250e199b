package auth

import (
	"fmt"
	"strings"
)

// Level is the authentication tier of an identity.
type Level string

const (
	LevelSystem      Level = "system"
	LevelTenantAdmin Level = "tenant_admin"
	LevelTenant      Level = "tenant"
	LevelUser        Level = "user"
)

func (l Level) rank() int {
	switch l {
	case LevelSystem:
		return 4
	case LevelTenantAdmin:
		return 3
	case LevelTenant:
		return 2
	case LevelUser:
		return 1
	default:
		return 0
	}
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool { return l.rank() > 0 }

// Satisfies reports whether an identity at level l may use a route that
// requires the given level. The check is hierarchical: system satisfies
// everything, user satisfies only user. An empty requirement is satisfied by
// any valid level; an unknown requirement is satisfied by none.
func (l Level) Satisfies(required Level) bool {
	if !l.Valid() {
		return false
	}
	if required == "" {
		return true
	}
	if !required.Valid() {
		return false
	}
	return l.rank() >= required.rank()
}

// TenantScoped reports whether identities at this level belong to a tenant.
func (l Level) TenantScoped() bool {
	return l.Valid() && l != LevelSystem
}

// ParseLevel parses a level name.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("unknown level %q", s)
	}
	return l, nil
}
