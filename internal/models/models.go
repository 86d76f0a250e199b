package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Tenant status values.
const (
	TenantActive    = "active"
	TenantInactive  = "inactive"
	TenantSuspended = "suspended"
	TenantPending   = "pending"
)

// Module binding and system account status values.
const (
	ModuleActive   = "active"
	ModuleInactive = "inactive"

	AccountActive   = "active"
	AccountDisabled = "disabled"
	AccountLocked   = "locked"
	AccountPending  = "pending"
)

// Shared schema ---------------------------------------------------------------

type Tenant struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Domain      *string   `gorm:"uniqueIndex" json:"domain,omitempty"`
	SchemaName  string    `gorm:"uniqueIndex;not null;size:63" json:"schema_name"`
	PackageID   *string   `gorm:"type:uuid" json:"package_id,omitempty"`
	Status      string    `gorm:"not null;default:active;size:16" json:"status"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (t *Tenant) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// Module is a catalog entry a tenant can enable. The catalog itself is seeded.
type Module struct {
	ID   string `gorm:"type:uuid;primaryKey" json:"id"`
	Key  string `gorm:"uniqueIndex;not null" json:"key"`
	Name string `gorm:"not null" json:"name"`
}

func (m *Module) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

type TenantModule struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID  string    `gorm:"type:uuid;not null;uniqueIndex:idx_tenant_module" json:"tenant_id"`
	ModuleID  string    `gorm:"type:uuid;not null;uniqueIndex:idx_tenant_module" json:"module_id"`
	Status    string    `gorm:"not null;default:active;size:16" json:"status"`
	Settings  JSONB     `gorm:"type:jsonb;default:'{}'::jsonb" json:"settings"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SystemUser is an operator of the whole installation. It lives in the
// shared schema and is never tenant scoped.
type SystemUser struct {
	ID           string     `gorm:"type:uuid;primaryKey" json:"id"`
	Username     string     `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string     `gorm:"not null" json:"-"`
	Status       string     `gorm:"not null;default:active;size:16" json:"status"`
	Roles        StringList `gorm:"type:jsonb;default:'[]'::jsonb" json:"roles"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (u *SystemUser) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

type AuditLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID  *string   `gorm:"type:uuid;index" json:"tenant_id,omitempty"`
	UserID    *string   `gorm:"type:uuid;index" json:"user_id,omitempty"`
	Level     string    `gorm:"size:16" json:"level"`
	Action    string    `gorm:"not null" json:"action"`
	Metadata  JSONB     `gorm:"type:jsonb;default:'{}'::jsonb" json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// SharedModels are migrated once into the default schema.
func SharedModels() []any {
	return []any{&Tenant{}, &Module{}, &TenantModule{}, &SystemUser{}, &AuditLog{}}
}

// Tenant schema ---------------------------------------------------------------

type Permission struct {
	ID          string `gorm:"type:uuid;primaryKey" json:"id"`
	Key         string `gorm:"uniqueIndex;not null" json:"key"`
	Description string `json:"description"`
}

func (p *Permission) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

type Role struct {
	ID          string       `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string       `gorm:"uniqueIndex;not null" json:"name"`
	Description string       `json:"description"`
	Permissions []Permission `gorm:"many2many:role_permissions" json:"permissions"`
}

func (r *Role) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

type User struct {
	ID           string     `gorm:"type:uuid;primaryKey" json:"id"`
	Username     string     `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string     `gorm:"not null" json:"-"`
	IsActive     bool       `gorm:"not null;default:true" json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	Roles        []Role     `gorm:"many2many:user_roles" json:"roles"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// RoleNames returns the names of the user's loaded roles.
func (u *User) RoleNames() []string {
	out := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		out = append(out, r.Name)
	}
	return out
}

// TenantModels are migrated into every tenant schema.
func TenantModels() []any {
	return []any{&Permission{}, &Role{}, &User{}}
}
