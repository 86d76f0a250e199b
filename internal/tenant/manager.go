// Package tenant provisions tenants: one row in the shared schema plus one
// PostgreSQL schema holding the tenant's users, roles and permissions.
package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"backoffice/internal/apperr"
	"backoffice/internal/auth"
	"backoffice/internal/ids"
	"backoffice/internal/models"
	"backoffice/internal/tenancy"
)

const pgErrUniqueViolation = "23505"

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// SchemaName derives the schema of a tenant from its display name.
func SchemaName(name string) string {
	slug := strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(name), "_"), "_")
	s := "tenant_" + slug
	if len(s) > 63 {
		s = strings.TrimRight(s[:63], "_")
	}
	return s
}

func validStatus(s string) bool {
	switch s {
	case models.TenantActive, models.TenantInactive, models.TenantSuspended, models.TenantPending:
		return true
	}
	return false
}

// parseID rejects ids that cannot name a row before they reach a uuid column.
func parseID(what, id string) (string, error) {
	v, ok := ids.ParseUUID(id)
	if !ok {
		return "", apperr.E(apperr.BadRequest, "invalid "+what+" id")
	}
	return v, nil
}

// optionalID validates an optional uuid reference; an empty value clears it.
func optionalID(what string, id *string) (*string, error) {
	if id == nil || strings.TrimSpace(*id) == "" {
		return nil, nil
	}
	v, err := parseID(what, strings.TrimSpace(*id))
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}

type Manager struct {
	db *gorm.DB
	lg *zap.SugaredLogger
}

func NewManager(db *gorm.DB, lg *zap.SugaredLogger) *Manager {
	if lg == nil {
		lg = zap.NewNop().Sugar()
	}
	return &Manager{db: db, lg: lg}
}

type CreateInput struct {
	Name        string  `json:"name"`
	Domain      *string `json:"domain"`
	PackageID   *string `json:"packageId"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
}

// defaultPermissions are seeded into every new tenant schema and granted to
// the tenant_admin role.
var defaultPermissions = []models.Permission{
	{Key: auth.PermTenantAdmin, Description: "administer the tenant"},
	{Key: "users:read", Description: "list users"},
	{Key: "users:create", Description: "create users"},
	{Key: "users:update", Description: "update users"},
	{Key: "users:delete", Description: "delete users"},
	{Key: "roles:read", Description: "list roles"},
	{Key: "roles:create", Description: "create roles"},
	{Key: "roles:update", Description: "update roles"},
	{Key: "roles:delete", Description: "delete roles"},
}

func normalizeDomain(d *string) *string {
	if d == nil {
		return nil
	}
	v := strings.ToLower(strings.TrimSpace(*d))
	if v == "" {
		return nil
	}
	return &v
}

func (m *Manager) domainTaken(ctx context.Context, domain, exceptID string) (bool, error) {
	var n int64
	q := m.db.WithContext(ctx).Model(&models.Tenant{}).Where("domain = ?", domain)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Count(&n).Error; err != nil {
		return false, fmt.Errorf("check domain: %w", err)
	}
	return n > 0, nil
}

// Create registers a tenant and provisions its schema in one transaction.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*models.Tenant, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.E(apperr.BadRequest, "name is required")
	}
	status := in.Status
	if status == "" {
		status = models.TenantActive
	}
	if !validStatus(status) {
		return nil, apperr.E(apperr.BadRequest, "invalid status")
	}
	schema := SchemaName(name)
	if !tenancy.ValidSchemaName(schema) || schema == "tenant_" {
		return nil, apperr.E(apperr.BadRequest, "name does not yield a valid schema name")
	}
	domain := normalizeDomain(in.Domain)
	packageID, err := optionalID("package", in.PackageID)
	if err != nil {
		return nil, err
	}

	var n int64
	if err := m.db.WithContext(ctx).Model(&models.Tenant{}).Where("schema_name = ?", schema).Count(&n).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, "check schema", err)
	}
	if n > 0 {
		return nil, apperr.E(apperr.Conflict, fmt.Sprintf("schema %s already exists", schema))
	}
	if domain != nil {
		taken, err := m.domainTaken(ctx, *domain, "")
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "check domain", err)
		}
		if taken {
			return nil, apperr.E(apperr.Conflict, fmt.Sprintf("domain %s already in use", *domain))
		}
	}
	exists, err := m.SchemaExists(ctx, schema)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "check schema", err)
	}
	if exists {
		return nil, apperr.E(apperr.Conflict, fmt.Sprintf("schema %s already exists", schema))
	}

	t := &models.Tenant{
		Name:        name,
		Domain:      domain,
		SchemaName:  schema,
		PackageID:   packageID,
		Status:      status,
		Description: in.Description,
	}
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(t).Error; err != nil {
			return fmt.Errorf("insert tenant: %w", err)
		}
		return provision(tx, schema)
	})
	if err != nil {
		m.lg.Errorw("tenant create failed", "name", name, "schema", schema, "err", err)
		if isUniqueViolation(err) {
			return nil, apperr.Wrap(apperr.Conflict, "tenant already exists", err)
		}
		return nil, apperr.Wrap(apperr.BadRequest, "tenant creation failed", err)
	}
	m.lg.Infow("tenant created", "tenant", t.ID, "schema", schema)
	return t, nil
}

// provision creates and migrates schema inside tx and seeds the default
// roles. search_path reverts when tx ends.
func provision(tx *gorm.DB, schema string) error {
	quoted, err := tenancy.QuoteSchema(schema)
	if err != nil {
		return err
	}
	if err := tx.Exec("CREATE SCHEMA " + quoted).Error; err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if err := tx.Exec("SET LOCAL search_path TO " + quoted + ", public").Error; err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}
	if err := tx.AutoMigrate(models.TenantModels()...); err != nil {
		return fmt.Errorf("migrate tenant schema: %w", err)
	}

	perms := make([]models.Permission, len(defaultPermissions))
	copy(perms, defaultPermissions)
	if err := tx.Create(&perms).Error; err != nil {
		return fmt.Errorf("seed permissions: %w", err)
	}
	roles := []models.Role{
		{Name: auth.RoleTenantAdmin, Description: "tenant administrator", Permissions: perms},
		{Name: "user", Description: "regular user"},
	}
	if err := tx.Create(&roles).Error; err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}
	return nil
}

func (m *Manager) Get(ctx context.Context, id string) (*models.Tenant, error) {
	id, err := parseID("tenant", id)
	if err != nil {
		return nil, err
	}
	var t models.Tenant
	err = m.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.E(apperr.NotFound, "tenant not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "load tenant", err)
	}
	return &t, nil
}

// List returns tenants ordered by creation, optionally filtered by status.
func (m *Manager) List(ctx context.Context, status string) ([]models.Tenant, error) {
	q := m.db.WithContext(ctx).Order("created_at")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []models.Tenant
	if err := q.Find(&out).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list tenants", err)
	}
	return out, nil
}

// SchemaExists asks the catalog whether schema exists.
func (m *Manager) SchemaExists(ctx context.Context, schema string) (bool, error) {
	var exists bool
	err := m.db.WithContext(ctx).
		Raw("SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = ?)", schema).
		Scan(&exists).Error
	if err != nil {
		return false, fmt.Errorf("schema exists: %w", err)
	}
	return exists, nil
}

type SchemaCheck struct {
	Schema   string `json:"schema"`
	Exists   bool   `json:"exists"`
	TenantID string `json:"tenantId,omitempty"`
}

// CheckSchema reports whether schema exists and which tenant owns it.
func (m *Manager) CheckSchema(ctx context.Context, schema string) (SchemaCheck, error) {
	out := SchemaCheck{Schema: schema}
	if !tenancy.ValidSchemaName(schema) {
		return out, apperr.E(apperr.BadRequest, "invalid schema name")
	}
	exists, err := m.SchemaExists(ctx, schema)
	if err != nil {
		return out, apperr.Wrap(apperr.Internal, "check schema", err)
	}
	out.Exists = exists
	var t models.Tenant
	err = m.db.WithContext(ctx).Where("schema_name = ?", schema).First(&t).Error
	switch {
	case err == nil:
		out.TenantID = t.ID
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return out, apperr.Wrap(apperr.Internal, "check schema", err)
	}
	return out, nil
}

type UpdateInput struct {
	Name        *string `json:"name"`
	Domain      *string `json:"domain"`
	PackageID   *string `json:"packageId"`
	Description *string `json:"description"`
}

// Update changes editable fields. The schema name never changes.
func (m *Manager) Update(ctx context.Context, id string, in UpdateInput) (*models.Tenant, error) {
	t, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	changes := map[string]any{}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperr.E(apperr.BadRequest, "name must not be empty")
		}
		changes["name"] = name
	}
	if in.Domain != nil {
		domain := normalizeDomain(in.Domain)
		if domain != nil && (t.Domain == nil || *t.Domain != *domain) {
			taken, err := m.domainTaken(ctx, *domain, t.ID)
			if err != nil {
				return nil, apperr.Wrap(apperr.Internal, "check domain", err)
			}
			if taken {
				return nil, apperr.E(apperr.Conflict, fmt.Sprintf("domain %s already in use", *domain))
			}
		}
		changes["domain"] = domain
	}
	if in.PackageID != nil {
		packageID, err := optionalID("package", in.PackageID)
		if err != nil {
			return nil, err
		}
		changes["package_id"] = packageID
	}
	if in.Description != nil {
		changes["description"] = *in.Description
	}
	if len(changes) == 0 {
		return t, nil
	}
	if err := m.db.WithContext(ctx).Model(t).Updates(changes).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Wrap(apperr.Conflict, "domain already in use", err)
		}
		return nil, apperr.Wrap(apperr.Internal, "update tenant", err)
	}
	return m.Get(ctx, id)
}

func (m *Manager) ChangeStatus(ctx context.Context, id, status string) (*models.Tenant, error) {
	if !validStatus(status) {
		return nil, apperr.E(apperr.BadRequest, "invalid status")
	}
	t, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == status {
		return t, nil
	}
	if err := m.db.WithContext(ctx).Model(t).Update("status", status).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, "update tenant status", err)
	}
	t.Status = status
	m.lg.Infow("tenant status changed", "tenant", id, "status", status)
	return t, nil
}

// Remove drops the tenant schema with everything in it, the module bindings
// and the tenant row, all or nothing.
func (m *Manager) Remove(ctx context.Context, id string) error {
	t, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	quoted, err := tenancy.QuoteSchema(t.SchemaName)
	if err != nil {
		return apperr.Wrap(apperr.BadRequest, "tenant removal failed", err)
	}
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DROP SCHEMA IF EXISTS " + quoted + " CASCADE").Error; err != nil {
			return fmt.Errorf("drop schema: %w", err)
		}
		if err := tx.Where("tenant_id = ?", t.ID).Delete(&models.TenantModule{}).Error; err != nil {
			return fmt.Errorf("delete module bindings: %w", err)
		}
		if err := tx.Delete(&models.Tenant{}, "id = ?", t.ID).Error; err != nil {
			return fmt.Errorf("delete tenant: %w", err)
		}
		return nil
	})
	if err != nil {
		m.lg.Errorw("tenant removal failed", "tenant", id, "schema", t.SchemaName, "err", err)
		return apperr.Wrap(apperr.BadRequest, "tenant removal failed", err)
	}
	m.lg.Infow("tenant removed", "tenant", id, "schema", t.SchemaName)
	return nil
}

// ActivateModule binds a catalog module to a tenant. Repeating the call
// updates status and settings of the existing binding.
func (m *Manager) ActivateModule(ctx context.Context, tenantID, moduleID, status string, settings json.RawMessage) (*models.TenantModule, error) {
	if status == "" {
		status = models.ModuleActive
	}
	if status != models.ModuleActive && status != models.ModuleInactive {
		return nil, apperr.E(apperr.BadRequest, "invalid module status")
	}
	if len(settings) == 0 {
		settings = json.RawMessage("{}")
	}
	if !json.Valid(settings) {
		return nil, apperr.E(apperr.BadRequest, "settings must be valid JSON")
	}
	tenantID, err := parseID("tenant", tenantID)
	if err != nil {
		return nil, err
	}
	moduleID, err = parseID("module", moduleID)
	if err != nil {
		return nil, err
	}
	if _, err := m.Get(ctx, tenantID); err != nil {
		return nil, err
	}
	var mod models.Module
	err = m.db.WithContext(ctx).Where("id = ?", moduleID).First(&mod).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.E(apperr.NotFound, "module not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "load module", err)
	}

	binding := models.TenantModule{
		TenantID: tenantID,
		ModuleID: moduleID,
		Status:   status,
		Settings: models.JSONB(settings),
	}
	err = m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "module_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"status":     status,
			"settings":   models.JSONB(settings),
			"updated_at": time.Now(),
		}),
	}).Create(&binding).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "activate module", err)
	}
	var out models.TenantModule
	if err := m.db.WithContext(ctx).Where("tenant_id = ? AND module_id = ?", tenantID, moduleID).First(&out).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, "load module binding", err)
	}
	return &out, nil
}

func (m *Manager) Modules(ctx context.Context, tenantID string) ([]models.TenantModule, error) {
	tenantID, err := parseID("tenant", tenantID)
	if err != nil {
		return nil, err
	}
	var out []models.TenantModule
	if err := m.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("id").Find(&out).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list modules", err)
	}
	return out, nil
}

// Catalog lists the modules a tenant can enable.
func (m *Manager) Catalog(ctx context.Context) ([]models.Module, error) {
	var out []models.Module
	if err := m.db.WithContext(ctx).Order("key").Find(&out).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list catalog", err)
	}
	return out, nil
}
