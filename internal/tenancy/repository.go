package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"backoffice/internal/models"
)

var ErrTenantNotFound = errors.New("tenant not found")

// Finder looks tenants up in the shared schema.
type Finder interface {
	FindByID(ctx context.Context, id string) (*models.Tenant, error)
	FindBySchema(ctx context.Context, schema string) (*models.Tenant, error)
	FindByDomain(ctx context.Context, domains ...string) (*models.Tenant, error)
}

type GormFinder struct {
	db *gorm.DB
}

func NewGormFinder(db *gorm.DB) *GormFinder { return &GormFinder{db: db} }

func (f *GormFinder) first(ctx context.Context, query string, args ...any) (*models.Tenant, error) {
	var t models.Tenant
	err := f.db.WithContext(ctx).Where(query, args...).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find tenant: %w", err)
	}
	return &t, nil
}

// FindByID treats ids that are not UUIDs as unknown tenants.
func (f *GormFinder) FindByID(ctx context.Context, id string) (*models.Tenant, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrTenantNotFound
	}
	return f.first(ctx, "id = ?", id)
}

func (f *GormFinder) FindBySchema(ctx context.Context, schema string) (*models.Tenant, error) {
	return f.first(ctx, "schema_name = ?", schema)
}

func (f *GormFinder) FindByDomain(ctx context.Context, domains ...string) (*models.Tenant, error) {
	if len(domains) == 0 {
		return nil, ErrTenantNotFound
	}
	return f.first(ctx, "domain IN ?", domains)
}
