package tenant

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"backoffice/internal/models"
)

// DefaultModules is the module catalog seeded on startup.
var DefaultModules = []models.Module{
	{Key: "billing", Name: "Billing"},
	{Key: "crm", Name: "Customer Relationship"},
	{Key: "inventory", Name: "Inventory"},
	{Key: "reports", Name: "Reports"},
}

// MigrateShared creates the tables of the shared schema.
func MigrateShared(db *gorm.DB) error {
	if err := db.AutoMigrate(models.SharedModels()...); err != nil {
		return fmt.Errorf("migrate shared schema: %w", err)
	}
	return nil
}

// SeedModules inserts catalog entries that do not exist yet.
func SeedModules(ctx context.Context, db *gorm.DB, modules []models.Module) error {
	if len(modules) == 0 {
		return nil
	}
	rows := make([]models.Module, len(modules))
	copy(rows, modules)
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, DoNothing: true}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("seed modules: %w", err)
	}
	return nil
}
