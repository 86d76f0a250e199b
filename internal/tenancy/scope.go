package tenancy

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"gorm.io/gorm"
)

var ErrInvalidSchema = errors.New("invalid schema name")

var schemaPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ValidSchemaName reports whether name is a schema name this service creates.
func ValidSchemaName(name string) bool { return schemaPattern.MatchString(name) }

// QuoteSchema returns name as a quoted SQL identifier.
func QuoteSchema(name string) (string, error) {
	if !ValidSchemaName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSchema, name)
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

// Scoper runs fn with a handle bound to schema.
type Scoper interface {
	Open(ctx context.Context, schema string, fn func(db *gorm.DB) error) error
}

// SchemaScoper pins one pooled connection for the duration of fn and points
// its search_path at the tenant schema. The path is reset before the
// connection returns to the pool; a connection that cannot be reset is
// discarded.
type SchemaScoper struct {
	db *gorm.DB
}

func NewSchemaScoper(db *gorm.DB) *SchemaScoper { return &SchemaScoper{db: db} }

func (s *SchemaScoper) Open(ctx context.Context, schema string, fn func(db *gorm.DB) error) error {
	quoted, err := QuoteSchema(schema)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		pinned := conn.Session(&gorm.Session{NewDB: true})
		if err := pinned.Exec("SET search_path TO " + quoted + ", public").Error; err != nil {
			return fmt.Errorf("set search_path %s: %w", schema, err)
		}
		defer resetSearchPath(ctx, pinned)
		return fn(pinned)
	})
}

func resetSearchPath(ctx context.Context, conn *gorm.DB) {
	// the request context may already be cancelled
	if err := conn.WithContext(context.WithoutCancel(ctx)).Exec("RESET search_path").Error; err == nil {
		return
	}
	if c, ok := conn.Statement.ConnPool.(interface {
		Raw(func(driverConn any) error) error
	}); ok {
		_ = c.Raw(func(any) error { return driver.ErrBadConn })
	}
}
