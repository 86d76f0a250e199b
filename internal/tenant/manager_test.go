package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"backoffice/internal/apperr"
)

func newMockManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	return NewManager(db, nil), mock
}

func TestSchemaName(t *testing.T) {
	cases := map[string]string{
		"Acme":              "tenant_acme",
		"Acme Corp. (EU)":   "tenant_acme_corp_eu",
		"  --Beta__Co--  ":  "tenant_beta_co",
		"Ünïcode & Friends": "tenant_n_code_friends",
	}
	for in, want := range cases {
		if got := SchemaName(in); got != want {
			t.Errorf("SchemaName(%q) = %q, want %q", in, got, want)
		}
	}
	long := SchemaName("a very long tenant name that keeps going well past the postgres identifier limit")
	if len(long) > 63 {
		t.Fatalf("schema name too long: %d", len(long))
	}
}

func TestCreateRejectsTakenSchema(t *testing.T) {
	m, mock := newMockManager(t)
	mock.ExpectQuery(`SELECT count\(\*\) FROM "tenants"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	_, err := m.Create(context.Background(), CreateInput{Name: "Acme"})
	if !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateRejectsTakenDomain(t *testing.T) {
	m, mock := newMockManager(t)
	mock.ExpectQuery(`SELECT count\(\*\) FROM "tenants"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "tenants"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	domain := "acme.example.com"
	_, err := m.Create(context.Background(), CreateInput{Name: "Acme", Domain: &domain})
	if !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateRejectsExistingCatalogSchema(t *testing.T) {
	m, mock := newMockManager(t)
	mock.ExpectQuery(`SELECT count\(\*\) FROM "tenants"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := m.Create(context.Background(), CreateInput{Name: "Acme"})
	if !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateValidatesInput(t *testing.T) {
	m, _ := newMockManager(t)
	if _, err := m.Create(context.Background(), CreateInput{Name: "  "}); !apperr.Is(err, apperr.BadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
	if _, err := m.Create(context.Background(), CreateInput{Name: "Acme", Status: "archived"}); !apperr.Is(err, apperr.BadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
	if _, err := m.Create(context.Background(), CreateInput{Name: "!!!"}); !apperr.Is(err, apperr.BadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
}

func TestRemoveRollsBackWhenDropFails(t *testing.T) {
	m, mock := newMockManager(t)
	mock.ExpectQuery(`SELECT \* FROM "tenants"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "schema_name", "status"}).
			AddRow("7f8c7a52-1111-4f0e-9d1e-000000000001", "Acme", "tenant_acme", "active"))
	mock.ExpectBegin()
	mock.ExpectExec(`DROP SCHEMA IF EXISTS "tenant_acme" CASCADE`).
		WillReturnError(errors.New("permission denied for schema tenant_acme"))
	mock.ExpectRollback()

	err := m.Remove(context.Background(), "7f8c7a52-1111-4f0e-9d1e-000000000001")
	if !apperr.Is(err, apperr.BadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRemoveUnknownTenant(t *testing.T) {
	m, mock := newMockManager(t)
	mock.ExpectQuery(`SELECT \* FROM "tenants"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if err := m.Remove(context.Background(), "0b9f2c4e-5d6a-4b7c-8e9f-0a1b2c3d4e5f"); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestActivateModuleValidates(t *testing.T) {
	m, _ := newMockManager(t)
	ctx := context.Background()
	if _, err := m.ActivateModule(ctx, "t", "m", "enabled", nil); !apperr.Is(err, apperr.BadRequest) {
		t.Fatalf("expected bad request for status, got %v", err)
	}
	if _, err := m.ActivateModule(ctx, "t", "m", "", []byte("{nope")); !apperr.Is(err, apperr.BadRequest) {
		t.Fatalf("expected bad request for settings, got %v", err)
	}
}

func TestChangeStatusValidates(t *testing.T) {
	m, _ := newMockManager(t)
	if _, err := m.ChangeStatus(context.Background(), "t", "deleted"); !apperr.Is(err, apperr.BadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
}

func TestMalformedIDsAreBadRequest(t *testing.T) {
	m, mock := newMockManager(t)
	ctx := context.Background()
	const valid = "7f8c7a52-1111-4f0e-9d1e-000000000001"
	bad := "foo"
	name := "Acme"

	calls := map[string]func() error{
		"get": func() error { _, err := m.Get(ctx, "foo"); return err },
		"update": func() error {
			_, err := m.Update(ctx, "foo", UpdateInput{Name: &name})
			return err
		},
		"status": func() error { _, err := m.ChangeStatus(ctx, "foo", "active"); return err },
		"remove": func() error { return m.Remove(ctx, "foo") },
		"modules": func() error { _, err := m.Modules(ctx, "foo"); return err },
		"activate tenant": func() error {
			_, err := m.ActivateModule(ctx, "foo", valid, "active", nil)
			return err
		},
		"activate module": func() error {
			_, err := m.ActivateModule(ctx, valid, "bar", "active", nil)
			return err
		},
		"create package": func() error {
			_, err := m.Create(ctx, CreateInput{Name: "Acme", PackageID: &bad})
			return err
		},
	}
	for op, call := range calls {
		if err := call(); !apperr.Is(err, apperr.BadRequest) {
			t.Errorf("%s: expected bad request, got %v", op, err)
		}
	}
	// nothing may reach the database
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestActivateModuleUpsertsBinding(t *testing.T) {
	m, mock := newMockManager(t)
	ctx := context.Background()
	const (
		tenantID = "7f8c7a52-1111-4f0e-9d1e-000000000001"
		moduleID = "4a1d9e1b-2222-4c3d-8e4f-000000000002"
	)
	upsert := `INSERT INTO "tenant_modules" .* ON CONFLICT \("tenant_id","module_id"\) DO UPDATE SET "settings"=\$\d+,"status"=\$\d+,"updated_at"=\$\d+`

	for i, tc := range []struct {
		status   string
		settings string
	}{
		{"active", `{"seats":5}`},
		{"inactive", `{"seats":9}`},
	} {
		mock.ExpectQuery(`SELECT \* FROM "tenants"`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "schema_name", "status"}).
				AddRow(tenantID, "Acme", "tenant_acme", "active"))
		mock.ExpectQuery(`SELECT \* FROM "modules"`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "key", "name"}).AddRow(moduleID, "crm", "CRM"))
		mock.ExpectBegin()
		mock.ExpectQuery(upsert).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectCommit()
		mock.ExpectQuery(`SELECT \* FROM "tenant_modules"`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "module_id", "status", "settings"}).
				AddRow(1, tenantID, moduleID, tc.status, tc.settings))

		got, err := m.ActivateModule(ctx, tenantID, moduleID, tc.status, json.RawMessage(tc.settings))
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if got.ID != 1 || got.Status != tc.status || string(got.Settings) != tc.settings {
			t.Fatalf("call %d: binding = %+v", i, got)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
