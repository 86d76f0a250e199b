package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"backoffice/internal/audit"
	"backoffice/internal/models"
	"backoffice/internal/tenancy"
	"backoffice/internal/tenant"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
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
	return db, mock
}

func TestMalformedIDsReturnBadRequest(t *testing.T) {
	db, mock := newMockDB(t)
	lg := zap.NewNop().Sugar()
	tenants := Tenants{Manager: tenant.NewManager(db, lg), Logger: lg}
	dir := Directory{Logger: lg}
	acme := &models.Tenant{ID: "7f8c7a52-1111-4f0e-9d1e-000000000001", Name: "Acme", SchemaName: "tenant_acme"}

	r := chi.NewRouter()
	r.Get("/api/tenants/{id}", tenants.Get)
	r.Patch("/api/tenants/{id}/status", tenants.ChangeStatus)
	r.Delete("/api/tenants/{id}", tenants.Remove)
	r.Get("/api/tenants/{id}/modules", tenants.Modules)
	r.Put("/api/tenants/{id}/modules/{moduleId}", tenants.ActivateModule)
	r.Get("/api/system/audit-logs", AuditLogs(audit.NewGormSink(db), lg))
	r.With(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := tenancy.WithScope(req.Context(), tenancy.Scope{Tenant: acme, DB: db})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}).Put("/api/users/{id}/roles", dir.AssignRoles)

	cases := []struct {
		method, target, body string
	}{
		{http.MethodGet, "/api/tenants/foo", ""},
		{http.MethodPatch, "/api/tenants/foo/status", `{"status":"active"}`},
		{http.MethodDelete, "/api/tenants/foo", ""},
		{http.MethodGet, "/api/tenants/foo/modules", ""},
		{http.MethodPut, "/api/tenants/" + acme.ID + "/modules/bar", `{"status":"active"}`},
		{http.MethodPut, "/api/tenants/foo/modules/bar", `{}`},
		{http.MethodGet, "/api/system/audit-logs?tenant_id=x", ""},
		{http.MethodGet, "/api/system/audit-logs?user_id=x", ""},
		{http.MethodPut, "/api/users/foo/roles", `{"roles":["user"]}`},
	}
	for _, tc := range cases {
		var req *http.Request
		if tc.body != "" {
			req = httptest.NewRequest(tc.method, tc.target, strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
		} else {
			req = httptest.NewRequest(tc.method, tc.target, nil)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s %s: status = %d, want 400 (%s)", tc.method, tc.target, rec.Code, rec.Body.String())
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
