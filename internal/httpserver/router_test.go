package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"backoffice/internal/account"
	"backoffice/internal/auth"
	"backoffice/internal/models"
	"backoffice/internal/tenancy"
)

type oneTenant struct{ t *models.Tenant }

func (f oneTenant) FindByID(_ context.Context, id string) (*models.Tenant, error) {
	if id == f.t.ID {
		return f.t, nil
	}
	return nil, tenancy.ErrTenantNotFound
}

func (f oneTenant) FindBySchema(context.Context, string) (*models.Tenant, error) {
	return nil, tenancy.ErrTenantNotFound
}

func (f oneTenant) FindByDomain(context.Context, ...string) (*models.Tenant, error) {
	return nil, tenancy.ErrTenantNotFound
}

type countingScoper struct {
	mu    sync.Mutex
	opens int
}

func (s *countingScoper) Open(_ context.Context, _ string, fn func(*gorm.DB) error) error {
	s.mu.Lock()
	s.opens++
	s.mu.Unlock()
	return fn(&gorm.DB{})
}

func TestTenantConnectionTakenAfterGuard(t *testing.T) {
	lg := zap.NewNop().Sugar()
	acme := &models.Tenant{ID: "t-1", Name: "Acme", SchemaName: "tenant_acme", Status: models.TenantActive}
	scoper := &countingScoper{}
	tokens, err := auth.NewTokenService("access-secret", "refresh-secret")
	if err != nil {
		t.Fatal(err)
	}
	h := NewRouter(context.Background(), Deps{
		Resolver: tenancy.NewResolver(oneTenant{acme}, scoper, lg),
		Pipeline: auth.NewPipeline(tokens, nil, lg, auth.WithRequestTenant(tenancy.TenantID)),
		Accounts: account.NewService(account.Deps{Tokens: tokens}),
		Logger:   lg,
	})

	call := func(path, token string) int {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.Header.Set(tenancy.HeaderTenantID, acme.ID)
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec.Code
	}

	for _, path := range []string{"/api/users", "/api/roles", "/auth/profile"} {
		if code := call(path, ""); code != http.StatusUnauthorized {
			t.Fatalf("%s without token: status %d", path, code)
		}
	}
	if scoper.opens != 0 {
		t.Fatalf("unauthenticated requests opened %d tenant connections", scoper.opens)
	}

	token, _, err := tokens.IssueAccess(auth.AuthUser{UserID: "u-1", Level: auth.LevelUser, TenantID: acme.ID})
	if err != nil {
		t.Fatal(err)
	}
	if code := call("/auth/profile", token); code != http.StatusOK {
		t.Fatalf("profile with token: status %d", code)
	}
	if scoper.opens != 1 {
		t.Fatalf("authenticated request opened %d tenant connections", scoper.opens)
	}
}
