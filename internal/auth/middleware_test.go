package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeSessions struct {
	active bool
	err    error
	calls  int
}

func (f *fakeSessions) Active(context.Context, AuthUser) (bool, error) {
	f.calls++
	return f.active, f.err
}

type tenantKey struct{}

func requestTenant(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(tenantKey{}).(string)
	return id, ok
}

func serve(t *testing.T, p *Pipeline, route Route, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	h := p.Guard(route)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, _ := FromContext(r.Context())
		_ = json.NewEncoder(w).Encode(u)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T, svc *TokenService, u AuthUser) string {
	t.Helper()
	tok, _, err := svc.IssueAccess(u)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + tok
}

func TestGuardPublicSkipsEverything(t *testing.T) {
	sessions := &fakeSessions{}
	p := NewPipeline(newTestTokens(t), sessions, nil)
	rec := serve(t, p, Route{Public: true}, httptest.NewRequest(http.MethodGet, "/public", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if sessions.calls != 0 {
		t.Fatal("public route consulted the session store")
	}
}

func TestGuardRejections(t *testing.T) {
	svc := newTestTokens(t)
	user := tenantUser()

	cases := []struct {
		name     string
		auth     string
		route    Route
		sessions *fakeSessions
		failOpen bool
		want     int
	}{
		{"missing token", "", Route{}, &fakeSessions{active: true}, true, http.StatusUnauthorized},
		{"bad token", "Bearer nope", Route{}, &fakeSessions{active: true}, true, http.StatusUnauthorized},
		{"insufficient level", bearer(t, svc, user), Route{Level: LevelTenantAdmin}, &fakeSessions{active: true}, true, http.StatusUnauthorized},
		{"session missing", bearer(t, svc, user), Route{Level: LevelUser}, &fakeSessions{active: false}, true, http.StatusUnauthorized},
		{"store down fail open", bearer(t, svc, user), Route{Level: LevelUser}, &fakeSessions{err: errors.New("dial tcp")}, true, http.StatusOK},
		{"store down fail closed", bearer(t, svc, user), Route{Level: LevelUser}, &fakeSessions{err: errors.New("dial tcp")}, false, http.StatusUnauthorized},
		{"missing permission", bearer(t, svc, user), Route{Permissions: []string{"users:delete"}}, &fakeSessions{active: true}, true, http.StatusForbidden},
		{"allowed", bearer(t, svc, user), Route{Level: LevelUser, Permissions: []string{"users:read"}}, &fakeSessions{active: true}, true, http.StatusOK},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var stages []string
			p := NewPipeline(svc, c.sessions, nil,
				WithSessionFailOpen(c.failOpen),
				WithRejectionHook(func(stage, _ string) { stages = append(stages, stage) }),
			)
			req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
			if c.auth != "" {
				req.Header.Set("Authorization", c.auth)
			}
			rec := serve(t, p, c.route, req)
			if rec.Code != c.want {
				t.Fatalf("status = %d want %d body=%s", rec.Code, c.want, rec.Body.String())
			}
			if c.want != http.StatusOK && len(stages) != 1 {
				t.Fatalf("expected exactly one rejection, got %v", stages)
			}
		})
	}
}

func TestGuardRejectsTokenFromOtherTenant(t *testing.T) {
	svc := newTestTokens(t)
	p := NewPipeline(svc, &fakeSessions{active: true}, nil, WithRequestTenant(requestTenant))

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("Authorization", bearer(t, svc, tenantUser()))
	req = req.WithContext(context.WithValue(req.Context(), tenantKey{}, "t-2"))
	if rec := serve(t, p, Route{Level: LevelUser}, req); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("Authorization", bearer(t, svc, tenantUser()))
	req = req.WithContext(context.WithValue(req.Context(), tenantKey{}, "t-1"))
	if rec := serve(t, p, Route{Level: LevelUser}, req); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGuardSetsIdentity(t *testing.T) {
	svc := newTestTokens(t)
	p := NewPipeline(svc, &fakeSessions{active: true}, nil)
	sys := AuthUser{UserID: "s-1", Username: "root", Level: LevelSystem, Roles: []string{RoleSuperAdmin}}
	req := httptest.NewRequest(http.MethodGet, "/api/tenants", nil)
	req.Header.Set("Authorization", bearer(t, svc, sys))
	rec := serve(t, p, Route{Level: LevelSystem}, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got AuthUser
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.UserID != "s-1" || got.Level != LevelSystem {
		t.Fatalf("identity = %+v", got)
	}
}
