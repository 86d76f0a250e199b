package httpserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"backoffice/internal/account"
	"backoffice/internal/audit"
	"backoffice/internal/auth"
	"backoffice/internal/httpserver/handlers"
	"backoffice/internal/metrics"
	"backoffice/internal/tenancy"
	"backoffice/internal/tenant"
)

// Deps carries everything the router wires together.
type Deps struct {
	DB        *gorm.DB
	Resolver  *tenancy.Resolver
	Pipeline  *auth.Pipeline
	Accounts  *account.Service
	Tenants   *tenant.Manager
	Audit     *audit.Recorder
	AuditLogs *audit.GormSink
	Metrics   *metrics.Metrics
	Logger    *zap.SugaredLogger

	// LoginPerSecond and LoginBurst limit login attempts per client; zero
	// disables the limit.
	LoginPerSecond float64
	LoginBurst     int
}

type route struct {
	method  string
	pattern string
	access  auth.Route
	handler http.HandlerFunc
	login   bool
}

var (
	public      = auth.Route{Public: true}
	anyLevel    = auth.Route{}
	systemLevel = auth.Route{Level: auth.LevelSystem}
	tenantScope = auth.Route{Level: auth.LevelUser, DerivePermission: true}
)

func routes(d Deps) []route {
	lg := d.Logger
	tenants := handlers.Tenants{Manager: d.Tenants, Audit: d.Audit, Logger: lg}
	dir := handlers.Directory{Audit: d.Audit, Logger: lg}

	return []route{
		{http.MethodPost, "/auth/login", public, handlers.Login(d.Accounts, lg), true},
		{http.MethodPost, "/auth/system/login", public, handlers.SystemLogin(d.Accounts, lg), true},
		{http.MethodPost, "/auth/tenant/{tenantId}/login", public, handlers.TenantLogin(d.Accounts, lg), true},
		{http.MethodPost, "/auth/refresh-token", public, handlers.Refresh(d.Accounts, lg, handlers.UserRefreshScope), false},
		{http.MethodPost, "/auth/system/refresh-token", public, handlers.Refresh(d.Accounts, lg, handlers.SystemRefreshScope), false},
		{http.MethodPost, "/auth/tenant/{tenantId}/refresh-token", public, handlers.Refresh(d.Accounts, lg, handlers.TenantRefreshScope), false},
		{http.MethodPost, "/auth/logout", anyLevel, handlers.Logout(d.Accounts, lg), false},
		{http.MethodGet, "/auth/profile", anyLevel, handlers.Profile(d.Accounts, lg), false},
		{http.MethodPost, "/auth/change-password", anyLevel, handlers.ChangePassword(d.Accounts, lg), false},

		{http.MethodPost, "/api/tenants", systemLevel, tenants.Create, false},
		{http.MethodGet, "/api/tenants", systemLevel, tenants.List, false},
		{http.MethodGet, "/api/tenants/modules", systemLevel, tenants.Catalog, false},
		{http.MethodGet, "/api/tenants/check/{schema}", systemLevel, tenants.CheckSchema, false},
		{http.MethodGet, "/api/tenants/{id}", systemLevel, tenants.Get, false},
		{http.MethodPatch, "/api/tenants/{id}", systemLevel, tenants.Update, false},
		{http.MethodPatch, "/api/tenants/{id}/status", systemLevel, tenants.ChangeStatus, false},
		{http.MethodDelete, "/api/tenants/{id}", systemLevel, tenants.Remove, false},
		{http.MethodGet, "/api/tenants/{id}/modules", systemLevel, tenants.Modules, false},
		{http.MethodPut, "/api/tenants/{id}/modules/{moduleId}", systemLevel, tenants.ActivateModule, false},

		{http.MethodGet, "/api/users", tenantScope, dir.ListUsers, false},
		{http.MethodPost, "/api/users", tenantScope, dir.CreateUser, false},
		{http.MethodPut, "/api/users/{id}/roles", tenantScope, dir.AssignRoles, false},
		{http.MethodGet, "/api/roles", tenantScope, dir.ListRoles, false},
		{http.MethodPost, "/api/roles", tenantScope, dir.CreateRole, false},

		{http.MethodGet, "/api/system/audit-logs", systemLevel, handlers.AuditLogs(d.AuditLogs, lg), false},
	}
}

// NewRouter builds the HTTP surface. ctx bounds background work started for
// the router, such as the rate limiter sweep.
func NewRouter(ctx context.Context, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.Logger)
	if d.Metrics != nil {
		r.Use(d.Metrics.Instrument)
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}
	r.Get("/healthz", health(d.DB))

	var limiter *ipLimiter
	if d.LoginPerSecond > 0 && d.LoginBurst > 0 {
		limiter = newIPLimiter(ctx, d.LoginPerSecond, d.LoginBurst)
	}

	r.Group(func(g chi.Router) {
		g.Use(d.Resolver.Middleware)
		for _, rt := range routes(d) {
			// the tenant connection is taken only after the guard passed
			mws := chi.Middlewares{d.Pipeline.Guard(rt.access), d.Resolver.Bind}
			if rt.login && limiter != nil {
				mws = append(chi.Middlewares{limiter.Middleware}, mws...)
			}
			g.With(mws...).Method(rt.method, rt.pattern, rt.handler)
		}
	})
	return r
}

func health(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			sqlDB, err := db.DB()
			if err != nil || sqlDB.PingContext(r.Context()) != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}
