package tenancy

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"backoffice/internal/apperr"
	"backoffice/internal/models"
)

// Resolution outcomes, reported to the observer.
const (
	OutcomeBypass     = "bypass"
	OutcomeShared     = "shared"
	OutcomeResolved   = "resolved"
	OutcomeNotFound   = "not_found"
	OutcomeManagement = "management"
	OutcomeInactive   = "inactive"
	OutcomeError      = "error"
)

var (
	DefaultBypassPrefixes = []string{"/api/system", "/auth/system", "/healthz", "/metrics", "/docs", "/public"}
	// Tenant management keeps working when the referenced tenant is unknown.
	DefaultManagementPrefixes = []string{"/api/tenants"}
)

type Resolver struct {
	finder     Finder
	scoper     Scoper
	lg         *zap.SugaredLogger
	bypass     []string
	management []string
	observe    func(outcome string)
}

type ResolverOption func(*Resolver)

func WithBypassPrefixes(prefixes ...string) ResolverOption {
	return func(r *Resolver) { r.bypass = prefixes }
}

func WithManagementPrefixes(prefixes ...string) ResolverOption {
	return func(r *Resolver) { r.management = prefixes }
}

func WithObserver(fn func(outcome string)) ResolverOption {
	return func(r *Resolver) { r.observe = fn }
}

func NewResolver(finder Finder, scoper Scoper, lg *zap.SugaredLogger, opts ...ResolverOption) *Resolver {
	if lg == nil {
		lg = zap.NewNop().Sugar()
	}
	r := &Resolver{
		finder:     finder,
		scoper:     scoper,
		lg:         lg,
		bypass:     DefaultBypassPrefixes,
		management: DefaultManagementPrefixes,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func hasPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

func (rs *Resolver) record(outcome string) {
	if rs.observe != nil {
		rs.observe(outcome)
	}
}

// Lookup resolves id to a tenant.
func (rs *Resolver) Lookup(ctx context.Context, id Identifier) (*models.Tenant, error) {
	switch {
	case id.ID != "":
		return rs.finder.FindByID(ctx, id.ID)
	case id.Schema != "":
		return rs.finder.FindBySchema(ctx, id.Schema)
	case id.Domain != "":
		domains := []string{id.Domain}
		if i := strings.IndexByte(id.Domain, '.'); i > 0 {
			domains = append(domains, id.Domain[:i])
		}
		return rs.finder.FindByDomain(ctx, domains...)
	}
	return nil, ErrTenantNotFound
}

// StatusError returns the rejection for a tenant that is not active.
func StatusError(t *models.Tenant) error {
	switch t.Status {
	case models.TenantActive:
		return nil
	case models.TenantSuspended:
		return apperr.E(apperr.Forbidden, "tenant is suspended")
	case models.TenantPending:
		return apperr.E(apperr.Forbidden, "tenant is pending activation")
	default:
		return apperr.E(apperr.Forbidden, "tenant is inactive")
	}
}

// Middleware resolves the tenant of each request and stores it in the request
// context. It takes no database connection; Bind does that once the request
// has passed authentication.
func (rs *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if hasPrefix(path, rs.bypass) {
			rs.record(OutcomeBypass)
			next.ServeHTTP(w, r)
			return
		}

		id, err := Identify(r)
		if err != nil {
			rs.record(OutcomeError)
			apperr.Write(w, apperr.Wrap(apperr.BadRequest, "unreadable request body", err))
			return
		}
		if id.Empty() {
			rs.record(OutcomeShared)
			next.ServeHTTP(w, r)
			return
		}

		t, err := rs.Lookup(r.Context(), id)
		switch {
		case errors.Is(err, ErrTenantNotFound):
			if hasPrefix(path, rs.management) {
				rs.record(OutcomeManagement)
				next.ServeHTTP(w, r)
				return
			}
			rs.record(OutcomeNotFound)
			rs.lg.Debugw("tenant not found", "source", id.Source, "id", id.ID, "schema", id.Schema, "domain", id.Domain)
			apperr.Write(w, apperr.E(apperr.BadRequest, "tenant not found"))
			return
		case err != nil:
			rs.record(OutcomeError)
			rs.lg.Errorw("tenant lookup failed", "source", id.Source, "err", err)
			apperr.Write(w, apperr.Wrap(apperr.Internal, "tenant lookup failed", err))
			return
		}

		if err := StatusError(t); err != nil {
			rs.record(OutcomeInactive)
			rs.lg.Infow("tenant not active", "tenant", t.ID, "status", t.Status)
			apperr.Write(w, err)
			return
		}

		rs.record(OutcomeResolved)
		next.ServeHTTP(w, r.WithContext(WithScope(r.Context(), Scope{Tenant: t})))
	})
}

// Bind runs the rest of the chain on a connection scoped to the schema of the
// resolved tenant. Requests without a tenant, or already bound, pass through.
func (rs *Resolver) Bind(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := FromContext(r.Context())
		if !ok || s.DB != nil {
			next.ServeHTTP(w, r)
			return
		}
		t := s.Tenant
		served := false
		err := rs.scoper.Open(r.Context(), t.SchemaName, func(db *gorm.DB) error {
			served = true
			ctx := WithScope(r.Context(), Scope{Tenant: t, DB: db})
			next.ServeHTTP(w, r.WithContext(ctx))
			return nil
		})
		if err != nil {
			rs.lg.Errorw("tenant scope failed", "tenant", t.ID, "schema", t.SchemaName, "err", err)
			if !served {
				apperr.Write(w, apperr.Wrap(apperr.Internal, "tenant scope failed", err))
			}
		}
	})
}
