package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"backoffice/internal/apperr"
)

// Pipeline stages, used as the stage label of rejections.
const (
	StageAuthenticate = "authenticate"
	StageLevel        = "level"
	StageSession      = "session"
	StageTenant       = "tenant"
	StagePermission   = "permission"
)

// Route declares what a handler requires. The zero value requires a valid
// token of any level.
type Route struct {
	Public      bool
	Level       Level
	Roles       []string
	Permissions []string
	// DerivePermission checks `<resource>:<action>` from method and path
	// when no explicit permissions are declared.
	DerivePermission bool
}

// SessionLookup reports whether the session behind an identity is live.
// A false result with a nil error means the session is definitely gone.
type SessionLookup interface {
	Active(ctx context.Context, u AuthUser) (bool, error)
}

type Pipeline struct {
	tokens        *TokenService
	sessions      SessionLookup
	lg            *zap.SugaredLogger
	failOpen      bool
	requestTenant func(context.Context) (string, bool)
	onReject      func(stage, reason string)
}

type PipelineOption func(*Pipeline)

// WithSessionFailOpen controls whether an unreachable session store lets
// requests through.
func WithSessionFailOpen(v bool) PipelineOption {
	return func(p *Pipeline) { p.failOpen = v }
}

// WithRequestTenant supplies the tenant the request was resolved to, so a
// token issued for another tenant is refused.
func WithRequestTenant(fn func(context.Context) (string, bool)) PipelineOption {
	return func(p *Pipeline) { p.requestTenant = fn }
}

func WithRejectionHook(fn func(stage, reason string)) PipelineOption {
	return func(p *Pipeline) { p.onReject = fn }
}

func NewPipeline(tokens *TokenService, sessions SessionLookup, lg *zap.SugaredLogger, opts ...PipelineOption) *Pipeline {
	if lg == nil {
		lg = zap.NewNop().Sugar()
	}
	p := &Pipeline{tokens: tokens, sessions: sessions, lg: lg, failOpen: true}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) reject(w http.ResponseWriter, r *http.Request, stage, reason string, err error) {
	p.lg.Debugw("request rejected",
		"stage", stage,
		"reason", reason,
		"method", r.Method,
		"path", r.URL.Path,
		"subject", Subject(r.Context()),
	)
	if p.onReject != nil {
		p.onReject(stage, reason)
	}
	apperr.Write(w, err)
}

// Guard returns the middleware chain for route.
func (p *Pipeline) Guard(route Route) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if route.Public {
			return next
		}
		return p.Authenticate(p.RequireLevel(route.Level)(p.RequireAccess(route)(next)))
	}
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(h[7:])
	return tok, tok != ""
}

// Authenticate verifies the access token and stores the identity in the
// request context.
func (p *Pipeline) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := BearerToken(r)
		if !ok {
			p.reject(w, r, StageAuthenticate, "missing_token",
				apperr.E(apperr.Unauthorized, "missing bearer token"))
			return
		}
		claims, err := p.tokens.Verify(raw, AccessToken)
		if err != nil {
			reason, msg := "invalid_token", "invalid token"
			if errors.Is(err, ErrTokenExpired) {
				reason, msg = "expired_token", "token expired"
			}
			p.reject(w, r, StageAuthenticate, reason, apperr.Wrap(apperr.Unauthorized, msg, err))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims.AuthUser())))
	})
}

// RequireLevel checks the level hierarchy, the tenant the token belongs to
// and the live session.
func (p *Pipeline) RequireLevel(required Level) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := FromContext(r.Context())
			if !ok {
				p.reject(w, r, StageLevel, "unauthenticated",
					apperr.E(apperr.Unauthorized, "authentication required"))
				return
			}
			if !u.Level.Satisfies(required) {
				p.reject(w, r, StageLevel, "insufficient_level",
					apperr.E(apperr.Unauthorized, "insufficient authentication level"))
				return
			}
			if u.Level.TenantScoped() && p.requestTenant != nil {
				if tid, resolved := p.requestTenant(r.Context()); resolved && tid != u.TenantID {
					p.reject(w, r, StageTenant, "tenant_mismatch",
						apperr.E(apperr.Unauthorized, "token does not belong to this tenant"))
					return
				}
			}
			if p.sessions != nil {
				active, err := p.sessions.Active(r.Context(), u)
				switch {
				case err != nil && !p.failOpen:
					p.lg.Warnw("session store unavailable", "subject", u.UserID, "err", err)
					p.reject(w, r, StageSession, "store_unavailable",
						apperr.Wrap(apperr.Unauthorized, "session could not be verified", err))
					return
				case err != nil:
					p.lg.Warnw("session store unavailable, continuing", "subject", u.UserID, "err", err)
				case !active:
					p.reject(w, r, StageSession, "session_missing",
						apperr.E(apperr.Unauthorized, "session expired or logged out"))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAccess checks declared roles (any of), declared permissions (all
// of) and, when opted in, the permission derived from the request.
func (p *Pipeline) RequireAccess(route Route) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := FromContext(r.Context())
			if !ok {
				p.reject(w, r, StagePermission, "unauthenticated",
					apperr.E(apperr.Unauthorized, "authentication required"))
				return
			}
			if err := Authorize(u, route, r.Method, r.URL.Path); err != nil {
				p.reject(w, r, StagePermission, "forbidden", err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Authorize applies the role and permission rules of route to u.
// System identities pass declared checks; the derived check still applies
// to system identities without an admin role.
func Authorize(u AuthUser, route Route, method, path string) error {
	system := u.Level == LevelSystem
	if len(route.Roles) > 0 && !system && !u.HasAnyRole(route.Roles...) {
		return apperr.E(apperr.Forbidden, "insufficient role")
	}
	if len(route.Permissions) > 0 {
		if !system && !u.HasAllPermissions(route.Permissions...) {
			return apperr.E(apperr.Forbidden, "insufficient permissions")
		}
		return nil
	}
	if !route.DerivePermission {
		return nil
	}
	perm, ok := DerivePermission(method, path)
	if !ok {
		return nil
	}
	resource := perm[:strings.IndexByte(perm, ':')]
	if derivedCheckExempt(u, resource) || u.HasPermission(perm) {
		return nil
	}
	return apperr.E(apperr.Forbidden, "missing permission "+perm)
}
