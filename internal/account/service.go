// Package account implements login, token refresh, logout and password
// changes for the three kinds of identities.
package account

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"backoffice/internal/apperr"
	"backoffice/internal/audit"
	"backoffice/internal/auth"
	"backoffice/internal/models"
	"backoffice/internal/tenancy"
)

var (
	ErrInvalidPassword = errors.New("invalid password")
	ErrAccountInactive = errors.New("account inactive")
)

const minPasswordLength = 8

// Sessions is the subset of the session store used here.
type Sessions interface {
	Put(ctx context.Context, u auth.AuthUser) error
	Active(ctx context.Context, u auth.AuthUser) (bool, error)
	Delete(ctx context.Context, u auth.AuthUser) error
}

type Auditor interface {
	Record(ctx context.Context, e audit.Event)
}

// Deps are the collaborators of a Service. Finder and Scoper open a tenant
// schema by the token's tenant when the request carries no tenant identifier.
type Deps struct {
	System   Directory
	Tenant   func(db *gorm.DB) Directory
	Finder   tenancy.Finder
	Scoper   tenancy.Scoper
	Tokens   *auth.TokenService
	Sessions Sessions
	Audit    Auditor
	Logger   *zap.SugaredLogger
}

type Service struct {
	system   Directory
	tenant   func(db *gorm.DB) Directory
	finder   tenancy.Finder
	scoper   tenancy.Scoper
	tokens   *auth.TokenService
	sessions Sessions
	audit    Auditor
	lg       *zap.SugaredLogger
	failOpen bool
	now      func() time.Time
	observe  func(level auth.Level, result string)
}

type Option func(*Service)

// WithSessionFailOpen mirrors the pipeline policy for refresh.
func WithSessionFailOpen(v bool) Option {
	return func(s *Service) { s.failOpen = v }
}

func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

// WithLoginObserver is told the result of every login attempt.
func WithLoginObserver(fn func(level auth.Level, result string)) Option {
	return func(s *Service) { s.observe = fn }
}

func NewService(d Deps, opts ...Option) *Service {
	lg := d.Logger
	if lg == nil {
		lg = zap.NewNop().Sugar()
	}
	tenantDir := d.Tenant
	if tenantDir == nil {
		tenantDir = func(db *gorm.DB) Directory { return NewTenantDirectory(db) }
	}
	s := &Service{
		system:   d.System,
		tenant:   tenantDir,
		finder:   d.Finder,
		scoper:   d.Scoper,
		tokens:   d.Tokens,
		sessions: d.Sessions,
		audit:    d.Audit,
		lg:       lg,
		failOpen: true,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type TenantInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Schema string `json:"schema"`
}

type LoginResult struct {
	ID           string      `json:"id"`
	Username     string      `json:"username"`
	Level        auth.Level  `json:"level"`
	Roles        []string    `json:"roles"`
	Token        string      `json:"token"`
	RefreshToken string      `json:"refreshToken"`
	ExpiresAt    time.Time   `json:"expiresAt"`
	TenantID     string      `json:"tenantId,omitempty"`
	Tenant       *TenantInfo `json:"tenant,omitempty"`
}

// flow parametrises the login primitive.
type flow struct {
	level     auth.Level
	directory func(ctx context.Context) (Directory, *models.Tenant, error)
	status    func(a *Account) error
	authorize func(a *Account) error
}

var errInvalidCredentials = apperr.E(apperr.Unauthorized, "invalid credentials")

func (s *Service) tenantDirectory(ctx context.Context) (Directory, *models.Tenant, error) {
	scope, ok := tenancy.FromContext(ctx)
	if !ok || scope.DB == nil {
		return nil, nil, apperr.E(apperr.BadRequest, "tenant could not be resolved")
	}
	return s.tenant(scope.DB), scope.Tenant, nil
}

func (s *Service) systemDirectory(context.Context) (Directory, *models.Tenant, error) {
	return s.system, nil, nil
}

func tenantUserStatus(a *Account) error {
	if a.Status != models.AccountActive {
		return ErrAccountInactive
	}
	return nil
}

func systemUserStatus(a *Account) error {
	switch a.Status {
	case models.AccountActive:
		return nil
	case models.AccountDisabled:
		return apperr.E(apperr.Forbidden, "account is disabled")
	case models.AccountLocked:
		return apperr.E(apperr.Forbidden, "account is locked")
	case models.AccountPending:
		return apperr.E(apperr.Forbidden, "account is pending activation")
	default:
		return apperr.E(apperr.Forbidden, "account is not active")
	}
}

func requireTenantAdmin(a *Account) error {
	if auth.IsTenantAdmin(a.Roles, a.Permissions) {
		return nil
	}
	return apperr.E(apperr.Forbidden, "tenant administrator privileges required")
}

// UserLogin authenticates a user of the resolved tenant.
func (s *Service) UserLogin(ctx context.Context, username, password string) (*LoginResult, error) {
	return s.login(ctx, flow{
		level:     auth.LevelUser,
		directory: s.tenantDirectory,
		status:    tenantUserStatus,
	}, username, password)
}

// TenantAdminLogin authenticates a tenant administrator.
func (s *Service) TenantAdminLogin(ctx context.Context, username, password string) (*LoginResult, error) {
	return s.login(ctx, flow{
		level:     auth.LevelTenantAdmin,
		directory: s.tenantDirectory,
		status:    tenantUserStatus,
		authorize: requireTenantAdmin,
	}, username, password)
}

// SystemLogin authenticates an operator. Account status is only disclosed
// once the password matched.
func (s *Service) SystemLogin(ctx context.Context, username, password string) (*LoginResult, error) {
	return s.login(ctx, flow{
		level:     auth.LevelSystem,
		directory: s.systemDirectory,
		status:    systemUserStatus,
	}, username, password)
}

func (s *Service) result(level auth.Level, outcome string) {
	if s.observe != nil {
		s.observe(level, outcome)
	}
}

func (s *Service) login(ctx context.Context, f flow, username, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		s.result(f.level, "invalid_request")
		return nil, apperr.E(apperr.BadRequest, "username and password are required")
	}
	dir, tenant, err := f.directory(ctx)
	if err != nil {
		s.result(f.level, "no_tenant")
		return nil, err
	}
	tenantID := ""
	if tenant != nil {
		tenantID = tenant.ID
	}
	fail := func(reason string, cause error) (*LoginResult, error) {
		s.lg.Infow("login rejected", "level", f.level, "tenant", tenantID, "username", username, "reason", reason, "err", cause)
		s.result(f.level, reason)
		s.record(ctx, audit.Event{
			Action:   audit.ActionLoginFailed,
			Level:    string(f.level),
			TenantID: tenantID,
			Metadata: map[string]any{"username": username, "reason": reason},
		})
		var ae *apperr.Error
		if errors.As(cause, &ae) {
			return nil, ae
		}
		return nil, errInvalidCredentials
	}

	acc, err := dir.FindByUsername(ctx, username)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		return fail("unknown_user", err)
	case err != nil:
		s.result(f.level, "error")
		return nil, apperr.Wrap(apperr.Internal, "load account", err)
	}
	if err := auth.CheckPassword(acc.PasswordHash, password); err != nil {
		return fail("wrong_password", ErrInvalidPassword)
	}
	if err := f.status(acc); err != nil {
		return fail("inactive", err)
	}
	if f.authorize != nil {
		if err := f.authorize(acc); err != nil {
			return fail("not_authorized", err)
		}
	}

	// tenant handles are released with the response, so this runs inline
	if err := dir.TouchLogin(ctx, acc.ID, s.now().UTC()); err != nil {
		s.lg.Warnw("last login update failed", "user", acc.ID, "err", err)
	}

	user := auth.AuthUser{
		UserID:      acc.ID,
		Username:    acc.Username,
		Level:       f.level,
		TenantID:    tenantID,
		Roles:       acc.Roles,
		Permissions: acc.Permissions,
	}
	pair, err := s.tokens.IssuePair(user)
	if err != nil {
		s.result(f.level, "error")
		return nil, apperr.Wrap(apperr.Internal, "issue tokens", err)
	}
	s.putSession(ctx, user)
	s.record(ctx, audit.Event{
		Action:   audit.ActionLogin,
		Level:    string(f.level),
		TenantID: tenantID,
		UserID:   acc.ID,
		Metadata: map[string]any{"username": acc.Username},
	})
	s.result(f.level, "success")

	out := &LoginResult{
		ID:           acc.ID,
		Username:     acc.Username,
		Level:        f.level,
		Roles:        acc.Roles,
		Token:        pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.AccessExpiresAt,
		TenantID:     tenantID,
	}
	if tenant != nil {
		out.Tenant = &TenantInfo{ID: tenant.ID, Name: tenant.Name, Schema: tenant.SchemaName}
	}
	return out, nil
}

func (s *Service) putSession(ctx context.Context, u auth.AuthUser) {
	if s.sessions == nil {
		return
	}
	if err := s.sessions.Put(ctx, u); err != nil {
		s.lg.Warnw("session write failed", "user", u.UserID, "level", u.Level, "err", err)
	}
}

func (s *Service) record(ctx context.Context, e audit.Event) {
	if s.audit != nil {
		s.audit.Record(ctx, e)
	}
}

// RefreshScope restricts which refresh tokens an endpoint accepts.
type RefreshScope struct {
	Levels   []auth.Level
	TenantID string
}

func (rs RefreshScope) allows(l auth.Level) bool {
	for _, v := range rs.Levels {
		if v == l {
			return true
		}
	}
	return false
}

var (
	SystemRefresh = RefreshScope{Levels: []auth.Level{auth.LevelSystem}}
	TenantLevels  = []auth.Level{auth.LevelTenantAdmin, auth.LevelTenant, auth.LevelUser}
)

// Refresh exchanges a refresh token for a new pair. The session must still
// exist.
func (s *Service) Refresh(ctx context.Context, token string, scope RefreshScope) (*auth.TokenPair, error) {
	claims, err := s.tokens.Verify(token, auth.RefreshToken)
	if err != nil {
		msg := "invalid refresh token"
		if errors.Is(err, auth.ErrTokenExpired) {
			msg = "refresh token expired"
		}
		return nil, apperr.Wrap(apperr.Unauthorized, msg, err)
	}
	if !scope.allows(claims.Level) {
		return nil, apperr.E(apperr.Unauthorized, "refresh token not valid for this endpoint")
	}
	if scope.TenantID != "" && claims.TenantID != scope.TenantID {
		return nil, apperr.E(apperr.Unauthorized, "refresh token not valid for this tenant")
	}
	u := claims.AuthUser()
	if s.sessions != nil {
		active, err := s.sessions.Active(ctx, u)
		switch {
		case err != nil && !s.failOpen:
			return nil, apperr.Wrap(apperr.Unauthorized, "session could not be verified", err)
		case err != nil:
			s.lg.Warnw("session store unavailable during refresh, continuing", "user", u.UserID, "err", err)
		case !active:
			return nil, apperr.E(apperr.Unauthorized, "session expired or logged out")
		}
	}
	pair, err := s.tokens.IssuePair(u)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "issue tokens", err)
	}
	s.putSession(ctx, u)
	s.record(ctx, audit.Event{
		Action:   audit.ActionRefresh,
		Level:    string(u.Level),
		TenantID: u.TenantID,
		UserID:   u.UserID,
	})
	return &pair, nil
}

// Logout ends the session of u. Store failures are logged only.
func (s *Service) Logout(ctx context.Context, u auth.AuthUser) {
	if s.sessions != nil {
		if err := s.sessions.Delete(ctx, u); err != nil {
			s.lg.Warnw("session delete failed", "user", u.UserID, "level", u.Level, "err", err)
		}
	}
	s.record(ctx, audit.Event{
		Action:   audit.ActionLogout,
		Level:    string(u.Level),
		TenantID: u.TenantID,
		UserID:   u.UserID,
	})
}

// Profile returns the identity of the authenticated request.
func (s *Service) Profile(ctx context.Context) (auth.AuthUser, error) {
	u, ok := auth.FromContext(ctx)
	if !ok {
		return auth.AuthUser{}, apperr.E(apperr.Unauthorized, "authentication required")
	}
	return u, nil
}

// withTenantDirectory runs fn against the directory of tenantID, reusing the
// request scope when it already points at that tenant.
func (s *Service) withTenantDirectory(ctx context.Context, tenantID string, fn func(Directory) error) error {
	if scope, ok := tenancy.FromContext(ctx); ok && scope.DB != nil {
		if scope.Tenant.ID != tenantID {
			return apperr.E(apperr.Unauthorized, "token does not belong to this tenant")
		}
		return fn(s.tenant(scope.DB))
	}
	if s.finder == nil || s.scoper == nil {
		return apperr.E(apperr.BadRequest, "tenant could not be resolved")
	}
	t, err := s.finder.FindByID(ctx, tenantID)
	if errors.Is(err, tenancy.ErrTenantNotFound) {
		return apperr.E(apperr.Unauthorized, "tenant no longer exists")
	}
	if err != nil {
		return apperr.Wrap(apperr.Internal, "load tenant", err)
	}
	if err := tenancy.StatusError(t); err != nil {
		return err
	}
	var inner error
	if err := s.scoper.Open(ctx, t.SchemaName, func(db *gorm.DB) error {
		inner = fn(s.tenant(db))
		return nil
	}); err != nil {
		return apperr.Wrap(apperr.Internal, "open tenant scope", err)
	}
	return inner
}

// ChangePassword replaces the password of u and ends its session.
func (s *Service) ChangePassword(ctx context.Context, u auth.AuthUser, current, next string) error {
	if current == "" || next == "" {
		return apperr.E(apperr.BadRequest, "current and new password are required")
	}
	if len(next) < minPasswordLength {
		return apperr.E(apperr.BadRequest, "new password must be at least 8 characters")
	}
	if current == next {
		return apperr.E(apperr.BadRequest, "new password must differ from the current one")
	}
	change := func(dir Directory) error {
		acc, err := dir.FindByID(ctx, u.UserID)
		if errors.Is(err, ErrAccountNotFound) {
			return apperr.E(apperr.NotFound, "account not found")
		}
		if err != nil {
			return apperr.Wrap(apperr.Internal, "load account", err)
		}
		if err := auth.CheckPassword(acc.PasswordHash, current); err != nil {
			return apperr.E(apperr.Unauthorized, "current password is incorrect")
		}
		hash, err := auth.HashPassword(next)
		if err != nil {
			return apperr.Wrap(apperr.BadRequest, "invalid password", err)
		}
		if err := dir.UpdatePassword(ctx, acc.ID, hash); err != nil {
			return apperr.Wrap(apperr.Internal, "update password", err)
		}
		return nil
	}
	var err error
	if u.Level == auth.LevelSystem {
		err = change(s.system)
	} else {
		err = s.withTenantDirectory(ctx, u.TenantID, change)
	}
	if err != nil {
		return err
	}
	if s.sessions != nil {
		if err := s.sessions.Delete(ctx, u); err != nil {
			s.lg.Warnw("session delete after password change failed", "user", u.UserID, "err", err)
		}
	}
	s.record(ctx, audit.Event{
		Action:   audit.ActionPasswordChange,
		Level:    string(u.Level),
		TenantID: u.TenantID,
		UserID:   u.UserID,
	})
	return nil
}
