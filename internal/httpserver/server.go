package httpserver

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"backoffice/internal/account"
	"backoffice/internal/audit"
	"backoffice/internal/auth"
	"backoffice/internal/config"
	"backoffice/internal/metrics"
	"backoffice/internal/session"
	"backoffice/internal/tenancy"
	"backoffice/internal/tenant"
)

// Server is the wired application.
type Server struct {
	Handler http.Handler
	Audit   *audit.Recorder
	Tokens  *auth.TokenService
}

// New wires storage, sessions, tokens and handlers according to cfg.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, rdb redis.UniversalClient, lg *zap.SugaredLogger) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.JWT.AccessSecret, cfg.JWT.RefreshSecret,
		auth.WithAccessTTL(cfg.JWT.AccessTTL),
		auth.WithRefreshTTL(cfg.JWT.RefreshTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("token service: %w", err)
	}
	m := metrics.New()
	sessions := session.New(rdb, cfg.Session.TTL, cfg.Session.CacheTimeout)
	auditLogs := audit.NewGormSink(db)
	recorder := audit.NewRecorder(lg, 0, auditLogs, audit.NewLogSink(lg))

	finder := tenancy.NewGormFinder(db)
	scoper := tenancy.NewSchemaScoper(db)
	resolver := tenancy.NewResolver(finder, scoper, lg.Named("tenancy"), tenancy.WithObserver(m.TenantResolved))
	pipeline := auth.NewPipeline(tokens, sessions, lg.Named("auth"),
		auth.WithSessionFailOpen(cfg.Session.FailOpen),
		auth.WithRequestTenant(tenancy.TenantID),
		auth.WithRejectionHook(m.AuthRejected),
	)
	accounts := account.NewService(account.Deps{
		System:   account.NewSystemDirectory(db),
		Finder:   finder,
		Scoper:   scoper,
		Tokens:   tokens,
		Sessions: sessions,
		Audit:    recorder,
		Logger:   lg.Named("account"),
	},
		account.WithSessionFailOpen(cfg.Session.FailOpen),
		account.WithLoginObserver(m.LoginAttempt),
	)

	h := NewRouter(ctx, Deps{
		DB:             db,
		Resolver:       resolver,
		Pipeline:       pipeline,
		Accounts:       accounts,
		Tenants:        tenant.NewManager(db, lg.Named("tenant")),
		Audit:          recorder,
		AuditLogs:      auditLogs,
		Metrics:        m,
		Logger:         lg,
		LoginPerSecond: cfg.LoginRate.PerSecond,
		LoginBurst:     cfg.LoginRate.Burst,
	})
	return &Server{Handler: h, Audit: recorder, Tokens: tokens}, nil
}
