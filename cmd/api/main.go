package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"backoffice/internal/account"
	"backoffice/internal/config"
	"backoffice/internal/httpserver"
	"backoffice/internal/logger"
	"backoffice/internal/tenant"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load("")
	if err != nil {
		zap.NewExample().Sugar().Fatalw("invalid configuration", "error", err)
	}
	lg := logger.New(cfg.LogLevel)
	defer lg.Sync()
	for _, w := range cfg.Warnings() {
		lg.Warnw("insecure configuration", "detail", w)
	}
	if cfg.DatabaseURL == "" {
		lg.Fatalw("DATABASE_URL is empty")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		lg.Fatalw("db connect failed", "error", err)
	}
	if err := tenant.MigrateShared(db); err != nil {
		lg.Fatalw("automigrate failed", "error", err)
	}
	if err := tenant.SeedModules(ctx, db, tenant.DefaultModules); err != nil {
		lg.Fatalw("seed modules failed", "error", err)
	}
	seedSystemAdmin(ctx, db, cfg, lg)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		// sessions degrade according to SESSION_FAIL_OPEN
		lg.Warnw("redis unreachable at startup", "addr", cfg.Redis.Addr, "error", err)
	}
	cancel()

	app, err := httpserver.New(ctx, cfg, db, rdb, lg)
	if err != nil {
		lg.Fatalw("wiring failed", "error", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           app.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		lg.Infow("listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	lg.Infow("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Errorw("graceful shutdown failed", "error", err)
	}
	app.Audit.Wait()
}

func seedSystemAdmin(ctx context.Context, db *gorm.DB, cfg *config.Config, lg *zap.SugaredLogger) {
	created, err := account.NewSystemDirectory(db).EnsureSystemAdmin(ctx, cfg.SystemAdmin.Username, cfg.SystemAdmin.Password)
	if err != nil {
		lg.Errorw("seed system admin failed", "error", err)
		return
	}
	if created {
		lg.Infow("seeded system admin", "username", cfg.SystemAdmin.Username)
	}
}
