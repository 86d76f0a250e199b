package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Development defaults. Validate reports them as warnings.
const (
	defaultAccessSecret  = "dev-access-secret-change-me"
	defaultRefreshSecret = "dev-refresh-secret-change-me"
	defaultAdminPassword = "admin123"
)

type Config struct {
	HTTPPort    string        `yaml:"http_port"`
	DatabaseURL string        `yaml:"database_url"`
	LogLevel    string        `yaml:"log_level"`
	Redis       RedisConfig   `yaml:"redis"`
	JWT         JWTConfig     `yaml:"jwt"`
	Session     SessionConfig `yaml:"session"`
	LoginRate   RateConfig    `yaml:"login_rate"`
	SystemAdmin AdminConfig   `yaml:"system_admin"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type JWTConfig struct {
	AccessSecret  string        `yaml:"access_secret"`
	AccessTTL     time.Duration `yaml:"access_ttl"`
	RefreshSecret string        `yaml:"refresh_secret"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl"`
}

// SessionConfig controls the session cache. FailOpen lets requests through
// when the cache cannot be reached; a session that is known to be missing is
// always rejected.
type SessionConfig struct {
	TTL          time.Duration `yaml:"ttl"`
	FailOpen     bool          `yaml:"fail_open"`
	CacheTimeout time.Duration `yaml:"cache_timeout"`
}

type RateConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

type AdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Defaults returns a configuration usable for local development only.
func Defaults() Config {
	return Config{
		HTTPPort: "8080",
		LogLevel: "info",
		Redis:    RedisConfig{Addr: "localhost:6379"},
		JWT: JWTConfig{
			AccessSecret:  defaultAccessSecret,
			AccessTTL:     24 * time.Hour,
			RefreshSecret: defaultRefreshSecret,
			RefreshTTL:    7 * 24 * time.Hour,
		},
		Session: SessionConfig{
			TTL:          24 * time.Hour,
			FailOpen:     true,
			CacheTimeout: 500 * time.Millisecond,
		},
		LoginRate:   RateConfig{PerSecond: 5, Burst: 10},
		SystemAdmin: AdminConfig{Username: "admin", Password: defaultAdminPassword},
	}
}

// Load layers defaults, an optional YAML file and the environment. The file
// path is taken from the argument, then CONFIG_FILE.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("HTTP_PORT", &cfg.HTTPPort)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("JWT_SECRET", &cfg.JWT.AccessSecret)
	str("JWT_REFRESH_SECRET", &cfg.JWT.RefreshSecret)
	str("SYSTEM_ADMIN_USERNAME", &cfg.SystemAdmin.Username)
	str("SYSTEM_ADMIN_PASSWORD", &cfg.SystemAdmin.Password)
	dur("JWT_EXPIRES_IN", &cfg.JWT.AccessTTL)
	dur("JWT_REFRESH_EXPIRES_IN", &cfg.JWT.RefreshTTL)
	dur("SESSION_TTL", &cfg.Session.TTL)
	dur("CACHE_TIMEOUT", &cfg.Session.CacheTimeout)

	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("REDIS_DB: %w", err))
		} else {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("SESSION_FAIL_OPEN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SESSION_FAIL_OPEN: %w", err))
		} else {
			cfg.Session.FailOpen = b
		}
	}
	if v := os.Getenv("LOGIN_RATE_PER_SEC"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("LOGIN_RATE_PER_SEC: %w", err))
		} else {
			cfg.LoginRate.PerSecond = f
		}
	}
	if v := os.Getenv("LOGIN_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LOGIN_BURST: %w", err))
		} else {
			cfg.LoginRate.Burst = n
		}
	}
	return errors.Join(errs...)
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.JWT.AccessSecret == "" || c.JWT.RefreshSecret == "" {
		errs = append(errs, errors.New("jwt: access and refresh secrets are required"))
	}
	if c.JWT.AccessSecret != "" && c.JWT.AccessSecret == c.JWT.RefreshSecret {
		errs = append(errs, errors.New("jwt: access and refresh secrets must differ"))
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		errs = append(errs, errors.New("jwt: token lifetimes must be positive"))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session: ttl must be positive"))
	}
	if c.Session.CacheTimeout <= 0 {
		errs = append(errs, errors.New("session: cache timeout must be positive"))
	}
	return errors.Join(errs...)
}

// Warnings lists settings that are acceptable for development but not for
// production use.
func (c *Config) Warnings() []string {
	var out []string
	if c.JWT.AccessSecret == defaultAccessSecret {
		out = append(out, "JWT_SECRET is the built-in development default")
	}
	if c.JWT.RefreshSecret == defaultRefreshSecret {
		out = append(out, "JWT_REFRESH_SECRET is the built-in development default")
	}
	if c.SystemAdmin.Password == defaultAdminPassword {
		out = append(out, "SYSTEM_ADMIN_PASSWORD is the built-in development default")
	}
	if c.Redis.Password == "" {
		out = append(out, "REDIS_PASSWORD is empty")
	}
	return out
}
