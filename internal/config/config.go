// Package config loads the service configuration from struct defaults, an
// optional YAML file, a .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Environment string         `koanf:"environment"`
	Server      ServerConfig   `koanf:"server"`
	Database    DatabaseConfig `koanf:"database"`
	Auth        AuthConfig     `koanf:"auth"`
	Log         LogConfig      `koanf:"log"`
	Display     DisplayConfig  `koanf:"display"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	// RateLimit is the per-IP request budget across the whole API per RateWindow.
	RateLimit  int           `koanf:"rate_limit"`
	RateWindow time.Duration `koanf:"rate_window"`
	// LoginRateLimit is the per-IP budget for the login endpoint per minute.
	LoginRateLimit int `koanf:"login_rate_limit"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver          string        `koanf:"driver"`
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	SlowThreshold   time.Duration `koanf:"slow_threshold"`
	LogLevel        string        `koanf:"log_level"`
}

type AuthConfig struct {
	JWTSecret       string        `koanf:"jwt_secret"`
	AccessTTL       time.Duration `koanf:"access_ttl"`
	RefreshTTL      time.Duration `koanf:"refresh_ttl"`
	MaxFailedLogins int           `koanf:"max_failed_logins"`
	LockDuration    time.Duration `koanf:"lock_duration"`

	AdminUsername string `koanf:"admin_username"`
	AdminPassword string `koanf:"admin_password"`
	AdminEmail    string `koanf:"admin_email"`
	// SeedAPIKey creates an upload key on first start and logs its raw value once.
	SeedAPIKey bool `koanf:"seed_api_key"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

// DisplayConfig controls the zone that response timestamps are rendered in
// and that naive input timestamps are read in.
type DisplayConfig struct {
	UTCOffsetHours int `koanf:"utc_offset_hours"`
}

func (d DisplayConfig) Location() *time.Location {
	if d.UTCOffsetHours == 0 {
		return time.UTC
	}
	return time.FixedZone(fmt.Sprintf("UTC%+d", d.UTCOffsetHours), d.UTCOffsetHours*3600)
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

var (
	ErrMissingDSN    = errors.New("database dsn is required")
	ErrMissingSecret = errors.New("jwt secret is required in production")
)

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return ErrMissingDSN
	}
	if c.IsProduction() && c.Auth.JWTSecret == "" {
		return ErrMissingSecret
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		return errors.New("token ttl must be positive")
	}
	if c.Auth.MaxFailedLogins < 1 {
		return errors.New("auth.max_failed_logins must be at least 1")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Display.UTCOffsetHours < -12 || c.Display.UTCOffsetHours > 14 {
		return fmt.Errorf("invalid display utc offset %d", c.Display.UTCOffsetHours)
	}
	return nil
}
