package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const ConfigPathEnvVar = "CONFIG_PATH"

var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/rigdata/config.yaml",
}

func Defaults() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimit:       1000,
			RateWindow:      time.Hour,
			LoginRateLimit:  5,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
			SlowThreshold:   200 * time.Millisecond,
			LogLevel:        "warn",
		},
		Auth: AuthConfig{
			AccessTTL:       2 * time.Hour,
			RefreshTTL:      7 * 24 * time.Hour,
			MaxFailedLogins: 5,
			LockDuration:    30 * time.Minute,
			AdminUsername:   "admin",
			AdminPassword:   "admin123",
			AdminEmail:      "admin@rigdata.local",
		},
		Log:     LogConfig{Level: "info"},
		Display: DisplayConfig{UTCOffsetHours: 8},
	}
}

// Load layers defaults < config file < .env < environment and validates the
// result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var sliceConfigPaths = []string{"server.cors_origins"}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		var out []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"environment":  "environment",
	"app_env":      "environment",
	"http_host":    "server.host",
	"http_port":    "server.port",
	"cors_origins": "server.cors_origins",
	"rate_limit":   "server.rate_limit",

	"login_rate_limit": "server.login_rate_limit",

	"db_driver":         "database.driver",
	"database_url":      "database.dsn",
	"db_max_open_conns": "database.max_open_conns",
	"db_max_idle_conns": "database.max_idle_conns",
	"db_log_level":      "database.log_level",

	"jwt_secret":         "auth.jwt_secret",
	"jwt_access_ttl":     "auth.access_ttl",
	"jwt_refresh_ttl":    "auth.refresh_ttl",
	"max_failed_logins":  "auth.max_failed_logins",
	"lock_duration":      "auth.lock_duration",
	"admin_username":     "auth.admin_username",
	"admin_password":     "auth.admin_password",
	"admin_email":        "auth.admin_email",
	"seed_api_key":       "auth.seed_api_key",
	"log_level":          "log.level",
	"display_utc_offset": "display.utc_offset_hours",
}

// envTransformFunc maps known environment variable names onto config paths.
// Variables that are not listed are ignored.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
