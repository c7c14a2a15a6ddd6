// Package testutil opens migrated in-memory databases for tests.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rigdata/internal/config"
	"rigdata/internal/database"
)

// OpenDB returns a fresh, migrated, pure Go SQLite database that lives for
// the duration of the test.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Driver:        "sqlite",
		DSN:           ":memory:",
		LogLevel:      "silent",
		SlowThreshold: time.Second,
	}, zap.NewNop().Sugar())
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Config returns defaults suitable for tests: sqlite, fast lockout and no
// login rate limit worth hitting.
func Config() *config.Config {
	cfg := config.Defaults()
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = ":memory:"
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Server.LoginRateLimit = 1000
	cfg.Server.RateLimit = 100000
	return cfg
}
