package database_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rigdata/internal/auth"
	"rigdata/internal/database"
	"rigdata/internal/models"
	"rigdata/internal/testutil"
)

func TestSeed_CreatesAdminOnce(t *testing.T) {
	db := testutil.OpenDB(t)
	cfg := testutil.Config().Auth
	ctx := context.Background()

	require.NoError(t, database.Seed(ctx, db, cfg, zap.NewNop().Sugar()))
	require.NoError(t, database.Seed(ctx, db, cfg, zap.NewNop().Sugar()))

	var users []models.User
	require.NoError(t, db.Find(&users).Error)
	require.Len(t, users, 1)
	u := users[0]
	assert.Equal(t, cfg.AdminUsername, u.Username)
	assert.Equal(t, models.RoleAdmin, u.Role)
	assert.True(t, u.IsActive)
	assert.True(t, u.HasPermission(models.PermissionWrite))
	assert.NoError(t, auth.CheckPassword(u.PasswordHash, cfg.AdminPassword))
}

func TestSeed_APIKey(t *testing.T) {
	db := testutil.OpenDB(t)
	cfg := testutil.Config().Auth
	cfg.SeedAPIKey = true
	ctx := context.Background()

	require.NoError(t, database.Seed(ctx, db, cfg, zap.NewNop().Sugar()))
	require.NoError(t, database.Seed(ctx, db, cfg, zap.NewNop().Sugar()))

	var keys []models.APIKey
	require.NoError(t, db.Find(&keys).Error)
	require.Len(t, keys, 1)
	assert.True(t, keys[0].HasPermission(models.PermissionUpload))
	assert.NotEmpty(t, keys[0].KeyHash)
}
