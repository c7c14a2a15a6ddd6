package database_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"rigdata/internal/models"
	"rigdata/internal/testutil"
)

func TestOpen_TranslatesDuplicateKey(t *testing.T) {
	db := testutil.OpenDB(t)
	require.NoError(t, db.Create(&models.User{Username: "op", PasswordHash: "x", Role: models.RoleOperator}).Error)

	err := db.Create(&models.User{Username: "op", PasswordHash: "y", Role: models.RoleOperator}).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}
