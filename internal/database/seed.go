package database

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"rigdata/internal/auth"
	"rigdata/internal/config"
	"rigdata/internal/models"
)

// Seed creates the default admin when the users table is empty and, if
// configured, a first upload key. It is safe to run on every start.
func Seed(ctx context.Context, db *gorm.DB, cfg config.AuthConfig, lg *zap.SugaredLogger) error {
	db = db.WithContext(ctx)

	var users int64
	if err := db.Model(&models.User{}).Count(&users).Error; err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if users == 0 {
		hash, err := auth.HashPassword(cfg.AdminPassword)
		if err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}
		u := models.User{
			Username:     cfg.AdminUsername,
			PasswordHash: hash,
			Role:         models.RoleAdmin,
			Permissions:  []string{models.PermissionAll},
			IsActive:     true,
			IsVerified:   true,
		}
		if cfg.AdminEmail != "" {
			email := cfg.AdminEmail
			u.Email = &email
		}
		if err := db.Create(&u).Error; err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		lg.Infow("seeded default admin", "username", u.Username)
	}

	if !cfg.SeedAPIKey {
		return nil
	}
	var keys int64
	if err := db.Model(&models.APIKey{}).Count(&keys).Error; err != nil {
		return fmt.Errorf("count api keys: %w", err)
	}
	if keys > 0 {
		return nil
	}
	raw, display, hash, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}
	k := models.APIKey{
		KeyName:     "default upload key",
		KeyHash:     hash,
		KeyPrefix:   display,
		Scope:       models.PermissionUpload,
		Permissions: []string{models.PermissionUpload, models.PermissionRead},
		AllowedIPs:  []string{},
		IsActive:    true,
	}
	if err := db.Create(&k).Error; err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	// the raw value is never stored, so this is the only chance to see it
	lg.Warnw("seeded api key", "key_id", k.ID, "key", raw)
	return nil
}
