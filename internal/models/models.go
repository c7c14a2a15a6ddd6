package models

import (
	"slices"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

var Roles = []string{RoleAdmin, RoleManager, RoleOperator, RoleViewer}

const (
	PermissionAll    = "*"
	PermissionRead   = "read"
	PermissionWrite  = "write"
	PermissionUpload = "upload"
	PermissionManage = "manage"
)

var APIKeyScopes = []string{PermissionUpload, PermissionRead, PermissionManage}

// grants reports whether a permission list includes perm, honoring "*".
func grants(list []string, perm string) bool {
	return slices.Contains(list, PermissionAll) || slices.Contains(list, perm)
}

type User struct {
	ID                  string                      `gorm:"primaryKey;size:26" json:"id"`
	Username            string                      `gorm:"size:64;uniqueIndex;not null" json:"username"`
	Email               *string                     `gorm:"size:128;uniqueIndex" json:"email"`
	PasswordHash        string                      `gorm:"size:255;not null" json:"-"`
	Role                string                      `gorm:"size:32;not null;index" json:"role"`
	Permissions         datatypes.JSONSlice[string] `json:"permissions"`
	IsActive            bool                        `gorm:"not null" json:"is_active"`
	IsVerified          bool                        `gorm:"not null" json:"is_verified"`
	LastLogin           *time.Time                  `json:"last_login"`
	LoginCount          int                         `gorm:"not null" json:"login_count"`
	FailedLoginAttempts int                         `gorm:"not null" json:"-"`
	LockedUntil         *time.Time                  `json:"-"`
	CreatedBy           *string                     `gorm:"size:26" json:"created_by"`
	CreateTime          time.Time                   `gorm:"autoCreateTime" json:"create_time"`
	UpdateTime          time.Time                   `gorm:"autoUpdateTime" json:"update_time"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = NewID()
	}
	return nil
}

// HasPermission is true for admins and for users whose list grants perm.
func (u *User) HasPermission(perm string) bool {
	return u.Role == RoleAdmin || grants(u.Permissions, perm)
}

func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// APIKey authenticates rigs that upload results without a user session.
type APIKey struct {
	ID             string                      `gorm:"primaryKey;size:26" json:"id"`
	KeyName        string                      `gorm:"size:128;not null" json:"key_name"`
	KeyDescription *string                     `gorm:"size:512" json:"key_description"`
	KeyHash        string                      `gorm:"size:255;not null" json:"-"`
	KeyPrefix      string                      `gorm:"size:20;not null;index" json:"key_prefix"`
	Scope          string                      `gorm:"size:32;not null" json:"scope"`
	Permissions    datatypes.JSONSlice[string] `json:"permissions"`
	AllowedIPs     datatypes.JSONSlice[string] `gorm:"column:allowed_ips" json:"allowed_ips"`
	IsActive       bool                        `gorm:"not null;index" json:"is_active"`
	ExpiresAt      *time.Time                  `json:"expires_at"`
	LastUsed       *time.Time                  `json:"last_used"`
	UsageCount     int64                       `gorm:"not null" json:"usage_count"`
	CreatedBy      *string                     `gorm:"size:26" json:"created_by"`
	CreateTime     time.Time                   `gorm:"autoCreateTime" json:"create_time"`
	UpdateTime     time.Time                   `gorm:"autoUpdateTime" json:"update_time"`
}

func (APIKey) TableName() string { return "api_keys" }

func (k *APIKey) BeforeCreate(*gorm.DB) error {
	if k.ID == "" {
		k.ID = NewID()
	}
	return nil
}

func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

func (k *APIKey) IsValid(now time.Time) bool {
	return k.IsActive && !k.IsExpired(now)
}

func (k *APIKey) HasPermission(perm string) bool {
	return grants(k.Permissions, perm)
}

const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

// Session tracks every issued JWT so that logout can revoke it.
type Session struct {
	JTI        string     `gorm:"primaryKey;size:64" json:"jti"`
	UserID     string     `gorm:"size:26;index;not null" json:"user_id"`
	TokenType  string     `gorm:"size:16;not null" json:"token_type"`
	ExpiresAt  time.Time  `gorm:"not null" json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	CreateTime time.Time  `gorm:"autoCreateTime" json:"create_time"`
}

type AuditLog struct {
	ID         string         `gorm:"primaryKey;size:26" json:"id"`
	UserID     *string        `gorm:"size:26;index" json:"user_id,omitempty"`
	APIKeyID   *string        `gorm:"column:api_key_id;size:26" json:"api_key_id,omitempty"`
	Action     string         `gorm:"size:64;not null;index" json:"action"`
	Resource   string         `gorm:"size:64;not null" json:"resource"`
	ResourceID string         `gorm:"size:64" json:"resource_id"`
	Metadata   datatypes.JSON `json:"metadata"`
	CreateTime time.Time      `gorm:"autoCreateTime;index" json:"create_time"`
}

func (a *AuditLog) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = NewID()
	}
	return nil
}

// All lists every persisted model, in migration order.
func All() []any {
	return []any{
		&User{}, &APIKey{}, &Session{}, &AuditLog{},
		&WifiBoardTest{}, &DriverBoardTest{}, &IntegrateTest{},
		&TemperatureData{}, &WifiTestLog{},
	}
}
