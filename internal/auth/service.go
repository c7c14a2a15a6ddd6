package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"rigdata/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountInactive    = errors.New("account is disabled")
	ErrAccountLocked      = errors.New("account is locked")
	ErrWrongPassword      = errors.New("old password is incorrect")
	ErrInvalidAPIKey      = errors.New("invalid API key")
	ErrIPNotAllowed       = errors.New("client address not allowed for this API key")
)

// LockedError carries the end of the lockout window.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account is locked until %s", e.Until.Format(time.RFC3339))
}

func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

// Pair is the result of a login or refresh.
type Pair struct {
	Access  Token
	Refresh Token
}

// Service owns credential checks: password login with lockout, token
// issuing and revocation, and API key verification.
type Service struct {
	db          *gorm.DB
	tokens      *Manager
	maxFailures int
	lockFor     time.Duration
	// Now is the clock used for lockout windows, sessions and key expiry.
	Now func() time.Time
}

func NewService(db *gorm.DB, tokens *Manager, maxFailures int, lockFor time.Duration) *Service {
	s := &Service{db: db, tokens: tokens, maxFailures: maxFailures, lockFor: lockFor, Now: time.Now}
	tokens.now = func() time.Time { return s.Now() }
	return s
}

func (s *Service) Tokens() *Manager { return s.tokens }

func (s *Service) DB() *gorm.DB { return s.db }

func (s *Service) now() time.Time { return s.Now().UTC() }

// Login checks a username and password. Every wrong password counts toward
// the lockout threshold; reaching it locks the account for the configured
// window, during which even a correct password is refused.
func (s *Service) Login(ctx context.Context, username, password string) (*models.User, Pair, error) {
	var (
		u        models.User
		pair     Pair
		loginErr error
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("username = ?", strings.TrimSpace(username)).Take(&u).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidCredentials
		}
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		if !u.IsActive {
			return ErrAccountInactive
		}
		now := s.now()
		if u.IsLocked(now) {
			return &LockedError{Until: *u.LockedUntil}
		}

		if CheckPassword(u.PasswordHash, password) != nil {
			u.FailedLoginAttempts++
			updates := map[string]any{"failed_login_attempts": u.FailedLoginAttempts}
			if u.FailedLoginAttempts >= s.maxFailures {
				until := now.Add(s.lockFor)
				u.LockedUntil = &until
				updates["locked_until"] = until
			}
			if err := tx.Model(&u).UpdateColumns(updates).Error; err != nil {
				return fmt.Errorf("record failed login: %w", err)
			}
			// commit the counter, refuse the login
			loginErr = ErrInvalidCredentials
			return nil
		}

		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
		u.LastLogin = &now
		u.LoginCount++
		if err := tx.Model(&u).Select("failed_login_attempts", "locked_until", "last_login", "login_count").
			Updates(&u).Error; err != nil {
			return fmt.Errorf("record login: %w", err)
		}
		pair, err = s.issuePair(tx, &u)
		return err
	})
	if err != nil {
		return nil, Pair{}, err
	}
	if loginErr != nil {
		return nil, Pair{}, loginErr
	}
	return &u, pair, nil
}

func (s *Service) issuePair(tx *gorm.DB, u *models.User) (Pair, error) {
	access, err := s.tokens.IssueAccess(u)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := s.tokens.IssueRefresh(u)
	if err != nil {
		return Pair{}, err
	}
	sessions := []models.Session{
		{JTI: access.JTI, UserID: u.ID, TokenType: access.Type, ExpiresAt: access.ExpiresAt},
		{JTI: refresh.JTI, UserID: u.ID, TokenType: refresh.Type, ExpiresAt: refresh.ExpiresAt},
	}
	if err := tx.Create(&sessions).Error; err != nil {
		return Pair{}, fmt.Errorf("store sessions: %w", err)
	}
	return Pair{Access: access, Refresh: refresh}, nil
}

// sessionActive checks that a token id is registered, unrevoked and unexpired.
func (s *Service) sessionActive(tx *gorm.DB, jti string) error {
	var sess models.Session
	if err := tx.Where("jti = ?", jti).Take(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("load session: %w", err)
	}
	if sess.RevokedAt != nil || !s.now().Before(sess.ExpiresAt) {
		return ErrInvalidToken
	}
	return nil
}

func (s *Service) activeUser(tx *gorm.DB, id string) (*models.User, error) {
	var u models.User
	if err := tx.Where("id = ?", id).Take(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !u.IsActive {
		return nil, ErrAccountInactive
	}
	return &u, nil
}

// Authenticate validates an access token and reloads its user.
func (s *Service) Authenticate(ctx context.Context, raw string) (*models.User, *Claims, error) {
	c, err := s.tokens.Parse(raw, models.TokenAccess)
	if err != nil {
		return nil, nil, err
	}
	db := s.db.WithContext(ctx)
	if err := s.sessionActive(db, c.ID); err != nil {
		return nil, nil, err
	}
	u, err := s.activeUser(db, c.Subject)
	if err != nil {
		return nil, nil, err
	}
	return u, c, nil
}

// Refresh exchanges a refresh token for a new pair and revokes the old
// refresh token.
func (s *Service) Refresh(ctx context.Context, raw string) (*models.User, Pair, error) {
	c, err := s.tokens.Parse(raw, models.TokenRefresh)
	if err != nil {
		return nil, Pair{}, err
	}
	var (
		u    *models.User
		pair Pair
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.sessionActive(tx, c.ID); err != nil {
			return err
		}
		if u, err = s.activeUser(tx, c.Subject); err != nil {
			return err
		}
		if err := tx.Model(&models.Session{}).Where("jti = ?", c.ID).
			Update("revoked_at", s.now()).Error; err != nil {
			return fmt.Errorf("revoke refresh session: %w", err)
		}
		pair, err = s.issuePair(tx, u)
		return err
	})
	if err != nil {
		return nil, Pair{}, err
	}
	return u, pair, nil
}

// Logout revokes the session behind c, or every open session of its user
// when all is set. It returns the number of sessions revoked.
func (s *Service) Logout(ctx context.Context, c *Claims, all bool) (int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Session{}).Where("revoked_at IS NULL")
	if all {
		q = q.Where("user_id = ?", c.Subject)
	} else {
		q = q.Where("jti = ?", c.ID)
	}
	res := q.Update("revoked_at", s.now())
	if res.Error != nil {
		return 0, fmt.Errorf("revoke sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Service) ChangePassword(ctx context.Context, u *models.User, oldPassword, newPassword string) error {
	if CheckPassword(u.PasswordHash, oldPassword) != nil {
		return ErrWrongPassword
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(u).UpdateColumn("password_hash", hash).Error; err != nil {
		return fmt.Errorf("save password: %w", err)
	}
	u.PasswordHash = hash
	return nil
}

// Unlock clears the lockout counters of a user.
func (s *Service) Unlock(ctx context.Context, u *models.User) error {
	err := s.db.WithContext(ctx).Model(u).Select("failed_login_attempts", "locked_until").
		Updates(map[string]any{"failed_login_attempts": 0, "locked_until": nil}).Error
	if err != nil {
		return fmt.Errorf("unlock user: %w", err)
	}
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	return nil
}

// AuthenticateKey finds the active key matching raw and enforces its expiry
// and address allow-list. Callers record the use with RecordKeyUse once the
// route's permissions are satisfied.
func (s *Service) AuthenticateKey(ctx context.Context, raw, remoteAddr string) (*models.APIKey, error) {
	if !strings.HasPrefix(raw, APIKeyPrefix) {
		return nil, ErrInvalidAPIKey
	}
	db := s.db.WithContext(ctx)
	var candidates []models.APIKey
	// the stored display prefix narrows the bcrypt comparisons to keys that
	// could match; every issued key carries it
	if err := db.Where("is_active = ? AND key_prefix = ?", true, DisplayPrefix(raw)).
		Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("load api keys: %w", err)
	}
	now := s.now()
	for i := range candidates {
		k := &candidates[i]
		if CheckPassword(k.KeyHash, raw) != nil {
			continue
		}
		if !k.IsValid(now) {
			return nil, ErrInvalidAPIKey
		}
		if !IPAllowed(k.AllowedIPs, remoteAddr) {
			return nil, ErrIPNotAllowed
		}
		return k, nil
	}
	return nil, ErrInvalidAPIKey
}

// RecordKeyUse bumps the key's usage counter and last-used time.
func (s *Service) RecordKeyUse(ctx context.Context, k *models.APIKey) error {
	now := s.now()
	err := s.db.WithContext(ctx).Model(&models.APIKey{}).Where("id = ?", k.ID).UpdateColumns(map[string]any{
		"usage_count": gorm.Expr("usage_count + ?", 1),
		"last_used":   now,
	}).Error
	if err != nil {
		return fmt.Errorf("record key usage: %w", err)
	}
	k.UsageCount++
	k.LastUsed = &now
	return nil
}
