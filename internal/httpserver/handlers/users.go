package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rigdata/internal/auth"
	"rigdata/internal/fields"
	"rigdata/internal/models"
	"rigdata/internal/repository"
	"rigdata/internal/validation"
)

// Users is the admin user management API.
type Users struct {
	DB   *gorm.DB
	Auth *auth.Service
	Log  *zap.SugaredLogger
	Loc  *time.Location
}

type userDetail struct {
	models.User
	IsLocked       bool       `json:"is_locked"`
	FailedAttempts int        `json:"failed_attempts"`
	LockedUntil    *time.Time `json:"locked_until"`
}

func (h *Users) detail(u *models.User) userDetail {
	d := userDetail{
		User:           models.Localize(*u, h.Loc),
		IsLocked:       u.IsLocked(h.Auth.Now()),
		FailedAttempts: u.FailedLoginAttempts,
	}
	if u.LockedUntil != nil {
		t := u.LockedUntil.In(h.Loc)
		d.LockedUntil = &t
	}
	return d
}

func (h *Users) load(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	var u models.User
	err := h.DB.WithContext(r.Context()).Take(&u, "id = ?", chi.URLParam(r, "id")).Error
	switch {
	case err == nil:
		return &u, true
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, "User not found")
	default:
		internalError(w, r, h.Log, "load user", err)
	}
	return nil, false
}

// List filters by role, is_active and a username or email search.
func (h *Users) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page, perPage := repository.Normalize(queryInt(r, "page", 1), queryInt(r, "per_page", repository.DefaultPerPage))

		scope := func() *gorm.DB {
			db := h.DB.WithContext(r.Context()).Model(&models.User{})
			if v := q.Get("role"); v != "" {
				db = db.Where("role = ?", v)
			}
			if v := q.Get("is_active"); v != "" {
				db = db.Where("is_active = ?", truthy(v))
			}
			if v := strings.TrimSpace(q.Get("search")); v != "" {
				like := "%" + repository.EscapeLike(v) + "%"
				db = db.Where("username LIKE ? ESCAPE '!' OR email LIKE ? ESCAPE '!'", like, like)
			}
			return db
		}

		var total int64
		if err := scope().Count(&total).Error; err != nil {
			internalError(w, r, h.Log, "count users", err)
			return
		}
		users := []models.User{}
		if err := scope().Order("create_time DESC").Limit(perPage).Offset(repository.Offset(page, perPage)).Find(&users).Error; err != nil {
			internalError(w, r, h.Log, "list users", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"users":      models.LocalizeAll(users, h.Loc),
			"pagination": newPagination(page, perPage, total),
		})
	}
}

type createUserReq struct {
	Username    string   `json:"username" validate:"required,min=3,max=50"`
	Email       string   `json:"email" validate:"omitempty,email"`
	Password    string   `json:"password" validate:"required,min=6"`
	Role        string   `json:"role" validate:"omitempty,oneof=admin manager operator viewer"`
	Permissions []string `json:"permissions"`
}

func (h *Users) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createUserReq
		if err := decodeBody(r, &req); err != nil {
			badRequest(w, err)
			return
		}
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			internalError(w, r, h.Log, "hash password", err)
			return
		}
		u := models.User{
			Username:     strings.TrimSpace(req.Username),
			PasswordHash: hash,
			Role:         req.Role,
			Permissions:  req.Permissions,
			IsActive:     true,
			IsVerified:   true,
		}
		if u.Role == "" {
			u.Role = models.RoleViewer
		}
		if u.Permissions == nil {
			u.Permissions = []string{}
		}
		if e := strings.ToLower(strings.TrimSpace(req.Email)); e != "" {
			u.Email = &e
		}
		if me := auth.CurrentUser(r.Context()); me != nil {
			u.CreatedBy = &me.ID
		}

		var conflict string
		err = h.DB.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
			c, err := uniqueConflict(tx, "", u.Username, u.Email)
			if err != nil || c != "" {
				conflict = c
				return err
			}
			return tx.Create(&u).Error
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// lost a race with a concurrent write past uniqueConflict
			conflict, err = "Username or email already exists", nil
		}
		if err != nil {
			internalError(w, r, h.Log, "create user", err)
			return
		}
		if conflict != "" {
			respondError(w, http.StatusConflict, conflict)
			return
		}
		h.Log.Infow("user created", "user_id", u.ID, "username", u.Username, "role", u.Role)
		audit(r.Context(), h.DB, h.Log, "create", "user", u.ID, map[string]any{"username": u.Username, "role": u.Role})
		respondJSON(w, http.StatusCreated, map[string]any{
			"message": "User created successfully",
			"user":    models.Localize(u, h.Loc),
		})
	}
}

// uniqueConflict returns a client message when username or email is held
// by a user other than id.
func uniqueConflict(tx *gorm.DB, id, username string, email *string) (string, error) {
	var n int64
	if username != "" {
		if err := tx.Model(&models.User{}).Where("username = ? AND id <> ?", username, id).Count(&n).Error; err != nil {
			return "", fmt.Errorf("check username: %w", err)
		}
		if n > 0 {
			return "Username already exists", nil
		}
	}
	if email != nil {
		if err := tx.Model(&models.User{}).Where("email = ? AND id <> ?", *email, id).Count(&n).Error; err != nil {
			return "", fmt.Errorf("check email: %w", err)
		}
		if n > 0 {
			return "Email already exists", nil
		}
	}
	return "", nil
}

func (h *Users) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := h.load(w, r)
		if !ok {
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"user": h.detail(u)})
	}
}

type change struct {
	Field    string `json:"field"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
}

// userUpdate is a validated update request. A nil field was not sent.
type userUpdate struct {
	Username    *string
	Email       **string
	Role        *string
	IsActive    *bool
	IsVerified  *bool
	Permissions []string
	permsSent   bool
}

func invalidType(field string) error {
	return &fields.Error{Field: field, Message: "Invalid type for " + field}
}

func parseUserUpdate(body map[string]any) (userUpdate, error) {
	var up userUpdate
	if v, ok := body["username"]; ok {
		s, ok := v.(string)
		if !ok {
			return up, invalidType("username")
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return up, &fields.Error{Field: "username", Message: "Username cannot be empty"}
		}
		if n := len([]rune(s)); n < 3 || n > 50 {
			return up, &fields.Error{Field: "username", Message: "Username must be 3-50 characters"}
		}
		up.Username = &s
	}
	if v, ok := body["email"]; ok {
		var email *string
		switch s := v.(type) {
		case nil:
		case string:
			s = strings.ToLower(strings.TrimSpace(s))
			if s != "" {
				if validation.Validator().Var(s, "email") != nil {
					return up, &fields.Error{Field: "email", Message: "Invalid email format"}
				}
				email = &s
			}
		default:
			return up, invalidType("email")
		}
		up.Email = &email
	}
	if v, ok := body["role"]; ok {
		s, ok := v.(string)
		if !ok {
			return up, invalidType("role")
		}
		if !slices.Contains(models.Roles, s) {
			return up, &fields.Error{Field: "role", Message: "Invalid role. Must be one of: " + strings.Join(models.Roles, ", ")}
		}
		up.Role = &s
	}
	for key, dst := range map[string]**bool{"is_active": &up.IsActive, "is_verified": &up.IsVerified} {
		if v, ok := body[key]; ok {
			b, ok := v.(bool)
			if !ok {
				return up, invalidType(key)
			}
			*dst = &b
		}
	}
	if v, ok := body["permissions"]; ok {
		list, ok := v.([]any)
		if !ok {
			return up, &fields.Error{Field: "permissions", Message: "Permissions must be a list"}
		}
		up.Permissions = make([]string, 0, len(list))
		for _, p := range list {
			s, ok := p.(string)
			if !ok {
				return up, &fields.Error{Field: "permissions", Message: "Each permission must be a string"}
			}
			up.Permissions = append(up.Permissions, s)
		}
		up.permsSent = true
	}
	return up, nil
}

// apply writes up onto u and lists what actually changed.
func (up userUpdate) apply(u *models.User) []change {
	var out []change
	if up.Username != nil && *up.Username != u.Username {
		out = append(out, change{"username", u.Username, *up.Username})
		u.Username = *up.Username
	}
	if up.Email != nil && !equalPtr(*up.Email, u.Email) {
		out = append(out, change{"email", u.Email, *up.Email})
		u.Email = *up.Email
	}
	if up.Role != nil && *up.Role != u.Role {
		out = append(out, change{"role", u.Role, *up.Role})
		u.Role = *up.Role
	}
	if up.IsActive != nil && *up.IsActive != u.IsActive {
		out = append(out, change{"is_active", u.IsActive, *up.IsActive})
		u.IsActive = *up.IsActive
	}
	if up.IsVerified != nil && *up.IsVerified != u.IsVerified {
		out = append(out, change{"is_verified", u.IsVerified, *up.IsVerified})
		u.IsVerified = *up.IsVerified
	}
	if up.permsSent && !slices.Equal(up.Permissions, u.Permissions) {
		out = append(out, change{"permissions", []string(u.Permissions), up.Permissions})
		u.Permissions = up.Permissions
	}
	return out
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Update applies an allow-listed, strictly typed partial update. Admins
// cannot deactivate or demote themselves.
func (h *Users) Update() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := h.load(w, r)
		if !ok {
			return
		}
		body, err := fields.Decode(r.Body)
		if errors.Is(err, fields.ErrNotObject) {
			body, err = map[string]any{}, nil
		}
		var up userUpdate
		if err == nil {
			up, err = parseUserUpdate(body)
		}
		var fe *fields.Error
		if errors.As(err, &fe) {
			respondError(w, http.StatusBadRequest, fe.Message)
			return
		} else if err != nil {
			internalError(w, r, h.Log, "decode user update", err)
			return
		}

		if me := auth.CurrentUser(r.Context()); me != nil && me.ID == u.ID {
			if up.IsActive != nil && !*up.IsActive {
				respondError(w, http.StatusBadRequest, "Cannot deactivate your own account")
				return
			}
			if up.Role != nil && *up.Role != models.RoleAdmin {
				respondError(w, http.StatusBadRequest, "Cannot change your own admin role")
				return
			}
		}

		var conflict string
		changes := up.apply(u)
		if len(changes) == 0 {
			respondJSON(w, http.StatusOK, map[string]any{
				"message": "No changes made",
				"user":    models.Localize(*u, h.Loc),
			})
			return
		}
		err = h.DB.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
			var email *string
			if up.Email != nil {
				email = *up.Email
			}
			var username string
			if up.Username != nil {
				username = *up.Username
			}
			c, err := uniqueConflict(tx, u.ID, username, email)
			if err != nil || c != "" {
				conflict = c
				return err
			}
			return tx.Save(u).Error
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// lost a race with a concurrent write past uniqueConflict
			conflict, err = "Username or email already exists", nil
		}
		if err != nil {
			internalError(w, r, h.Log, "update user", err)
			return
		}
		if conflict != "" {
			respondError(w, http.StatusConflict, conflict)
			return
		}
		h.Log.Infow("user updated", "user_id", u.ID, "changes", len(changes))
		audit(r.Context(), h.DB, h.Log, "update", "user", u.ID, map[string]any{"changes": changes})
		respondJSON(w, http.StatusOK, map[string]any{
			"message":      "User updated successfully",
			"user":         models.Localize(*u, h.Loc),
			"changes_made": changes,
		})
	}
}

// Delete deactivates the user and revokes their sessions.
func (h *Users) Delete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := h.load(w, r)
		if !ok {
			return
		}
		if me := auth.CurrentUser(r.Context()); me != nil && me.ID == u.ID {
			respondError(w, http.StatusBadRequest, "Cannot delete your own account")
			return
		}
		err := h.DB.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(u).Update("is_active", false).Error; err != nil {
				return err
			}
			return tx.Model(&models.Session{}).
				Where("user_id = ? AND revoked_at IS NULL", u.ID).
				Update("revoked_at", h.Auth.Now().UTC()).Error
		})
		if err != nil {
			internalError(w, r, h.Log, "deactivate user", err)
			return
		}
		h.Log.Infow("user deactivated", "user_id", u.ID)
		audit(r.Context(), h.DB, h.Log, "deactivate", "user", u.ID, nil)
		respondMessage(w, "User deactivated successfully")
	}
}

func (h *Users) Unlock() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := h.load(w, r)
		if !ok {
			return
		}
		if err := h.Auth.Unlock(r.Context(), u); err != nil {
			internalError(w, r, h.Log, "unlock user", err)
			return
		}
		audit(r.Context(), h.DB, h.Log, "unlock", "user", u.ID, nil)
		respondJSON(w, http.StatusOK, map[string]any{
			"message": "User unlocked successfully",
			"user":    h.detail(u),
		})
	}
}
