package handlers

import (
	"errors"
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
	"rigdata/internal/timerange"
	"rigdata/internal/validation"
)

// APIKeys manages rig upload keys.
type APIKeys struct {
	DB  *gorm.DB
	Log *zap.SugaredLogger
	Loc *time.Location
	Now func() time.Time
}

func (h *APIKeys) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

func (h *APIKeys) load(w http.ResponseWriter, r *http.Request) (*models.APIKey, bool) {
	var k models.APIKey
	err := h.DB.WithContext(r.Context()).Take(&k, "id = ?", chi.URLParam(r, "id")).Error
	switch {
	case err == nil:
		return &k, true
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, "API key not found")
	default:
		internalError(w, r, h.Log, "load api key", err)
	}
	return nil, false
}

func (h *APIKeys) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, perPage := repository.Normalize(queryInt(r, "page", 1), queryInt(r, "per_page", repository.DefaultPerPage))
		db := h.DB.WithContext(r.Context())
		var total int64
		if err := db.Model(&models.APIKey{}).Count(&total).Error; err != nil {
			internalError(w, r, h.Log, "count api keys", err)
			return
		}
		keys := []models.APIKey{}
		if err := db.Order("create_time DESC").Limit(perPage).Offset(repository.Offset(page, perPage)).Find(&keys).Error; err != nil {
			internalError(w, r, h.Log, "list api keys", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"api_keys":   models.LocalizeAll(keys, h.Loc),
			"pagination": newPagination(page, perPage, total),
		})
	}
}

type createKeyReq struct {
	KeyName        string   `json:"key_name" validate:"required,max=128"`
	KeyDescription string   `json:"key_description" validate:"max=512"`
	Scope          string   `json:"scope" validate:"omitempty,oneof=upload read manage"`
	Permissions    []string `json:"permissions"`
	AllowedIPs     []string `json:"allowed_ips" validate:"omitempty,dive,ip|cidr"`
	ExpiresAt      string   `json:"expires_at"`
}

// Create returns the raw key exactly once. Without explicit permissions a
// key is granted its scope.
func (h *APIKeys) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createKeyReq
		if err := decodeBody(r, &req); err != nil {
			if errors.Is(err, errNoInput) {
				respondError(w, http.StatusBadRequest, "Key name required")
				return
			}
			badRequest(w, err)
			return
		}
		name := strings.TrimSpace(req.KeyName)
		if name == "" {
			respondError(w, http.StatusBadRequest, "Key name required")
			return
		}
		raw, display, hash, err := auth.GenerateAPIKey()
		if err != nil {
			internalError(w, r, h.Log, "generate api key", err)
			return
		}
		k := models.APIKey{
			KeyName:     name,
			KeyHash:     hash,
			KeyPrefix:   display,
			Scope:       req.Scope,
			Permissions: req.Permissions,
			AllowedIPs:  req.AllowedIPs,
			IsActive:    true,
		}
		if k.Scope == "" {
			k.Scope = models.PermissionUpload
		}
		if len(k.Permissions) == 0 {
			k.Permissions = []string{k.Scope}
		}
		if k.AllowedIPs == nil {
			k.AllowedIPs = []string{}
		}
		if d := strings.TrimSpace(req.KeyDescription); d != "" {
			k.KeyDescription = &d
		}
		if req.ExpiresAt != "" {
			t, err := timerange.ParseTimestamp(req.ExpiresAt, h.Loc)
			if err != nil {
				respondError(w, http.StatusBadRequest, "expires_at has an invalid datetime format")
				return
			}
			k.ExpiresAt = &t
		}
		if me := auth.CurrentUser(r.Context()); me != nil {
			k.CreatedBy = &me.ID
		}
		if err := h.DB.WithContext(r.Context()).Create(&k).Error; err != nil {
			internalError(w, r, h.Log, "create api key", err)
			return
		}
		h.Log.Infow("api key created", "key_id", k.ID, "name", k.KeyName, "scope", k.Scope)
		audit(r.Context(), h.DB, h.Log, "create", "api_key", k.ID, map[string]any{"key_name": k.KeyName, "scope": k.Scope})
		respondJSON(w, http.StatusCreated, map[string]any{
			"message": "API key created successfully",
			"api_key": models.Localize(k, h.Loc),
			"key":     raw,
		})
	}
}

// keyUpdateFields governs PUT bodies. Scope and IP entries are checked
// separately.
var keyUpdateFields = fields.Set{
	{Key: "key_name", Kind: fields.String, MaxLen: 128, Required: true},
	{Key: "key_description", Kind: fields.String, MaxLen: 512},
	{Key: "scope", Kind: fields.String},
	{Key: "permissions", Kind: fields.StringList},
	{Key: "allowed_ips", Kind: fields.StringList},
	{Key: "is_active", Kind: fields.Bool},
	{Key: "expires_at", Kind: fields.Time},
}

func (h *APIKeys) Update() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		k, ok := h.load(w, r)
		if !ok {
			return
		}
		body, err := fields.Decode(r.Body)
		if err != nil {
			if errors.Is(err, fields.ErrNotObject) {
				respondError(w, http.StatusBadRequest, "No input data provided")
				return
			}
			var fe *fields.Error
			if errors.As(err, &fe) {
				respondError(w, http.StatusBadRequest, fe.Message)
				return
			}
			internalError(w, r, h.Log, "decode api key update", err)
			return
		}
		if v, sent := body["key_name"]; sent {
			if s, _ := v.(string); strings.TrimSpace(s) == "" {
				respondError(w, http.StatusBadRequest, "Key name cannot be empty")
				return
			}
		}
		if v, sent := body["scope"]; sent {
			if s, _ := v.(string); !slices.Contains(models.APIKeyScopes, s) {
				respondError(w, http.StatusBadRequest, "Invalid scope. Must be one of: "+strings.Join(models.APIKeyScopes, ", "))
				return
			}
		}
		values, err := keyUpdateFields.Apply(k, body, fields.Options{Location: h.Loc})
		if err != nil {
			var fe *fields.Error
			if errors.As(err, &fe) {
				respondError(w, http.StatusBadRequest, fe.Message)
				return
			}
			internalError(w, r, h.Log, "apply api key update", err)
			return
		}
		for _, ip := range k.AllowedIPs {
			if validation.Validator().Var(ip, "ip|cidr") != nil {
				respondError(w, http.StatusBadRequest, "allowed_ips must contain IP addresses or CIDR blocks")
				return
			}
		}
		if err := h.DB.WithContext(r.Context()).Save(k).Error; err != nil {
			internalError(w, r, h.Log, "update api key", err)
			return
		}
		h.Log.Infow("api key updated", "key_id", k.ID, "fields", len(values))
		audit(r.Context(), h.DB, h.Log, "update", "api_key", k.ID, nil)
		respondJSON(w, http.StatusOK, map[string]any{
			"message": "API key updated successfully",
			"api_key": models.Localize(*k, h.Loc),
		})
	}
}

type creatorInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type keyDetail struct {
	models.APIKey
	Status             string       `json:"status"`
	IsExpired          bool         `json:"is_expired"`
	CreatedDaysAgo     int          `json:"created_days_ago"`
	LastUsedDaysAgo    *int         `json:"last_used_days_ago"`
	UsageFrequency     string       `json:"usage_frequency"`
	CreatorInfo        *creatorInfo `json:"creator_info"`
	PermissionsCount   int          `json:"permissions_count"`
	HasReadPermission  bool         `json:"has_read_permission"`
	HasWritePermission bool         `json:"has_write_permission"`
}

func daysSince(now, t time.Time) int {
	return int(now.Sub(t).Hours() / 24)
}

// usageFrequency buckets a key by how recently it was used.
func usageFrequency(k *models.APIKey, now time.Time) string {
	if k.UsageCount == 0 || k.LastUsed == nil {
		return "never_used"
	}
	switch d := daysSince(now, *k.LastUsed); {
	case d <= 1:
		return "active"
	case d <= 7:
		return "recent"
	case d <= 30:
		return "occasional"
	default:
		return "dormant"
	}
}

func describeKey(k *models.APIKey, now time.Time) keyDetail {
	d := keyDetail{
		APIKey:           *k,
		IsExpired:        k.IsExpired(now),
		CreatedDaysAgo:   daysSince(now, k.CreateTime),
		UsageFrequency:   usageFrequency(k, now),
		PermissionsCount: len(k.Permissions),
	}
	switch {
	case !k.IsActive:
		d.Status = "revoked"
	case d.IsExpired:
		d.Status = "expired"
	default:
		d.Status = "active"
	}
	if k.LastUsed != nil {
		n := daysSince(now, *k.LastUsed)
		d.LastUsedDaysAgo = &n
	}
	for _, p := range k.Permissions {
		switch p {
		case models.PermissionAll, models.PermissionUpload, models.PermissionManage:
			d.HasReadPermission, d.HasWritePermission = true, true
		case models.PermissionRead:
			d.HasReadPermission = true
		case models.PermissionWrite:
			d.HasWritePermission = true
		}
	}
	return d
}

func (h *APIKeys) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		k, ok := h.load(w, r)
		if !ok {
			return
		}
		d := describeKey(k, h.now())
		d.APIKey = models.Localize(*k, h.Loc)
		if k.CreatedBy != nil {
			var u models.User
			err := h.DB.WithContext(r.Context()).Select("id", "username", "role").Take(&u, "id = ?", *k.CreatedBy).Error
			switch {
			case err == nil:
				d.CreatorInfo = &creatorInfo{ID: u.ID, Username: u.Username, Role: u.Role}
			case errors.Is(err, gorm.ErrRecordNotFound):
				d.CreatorInfo = &creatorInfo{ID: *k.CreatedBy, Username: "deleted user", Role: "unknown"}
			default:
				internalError(w, r, h.Log, "load api key creator", err)
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]any{"api_key": d})
	}
}

// Revoke deactivates the key. It stays listed for audit.
func (h *APIKeys) Revoke() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		k, ok := h.load(w, r)
		if !ok {
			return
		}
		if err := h.DB.WithContext(r.Context()).Model(k).Update("is_active", false).Error; err != nil {
			internalError(w, r, h.Log, "revoke api key", err)
			return
		}
		h.Log.Infow("api key revoked", "key_id", k.ID, "name", k.KeyName)
		audit(r.Context(), h.DB, h.Log, "revoke", "api_key", k.ID, nil)
		respondMessage(w, "API key revoked successfully")
	}
}

// Self describes the calling key, so rigs can check their credential.
func (h *APIKeys) Self() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		k := auth.CurrentAPIKey(r.Context())
		d := describeKey(k, h.now())
		d.APIKey = models.Localize(*k, h.Loc)
		respondJSON(w, http.StatusOK, map[string]any{"api_key": d})
	}
}
