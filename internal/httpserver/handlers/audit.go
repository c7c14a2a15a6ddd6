package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"rigdata/internal/auth"
	"rigdata/internal/models"
	"rigdata/internal/repository"
)

// audit records an administrative action. Failures are logged and never
// fail the request.
func audit(ctx context.Context, db *gorm.DB, lg *zap.SugaredLogger, action, resource, id string, meta map[string]any) {
	userID, keyID := auth.Actor(ctx)
	entry := models.AuditLog{
		UserID:     userID,
		APIKeyID:   keyID,
		Action:     action,
		Resource:   resource,
		ResourceID: id,
	}
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			entry.Metadata = datatypes.JSON(b)
		}
	}
	if err := db.WithContext(ctx).Create(&entry).Error; err != nil {
		lg.Warnw("audit write failed", "error", err, "action", action, "resource_id", id)
	}
}

// ListAuditLogs returns audit entries newest first, optionally filtered by
// action, user_id and resource.
func ListAuditLogs(db *gorm.DB, lg *zap.SugaredLogger, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page, perPage := repository.Normalize(queryInt(r, "page", 1), queryInt(r, "per_page", repository.DefaultPerPage))

		var filters []repository.Filter
		for _, p := range []string{"action", "user_id", "resource"} {
			if v := q.Get(p); v != "" {
				filters = append(filters, repository.Filter{Column: p, Value: v})
			}
		}

		base := db.WithContext(r.Context()).Model(&models.AuditLog{})
		var total int64
		if err := repository.Apply(base, filters, nil, nil).Count(&total).Error; err != nil {
			internalError(w, r, lg, "count audit logs", err)
			return
		}
		logs := []models.AuditLog{}
		err := repository.Apply(db.WithContext(r.Context()).Model(&models.AuditLog{}), filters, nil, nil).
			Order("create_time DESC").Order("id DESC").
			Limit(perPage).Offset(repository.Offset(page, perPage)).
			Find(&logs).Error
		if err != nil {
			internalError(w, r, lg, "list audit logs", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"data":       models.LocalizeAll(logs, loc),
			"pagination": newPagination(page, perPage, total),
			"filters": map[string]any{
				"action":   nullable(q.Get("action")),
				"user_id":  nullable(q.Get("user_id")),
				"resource": nullable(q.Get("resource")),
			},
		})
	}
}
