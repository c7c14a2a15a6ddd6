package handlers

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rigdata/internal/fields"
	"rigdata/internal/metrics"
	"rigdata/internal/models"
	"rigdata/internal/repository"
	"rigdata/internal/timerange"
)

// Hook runs inside the write transaction after the request values have been
// applied to rec. values holds what was written, keyed by model field.
type Hook[T any] func(ctx context.Context, tx *gorm.DB, rec *T, values map[string]any, create bool) error

// ListParam maps a query parameter onto a filter column.
type ListParam struct {
	Param  string
	Column string
	Match  repository.Match
}

// Resource serves create, list, get, update and soft delete for one record
// type. Its request keys are governed entirely by Fields.
type Resource[T any] struct {
	// Name labels metrics and audit entries.
	Name string
	// Label is the human readable noun used in messages.
	Label       string
	Store       *repository.Store[T]
	Fields      fields.Set
	Sortable    []string
	DefaultSort string
	Params      []ListParam
	Prepare     Hook[T]
	Loc         *time.Location
	Log         *zap.SugaredLogger
	Now         func() time.Time
}

func (res *Resource[T]) now() time.Time {
	if res.Now != nil {
		return res.Now()
	}
	return time.Now()
}

// writeFailed answers client mistakes with 400 and anything else with 500.
func (res *Resource[T]) writeFailed(w http.ResponseWriter, r *http.Request, what string, err error) {
	var fe *fields.Error
	switch {
	case errors.As(err, &fe):
		respondError(w, http.StatusBadRequest, fe.Message)
	case errors.Is(err, fields.ErrNotObject):
		respondError(w, http.StatusBadRequest, "No input data provided")
	case errors.Is(err, repository.ErrNotFound):
		respondError(w, http.StatusNotFound, res.Label+" not found")
	default:
		internalError(w, r, res.Log, what+" "+res.Name, err)
	}
}

func (res *Resource[T]) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := fields.Decode(r.Body)
		if err != nil {
			res.writeFailed(w, r, "decode", err)
			return
		}
		var rec T
		values, err := res.Fields.Apply(&rec, body, fields.Options{Create: true, Location: res.Loc})
		if err != nil {
			res.writeFailed(w, r, "apply", err)
			return
		}
		err = res.Store.Transaction(r.Context(), func(tx *gorm.DB) error {
			if res.Prepare != nil {
				if err := res.Prepare(r.Context(), tx, &rec, values, true); err != nil {
					return err
				}
			}
			return tx.Create(&rec).Error
		})
		if err != nil {
			res.writeFailed(w, r, "create", err)
			return
		}
		metrics.RecordsWritten.WithLabelValues(res.Name, "create").Inc()
		res.Log.Infow("record created", "resource", res.Name, "id", recordID(&rec))
		respondJSON(w, http.StatusCreated, models.Localize(rec, res.Loc))
	}
}

func (res *Resource[T]) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		rng, err := timerange.FromQuery(q, res.Loc)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		sortBy := q.Get("sort_by")
		if sortBy == "" || !slices.Contains(res.Sortable, sortBy) {
			sortBy = res.DefaultSort
		}
		opts := repository.ListOptions{
			Page:       queryInt(r, "page", 1),
			PerPage:    queryInt(r, "per_page", repository.DefaultPerPage),
			SortColumn: sortBy,
			Desc:       !strings.EqualFold(q.Get("sort_order"), "asc"),
			From:       rng.From,
			To:         rng.To,
		}

		echo := map[string]any{
			"start_date": nullable(q.Get("start_date")),
			"end_date":   nullable(q.Get("end_date")),
		}
		for _, p := range res.Params {
			v := q.Get(p.Param)
			echo[p.Param] = nullable(v)
			if v == "" {
				continue
			}
			f := repository.Filter{Column: p.Column, Match: p.Match, Value: v}
			if p.Match == repository.Flag {
				f.Value = truthy(v)
			}
			opts.Filters = append(opts.Filters, f)
		}

		page, err := res.Store.List(r.Context(), opts)
		if err != nil {
			internalError(w, r, res.Log, "list "+res.Name, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"data":       models.LocalizeAll(page.Items, res.Loc),
			"pagination": newPagination(page.Page, page.PerPage, page.Total),
			"filters":    echo,
		})
	}
}

func (res *Resource[T]) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := res.Store.FindActive(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			res.writeFailed(w, r, "get", err)
			return
		}
		respondJSON(w, http.StatusOK, models.Localize(*rec, res.Loc))
	}
}

// Update applies only the keys present in the body.
func (res *Resource[T]) Update() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var rec T
		err := res.Store.Transaction(r.Context(), func(tx *gorm.DB) error {
			err := tx.Where("id = ? AND is_deleted = ?", id, false).Take(&rec).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return repository.ErrNotFound
			}
			if err != nil {
				return err
			}
			body, err := fields.Decode(r.Body)
			if err != nil {
				return err
			}
			values, err := res.Fields.Apply(&rec, body, fields.Options{Location: res.Loc})
			if err != nil {
				return err
			}
			if res.Prepare != nil {
				if err := res.Prepare(r.Context(), tx, &rec, values, false); err != nil {
					return err
				}
			}
			return tx.Save(&rec).Error
		})
		if err != nil {
			res.writeFailed(w, r, "update", err)
			return
		}
		metrics.RecordsWritten.WithLabelValues(res.Name, "update").Inc()
		res.Log.Infow("record updated", "resource", res.Name, "id", id)
		respondJSON(w, http.StatusOK, models.Localize(rec, res.Loc))
	}
}

// Delete soft deletes the record. Deleting twice reports success without
// touching the row again.
func (res *Resource[T]) Delete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		already, err := res.Store.SoftDelete(r.Context(), id, res.now())
		if err != nil {
			res.writeFailed(w, r, "delete", err)
			return
		}
		if already {
			respondMessage(w, "Record already deleted")
			return
		}
		metrics.RecordsWritten.WithLabelValues(res.Name, "delete").Inc()
		res.Log.Infow("record soft-deleted", "resource", res.Name, "id", id)
		audit(r.Context(), res.Store.DB(), res.Log, "delete", res.Name, id, nil)
		respondMessage(w, res.Label+" deleted successfully")
	}
}

// Mount registers the routes on r. read, write and admin wrap the handlers
// with the matching authorization middleware.
func (res *Resource[T]) Mount(r chi.Router, read, write, admin func(http.Handler) http.Handler) {
	r.With(write).Post("/", res.Create())
	r.With(read).Get("/", res.List())
	r.With(read).Get("/{id}", res.Get())
	r.With(write).Put("/{id}", res.Update())
	r.With(admin).Delete("/{id}", res.Delete())
}

func recordID(v any) string {
	if b, ok := v.(interface{ RecordID() string }); ok {
		return b.RecordID()
	}
	return ""
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}
