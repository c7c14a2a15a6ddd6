// Package repository holds the generic soft-delete aware store shared by
// every test record resource.
package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("record not found")

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
	// MaxPage keeps (page-1)*MaxPerPage inside int.
	MaxPage = math.MaxInt / MaxPerPage
)

type Store[T any] struct {
	db *gorm.DB
}

func New[T any](db *gorm.DB) *Store[T] {
	return &Store[T]{db: db}
}

func (s *Store[T]) DB() *gorm.DB { return s.db }

func (s *Store[T]) active(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(new(T)).Where("is_deleted = ?", false)
}

// FindActive loads a record that has not been soft deleted.
func (s *Store[T]) FindActive(ctx context.Context, id string) (*T, error) {
	var v T
	err := s.active(ctx).Where("id = ?", id).Take(&v).Error
	return s.found(&v, err)
}

// FindAny loads a record regardless of its deleted flag.
func (s *Store[T]) FindAny(ctx context.Context, id string) (*T, error) {
	var v T
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&v).Error
	return s.found(&v, err)
}

func (s *Store[T]) found(v *T, err error) (*T, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find %T: %w", v, err)
	}
	return v, nil
}

// Transaction runs fn in a transaction bound to ctx.
func (s *Store[T]) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *Store[T]) Create(ctx context.Context, v *T) error {
	return s.Transaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(v).Error
	})
}

func (s *Store[T]) Save(ctx context.Context, v *T) error {
	return s.Transaction(ctx, func(tx *gorm.DB) error {
		return tx.Save(v).Error
	})
}

// SoftDelete flags the record as deleted. It reports already=true, and
// changes nothing, when the record was deleted before.
func (s *Store[T]) SoftDelete(ctx context.Context, id string, now time.Time) (already bool, err error) {
	err = s.Transaction(ctx, func(tx *gorm.DB) error {
		var row struct{ IsDeleted bool }
		res := tx.Model(new(T)).Select("is_deleted").Where("id = ?", id).Take(&row)
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if res.Error != nil {
			return res.Error
		}
		if row.IsDeleted {
			already = true
			return nil
		}
		return tx.Model(new(T)).Where("id = ?", id).Updates(map[string]any{
			"is_deleted":  true,
			"delete_time": now.UTC(),
		}).Error
	})
	return already, err
}

type Match int

const (
	Exact Match = iota
	Substring
	Flag
)

type Filter struct {
	Column string
	Match  Match
	Value  any
}

type ListOptions struct {
	Page    int
	PerPage int
	// SortColumn must come from a whitelist; it is interpolated.
	SortColumn string
	Desc       bool
	Filters    []Filter
	From, To   *time.Time
}

type Page[T any] struct {
	Items   []T
	Page    int
	PerPage int
	Total   int64
}

func (p Page[T]) Pages() int {
	if p.PerPage <= 0 {
		return 0
	}
	return int(math.Ceil(float64(p.Total) / float64(p.PerPage)))
}

func (p Page[T]) HasNext() bool { return p.Page < p.Pages() }
func (p Page[T]) HasPrev() bool { return p.Page > 1 }

// Normalize clamps page into [1, MaxPage] and per_page into [1, MaxPerPage].
func Normalize(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}

// Offset is the row offset of a page normalized by Normalize.
func Offset(page, perPage int) int { return (page - 1) * perPage }

// EscapeLike escapes LIKE wildcards for use with ESCAPE '!'.
func EscapeLike(s string) string { return escapeLike(s) }

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}

// Apply adds the filter and date range conditions to q.
func Apply(q *gorm.DB, filters []Filter, from, to *time.Time) *gorm.DB {
	for _, f := range filters {
		switch f.Match {
		case Substring:
			s, _ := f.Value.(string)
			q = q.Where(f.Column+" LIKE ? ESCAPE '!'", "%"+escapeLike(s)+"%")
		default:
			q = q.Where(f.Column+" = ?", f.Value)
		}
	}
	if from != nil {
		q = q.Where("create_time >= ?", from.UTC())
	}
	if to != nil {
		q = q.Where("create_time <= ?", to.UTC())
	}
	return q
}

// List returns one page of active records.
func (s *Store[T]) List(ctx context.Context, opts ListOptions) (Page[T], error) {
	page, perPage := Normalize(opts.Page, opts.PerPage)
	out := Page[T]{Page: page, PerPage: perPage, Items: []T{}}

	q := Apply(s.active(ctx), opts.Filters, opts.From, opts.To)
	if err := q.Count(&out.Total).Error; err != nil {
		return out, fmt.Errorf("count: %w", err)
	}

	col := opts.SortColumn
	if col == "" {
		col = "update_time"
	}
	dir := "ASC"
	if opts.Desc {
		dir = "DESC"
	}
	err := Apply(s.active(ctx), opts.Filters, opts.From, opts.To).
		Order(col + " " + dir).Order("id " + dir).
		Limit(perPage).Offset(Offset(page, perPage)).
		Find(&out.Items).Error
	if err != nil {
		return out, fmt.Errorf("list: %w", err)
	}
	return out, nil
}
