package models

import (
	"reflect"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// NewID returns a 26 character, lexically time ordered identifier.
func NewID() string {
	return ulid.Make().String()
}

type Base struct {
	ID         string    `gorm:"primaryKey;size:26" json:"id"`
	CreateTime time.Time `gorm:"autoCreateTime;index;not null" json:"create_time"`
	UpdateTime time.Time `gorm:"autoUpdateTime;not null" json:"update_time"`
}

func (b *Base) BeforeCreate(*gorm.DB) error {
	if b.ID == "" {
		b.ID = NewID()
	}
	return nil
}

func (b *Base) RecordID() string { return b.ID }

// SoftDelete marks rows that default queries must skip.
type SoftDelete struct {
	IsDeleted  bool       `gorm:"not null;index" json:"is_deleted"`
	DeleteTime *time.Time `json:"delete_time"`
}

var timeType = reflect.TypeOf(time.Time{})

// Localize returns a copy of v with every time.Time and *time.Time field,
// including those of embedded structs, converted to loc.
func Localize[T any](v T, loc *time.Location) T {
	rv := reflect.ValueOf(&v).Elem()
	localize(rv, loc)
	return v
}

// LocalizeAll applies Localize to every element of items.
func LocalizeAll[T any](items []T, loc *time.Location) []T {
	out := make([]T, len(items))
	for i, it := range items {
		out[i] = Localize(it, loc)
	}
	return out
}

func localize(rv reflect.Value, loc *time.Location) {
	switch rv.Kind() {
	case reflect.Struct:
		if rv.Type() == timeType {
			if rv.CanSet() {
				rv.Set(reflect.ValueOf(rv.Interface().(time.Time).In(loc)))
			}
			return
		}
		for i := 0; i < rv.NumField(); i++ {
			f := rv.Field(i)
			if f.CanSet() {
				localize(f, loc)
			}
		}
	case reflect.Pointer:
		if rv.IsNil() || rv.Type().Elem() != timeType {
			return
		}
		t := rv.Elem().Interface().(time.Time).In(loc)
		rv.Set(reflect.ValueOf(&t))
	}
}
