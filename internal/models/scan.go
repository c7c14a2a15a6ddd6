package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// FlexTime scans timestamps that drivers hand back either as time.Time or,
// for aggregates such as MIN(create_time), as text.
type FlexTime struct {
	Time  time.Time
	Valid bool
}

var flexLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func (f *FlexTime) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*f = FlexTime{}
		return nil
	case time.Time:
		*f = FlexTime{Time: v.UTC(), Valid: true}
		return nil
	case []byte:
		return f.parse(string(v))
	case string:
		return f.parse(v)
	default:
		return fmt.Errorf("flextime scan: unsupported type %T", value)
	}
}

func (f *FlexTime) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*f = FlexTime{}
		return nil
	}
	for _, layout := range flexLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*f = FlexTime{Time: t.UTC(), Valid: true}
			return nil
		}
	}
	return fmt.Errorf("flextime scan: cannot parse %q", s)
}

func (f FlexTime) Value() (driver.Value, error) {
	if !f.Valid {
		return nil, nil
	}
	return f.Time, nil
}

// Ptr returns the time in loc, or nil when the value was NULL.
func (f FlexTime) Ptr(loc *time.Location) *time.Time {
	if !f.Valid {
		return nil
	}
	t := f.Time.In(loc)
	return &t
}
