// Package timerange parses the date and timestamp filters accepted by list
// and statistics endpoints.
package timerange

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const dateOnly = "2006-01-02"

var naiveLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseTimestamp accepts ISO 8601 with an offset, or a naive date time that
// is read in loc. The result is in UTC.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	if t, err := time.ParseInLocation(dateOnly, s, loc); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ParseBound parses a range bound. A date-only upper bound covers the whole
// day, ending at 23:59:59.
func ParseBound(s string, loc *time.Location, upper bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseInLocation(dateOnly, s, loc); err == nil {
		if upper {
			d = d.Add(24*time.Hour - time.Second)
		}
		return d.UTC(), nil
	}
	return ParseTimestamp(s, loc)
}

// Range is an optional closed interval; nil ends are open.
type Range struct {
	From *time.Time
	To   *time.Time
}

func (r Range) IsZero() bool { return r.From == nil && r.To == nil }

// Error names the query parameter that failed to parse.
type Error struct {
	Param string
	Value string
}

func (e *Error) Error() string {
	return fmt.Sprintf("Invalid %s format: %q (use YYYY-MM-DD, YYYY-MM-DD HH:MM:SS or ISO 8601)", e.Param, e.Value)
}

// FromQuery reads start_date and end_date.
func FromQuery(q url.Values, loc *time.Location) (Range, error) {
	var r Range
	if v := q.Get("start_date"); v != "" {
		t, err := ParseBound(v, loc, false)
		if err != nil {
			return Range{}, &Error{Param: "start_date", Value: v}
		}
		r.From = &t
	}
	if v := q.Get("end_date"); v != "" {
		t, err := ParseBound(v, loc, true)
		if err != nil {
			return Range{}, &Error{Param: "end_date", Value: v}
		}
		r.To = &t
	}
	return r, nil
}

// Trailing returns r unchanged when either end is set, otherwise the last
// days days ending at now.
func (r Range) Trailing(now time.Time, days int) Range {
	if !r.IsZero() || days <= 0 {
		return r
	}
	from := now.UTC().AddDate(0, 0, -days)
	to := now.UTC()
	return Range{From: &from, To: &to}
}
