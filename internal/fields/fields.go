// Package fields maps loosely typed JSON request bodies onto models through
// a declarative allow-list. Each Spec says how one request key is coerced,
// bounded and defaulted; Set.Apply writes only the keys it knows about.
package fields

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"rigdata/internal/timerange"
)

type Kind int

const (
	String Kind = iota
	Int
	Float
	Bool
	Time
	JSON
	StringList
)

type Spec struct {
	// Key is the request body key.
	Key string
	// Target is the model's JSON key, when it differs from Key.
	Target   string
	Kind     Kind
	MaxLen   int
	Required bool
	// Default is written on create when the key is absent.
	Default any
	// Hint is appended to coercion errors, e.g. "(seconds)".
	Hint string
}

func (s Spec) target() string {
	if s.Target != "" {
		return s.Target
	}
	return s.Key
}

type Set []Spec

func (s Set) Lookup(key string) (Spec, bool) {
	for _, sp := range s {
		if sp.Key == key {
			return sp, true
		}
	}
	return Spec{}, false
}

// Error is a client input problem on one field.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string { return e.Message }

func errorf(field, format string, args ...any) *Error {
	return &Error{Field: field, Message: fmt.Sprintf(format, args...)}
}

var ErrNotObject = errors.New("Request body must be a JSON object")

// Decode reads a JSON object, keeping numbers as json.Number.
func Decode(r io.Reader) (map[string]any, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrNotObject
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &Error{Field: "", Message: "Invalid JSON body"}
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return m, nil
}

type Options struct {
	// Create enforces Required and applies defaults.
	Create bool
	// Location is used for timestamps without an offset.
	Location *time.Location
}

// Apply coerces the known keys of body and writes them onto dst, which must
// be a pointer to a struct whose JSON tags match the spec targets. It
// returns the normalized values that were written, keyed by target.
func (s Set) Apply(dst any, body map[string]any, opts Options) (map[string]any, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	out := make(map[string]any, len(s))
	for _, sp := range s {
		raw, present := body[sp.Key]
		if !present {
			if !opts.Create {
				continue
			}
			if sp.Required {
				return nil, errorf(sp.Key, "%s is required", sp.Key)
			}
			if sp.Default != nil {
				out[sp.target()] = sp.Default
			}
			continue
		}
		v, err := sp.coerce(raw, loc)
		if err != nil {
			return nil, err
		}
		if v == nil && sp.Required {
			return nil, errorf(sp.Key, "%s is required", sp.Key)
		}
		out[sp.target()] = v
	}
	if len(out) == 0 {
		return out, nil
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return nil, fmt.Errorf("apply fields: %w", err)
	}
	return out, nil
}

func (sp Spec) coerce(raw any, loc *time.Location) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if str, ok := raw.(string); ok && strings.TrimSpace(str) == "" && sp.Kind != String {
		return nil, nil
	}
	switch sp.Kind {
	case String:
		return sp.toString(raw)
	case Int:
		return sp.toInt(raw)
	case Float:
		return sp.toFloat(raw)
	case Bool:
		return sp.toBool(raw)
	case Time:
		str, ok := raw.(string)
		if !ok {
			return nil, errorf(sp.Key, "%s must be a datetime string", sp.Key)
		}
		t, err := timerange.ParseTimestamp(str, loc)
		if err != nil {
			return nil, errorf(sp.Key, "%s has an invalid datetime format", sp.Key)
		}
		return t, nil
	case JSON:
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, errorf(sp.Key, "%s must be valid JSON", sp.Key)
		}
		return json.RawMessage(b), nil
	case StringList:
		return sp.toStringList(raw)
	}
	return nil, fmt.Errorf("field %s: unknown kind %d", sp.Key, sp.Kind)
}

func (sp Spec) toString(raw any) (any, error) {
	var s string
	switch v := raw.(type) {
	case string:
		s = strings.TrimSpace(v)
	case json.Number:
		s = v.String()
	case bool:
		s = strconv.FormatBool(v)
	default:
		return nil, errorf(sp.Key, "%s must be a string", sp.Key)
	}
	if s == "" {
		return nil, nil
	}
	if sp.MaxLen > 0 && utf8.RuneCountInString(s) > sp.MaxLen {
		return nil, errorf(sp.Key, "%s too long (max %d characters)", sp.Key, sp.MaxLen)
	}
	return s, nil
}

func (sp Spec) intError() *Error {
	return errorf(sp.Key, "%s must be an integer%s", sp.Key, sp.hint())
}

func (sp Spec) hint() string {
	if sp.Hint == "" {
		return ""
	}
	return " " + sp.Hint
}

func (sp Spec) toInt(raw any) (any, error) {
	switch v := raw.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		f, err := v.Float64()
		if err != nil || f != math.Trunc(f) {
			return nil, sp.intError()
		}
		return int64(f), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, sp.intError()
		}
		return n, nil
	default:
		return nil, sp.intError()
	}
}

func (sp Spec) toFloat(raw any) (any, error) {
	var (
		f   float64
		err error
	)
	switch v := raw.(type) {
	case json.Number:
		f, err = v.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		err = errors.New("not a number")
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, errorf(sp.Key, "%s must be a number%s", sp.Key, sp.hint())
	}
	return f, nil
}

func (sp Spec) toBool(raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case json.Number:
		switch v.String() {
		case "1":
			return true, nil
		case "0":
			return false, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		}
	}
	return nil, errorf(sp.Key, "%s must be a boolean", sp.Key)
}

func (sp Spec) toStringList(raw any) (any, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, errorf(sp.Key, "%s must be a list of strings", sp.Key)
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil, errorf(sp.Key, "%s must be a list of strings", sp.Key)
		}
		out = append(out, s)
	}
	return out, nil
}
