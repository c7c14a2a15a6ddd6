// Package validation wraps a shared go-playground validator whose errors
// name fields by their JSON keys.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError is one failed rule on one request field.
type FieldError struct {
	Field   string
	Tag     string
	Message string
}

// Error collects every failed rule of a request.
type Error struct {
	Fields []FieldError
}

// Error returns the first message, which is what clients are shown.
func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return "Validation failed"
	}
	return e.Fields[0].Message
}

// All joins every message.
func (e *Error) All() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return strings.Join(msgs, "; ")
}

func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// Struct validates s and returns *Error on failure.
func Struct(s any) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return &Error{Fields: []FieldError{{Field: "unknown", Tag: "unknown", Message: err.Error()}}}
	}
	out := &Error{Fields: make([]FieldError, len(ves))}
	for i, fe := range ves {
		out.Fields[i] = FieldError{Field: fe.Field(), Tag: fe.Tag(), Message: translate(fe)}
	}
	return out
}

var messages = map[string]string{
	"required": "%s is required",
	"email":    "%s must be a valid email address",
	"ip":       "%s must be an IP address",
	"cidr":     "%s must be a CIDR block",
}

var paramMessages = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
}

func translate(fe validator.FieldError) string {
	field, param := fe.Field(), fe.Param()
	if t, ok := messages[fe.Tag()]; ok {
		return fmt.Sprintf(t, field)
	}
	if t, ok := paramMessages[fe.Tag()]; ok {
		return fmt.Sprintf(t, field, strings.ReplaceAll(param, " ", ", "))
	}
	isString := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "ip|cidr", "cidr|ip":
		return fmt.Sprintf("%s must be an IP address or CIDR block", field)
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}
