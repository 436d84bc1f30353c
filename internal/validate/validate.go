// Package validate checks form-level constraints declared as struct tags on
// the storage entities.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kalambet/stackpilot/internal/storage"
)

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New(validator.WithRequiredStructEnabled())
	val.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	val.RegisterAlias("phase", "oneof="+strings.Join(storage.Phases, " "))
	val.RegisterAlias("ratelimit", "min=1,max=1000")
	return val
}

// Struct validates s and returns the field problems joined by "; ".
func Struct(s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, formatFieldError(e))
	}
	return &Error{Messages: msgs}
}

// Error is returned by Struct when one or more fields are invalid.
type Error struct {
	Messages []string
}

func (e *Error) Error() string { return strings.Join(e.Messages, "; ") }

// IsValidation reports whether err came from Struct.
func IsValidation(err error) bool {
	var ve *Error
	return errors.As(err, &ve)
}

func formatFieldError(e validator.FieldError) string {
	field := strings.ToLower(e.Field())

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		if isNumeric(e.Kind()) {
			return rangeMessage(e, field)
		}
		return fmt.Sprintf("%s must be at least %s characters", field, e.Param())
	case "max":
		if isNumeric(e.Kind()) {
			return rangeMessage(e, field)
		}
		return fmt.Sprintf("%s must be at most %s characters", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "phase":
		return fmt.Sprintf("%s must be one of: %s", field, strings.Join(storage.Phases, " "))
	case "ratelimit":
		return fmt.Sprintf("%s must be between 1 and 1000", field)
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "ip":
		return fmt.Sprintf("%s must be a valid IP address", field)
	case "ltfield":
		return fmt.Sprintf("%s must be less than %s", field, strings.ToLower(e.Param()))
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func rangeMessage(e validator.FieldError, field string) string {
	if e.Tag() == "min" {
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	}
	return fmt.Sprintf("%s must be at most %s", field, e.Param())
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
