// Package validation wraps go-playground/validator with the project's tags
// and error type.
package validation

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"stream-auditor/internal/common/errors"
	"stream-auditor/internal/models"
)

// Validator validates request and configuration structs.
type Validator struct {
	validate *validator.Validate
}

// FieldError is one failed constraint, named by the JSON field.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

var (
	defaultValidator *Validator
	defaultOnce      sync.Once
)

// Default returns a shared Validator.
func Default() *Validator {
	defaultOnce.Do(func() { defaultValidator = New() })
	return defaultValidator
}

// New creates a Validator with the "isrc" and "yyyymmdd" tags registered.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	_ = v.RegisterValidation("isrc", func(fl validator.FieldLevel) bool {
		return models.IsValidISRC(models.NormalizeIdentifier(fl.Field().String()))
	})
	_ = v.RegisterValidation("yyyymmdd", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		_, err := models.ParseDateRange(s, s)
		return err == nil
	})

	return &Validator{validate: v}
}

// Struct validates s and returns a validation AppError listing every
// failed field under the "fields" context key.
func (v *Validator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	return toAppError(err)
}

// Var validates a single value against tag.
func (v *Validator) Var(field interface{}, tag string) error {
	err := v.validate.Var(field, tag)
	if err == nil {
		return nil
	}
	return toAppError(err)
}

// Fields extracts the field errors from an error returned by Struct.
func Fields(err error) []FieldError {
	appErr, ok := errors.As(err)
	if !ok || appErr.Context == nil {
		return nil
	}
	fields, _ := appErr.Context["fields"].([]FieldError)
	return fields
}

func toAppError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.ValidationError(err.Error())
	}

	fields := make([]FieldError, 0, len(verrs))
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		f := FieldError{
			Field:   fieldPath(fe),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: message(fe),
		}
		fields = append(fields, f)
		msgs = append(msgs, f.Message)
	}

	return errors.ValidationError(strings.Join(msgs, "; ")).WithContext("fields", fields)
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	name := fieldPath(fe)
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", name)
	case "isrc":
		return fmt.Sprintf("%s must be a valid ISRC, got %q", name, fe.Value())
	case "yyyymmdd":
		return fmt.Sprintf("%s must be a date in YYYY-MM-DD form", name)
	case "gt", "gte", "lt", "lte", "min", "max":
		return fmt.Sprintf("%s must satisfy %s=%s", name, fe.Tag(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", name, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", name, fe.Tag())
	}
}
