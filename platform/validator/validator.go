// Package validator provides validation infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"salespipeline_backend/platform/apperr"

	"github.com/go-playground/validator/v10"
)

// Validator wraps the go-playground validator for structured validation.
// Using a struct allows for dependency injection and easier testing.
type Validator struct {
	v *validator.Validate
}

// New creates a new Validator instance.
// Domain-specific validation rules can be registered using RegisterValidation.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return &Validator{v: v}
}

// Struct validates a struct based on validation tags. Failures are returned
// as an apperr validation error listing the offending fields.
func (val *Validator) Struct(s interface{}) error {
	return translate(val.v.Struct(s))
}

// Var validates a single variable against a tag.
func (val *Validator) Var(field interface{}, tag string) error {
	return translate(val.v.Var(field, tag))
}

// RegisterValidation registers a custom validation function.
func (val *Validator) RegisterValidation(tag string, fn validator.Func) error {
	return val.v.RegisterValidation(tag, fn)
}

// OneOf builds a validation func accepting only the given values.
func OneOf(values ...string) validator.Func {
	allowed := make(map[string]bool, len(values))
	for _, v := range values {
		allowed[v] = true
	}
	return func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || allowed[s]
	}
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.KindValidation, "invalid input", err)
	}

	fields := make(map[string]string, len(verrs))
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fe.Tag()
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
		}
		fields[fe.Field()] = msg
		parts = append(parts, fe.Field()+" "+msg)
	}
	return apperr.Validation("invalid input: " + strings.Join(parts, ", ")).WithDetails(fields)
}
