// Package validator wraps go-playground/validator with the registration
// wizard's custom tags and user-facing messages.
package validator

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	e164Pattern    = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
	countryPattern = regexp.MustCompile(`^[A-Z]{2}$`)
)

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := &Validator{
		validate: validator.New(),
	}
	// Report fields by their JSON path so the UI can match them to inputs.
	v.validate.RegisterTagNameFunc(jsonFieldName)
	v.registerCustomValidations()
	return v
}

// Validate checks struct tags and folds every failure into one error.
func (v *Validator) Validate(i interface{}) error {
	fields := v.ValidateStructured(i)
	if fields == nil {
		return nil
	}
	if msg, ok := fields["_global"]; ok {
		return fmt.Errorf("%s", msg)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+fields[k])
	}
	return fmt.Errorf("%s", strings.Join(parts, "; "))
}

// ValidateStructured returns field path -> message, or nil when i is valid.
func (v *Validator) ValidateStructured(i interface{}) map[string]string {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_global": err.Error()}
	}

	errs := make(map[string]string, len(validationErrors))
	for _, e := range validationErrors {
		errs[fieldPath(e.Namespace())] = message(e)
	}
	return errs
}

// Var validates a single value against a tag expression.
func (v *Validator) Var(field interface{}, tag string) error {
	return v.validate.Var(field, tag)
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Invalid email address"
	case "min":
		return fmt.Sprintf("Must be at least %s characters", e.Param())
	case "max":
		return fmt.Sprintf("Must be at most %s characters", e.Param())
	case "gte":
		return fmt.Sprintf("Must be %s or more", e.Param())
	case "eq":
		return "Must be accepted"
	case "phone":
		return "Invalid phone number format (E.164 required)"
	case "iso_country":
		return "Must be a two-letter ISO 3166 country code"
	case "oneof":
		return fmt.Sprintf("Must be one of: %s", e.Param())
	case "future":
		return "Must be a date in the future"
	case "past":
		return "Must be a date in the past"
	}
	return fmt.Sprintf("failed validation on '%s'", e.Tag())
}

// fieldPath drops the root type name: "PersonalDetails.private.first_name"
// becomes "private.first_name".
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	switch name {
	case "":
		return ""
	case "-":
		// Write-only fields such as passwords still need a stable key.
		return strings.ToLower(fld.Name)
	}
	return name
}

func (v *Validator) registerCustomValidations() {
	// decimal.Decimal validates as float64 for gt/gte checks
	v.validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if val, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := val.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	_ = v.validate.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return e164Pattern.MatchString(strings.TrimSpace(fl.Field().String()))
	})

	_ = v.validate.RegisterValidation("iso_country", func(fl validator.FieldLevel) bool {
		return countryPattern.MatchString(fl.Field().String())
	})

	_ = v.validate.RegisterValidation("future", func(fl validator.FieldLevel) bool {
		t, ok := fl.Field().Interface().(time.Time)
		return ok && t.After(time.Now())
	})

	_ = v.validate.RegisterValidation("past", func(fl validator.FieldLevel) bool {
		t, ok := fl.Field().Interface().(time.Time)
		return ok && !t.IsZero() && t.Before(time.Now())
	})
}
