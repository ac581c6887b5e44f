// Package validation checks request payloads and reports every failing field
// at once as human readable messages.
package validation

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/juju/errors"
)

// Error is returned when a payload fails validation. It matches
// errors.NotValid under errors.Is.
type Error struct {
	Messages []string
}

func (e *Error) Error() string {
	return strings.Join(e.Messages, "; ")
}

// Is lets callers test for errors.NotValid.
func (e *Error) Is(target error) bool {
	return target == errors.NotValid
}

// Invalid builds an Error from ready made messages.
func Invalid(messages ...string) *Error {
	return &Error{Messages: messages}
}

// Messages extracts the field messages carried by err, if any.
func Messages(err error) ([]string, bool) {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Messages, true
	}
	return nil, false
}

// Validator wraps go-playground/validator with message rendering keyed on the
// fields' json names.
type Validator struct {
	validate *validator.Validate
}

// New returns a ready Validator.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &Validator{validate: v}
}

// Struct validates s and returns an *Error listing every violation.
func (v *Validator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errors.Annotate(err, "validating request")
	}
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, message(fe))
	}
	return &Error{Messages: messages}
}

func message(fe validator.FieldError) string {
	field := fe.Field()
	text := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	case "min":
		if text {
			return fmt.Sprintf("%s too short (minimum %s characters)", field, fe.Param())
		}
		return fmt.Sprintf("%s minimum is %s", field, fe.Param())
	case "max":
		if text {
			return fmt.Sprintf("%s too long (maximum %s characters)", field, fe.Param())
		}
		return fmt.Sprintf("%s maximum is %s", field, fe.Param())
	}
	return fmt.Sprintf("%s is invalid", field)
}
