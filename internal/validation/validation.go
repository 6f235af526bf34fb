// Package validation holds the shared request validator. Field names in
// failures come from json tags so they match what clients sent.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

var usernameChars = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,64}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	mustRegister(v, "username", func(fl validator.FieldLevel) bool {
		return usernameChars.MatchString(fl.Field().String())
	})
	mustRegister(v, "password", func(fl validator.FieldLevel) bool {
		return PasswordAcceptable(fl.Field().String())
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

// PasswordAcceptable reports whether password is 8 to 128 characters and not
// all whitespace. There are no composition rules.
func PasswordAcceptable(password string) bool {
	n := utf8.RuneCountInString(password)
	return n >= MinPasswordLength && n <= MaxPasswordLength && strings.TrimSpace(password) != ""
}

// Struct validates s against its validate tags. Failures come back as
// validator.ValidationErrors.
func Struct(s any) error {
	return validate.Struct(s)
}

// Var validates a single value against tag.
func Var(field any, tag string) error {
	return validate.Var(field, tag)
}

// Fields flattens validation failures into field -> message. It returns nil
// when err carries no field failures.
func Fields(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = message(fe)
	}
	return out
}

// Message describes the first failure in err.
func Message(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Sprintf("%s %s", verrs[0].Field(), message(verrs[0]))
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without", "required_without_all":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "username":
		return "must be 3-64 characters of letters, digits, '.', '_' or '-'"
	case "password":
		return fmt.Sprintf("must be %d to %d characters and not blank", MinPasswordLength, MaxPasswordLength)
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
