package validator

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

// ValidationErrors collects multiple validation failures.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}

	parts := make([]string, len(v))
	for i, err := range v {
		if err.Param != "" {
			parts[i] = err.Field + " failed on " + err.Tag + "=" + err.Param
		} else {
			parts[i] = err.Field + " failed on " + err.Tag
		}
	}
	return strings.Join(parts, "; ")
}

// Messages returns the human readable message of every failure.
func (v ValidationErrors) Messages() []string {
	out := make([]string, 0, len(v))
	for _, err := range v {
		out = append(out, err.Message)
	}
	return out
}

// Field builds a failure for checks that cannot be expressed as struct tags.
func Field(field, tag, param string) ValidationError {
	return ValidationError{
		Field:   field,
		Tag:     tag,
		Param:   param,
		Message: describe(field, tag, param),
	}
}

// ValidateStruct validates a struct using registered rules.
func ValidateStruct(s interface{}) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	if ve, ok := err.(validator.ValidationErrors); ok {
		failures := make(ValidationErrors, 0, len(ve))
		for _, fe := range ve {
			failures = append(failures, Field(fe.Field(), fe.Tag(), fe.Param()))
		}
		return failures
	}

	return err
}

// RegisterValidation exposes underlying validator custom rules.
func RegisterValidation(tag string, fn validator.Func) error {
	return getValidator().RegisterValidation(tag, fn)
}

func describe(field, tag, param string) string {
	name := strings.ToLower(strings.ReplaceAll(field, "_", " "))
	if name == "" {
		name = "field"
	}

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", name)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", name)
	case "min":
		return fmt.Sprintf("%s must be at least %s", name, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", name, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", name, param)
	case "bloodgroup":
		return fmt.Sprintf("%s must be one of A+, A-, B+, B-, AB+, AB-, O+, O-", name)
	case "uuid4":
		return fmt.Sprintf("%s must be a valid UUID", name)
	case "future":
		return fmt.Sprintf("%s must be in the future", name)
	case "past":
		return fmt.Sprintf("%s cannot be in the future", name)
	}

	if param != "" {
		return fmt.Sprintf("%s failed validation: %s=%s", name, tag, param)
	}
	return fmt.Sprintf("%s failed validation: %s", name, tag)
}

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := fld.Tag.Get("json")
			if name == "" {
				return fld.Name
			}

			comma := strings.Index(name, ",")
			if comma != -1 {
				name = name[:comma]
			}

			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}
