// Package validator wraps go-playground/validator with the agent's rules and
// client-facing messages.
package validator

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/charlesng35/inspectsync/internal/models"
)

// TagInspectionStatus accepts any member of the inspection status enumeration.
const TagInspectionStatus = "inspection_status"

var (
	once     sync.Once
	validate *validator.Validate
)

// ValidationError is a single field failure. Message is safe to show to clients.
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(v))
	for i, failure := range v {
		parts[i] = failure.Message
	}
	return strings.Join(parts, "; ")
}

// ValidateStruct validates s against its `validate` tags. Field names in the
// result follow the json tag.
func ValidateStruct(s interface{}) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	failures := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		failures = append(failures, ValidationError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: describe(fe.Field(), fe.Tag(), fe.Param()),
		})
	}
	return failures
}

// ValidateVar validates a single value against a tag expression.
func ValidateVar(value interface{}, tag string) error {
	return instance().Var(value, tag)
}

func describe(field, tag, param string) string {
	field = strings.ToLower(strings.ReplaceAll(field, "_", " "))
	switch tag {
	case "required":
		return field + " is required"
	case TagInspectionStatus:
		return field + " must be one of " + strings.Join(statusNames(), ", ")
	case "oneof":
		return field + " must be one of " + strings.Join(strings.Fields(param), ", ")
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, param)
	}
	if param != "" {
		return fmt.Sprintf("%s failed validation: %s=%s", field, tag, param)
	}
	return field + " failed validation: " + tag
}

func statusNames() []string {
	names := make([]string, len(models.InspectionStatuses))
	for i, status := range models.InspectionStatuses {
		names[i] = string(status)
	}
	return names
}

func jsonFieldName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return fld.Name
	}
	return name
}

func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(jsonFieldName)
		_ = validate.RegisterValidation(TagInspectionStatus, func(fl validator.FieldLevel) bool {
			return models.InspectionStatus(fl.Field().String()).IsValid()
		})
	})
	return validate
}
