package common

import (
	"fmt"
	"strings"
	"time"
)

// FieldError represents a single field validation failure
type FieldError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Validator collects field errors across a set of rules
type Validator struct {
	errors []FieldError
}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{
		errors: make([]FieldError, 0),
	}
}

// Field validates a field and collects errors
func (v *Validator) Field(fieldName string, value interface{}, rules ...ValidationRule) *Validator {
	for _, rule := range rules {
		if err := rule(fieldName, value); err != nil {
			v.errors = append(v.errors, *err)
		}
	}
	return v
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns all validation errors
func (v *Validator) Errors() []FieldError {
	return v.errors
}

// ErrorMessage returns a combined error message as string
func (v *Validator) ErrorMessage() string {
	if !v.HasErrors() {
		return ""
	}

	var messages []string
	for _, err := range v.errors {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// ValidationRule represents a single validation rule
type ValidationRule func(fieldName string, value interface{}) *FieldError

// Required - Common validation rules
func Required(fieldName string, value interface{}) *FieldError {
	if value == nil {
		return &FieldError{Field: fieldName, Value: value, Message: "is required"}
	}

	if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
		return &FieldError{Field: fieldName, Value: value, Message: "is required"}
	}
	return nil
}

// Positive requires a numeric value strictly greater than zero.
func Positive(fieldName string, value interface{}) *FieldError {
	var f float64
	switch n := value.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	default:
		return &FieldError{Field: fieldName, Value: value, Message: "must be a number"}
	}

	if f <= 0 {
		return &FieldError{Field: fieldName, Value: value, Message: "must be greater than zero"}
	}
	return nil
}

// Date requires a YYYY-MM-DD calendar date. Empty strings pass; combine with
// Required when the field is mandatory.
func Date(fieldName string, value interface{}) *FieldError {
	s, ok := value.(string)
	if !ok {
		return &FieldError{Field: fieldName, Value: value, Message: "must be a string"}
	}
	if s == "" {
		return nil
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return &FieldError{Field: fieldName, Value: value, Message: "must be a date (YYYY-MM-DD)"}
	}
	return nil
}
