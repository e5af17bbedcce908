package validator

import (
	"fmt"
	"strings"
)

// FieldError is a translated error for one field.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

// ValidationErrors 一次校验产生的全部字段错误。
type ValidationErrors struct {
	Errors []FieldError `json:"errors"`
}

// NewValidationErrors returns an empty collection.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{Errors: []FieldError{}}
}

// NewValidationError returns a collection with a single error.
func NewValidationError(field, tag, message string) *ValidationErrors {
	errs := NewValidationErrors()
	errs.Append(FieldError{Field: field, Tag: tag, Message: message})
	return errs
}

// Error implements the error interface.
func (e *ValidationErrors) Error() string {
	if !e.HasErrors() {
		return ""
	}
	return "validation failed: " + strings.Join(e.Messages(), "; ")
}

// Append adds a field error.
func (e *ValidationErrors) Append(fe FieldError) {
	e.Errors = append(e.Errors, fe)
}

// HasErrors reports whether the collection is non-empty.
func (e *ValidationErrors) HasErrors() bool {
	return e != nil && len(e.Errors) > 0
}

// Count returns the number of field errors.
func (e *ValidationErrors) Count() int {
	if e == nil {
		return 0
	}
	return len(e.Errors)
}

// First returns the first message, or "".
func (e *ValidationErrors) First() string {
	if !e.HasErrors() {
		return ""
	}
	return e.Errors[0].Message
}

// FirstField returns the field of the first error, or "".
func (e *ValidationErrors) FirstField() string {
	if !e.HasErrors() {
		return ""
	}
	return e.Errors[0].Field
}

// Messages returns every message in order.
func (e *ValidationErrors) Messages() []string {
	if e == nil {
		return nil
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fe.Message)
	}
	return msgs
}

// ToMap groups messages by field; the first message of a field wins.
func (e *ValidationErrors) ToMap() map[string]string {
	m := make(map[string]string, e.Count())
	if e == nil {
		return m
	}
	for _, fe := range e.Errors {
		if _, ok := m[fe.Field]; !ok {
			m[fe.Field] = fe.Message
		}
	}
	return m
}

// Format implements fmt.Formatter; %+v lists one field per line.
func (e *ValidationErrors) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		for i, fe := range e.Errors {
			if i > 0 {
				_, _ = fmt.Fprint(s, "\n")
			}
			_, _ = fmt.Fprintf(s, "%s [%s]: %s", fe.Field, fe.Tag, fe.Message)
		}
		return
	}
	_, _ = fmt.Fprint(s, e.Error())
}
