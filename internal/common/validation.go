package common

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/prescriptions-tracker/constants"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/extract"
)

// FieldError is one rejected request field.
type FieldError struct {
	Field   string
	Value   any
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s %s (got %v)", e.Field, e.Message, e.Value)
}

// Rule checks a single field value. A nil return accepts it.
type Rule func(field string, value any) *FieldError

// Validator collects field errors for one request.
type Validator struct {
	errors []FieldError
}

func NewValidator() *Validator {
	return &Validator{}
}

// Field runs rules against value, recording each failure.
func (v *Validator) Field(field string, value any, rules ...Rule) *Validator {
	for _, rule := range rules {
		if fe := rule(field, value); fe != nil {
			v.errors = append(v.errors, *fe)
		}
	}
	return v
}

func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

func (v *Validator) Errors() []FieldError {
	return v.errors
}

// ErrorMessage joins every recorded failure; empty when there are none.
func (v *Validator) ErrorMessage() string {
	msgs := make([]string, len(v.errors))
	for i, fe := range v.errors {
		msgs[i] = fe.Error()
	}
	return strings.Join(msgs, "; ")
}

// ValidateAndReturnError turns recorded failures into an InvalidArgument
// status.
func ValidateAndReturnError(v *Validator) error {
	if v.HasErrors() {
		return InvalidArgumentError(v.ErrorMessage())
	}
	return nil
}

func fail(field string, value any, format string, args ...any) *FieldError {
	return &FieldError{Field: field, Value: value, Message: fmt.Sprintf(format, args...)}
}

func asString(value any) (string, bool) {
	switch s := value.(type) {
	case string:
		return s, true
	case *string:
		if s == nil {
			return "", true
		}
		return *s, true
	}
	return "", false
}

func asInt(value any) (int64, bool) {
	switch n := value.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func Required(field string, value any) *FieldError {
	if s, ok := asString(value); ok {
		if strings.TrimSpace(s) == "" {
			return fail(field, value, "is required")
		}
		return nil
	}
	if value == nil {
		return fail(field, value, "is required")
	}
	return nil
}

func UUID(field string, value any) *FieldError {
	s, ok := asString(value)
	if !ok {
		return fail(field, value, "must be a string")
	}
	if _, err := uuid.Parse(s); err != nil {
		return fail(field, value, "must be a valid UUID")
	}
	return nil
}

// Length bounds a string's rune count. Non-string values pass.
func Length(min, max int) Rule {
	return func(field string, value any) *FieldError {
		s, ok := asString(value)
		if !ok {
			return nil
		}
		switch n := utf8.RuneCountInString(s); {
		case n < min:
			return fail(field, value, "must be at least %d characters", min)
		case n > max:
			return fail(field, value, "must be at most %d characters", max)
		}
		return nil
	}
}

func OneOf(allowed ...string) Rule {
	return func(field string, value any) *FieldError {
		s, ok := asString(value)
		if !ok {
			return fail(field, value, "must be a string")
		}
		for _, a := range allowed {
			if s == a {
				return nil
			}
		}
		return fail(field, value, "must be one of %s", strings.Join(allowed, ", "))
	}
}

func NonNegative(field string, value any) *FieldError {
	n, ok := asInt(value)
	if !ok {
		return fail(field, value, "must be an integer")
	}
	if n < 0 {
		return fail(field, value, "must not be negative")
	}
	return nil
}

func Max(limit int) Rule {
	return func(field string, value any) *FieldError {
		n, ok := asInt(value)
		if !ok {
			return fail(field, value, "must be an integer")
		}
		if n > int64(limit) {
			return fail(field, value, "must be at most %d", limit)
		}
		return nil
	}
}

// IntRange accepts integers within [min, max].
func IntRange(min, max int) Rule {
	return func(field string, value any) *FieldError {
		n, ok := asInt(value)
		if !ok {
			return fail(field, value, "must be an integer")
		}
		if n < int64(min) || n > int64(max) {
			return fail(field, value, "must be between %d and %d", min, max)
		}
		return nil
	}
}

// PrescriptionStatus accepts a stored status or one of its synonyms, such as
// "done". Empty values pass; pair with Required when the field is mandatory.
// When allowAll is set the "all" list filter is accepted too.
func PrescriptionStatus(allowAll bool) Rule {
	return func(field string, value any) *FieldError {
		s, ok := asString(value)
		if !ok {
			return fail(field, value, "must be a string")
		}
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || (allowAll && s == "all") {
			return nil
		}
		if _, ok := constants.CanonicalizeStatus(s); ok {
			return nil
		}
		return fail(field, value, "must be one of %s", strings.Join(constants.PrescriptionStatuses(), ", "))
	}
}

// ISODate accepts a YYYY-MM-DD calendar date. Empty values pass.
func ISODate(field string, value any) *FieldError {
	s, ok := asString(value)
	if !ok {
		return fail(field, value, "must be a string")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if _, err := time.Parse(time.DateOnly, s); err != nil {
		return fail(field, value, "must be a date (YYYY-MM-DD)")
	}
	return nil
}

// ConfidenceFields accepts a list of extractable field names.
func ConfidenceFields(field string, value any) *FieldError {
	names, ok := value.([]string)
	if !ok {
		return fail(field, value, "must be a list of field names")
	}
	for _, n := range names {
		if _, ok := extract.ParseField(n); !ok {
			return fail(field, value, "has unknown field %q", n)
		}
	}
	return nil
}

// DocumentExtension accepts paths whose extension is ingestible.
func DocumentExtension(field string, value any) *FieldError {
	s, ok := asString(value)
	if !ok {
		return fail(field, value, "must be a string")
	}
	ext := constants.NormalizeExt(filepath.Ext(strings.TrimSpace(s)))
	if _, ok := constants.AllowedExtensions[ext]; !ok {
		return fail(field, value, "has unsupported extension %q", ext)
	}
	return nil
}
