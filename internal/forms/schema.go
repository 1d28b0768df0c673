package forms

import (
	"time"

	"prohappy_backend/internal/attachments"
	"prohappy_backend/internal/validator"
)

// ValidationResult maps a JSON field name to its error message. An empty
// result means the form may be submitted.
type ValidationResult map[string]string

// OK reports whether there are no field errors.
func (r ValidationResult) OK() bool {
	return len(r) == 0
}

// Schema checks forms against their field constraints and cross-field rules.
type Schema struct {
	validator *validator.Validator
	now       func() time.Time
}

// NewSchema - конструктор схемы. now может быть nil, тогда используется time.Now.
func NewSchema(v *validator.Validator, now func() time.Time) *Schema {
	if v == nil {
		v = validator.New()
	}
	if now == nil {
		now = time.Now
	}
	return &Schema{validator: v, now: now}
}

// Validate checks every field independently, then applies cross-field rules
// to the fields that passed on their own.
func (s *Schema) Validate(f Form) ValidationResult {
	result := ValidationResult{}

	if err := s.validator.Validate(f); err != nil {
		if verr, ok := err.(*validator.ValidationError); ok {
			for field, msg := range verr.Errors {
				result[field] = msg
			}
		} else {
			result["form"] = err.Error()
		}
	}

	if _, failed := result["deadline"]; !failed && f.DeadlineDate() != "" {
		if msg := s.checkDeadline(f.DeadlineDate()); msg != "" {
			result["deadline"] = msg
		}
	}

	return result
}

func (s *Schema) checkDeadline(value string) string {
	now := s.now()
	deadline, err := time.ParseInLocation(DateLayout, value, now.Location())
	if err != nil {
		return "Must be a date in YYYY-MM-DD format"
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	if deadline.Before(today) {
		return "Deadline must be today or later"
	}
	return ""
}

// DefaultPolicy returns the attachment policy of a form kind.
func DefaultPolicy(k Kind) attachments.Policy {
	p := attachments.Policy{
		MaxCount:     10,
		MaxSizeBytes: 10 * attachments.MB,
		AllowedTypes: attachments.DefaultAllowedTypes,
	}
	switch k {
	case KindChangeRequest:
		p.MaxCount = 5
	case KindWorkerDeliverable:
		p.MaxSizeBytes = 100 * attachments.MB
	}
	return p
}
