package amortization

import (
	"errors"
	"fmt"
)

// ErrInvalidTerms is matched by every *InvalidTermsError via errors.Is.
var ErrInvalidTerms = errors.New("invalid loan terms")

// InvalidTermsError names the offending Terms field.
type InvalidTermsError struct {
	Field  string
	Reason string
}

func (e *InvalidTermsError) Error() string {
	return fmt.Sprintf("invalid loan terms: %s %s", e.Field, e.Reason)
}

// Is lets callers test with errors.Is(err, ErrInvalidTerms).
func (e *InvalidTermsError) Is(target error) bool {
	return target == ErrInvalidTerms
}

const (
	FieldPrincipal  = "principal"
	FieldAnnualRate = "annual_rate_percent"
	FieldTermMonths = "term_months"
	FieldMaxPeriods = "max_periods"
)

func invalid(field, reason string) error {
	return &InvalidTermsError{Field: field, Reason: reason}
}
