package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidStatusTransition is returned when a loan cannot move to the
// requested status from its current one.
var ErrInvalidStatusTransition = errors.New("invalid status transition")

// LoanStatus is the lifecycle stage of a loan:
//
//	pending -> approved -> disbursed -> completed
//	pending -> rejected
//	approved -> rejected
//
// The zero value is not a valid status.
type LoanStatus struct {
	value string
}

const (
	loanStatusPending   = "pending"
	loanStatusApproved  = "approved"
	loanStatusDisbursed = "disbursed"
	loanStatusCompleted = "completed"
	loanStatusRejected  = "rejected"
)

var (
	LoanStatusPending   = LoanStatus{value: loanStatusPending}
	LoanStatusApproved  = LoanStatus{value: loanStatusApproved}
	LoanStatusDisbursed = LoanStatus{value: loanStatusDisbursed}
	LoanStatusCompleted = LoanStatus{value: loanStatusCompleted}
	LoanStatusRejected  = LoanStatus{value: loanStatusRejected}
)

var validLoanStatuses = map[string]LoanStatus{
	loanStatusPending:   LoanStatusPending,
	loanStatusApproved:  LoanStatusApproved,
	loanStatusDisbursed: LoanStatusDisbursed,
	loanStatusCompleted: LoanStatusCompleted,
	loanStatusRejected:  LoanStatusRejected,
}

var loanStatusTransitions = map[LoanStatus][]LoanStatus{
	LoanStatusPending:   {LoanStatusApproved, LoanStatusRejected},
	LoanStatusApproved:  {LoanStatusDisbursed, LoanStatusRejected},
	LoanStatusDisbursed: {LoanStatusCompleted},
}

// ParseLoanStatus creates a LoanStatus from a raw string. Unknown values are
// rejected rather than mapped to a default.
func ParseLoanStatus(s string) (LoanStatus, error) {
	v, ok := validLoanStatuses[s]
	if !ok {
		return LoanStatus{}, fmt.Errorf("invalid loan status: %q", s)
	}
	return v, nil
}

// AllLoanStatuses lists every status in lifecycle order.
func AllLoanStatuses() []LoanStatus {
	return []LoanStatus{LoanStatusPending, LoanStatusApproved, LoanStatusDisbursed, LoanStatusCompleted, LoanStatusRejected}
}

func (s LoanStatus) String() string { return s.value }

// IsZero returns true if the status has not been initialised.
func (s LoanStatus) IsZero() bool { return s.value == "" }

// Terminal reports whether no further transition is possible.
func (s LoanStatus) Terminal() bool {
	return s == LoanStatusCompleted || s == LoanStatusRejected
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s LoanStatus) CanTransitionTo(next LoanStatus) bool {
	for _, allowed := range loanStatusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Label is the human readable name shown next to a loan.
func (s LoanStatus) Label() string {
	switch s {
	case LoanStatusPending:
		return "Pending review"
	case LoanStatusApproved:
		return "Approved"
	case LoanStatusDisbursed:
		return "Disbursed"
	case LoanStatusCompleted:
		return "Completed"
	case LoanStatusRejected:
		return "Rejected"
	}
	panic(fmt.Sprintf("models: no label for loan status %q", s.value))
}

// Tone is the display category of a status badge.
func (s LoanStatus) Tone() string {
	switch s {
	case LoanStatusPending:
		return "warning"
	case LoanStatusApproved:
		return "info"
	case LoanStatusDisbursed:
		return "primary"
	case LoanStatusCompleted:
		return "success"
	case LoanStatusRejected:
		return "error"
	}
	panic(fmt.Sprintf("models: no tone for loan status %q", s.value))
}

func (s LoanStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.value)
}

func (s *LoanStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("loan status: %w", err)
	}
	v, err := ParseLoanStatus(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Value implements driver.Valuer.
func (s LoanStatus) Value() (driver.Value, error) {
	if s.IsZero() {
		return nil, errors.New("loan status is not set")
	}
	return s.value, nil
}

// Scan implements sql.Scanner.
func (s *LoanStatus) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into LoanStatus", src)
	}
	parsed, err := ParseLoanStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
