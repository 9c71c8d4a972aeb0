package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Months is a loan duration. It decodes from 12, 12.0 or "12" and rejects
// fractional values and values outside the int32 range.
type Months int

var (
	minMonths = decimal.NewFromInt(math.MinInt32)
	maxMonths = decimal.NewFromInt(math.MaxInt32)
)

func (m *Months) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if !d.IsInteger() {
		return fmt.Errorf("invalid duration %q: must be a whole number of months", s)
	}
	if d.LessThan(minMonths) || d.GreaterThan(maxMonths) {
		return fmt.Errorf("invalid duration %q: out of range", s)
	}
	*m = Months(d.IntPart())
	return nil
}

type Loan struct {
	ID                 uuid.UUID       `json:"id"`
	MemberKey          string          `json:"member_key"` // Link to the external member record
	AmountRequested    decimal.Decimal `json:"amount"`
	AmountApproved     decimal.Decimal `json:"amount_approved"`
	InterestRate       decimal.Decimal `json:"interest_rate"` // Annual, in percent
	DurationMonths     Months          `json:"duration_months"`
	MonthlyRepayment   decimal.Decimal `json:"monthly_repayment"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
	Purpose            string          `json:"purpose,omitempty"`
	Status             LoanStatus      `json:"status"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	ApprovedAt         *time.Time      `json:"approved_at,omitempty"`
	DisbursedAt        *time.Time      `json:"disbursed_at,omitempty"`
}

// Principal is the approved amount once set, otherwise the requested amount.
func (l *Loan) Principal() decimal.Decimal {
	if l.AmountApproved.IsPositive() {
		return l.AmountApproved
	}
	return l.AmountRequested
}

type SavingsTransactionType string

const (
	SavingsTransactionDeposit    SavingsTransactionType = "deposit"
	SavingsTransactionWithdrawal SavingsTransactionType = "withdrawal"
)

func (t SavingsTransactionType) Valid() bool {
	return t == SavingsTransactionDeposit || t == SavingsTransactionWithdrawal
}

// RepaymentEvent is one recorded payment against a disbursed loan. Events are
// immutable once recorded.
type RepaymentEvent struct {
	ID                   uuid.UUID       `json:"id"`
	LoanID               uuid.UUID       `json:"loan_id"`
	Amount               decimal.Decimal `json:"amount"`
	OccurredAt           time.Time       `json:"payment_date"`
	RecordedBalanceAfter decimal.Decimal `json:"balance_after"`
}

func (e *RepaymentEvent) UnmarshalJSON(b []byte) error {
	type alias RepaymentEvent
	aux := struct {
		*alias
		OccurredAt string `json:"payment_date"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	t, err := ParseTimestamp(aux.OccurredAt)
	if err != nil {
		return fmt.Errorf("payment_date: %w", err)
	}
	e.OccurredAt = t
	return nil
}

// SavingsTransaction is one deposit or withdrawal on a member's savings.
type SavingsTransaction struct {
	ID                   uuid.UUID              `json:"id"`
	MemberKey            string                 `json:"member_key"`
	Type                 SavingsTransactionType `json:"transaction_type"`
	Amount               decimal.Decimal        `json:"amount"`
	OccurredAt           time.Time              `json:"transaction_date"`
	RecordedBalanceAfter decimal.Decimal        `json:"balance_after"`
}

func (tx *SavingsTransaction) UnmarshalJSON(b []byte) error {
	type alias SavingsTransaction
	aux := struct {
		*alias
		OccurredAt string `json:"transaction_date"`
	}{alias: (*alias)(tx)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	t, err := ParseTimestamp(aux.OccurredAt)
	if err != nil {
		return fmt.Errorf("transaction_date: %w", err)
	}
	tx.OccurredAt = t
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts RFC 3339, naive date-times (read as UTC) and bare
// dates. Unix seconds are accepted as a numeric string.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
