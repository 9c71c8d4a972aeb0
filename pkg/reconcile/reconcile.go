// Package reconcile replays recorded ledger events against an opening amount
// and derives the summaries shown to members: outstanding loan balance,
// repayment progress and savings balance.
//
// Loan repayments and savings transactions share one replay primitive so both
// ledgers round and validate identically.
package reconcile

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/coopledger/pkg/models"
	"github.com/mcclellann/coopledger/pkg/money"
	"github.com/shopspring/decimal"
)

// Option configures a reconciliation.
type Option func(*options)

type options struct {
	strict bool
}

// Strict enables the balance-after check: every event's recorded balance must
// match the replayed running balance to within one minor unit.
func Strict() Option {
	return func(o *options) { o.strict = true }
}

// StrictIf enables the balance-after check when on is true.
func StrictIf(on bool) Option {
	return func(o *options) { o.strict = on }
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// entry is the ledger-agnostic view of a recorded event.
type entry struct {
	id       uuid.UUID
	amount   decimal.Decimal
	delta    decimal.Decimal
	at       time.Time
	recorded decimal.Decimal
}

// settle maps the raw running balance to the balance a ledger would record,
// or fails when the running balance is impossible for that ledger.
type settle func(running decimal.Decimal) (decimal.Decimal, error)

// checkEntries validates amounts and ordering before any balance is replayed.
func checkEntries(entries []entry) error {
	for i, e := range entries {
		if !e.amount.IsPositive() {
			return fmt.Errorf("event %d (%s): %w", i, e.id, ErrInvalidEventAmount)
		}
		if i > 0 && e.at.Before(entries[i-1].at) {
			return &UnorderedEventsError{
				Index:    i,
				EventID:  e.id,
				Previous: entries[i-1].at,
				Current:  e.at,
			}
		}
	}
	return nil
}

// replay returns the closing running balance after applying every entry's
// delta to opening.
func replay(opening decimal.Decimal, entries []entry, strict bool, s settle) (decimal.Decimal, error) {
	if err := checkEntries(entries); err != nil {
		return decimal.Zero, err
	}

	running := opening
	for i, e := range entries {
		running = running.Add(e.delta)

		settled, err := s(running)
		if err != nil {
			return decimal.Zero, fmt.Errorf("event %d (%s): %w", i, e.id, err)
		}
		if strict && !money.WithinMinorUnit(e.recorded, settled) {
			return decimal.Zero, &LedgerInconsistencyError{
				Index:    i,
				EventID:  e.id,
				Recorded: e.recorded,
				Computed: money.Round(settled),
			}
		}
	}
	return running, nil
}

// LedgerSummary is derived on demand from a loan's approved amount and its
// repayments. It is never persisted.
type LedgerSummary struct {
	ApprovedAmount     decimal.Decimal `json:"approved_amount"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
	TotalRepaid        decimal.Decimal `json:"total_repaid"`
	OverpaidAmount     decimal.Decimal `json:"overpaid_amount"`
	RepaidPercent      int             `json:"repaid_percent"`
	PaymentCount       int             `json:"payment_count"`
	LastPaymentAt      *time.Time      `json:"last_payment_at,omitempty"`
}

// Reconcile summarizes repayments against approved. Events must be ordered by
// OccurredAt ascending; they are never reordered here.
//
// Repayments beyond the approved amount are reported as OverpaidAmount and the
// outstanding balance stays at zero.
func Reconcile(approved decimal.Decimal, events []models.RepaymentEvent, opts ...Option) (*LedgerSummary, error) {
	if approved.IsNegative() {
		return nil, fmt.Errorf("approved amount %s: %w", approved, ErrNegativeAmount)
	}
	o := applyOptions(opts)

	entries := make([]entry, len(events))
	for i, e := range events {
		entries[i] = entry{
			id:       e.ID,
			amount:   e.Amount,
			delta:    e.Amount.Neg(),
			at:       e.OccurredAt,
			recorded: e.RecordedBalanceAfter,
		}
	}

	// A loan ledger records a paid-off balance as zero, never negative.
	closing, err := replay(approved, entries, o.strict, func(running decimal.Decimal) (decimal.Decimal, error) {
		return money.NonNegative(running), nil
	})
	if err != nil {
		return nil, err
	}

	totalRepaid := approved.Sub(closing)
	summary := &LedgerSummary{
		ApprovedAmount:     approved,
		OutstandingBalance: money.Round(money.NonNegative(closing)),
		TotalRepaid:        money.Round(totalRepaid),
		OverpaidAmount:     money.Round(money.NonNegative(closing.Neg())),
		RepaidPercent:      money.Percent(totalRepaid, approved),
		PaymentCount:       len(events),
	}
	if n := len(events); n > 0 {
		last := events[n-1].OccurredAt
		summary.LastPaymentAt = &last
	}
	return summary, nil
}
