package reconcile

import (
	"fmt"
	"time"

	"github.com/mcclellann/coopledger/pkg/models"
	"github.com/mcclellann/coopledger/pkg/money"
	"github.com/shopspring/decimal"
)

// SavingsSummary is the replayed state of a member's savings ledger.
type SavingsSummary struct {
	OpeningBalance    decimal.Decimal `json:"opening_balance"`
	Balance           decimal.Decimal `json:"balance"`
	TotalDeposits     decimal.Decimal `json:"total_deposits"`
	TotalWithdrawals  decimal.Decimal `json:"total_withdrawals"`
	DepositCount      int             `json:"deposit_count"`
	WithdrawalCount   int             `json:"withdrawal_count"`
	LastTransactionAt *time.Time      `json:"last_transaction_at,omitempty"`
}

// ReconcileSavings replays deposits and withdrawals from opening. A withdrawal
// that would take the balance below zero fails with ErrOverdrawn regardless of
// strict mode.
func ReconcileSavings(opening decimal.Decimal, txs []models.SavingsTransaction, opts ...Option) (*SavingsSummary, error) {
	if opening.IsNegative() {
		return nil, fmt.Errorf("opening balance %s: %w", opening, ErrNegativeAmount)
	}
	o := applyOptions(opts)

	summary := &SavingsSummary{
		OpeningBalance:   opening,
		TotalDeposits:    decimal.Zero,
		TotalWithdrawals: decimal.Zero,
	}

	entries := make([]entry, len(txs))
	for i, tx := range txs {
		e := entry{
			id:       tx.ID,
			amount:   tx.Amount,
			at:       tx.OccurredAt,
			recorded: tx.RecordedBalanceAfter,
		}
		switch tx.Type {
		case models.SavingsTransactionDeposit:
			e.delta = tx.Amount
			summary.TotalDeposits = summary.TotalDeposits.Add(tx.Amount)
			summary.DepositCount++
		case models.SavingsTransactionWithdrawal:
			e.delta = tx.Amount.Neg()
			summary.TotalWithdrawals = summary.TotalWithdrawals.Add(tx.Amount)
			summary.WithdrawalCount++
		default:
			return nil, fmt.Errorf("transaction %d (%s) type %q: %w", i, tx.ID, tx.Type, ErrUnknownEventType)
		}
		entries[i] = e
	}

	closing, err := replay(opening, entries, o.strict, func(running decimal.Decimal) (decimal.Decimal, error) {
		if running.IsNegative() {
			return decimal.Zero, ErrOverdrawn
		}
		return running, nil
	})
	if err != nil {
		return nil, err
	}

	summary.Balance = money.Round(closing)
	summary.TotalDeposits = money.Round(summary.TotalDeposits)
	summary.TotalWithdrawals = money.Round(summary.TotalWithdrawals)
	if n := len(txs); n > 0 {
		last := txs[n-1].OccurredAt
		summary.LastTransactionAt = &last
	}
	return summary, nil
}

// TransactionCount is the number of replayed transactions.
func (s *SavingsSummary) TransactionCount() int {
	return s.DepositCount + s.WithdrawalCount
}
