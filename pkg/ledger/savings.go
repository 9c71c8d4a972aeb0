package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/coopledger/pkg/models"
	"github.com/mcclellann/coopledger/pkg/money"
	"github.com/mcclellann/coopledger/pkg/reconcile"
	"github.com/shopspring/decimal"
)

// Deposit adds to a member's savings.
func (l *Ledger) Deposit(memberKey string, amount decimal.Decimal, at time.Time) (*models.SavingsTransaction, error) {
	return l.recordSavings(memberKey, models.SavingsTransactionDeposit, amount, at)
}

// Withdraw takes from a member's savings. It fails with reconcile.ErrOverdrawn
// when the balance does not cover the amount.
func (l *Ledger) Withdraw(memberKey string, amount decimal.Decimal, at time.Time) (*models.SavingsTransaction, error) {
	return l.recordSavings(memberKey, models.SavingsTransactionWithdrawal, amount, at)
}

func (l *Ledger) recordSavings(memberKey string, typ models.SavingsTransactionType, amount decimal.Decimal, at time.Time) (*models.SavingsTransaction, error) {
	memberKey = strings.TrimSpace(memberKey)
	if memberKey == "" {
		return nil, ErrMemberKeyRequired
	}
	if !validAmount(amount) {
		return nil, fmt.Errorf("%s %s: %w", typ, amount, ErrInvalidAmount)
	}
	if at.IsZero() {
		at = l.now()
	}
	at = at.UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	history, err := l.storage.GetSavingsTransactions(memberKey)
	if err != nil {
		return nil, err
	}
	if n := len(history); n > 0 && at.Before(history[n-1].OccurredAt) {
		return nil, fmt.Errorf("%s at %s: %w", typ, at.Format(time.RFC3339), ErrBackdatedEntry)
	}

	current, err := reconcile.ReconcileSavings(decimal.Zero, history)
	if err != nil {
		return nil, fmt.Errorf("reconcile savings for %s: %w", memberKey, err)
	}

	balance := current.Balance.Add(amount)
	if typ == models.SavingsTransactionWithdrawal {
		balance = current.Balance.Sub(amount)
		if balance.IsNegative() {
			return nil, fmt.Errorf("withdraw %s from balance %s: %w", money.Format(amount), money.Format(current.Balance), reconcile.ErrOverdrawn)
		}
	}

	tx := &models.SavingsTransaction{
		ID:                   uuid.New(),
		MemberKey:            memberKey,
		Type:                 typ,
		Amount:               amount,
		OccurredAt:           at,
		RecordedBalanceAfter: balance,
	}
	if err := l.storage.CreateSavingsTransaction(tx); err != nil {
		return nil, fmt.Errorf("failed to store savings transaction: %w", err)
	}
	l.logger.Info("savings transaction recorded", "member_key", memberKey, "type", string(typ), "amount", money.Format(amount), "balance_after", money.Format(balance))
	return tx, nil
}

// SavingsSummary replays a member's savings history.
func (l *Ledger) SavingsSummary(memberKey string, strict bool) (*reconcile.SavingsSummary, error) {
	memberKey = strings.TrimSpace(memberKey)
	if memberKey == "" {
		return nil, ErrMemberKeyRequired
	}
	history, err := l.storage.GetSavingsTransactions(memberKey)
	if err != nil {
		return nil, err
	}
	summary, err := reconcile.ReconcileSavings(decimal.Zero, history, reconcile.StrictIf(strict))
	l.metrics.ReconcileOutcome("savings", err)
	if err != nil {
		return nil, fmt.Errorf("reconcile savings for %s: %w", memberKey, err)
	}
	l.logger.Debug("savings reconciled", "member_key", memberKey, "transactions", summary.TransactionCount(), "balance", money.Format(summary.Balance))
	return summary, nil
}
