package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/coopledger/pkg/amortization"
	"github.com/mcclellann/coopledger/pkg/models"
	"github.com/mcclellann/coopledger/pkg/money"
	"github.com/mcclellann/coopledger/pkg/observability"
	"github.com/mcclellann/coopledger/pkg/reconcile"
	"github.com/mcclellann/coopledger/pkg/store"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount      = errors.New("amount must be a positive value in whole minor units")
	ErrMemberKeyRequired  = errors.New("member key is required")
	ErrLoanNotDisbursed   = errors.New("loan is not disbursed")
	ErrLoanNotDeletable   = errors.New("only pending or rejected loans can be deleted")
	ErrBackdatedEntry     = errors.New("entry predates the latest recorded entry")
	ErrApprovalExceedsAsk = errors.New("approved amount exceeds requested amount")
)

// Ledger handles the loan lifecycle, repayments and savings on top of a
// Storage implementation.
type Ledger struct {
	storage store.Storage
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	// mu serializes writes that derive a new balance from the stored history.
	mu sync.Mutex
}

// NewLedger creates a new Ledger with a given Storage implementation. metrics
// may be nil.
func NewLedger(s store.Storage, logger *slog.Logger, metrics *observability.Metrics) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		storage: s,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func validAmount(d decimal.Decimal) bool {
	return d.IsPositive() && money.IsMinorUnitPrecise(d)
}

// ApplyForLoan records a pending loan application. The terms are validated
// with the amortization rules and the estimated installment is stored.
func (l *Ledger) ApplyForLoan(memberKey string, amount, annualRate decimal.Decimal, months int, purpose string) (*models.Loan, error) {
	memberKey = strings.TrimSpace(memberKey)
	if memberKey == "" {
		return nil, ErrMemberKeyRequired
	}

	installment, err := amortization.Installment(amortization.Terms{
		Principal:         amount,
		AnnualRatePercent: annualRate,
		TermMonths:        months,
	})
	if err != nil {
		return nil, err
	}

	now := l.now()
	loan := &models.Loan{
		ID:                 uuid.New(),
		MemberKey:          memberKey,
		AmountRequested:    amount,
		AmountApproved:     decimal.Zero,
		InterestRate:       annualRate,
		DurationMonths:     models.Months(months),
		MonthlyRepayment:   installment,
		OutstandingBalance: decimal.Zero,
		Purpose:            strings.TrimSpace(purpose),
		Status:             models.LoanStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := l.storage.CreateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}
	l.logger.Info("loan application recorded", "loan_id", loan.ID, "member_key", memberKey, "amount", money.Format(amount))
	return loan, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(id uuid.UUID) (*models.Loan, error) {
	return l.storage.GetLoan(id)
}

// GetAllLoans retrieves all loans.
func (l *Ledger) GetAllLoans() ([]*models.Loan, error) {
	return l.storage.GetAllLoans()
}

// LoansByStatus retrieves the loans currently in status.
func (l *Ledger) LoansByStatus(status models.LoanStatus) ([]*models.Loan, error) {
	return l.storage.GetLoansByStatus(status)
}

// DeleteLoan deletes a loan that never reached disbursement.
func (l *Ledger) DeleteLoan(id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return err
	}
	if loan.Status != models.LoanStatusPending && loan.Status != models.LoanStatusRejected {
		return fmt.Errorf("loan %s is %s: %w", id, loan.Status, ErrLoanNotDeletable)
	}
	return l.storage.DeleteLoan(id)
}

func (l *Ledger) transition(loan *models.Loan, next models.LoanStatus) error {
	if !loan.Status.CanTransitionTo(next) {
		return fmt.Errorf("loan %s %s -> %s: %w", loan.ID, loan.Status, next, models.ErrInvalidStatusTransition)
	}
	l.logger.Info("loan status changed", "loan_id", loan.ID, "from", loan.Status.String(), "to", next.String(), "closed", next.Terminal())
	loan.Status = next
	loan.UpdatedAt = l.now()
	return nil
}

// ApproveLoan fixes the loan's terms. A zero approved amount approves the
// requested amount.
func (l *Ledger) ApproveLoan(id uuid.UUID, approved decimal.Decimal) (*models.Loan, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	if approved.IsZero() {
		approved = loan.AmountRequested
	}
	if approved.GreaterThan(loan.AmountRequested) {
		return nil, fmt.Errorf("approve %s for loan of %s: %w", approved, loan.AmountRequested, ErrApprovalExceedsAsk)
	}

	installment, err := amortization.Installment(amortization.Terms{
		Principal:         approved,
		AnnualRatePercent: loan.InterestRate,
		TermMonths:        int(loan.DurationMonths),
	})
	if err != nil {
		return nil, err
	}
	if err := l.transition(loan, models.LoanStatusApproved); err != nil {
		return nil, err
	}

	approvedAt := loan.UpdatedAt
	loan.AmountApproved = approved
	loan.MonthlyRepayment = installment
	loan.OutstandingBalance = approved
	loan.ApprovedAt = &approvedAt

	if err := l.storage.UpdateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to update loan: %w", err)
	}
	return loan, nil
}

// RejectLoan rejects a pending or approved loan.
func (l *Ledger) RejectLoan(id uuid.UUID) (*models.Loan, error) {
	return l.changeStatus(id, models.LoanStatusRejected)
}

// DisburseLoan marks an approved loan as paid out, opening it for repayments.
func (l *Ledger) DisburseLoan(id uuid.UUID) (*models.Loan, error) {
	return l.changeStatus(id, models.LoanStatusDisbursed)
}

func (l *Ledger) changeStatus(id uuid.UUID, next models.LoanStatus) (*models.Loan, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	if err := l.transition(loan, next); err != nil {
		return nil, err
	}
	if next == models.LoanStatusDisbursed {
		disbursedAt := loan.UpdatedAt
		loan.DisbursedAt = &disbursedAt
	}
	if err := l.storage.UpdateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to update loan: %w", err)
	}
	return loan, nil
}

// RecordRepayment processes a repayment for a disbursed loan. A zero paidAt
// means now. The loan completes once nothing is outstanding; any excess is
// kept in the history and surfaces as an overpayment in the summary.
func (l *Ledger) RecordRepayment(loanID uuid.UUID, amount decimal.Decimal, paidAt time.Time) (*models.RepaymentEvent, error) {
	if !validAmount(amount) {
		return nil, fmt.Errorf("repayment %s: %w", amount, ErrInvalidAmount)
	}
	if paidAt.IsZero() {
		paidAt = l.now()
	}
	paidAt = paidAt.UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanStatusDisbursed {
		return nil, fmt.Errorf("loan %s is %s: %w", loanID, loan.Status, ErrLoanNotDisbursed)
	}

	events, err := l.storage.GetRepaymentsForLoan(loanID)
	if err != nil {
		return nil, err
	}
	if n := len(events); n > 0 && paidAt.Before(events[n-1].OccurredAt) {
		return nil, fmt.Errorf("repayment at %s: %w", paidAt.Format(time.RFC3339), ErrBackdatedEntry)
	}

	before, err := reconcile.Reconcile(loan.AmountApproved, events)
	if err != nil {
		return nil, fmt.Errorf("reconcile loan %s: %w", loanID, err)
	}

	balanceAfter := money.NonNegative(before.OutstandingBalance.Sub(amount))
	repayment := &models.RepaymentEvent{
		ID:                   uuid.New(),
		LoanID:               loanID,
		Amount:               amount,
		OccurredAt:           paidAt,
		RecordedBalanceAfter: balanceAfter,
	}

	loan.OutstandingBalance = balanceAfter
	loan.UpdatedAt = l.now()
	if balanceAfter.IsZero() {
		if err := l.transition(loan, models.LoanStatusCompleted); err != nil {
			return nil, err
		}
	}

	if err := l.storage.AppendRepayment(loan, repayment); err != nil {
		return nil, fmt.Errorf("failed to store repayment: %w", err)
	}
	l.metrics.RepaymentRecorded()

	if excess := amount.Sub(before.OutstandingBalance); excess.IsPositive() {
		l.logger.Warn("repayment exceeds outstanding balance", "loan_id", loanID, "overpaid", money.Format(excess))
	}
	l.logger.Info("repayment recorded", "loan_id", loanID, "amount", money.Format(amount), "balance_after", money.Format(balanceAfter))
	return repayment, nil
}

// Repayments returns a loan's repayment history in occurrence order.
func (l *Ledger) Repayments(loanID uuid.UUID) ([]models.RepaymentEvent, error) {
	if _, err := l.storage.GetLoan(loanID); err != nil {
		return nil, err
	}
	return l.storage.GetRepaymentsForLoan(loanID)
}

// Terms returns the amortization terms of a loan: the approved amount once
// set, otherwise the requested amount.
func Terms(loan *models.Loan) amortization.Terms {
	return amortization.Terms{
		Principal:         loan.Principal(),
		AnnualRatePercent: loan.InterestRate,
		TermMonths:        int(loan.DurationMonths),
	}
}

// Schedule computes the full amortization schedule of a loan.
func (l *Ledger) Schedule(loanID uuid.UUID) (*amortization.Schedule, error) {
	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	s, err := amortization.Compute(Terms(loan))
	if err != nil {
		return nil, err
	}
	l.metrics.ScheduleComputed("full")
	return s, nil
}

// LoanSummary is a loan with its reconciled ledger and, once disbursed, its
// progress against the nominal schedule.
type LoanSummary struct {
	Loan     *models.Loan                `json:"loan"`
	Ledger   *reconcile.LedgerSummary    `json:"ledger"`
	Progress *reconcile.ScheduleProgress `json:"progress,omitempty"`
}

// Summary reconciles a loan's repayments against its approved amount.
func (l *Ledger) Summary(loanID uuid.UUID, strict bool) (*LoanSummary, error) {
	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	events, err := l.storage.GetRepaymentsForLoan(loanID)
	if err != nil {
		return nil, err
	}

	summary, err := reconcile.Reconcile(loan.AmountApproved, events, reconcile.StrictIf(strict))
	l.metrics.ReconcileOutcome("loan", err)
	if err != nil {
		return nil, fmt.Errorf("reconcile loan %s: %w", loanID, err)
	}

	out := &LoanSummary{Loan: loan, Ledger: summary}
	if loan.Status == models.LoanStatusDisbursed || loan.Status == models.LoanStatusCompleted {
		schedule, err := amortization.Compute(Terms(loan))
		if err != nil {
			return nil, err
		}
		progress := reconcile.Progress(schedule, summary.TotalRepaid)
		out.Progress = &progress
	}
	return out, nil
}
