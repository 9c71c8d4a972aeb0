package ledger

import (
	"context"
	"time"

	"github.com/mcclellann/coopledger/pkg/models"
	"github.com/mcclellann/coopledger/pkg/money"
	"github.com/mcclellann/coopledger/pkg/reconcile"
)

// AuditDisbursedLoans strictly reconciles every disbursed loan and compares
// the replayed outstanding balance with the stored one. Discrepancies are
// logged, never corrected. It returns the number of loans that failed.
func (l *Ledger) AuditDisbursedLoans() (int, error) {
	loans, err := l.storage.GetLoansByStatus(models.LoanStatusDisbursed)
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, loan := range loans {
		events, err := l.storage.GetRepaymentsForLoan(loan.ID)
		if err != nil {
			l.logger.Error("audit: could not load repayments", "loan_id", loan.ID, "error", err)
			failed++
			continue
		}

		summary, err := reconcile.Reconcile(loan.AmountApproved, events, reconcile.Strict())
		l.metrics.ReconcileOutcome("loan", err)
		if err != nil {
			l.logger.Warn("audit: loan ledger inconsistent", "loan_id", loan.ID, "error", err)
			failed++
			continue
		}

		if !money.WithinMinorUnit(summary.OutstandingBalance, loan.OutstandingBalance) {
			l.logger.Warn("audit: stored outstanding balance drifted",
				"loan_id", loan.ID,
				"stored", money.Format(loan.OutstandingBalance),
				"replayed", money.Format(summary.OutstandingBalance),
			)
			failed++
		}
	}

	l.metrics.AuditRun()
	l.logger.Info("audit complete", "loans", len(loans), "failed", failed)
	return failed, nil
}

// RunAudit runs AuditDisbursedLoans every interval until ctx is cancelled.
func (l *Ledger) RunAudit(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.AuditDisbursedLoans(); err != nil {
				l.logger.Error("audit failed", "error", err)
			}
		}
	}
}
