package store

import (
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/coopledger/pkg/models"
)

// ErrNotFound is wrapped by every lookup that matches no row.
var ErrNotFound = errors.New("not found")

// Storage defines the persistence operations for the local ledger mirror:
// loans, their repayments and members' savings transactions.
type Storage interface {
	CreateLoan(loan *models.Loan) error
	GetLoan(id uuid.UUID) (*models.Loan, error)
	UpdateLoan(loan *models.Loan) error
	DeleteLoan(id uuid.UUID) error
	GetAllLoans() ([]*models.Loan, error)
	GetLoansByStatus(status models.LoanStatus) ([]*models.Loan, error)

	// AppendRepayment stores the repayment and the loan's new state together.
	AppendRepayment(loan *models.Loan, repayment *models.RepaymentEvent) error
	GetRepaymentsForLoan(loanID uuid.UUID) ([]models.RepaymentEvent, error)

	CreateSavingsTransaction(tx *models.SavingsTransaction) error
	GetSavingsTransactions(memberKey string) ([]models.SavingsTransaction, error)

	Close() error
}
