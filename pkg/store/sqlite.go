package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/coopledger/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// Manually enable foreign keys and WAL mode
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	slog.Info("database connection established and schema initialized", "dsn", dataSourceName)
	return s, nil
}

// initSchema creates the tables if they don't already exist and adds columns
// introduced after the first release.
// Decimal fields are TEXT so no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		member_key TEXT NOT NULL,
		amount_requested TEXT NOT NULL,
		amount_approved TEXT NOT NULL DEFAULT '0',
		interest_rate TEXT NOT NULL,
		duration_months INTEGER NOT NULL,
		monthly_repayment TEXT NOT NULL DEFAULT '0',
		outstanding_balance TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS repayments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		payment_date DATETIME NOT NULL,
		balance_after TEXT NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS savings_transactions (
		id TEXT PRIMARY KEY,
		member_key TEXT NOT NULL,
		transaction_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		transaction_date DATETIME NOT NULL,
		balance_after TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_repayments_loan ON repayments(loan_id, payment_date);
	CREATE INDEX IF NOT EXISTS idx_savings_member ON savings_transactions(member_key, transaction_date);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	columns := []string{
		"purpose TEXT NOT NULL DEFAULT ''",
		"approved_at DATETIME",
		"disbursed_at DATETIME",
	}
	for _, col := range columns {
		_, err := s.db.Exec(fmt.Sprintf("ALTER TABLE loans ADD COLUMN %s", col))
		if err != nil && !isDuplicateColumnError(err) {
			return fmt.Errorf("failed to add column %s: %w", col, err)
		}
	}

	return nil
}

// isDuplicateColumnError checks if the error indicates a duplicate column.
func isDuplicateColumnError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "duplicate column name")
}

const loanColumns = `id, member_key, amount_requested, amount_approved, interest_rate, duration_months, monthly_repayment, outstanding_balance, purpose, status, created_at, updated_at, approved_at, disbursed_at`

// CreateLoan inserts a new loan into the database.
func (s *SQLiteStore) CreateLoan(loan *models.Loan) error {
	_, err := s.db.Exec(
		`INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.MemberKey, loan.AmountRequested, loan.AmountApproved, loan.InterestRate, int(loan.DurationMonths),
		loan.MonthlyRepayment, loan.OutstandingBalance, loan.Purpose, loan.Status, loan.CreatedAt, loan.UpdatedAt, loan.ApprovedAt, loan.DisbursedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("loan %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// UpdateLoan updates an existing loan in the database.
func (s *SQLiteStore) UpdateLoan(loan *models.Loan) error {
	return updateLoan(s.db, loan)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func updateLoan(db execer, loan *models.Loan) error {
	result, err := db.Exec(
		`UPDATE loans SET member_key = ?, amount_requested = ?, amount_approved = ?, interest_rate = ?, duration_months = ?, monthly_repayment = ?, outstanding_balance = ?, purpose = ?, status = ?, updated_at = ?, approved_at = ?, disbursed_at = ? WHERE id = ?`,
		loan.MemberKey, loan.AmountRequested, loan.AmountApproved, loan.InterestRate, int(loan.DurationMonths), loan.MonthlyRepayment,
		loan.OutstandingBalance, loan.Purpose, loan.Status, loan.UpdatedAt, loan.ApprovedAt, loan.DisbursedAt, loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("loan %s: %w", loan.ID, ErrNotFound)
	}
	return nil
}

// DeleteLoan removes a loan and its repayments from the database within a transaction.
func (s *SQLiteStore) DeleteLoan(id uuid.UUID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM repayments WHERE loan_id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete associated repayments: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM loans WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("loan %s: %w", id, ErrNotFound)
	}

	return tx.Commit()
}

// GetAllLoans retrieves all loans, newest first.
func (s *SQLiteStore) GetAllLoans() ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT ` + loanColumns + ` FROM loans ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	defer rows.Close()

	return scanLoans(rows)
}

// GetLoansByStatus retrieves all loans in the given status.
func (s *SQLiteStore) GetLoansByStatus(status models.LoanStatus) ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT `+loanColumns+` FROM loans WHERE status = ? ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s loans: %w", status, err)
	}
	defer rows.Close()

	return scanLoans(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLoan(row scanner) (*models.Loan, error) {
	var loan models.Loan
	var loanIDStr string
	var months int
	var approvedAt, disbursedAt sql.NullTime

	err := row.Scan(&loanIDStr, &loan.MemberKey, &loan.AmountRequested, &loan.AmountApproved, &loan.InterestRate, &months,
		&loan.MonthlyRepayment, &loan.OutstandingBalance, &loan.Purpose, &loan.Status, &loan.CreatedAt, &loan.UpdatedAt, &approvedAt, &disbursedAt)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(loanIDStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt loan id %q: %w", loanIDStr, err)
	}
	loan.ID = id
	loan.DurationMonths = models.Months(months)
	if approvedAt.Valid {
		loan.ApprovedAt = &approvedAt.Time
	}
	if disbursedAt.Valid {
		loan.DisbursedAt = &disbursedAt.Time
	}
	return &loan, nil
}

func scanLoans(rows *sql.Rows) ([]*models.Loan, error) {
	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

// AppendRepayment inserts the repayment and updates the loan in one transaction.
func (s *SQLiteStore) AppendRepayment(loan *models.Loan, repayment *models.RepaymentEvent) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO repayments (id, loan_id, amount, payment_date, balance_after) VALUES (?, ?, ?, ?, ?)`,
		repayment.ID.String(), repayment.LoanID.String(), repayment.Amount, repayment.OccurredAt.UTC(), repayment.RecordedBalanceAfter,
	)
	if err != nil {
		return fmt.Errorf("failed to create repayment: %w", err)
	}
	if err := updateLoan(tx, loan); err != nil {
		return err
	}
	return tx.Commit()
}

// GetRepaymentsForLoan retrieves a loan's repayments in the order they occurred.
func (s *SQLiteStore) GetRepaymentsForLoan(loanID uuid.UUID) ([]models.RepaymentEvent, error) {
	rows, err := s.db.Query(`SELECT id, loan_id, amount, payment_date, balance_after FROM repayments WHERE loan_id = ? ORDER BY payment_date ASC, rowid ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get repayments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var events []models.RepaymentEvent
	for rows.Next() {
		var e models.RepaymentEvent
		var idStr, loanIDStr string
		var paidAt time.Time
		if err := rows.Scan(&idStr, &loanIDStr, &e.Amount, &paidAt, &e.RecordedBalanceAfter); err != nil {
			return nil, fmt.Errorf("failed to scan repayment row: %w", err)
		}
		if e.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("corrupt repayment id %q: %w", idStr, err)
		}
		if e.LoanID, err = uuid.Parse(loanIDStr); err != nil {
			return nil, fmt.Errorf("corrupt loan id %q: %w", loanIDStr, err)
		}
		e.OccurredAt = paidAt.UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan repayments: %w", err)
	}
	return events, nil
}

// CreateSavingsTransaction inserts a new savings transaction.
func (s *SQLiteStore) CreateSavingsTransaction(tx *models.SavingsTransaction) error {
	_, err := s.db.Exec(
		`INSERT INTO savings_transactions (id, member_key, transaction_type, amount, transaction_date, balance_after)
		VALUES (?, ?, ?, ?, ?, ?)`,
		tx.ID.String(), tx.MemberKey, string(tx.Type), tx.Amount, tx.OccurredAt.UTC(), tx.RecordedBalanceAfter,
	)
	if err != nil {
		return fmt.Errorf("failed to create savings transaction: %w", err)
	}
	return nil
}

// GetSavingsTransactions retrieves a member's savings transactions in the order they occurred.
func (s *SQLiteStore) GetSavingsTransactions(memberKey string) ([]models.SavingsTransaction, error) {
	rows, err := s.db.Query(`SELECT id, member_key, transaction_type, amount, transaction_date, balance_after FROM savings_transactions WHERE member_key = ? ORDER BY transaction_date ASC, rowid ASC`, memberKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get savings transactions for member %s: %w", memberKey, err)
	}
	defer rows.Close()

	var txs []models.SavingsTransaction
	for rows.Next() {
		var tx models.SavingsTransaction
		var idStr, typ string
		var at time.Time
		if err := rows.Scan(&idStr, &tx.MemberKey, &typ, &tx.Amount, &at, &tx.RecordedBalanceAfter); err != nil {
			return nil, fmt.Errorf("failed to scan savings transaction row: %w", err)
		}
		if tx.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("corrupt savings transaction id %q: %w", idStr, err)
		}
		tx.Type = models.SavingsTransactionType(typ)
		tx.OccurredAt = at.UTC()
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for savings transactions: %w", err)
	}
	return txs, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
