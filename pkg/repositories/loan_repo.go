package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/models"
	"github.com/shopspring/decimal"
)

// LoanRepository defines the interface for the loan book.
type LoanRepository interface {
	// Insert creates an active loan with pending = principal.
	Insert(ctx context.Context, tx pgx.Tx, loan models.Loan) error
	// FindById finds a loan by ID. Returns pgx.ErrNoRows when absent.
	FindById(ctx context.Context, tx pgx.Tx, loanID string) (models.Loan, error)
	// ApplyPayment subtracts amount from pending of an active loan, flipping status to paid when pending reaches zero.
	// Returns pkg.ErrLoanGuard when no row matched (absent, already paid, or overpayment).
	ApplyPayment(ctx context.Context, tx pgx.Tx, loanID string, amount decimal.Decimal) (models.Loan, error)
	// ListByClient lists the client's loans, filtered by status when status is not nil.
	ListByClient(ctx context.Context, tx pgx.Tx, clientID string, status *pkg.LoanStatus) ([]models.Loan, error)
}

type LoanRepositoryImpl struct {
}

func NewLoanRepository() LoanRepository {
	return &LoanRepositoryImpl{}
}

const loanColumns = `id, client_id, account_id, principal, pending, status, requested_at`

func scanLoan(row pgx.Row) (models.Loan, error) {
	var (
		loan   models.Loan
		status string
	)
	err := row.Scan(&loan.ID, &loan.ClientID, &loan.AccountID, &loan.Principal, &loan.Pending, &status, &loan.RequestedAt)
	loan.Status = pkg.LoanStatus(status)
	return loan, err
}

func (l LoanRepositoryImpl) Insert(ctx context.Context, tx pgx.Tx, loan models.Loan) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO loans (id, client_id, account_id, principal, pending, status, requested_at)
		VALUES ($1, $2, $3, $4, $4, $5, CURRENT_DATE)`,
		loan.ID, loan.ClientID, loan.AccountID, loan.Principal, string(pkg.LoanStatusActive))
	return err
}

func (l LoanRepositoryImpl) FindById(ctx context.Context, tx pgx.Tx, loanID string) (models.Loan, error) {
	return scanLoan(tx.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, loanID))
}

func (l LoanRepositoryImpl) ApplyPayment(ctx context.Context, tx pgx.Tx, loanID string, amount decimal.Decimal) (models.Loan, error) {
	loan, err := scanLoan(tx.QueryRow(ctx, `
		UPDATE loans
		SET pending = pending - $2,
		    status  = CASE WHEN pending - $2 = 0 THEN 'paid' ELSE status END
		WHERE id = $1 AND status = 'active' AND pending - $2 >= 0
		RETURNING `+loanColumns, loanID, amount))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Loan{}, pkg.ErrLoanGuard
	}
	return loan, err
}

func (l LoanRepositoryImpl) ListByClient(ctx context.Context, tx pgx.Tx, clientID string, status *pkg.LoanStatus) ([]models.Loan, error) {
	var filter *string
	if status != nil {
		s := string(*status)
		filter = &s
	}
	rows, err := tx.Query(ctx, `
		SELECT `+loanColumns+` FROM loans
		WHERE client_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY requested_at, id`, clientID, filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	loans := make([]models.Loan, 0)
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}
	return loans, rows.Err()
}
