package services

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/models"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/repositories"
	"github.com/shopspring/decimal"
)

// LoanBook keeps loan state and the ledger in step. Disbursement is an ordinary deposit.
type LoanBook struct {
	loans  repositories.LoanRepository
	ledger *TransactionLog
}

func NewLoanBook(loans repositories.LoanRepository, ledger *TransactionLog) *LoanBook {
	return &LoanBook{loans: loans, ledger: ledger}
}

// CreateAndCredit opens an active loan and deposits the principal into accountID.
func (b *LoanBook) CreateAndCredit(ctx context.Context, tx pgx.Tx, loanID, clientID, accountID string, principal decimal.Decimal) (models.Loan, Posting, error) {
	loan := models.Loan{
		ID:        loanID,
		ClientID:  clientID,
		AccountID: accountID,
		Principal: principal,
		Pending:   principal,
		Status:    pkg.LoanStatusActive,
	}
	if err := b.loans.Insert(ctx, tx, loan); err != nil {
		return models.Loan{}, Posting{}, err
	}
	posting, err := b.ledger.Deposit(ctx, tx, accountID, principal)
	if err != nil {
		return models.Loan{}, Posting{}, err
	}
	return loan, posting, nil
}

// ValidatePayment checks a payment of amount from account against loan without touching the store.
func ValidatePayment(loan models.Loan, account models.Account, amount decimal.Decimal) error {
	switch {
	case account.ClientID != loan.ClientID:
		return pkg.NewConflictError("ACCOUNT_NOT_OWNED")
	case loan.Status == pkg.LoanStatusPaid:
		return pkg.NewConflictError("LOAN_ALREADY_PAID")
	case !amount.IsPositive():
		return pkg.NewValidationError("INVALID_AMOUNT")
	case amount.GreaterThan(loan.Pending):
		return pkg.NewValidationError("OVERPAYMENT")
	}
	return nil
}

// ApplyPayment lowers pending by amount. The account must already have been debited with PayDebt in tx.
func (b *LoanBook) ApplyPayment(ctx context.Context, tx pgx.Tx, loanID string, amount decimal.Decimal) (models.Loan, error) {
	if !amount.IsPositive() {
		return models.Loan{}, pkg.NewValidationError("INVALID_AMOUNT")
	}
	loan, err := b.loans.ApplyPayment(ctx, tx, loanID, amount)
	if errors.Is(err, pkg.ErrLoanGuard) {
		return models.Loan{}, pkg.NewAppError(pkg.ErrValidationCode, "OVERPAYMENT", err)
	}
	return loan, err
}

func (b *LoanBook) ListByClient(ctx context.Context, tx pgx.Tx, clientID string, status *pkg.LoanStatus) ([]models.Loan, error) {
	return b.loans.ListByClient(ctx, tx, clientID, status)
}
