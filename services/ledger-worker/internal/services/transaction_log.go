package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/models"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/repositories"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/utils"
	"github.com/shopspring/decimal"
)

// Posting is the outcome of one guarded balance change plus its movement row.
type Posting struct {
	MovementID string
	NewBalance decimal.Decimal
}

// TransferOrder describes one transfer between two distinct accounts.
type TransferOrder struct {
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
	Metadata      json.RawMessage
}

// TransferReceipt reports both legs of a transfer.
type TransferReceipt struct {
	TransferID string
	Debit      Posting
	Credit     Posting
}

// TransactionLog pairs every balance change with exactly one append-only movement row.
// All methods must run inside the caller's transaction.
type TransactionLog struct {
	accounts  repositories.AccountRepository
	movements repositories.MovementRepository
	now       func() time.Time
}

func NewTransactionLog(accounts repositories.AccountRepository, movements repositories.MovementRepository) *TransactionLog {
	return &TransactionLog{accounts: accounts, movements: movements, now: time.Now}
}

func (t *TransactionLog) Deposit(ctx context.Context, tx pgx.Tx, accountID string, amount decimal.Decimal) (Posting, error) {
	return t.post(ctx, tx, amount, models.Movement{AccountID: accountID, Type: pkg.MovementDeposit, Amount: amount})
}

func (t *TransactionLog) Withdraw(ctx context.Context, tx pgx.Tx, accountID string, amount decimal.Decimal) (Posting, error) {
	return t.post(ctx, tx, amount.Neg(), models.Movement{AccountID: accountID, Type: pkg.MovementWithdrawal, Amount: amount})
}

// PayDebt debits the account for a loan installment. The caller applies the payment to the loan in the same transaction.
func (t *TransactionLog) PayDebt(ctx context.Context, tx pgx.Tx, accountID string, amount decimal.Decimal) (Posting, error) {
	return t.post(ctx, tx, amount.Neg(), models.Movement{AccountID: accountID, Type: pkg.MovementDebtPayment, Amount: amount})
}

// Transfer debits the source before crediting the destination. A failed debit aborts before any row is written.
func (t *TransactionLog) Transfer(ctx context.Context, tx pgx.Tx, order TransferOrder) (TransferReceipt, error) {
	if order.FromAccountID == order.ToAccountID {
		return TransferReceipt{}, pkg.NewConflictError("SAME_ACCOUNT")
	}
	transferID := utils.NewTransferId(t.now())
	debit, err := t.post(ctx, tx, order.Amount.Neg(), models.Movement{
		TransferID:     &transferID,
		AccountID:      order.FromAccountID,
		CounterpartyID: &order.ToAccountID,
		Metadata:       order.Metadata,
		Type:           pkg.MovementWithdrawal,
		Amount:         order.Amount,
	})
	if err != nil {
		return TransferReceipt{}, err
	}
	credit, err := t.post(ctx, tx, order.Amount, models.Movement{
		TransferID:     &transferID,
		AccountID:      order.ToAccountID,
		CounterpartyID: &order.FromAccountID,
		Metadata:       order.Metadata,
		Type:           pkg.MovementDeposit,
		Amount:         order.Amount,
	})
	if err != nil {
		return TransferReceipt{}, err
	}
	return TransferReceipt{TransferID: transferID, Debit: debit, Credit: credit}, nil
}

// List returns movements of the account between two yyyy-mm-dd dates, both inclusive, newest first.
func (t *TransactionLog) List(ctx context.Context, tx pgx.Tx, accountID, from, to string, limit, offset int) ([]models.Movement, error) {
	start, end, err := utils.DayRange(from, to)
	if err != nil {
		return nil, pkg.NewAppError(pkg.ErrValidationCode, "INVALID_DATE", err)
	}
	return t.movements.ListByAccountAndDate(ctx, tx, accountID, start, end, limit, offset)
}

func (t *TransactionLog) post(ctx context.Context, tx pgx.Tx, delta decimal.Decimal, movement models.Movement) (Posting, error) {
	balance, err := t.accounts.ChangeBalance(ctx, tx, movement.AccountID, delta)
	if errors.Is(err, pkg.ErrBalanceGuard) {
		// existence is checked by every caller before posting
		return Posting{}, pkg.NewAppError(pkg.ErrInsufficientFundsCode, "INSUFFICIENT_FUNDS", err)
	}
	if err != nil {
		return Posting{}, err
	}
	movement.ID = utils.NewMovementId()
	if err = t.movements.Insert(ctx, tx, movement); err != nil {
		return Posting{}, err
	}
	return Posting{MovementID: movement.ID, NewBalance: balance}, nil
}
