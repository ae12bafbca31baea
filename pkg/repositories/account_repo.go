package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/models"
	"github.com/shopspring/decimal"
)

// AccountRepository defines the interface for the account ledger.
type AccountRepository interface {
	// FindById finds an account by ID. Returns pgx.ErrNoRows when absent.
	FindById(ctx context.Context, tx pgx.Tx, accountID string) (models.Account, error)
	// FindAllByClient lists the client's accounts by opening date.
	FindAllByClient(ctx context.Context, tx pgx.Tx, clientID string) ([]models.Account, error)
	// FindAnyByClient returns the client's first opened account. Returns pgx.ErrNoRows when the client has none.
	FindAnyByClient(ctx context.Context, tx pgx.Tx, clientID string) (models.Account, error)
	// Insert creates an account with its initial balance.
	Insert(ctx context.Context, tx pgx.Tx, account models.Account) error
	// ChangeBalance applies balance += delta only if the result stays >= 0 and returns the new balance.
	// Returns pkg.ErrBalanceGuard when no row matched (absent account or would-be-negative balance).
	ChangeBalance(ctx context.Context, tx pgx.Tx, accountID string, delta decimal.Decimal) (decimal.Decimal, error)
}

type AccountRepositoryImpl struct {
}

func NewAccountRepository() AccountRepository {
	return &AccountRepositoryImpl{}
}

func (a AccountRepositoryImpl) FindById(ctx context.Context, tx pgx.Tx, accountID string) (models.Account, error) {
	var account models.Account
	err := tx.QueryRow(ctx, `SELECT id, client_id, balance, opened_at FROM accounts WHERE id = $1`, accountID).Scan(
		&account.ID, &account.ClientID, &account.Balance, &account.OpenedAt)
	return account, err
}

func (a AccountRepositoryImpl) FindAllByClient(ctx context.Context, tx pgx.Tx, clientID string) ([]models.Account, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, client_id, balance, opened_at FROM accounts
		WHERE client_id = $1
		ORDER BY opened_at, created_seq`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	accounts := make([]models.Account, 0)
	for rows.Next() {
		var account models.Account
		if err = rows.Scan(&account.ID, &account.ClientID, &account.Balance, &account.OpenedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (a AccountRepositoryImpl) FindAnyByClient(ctx context.Context, tx pgx.Tx, clientID string) (models.Account, error) {
	var account models.Account
	err := tx.QueryRow(ctx, `
		SELECT id, client_id, balance, opened_at FROM accounts
		WHERE client_id = $1
		ORDER BY opened_at, created_seq
		LIMIT 1`, clientID).Scan(&account.ID, &account.ClientID, &account.Balance, &account.OpenedAt)
	return account, err
}

func (a AccountRepositoryImpl) Insert(ctx context.Context, tx pgx.Tx, account models.Account) error {
	_, err := tx.Exec(ctx, `INSERT INTO accounts (id, client_id, balance, opened_at) VALUES ($1, $2, $3, CURRENT_DATE)`,
		account.ID, account.ClientID, account.Balance)
	return err
}

func (a AccountRepositoryImpl) ChangeBalance(ctx context.Context, tx pgx.Tx, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRow(ctx, `
		UPDATE accounts SET balance = balance + $2
		WHERE id = $1 AND balance + $2 >= 0
		RETURNING balance`, accountID, delta).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, pkg.ErrBalanceGuard
	}
	return balance, err
}
