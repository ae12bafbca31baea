package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/models"
)

// MovementRepository defines the interface for the append-only transaction log.
type MovementRepository interface {
	// Insert appends one movement row.
	Insert(ctx context.Context, tx pgx.Tx, movement models.Movement) error
	// ListByAccountAndDate returns movements of the account with from <= created_at < to, newest first.
	ListByAccountAndDate(ctx context.Context, tx pgx.Tx, accountID string, from, to time.Time, limit, offset int) ([]models.Movement, error)
}

type MovementRepositoryImpl struct {
}

func NewMovementRepository() MovementRepository {
	return &MovementRepositoryImpl{}
}

func (m MovementRepositoryImpl) Insert(ctx context.Context, tx pgx.Tx, movement models.Movement) error {
	var metadata any
	if len(movement.Metadata) > 0 {
		metadata = []byte(movement.Metadata)
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO movements (id, transfer_id, account_id, counterparty_id, metadata, type, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		movement.ID,
		movement.TransferID,
		movement.AccountID,
		movement.CounterpartyID,
		metadata,
		string(movement.Type),
		movement.Amount,
	)
	return err
}

func (m MovementRepositoryImpl) ListByAccountAndDate(ctx context.Context, tx pgx.Tx, accountID string, from, to time.Time, limit, offset int) ([]models.Movement, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, transfer_id, account_id, counterparty_id, metadata, type, amount, created_at
		FROM movements
		WHERE account_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, seq DESC
		LIMIT $4 OFFSET $5`, accountID, from, to, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := make([]models.Movement, 0)
	for rows.Next() {
		var (
			movement models.Movement
			metadata []byte
			kind     string
		)
		if err = rows.Scan(
			&movement.ID,
			&movement.TransferID,
			&movement.AccountID,
			&movement.CounterpartyID,
			&metadata,
			&kind,
			&movement.Amount,
			&movement.CreatedAt,
		); err != nil {
			return nil, err
		}
		movement.Metadata = metadata
		movement.Type = pkg.MovementType(kind)
		movements = append(movements, movement)
	}
	return movements, rows.Err()
}
