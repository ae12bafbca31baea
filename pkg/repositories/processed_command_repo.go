package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/models"
)

// ProcessedCommandRepository is the idempotency ledger keyed by the caller-supplied message id.
type ProcessedCommandRepository interface {
	// AlreadyProcessed reports whether a prior attempt with this id completed.
	AlreadyProcessed(ctx context.Context, tx pgx.Tx, messageID string) (bool, error)
	// MarkProcessed upserts the id to done. Safe to call repeatedly; the bool is true only for the call
	// that made the transition.
	MarkProcessed(ctx context.Context, tx pgx.Tx, messageID string) (bool, error)
	// TryClaim inserts an in-progress marker. An in-progress marker older than ttl is taken over.
	// Returns false when the id is done or claimed by someone else.
	TryClaim(ctx context.Context, tx pgx.Tx, messageID string, ttl time.Duration) (bool, error)
	// Release deletes an in-progress marker so a later retry may run. Done rows are left untouched.
	Release(ctx context.Context, tx pgx.Tx, messageID string) error
	// Find returns the marker row. Returns pgx.ErrNoRows when absent.
	Find(ctx context.Context, tx pgx.Tx, messageID string) (models.ProcessedCommand, error)
}

type ProcessedCommandRepositoryImpl struct {
}

func NewProcessedCommandRepository() ProcessedCommandRepository {
	return &ProcessedCommandRepositoryImpl{}
}

func (p ProcessedCommandRepositoryImpl) AlreadyProcessed(ctx context.Context, tx pgx.Tx, messageID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM processed_commands WHERE message_id = $1 AND status = $2)`,
		messageID, string(pkg.CommandStatusDone),
	).Scan(&exists)
	return exists, err
}

func (p ProcessedCommandRepositoryImpl) MarkProcessed(ctx context.Context, tx pgx.Tx, messageID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_commands (message_id, status, claimed_at, updated_at)
		VALUES ($1, 'done', now(), now())
		ON CONFLICT (message_id) DO UPDATE
		SET status = 'done', updated_at = now()
		WHERE processed_commands.status <> 'done'`, messageID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p ProcessedCommandRepositoryImpl) TryClaim(ctx context.Context, tx pgx.Tx, messageID string, ttl time.Duration) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_commands (message_id, status, claimed_at, updated_at)
		VALUES ($1, 'in_progress', now(), now())
		ON CONFLICT (message_id) DO UPDATE
		SET claimed_at = now(), updated_at = now()
		WHERE processed_commands.status = 'in_progress'
		  AND processed_commands.claimed_at < now() - make_interval(secs => $2)`,
		messageID, ttl.Seconds())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p ProcessedCommandRepositoryImpl) Release(ctx context.Context, tx pgx.Tx, messageID string) error {
	_, err := tx.Exec(ctx, `DELETE FROM processed_commands WHERE message_id = $1 AND status = 'in_progress'`, messageID)
	return err
}

func (p ProcessedCommandRepositoryImpl) Find(ctx context.Context, tx pgx.Tx, messageID string) (models.ProcessedCommand, error) {
	var (
		cmd    models.ProcessedCommand
		status string
	)
	err := tx.QueryRow(ctx, `
		SELECT message_id, status, claimed_at, updated_at FROM processed_commands WHERE message_id = $1`,
		messageID).Scan(&cmd.MessageID, &status, &cmd.ClaimedAt, &cmd.UpdatedAt)
	cmd.Status = pkg.CommandStatus(status)
	return cmd, err
}
