package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/models"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/utils"
)

// ClientRepository defines the interface for the client directory.
type ClientRepository interface {
	// FindById finds a client by ID. Returns pgx.ErrNoRows when absent.
	FindById(ctx context.Context, tx pgx.Tx, clientID string) (models.Client, error)
	// FindByDni finds a client by national id. Returns pgx.ErrNoRows when absent.
	FindByDni(ctx context.Context, tx pgx.Tx, dni string) (models.Client, error)
	// Insert stores the client with a salted hash of credential.
	Insert(ctx context.Context, tx pgx.Tx, client models.Client, credential string) error
	// Authenticate returns the client owning dni when credential matches, nil otherwise.
	Authenticate(ctx context.Context, tx pgx.Tx, dni, credential string) (*models.Client, error)
}

type ClientRepositoryImpl struct {
	bcryptCost int
}

// NewClientRepository creates a client repository hashing credentials with the given bcrypt cost.
func NewClientRepository(bcryptCost int) ClientRepository {
	return &ClientRepositoryImpl{bcryptCost: bcryptCost}
}

const clientColumns = `id, dni, nombres, apellido_pat, apellido_mat, direccion, telefono, correo, credential_hash, registered_at`

func scanClient(row pgx.Row) (models.Client, error) {
	var c models.Client
	err := row.Scan(&c.ID, &c.Dni, &c.Nombres, &c.ApellidoPat, &c.ApellidoMat,
		&c.Direccion, &c.Telefono, &c.Correo, &c.CredentialHash, &c.RegisteredAt)
	return c, err
}

func (r ClientRepositoryImpl) FindById(ctx context.Context, tx pgx.Tx, clientID string) (models.Client, error) {
	return scanClient(tx.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, clientID))
}

func (r ClientRepositoryImpl) FindByDni(ctx context.Context, tx pgx.Tx, dni string) (models.Client, error) {
	return scanClient(tx.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE dni = $1`, dni))
}

func (r ClientRepositoryImpl) Insert(ctx context.Context, tx pgx.Tx, client models.Client, credential string) error {
	hash, err := utils.HashCredential(credential, r.bcryptCost)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO clients (id, dni, nombres, apellido_pat, apellido_mat, direccion, telefono, correo, credential_hash, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
		client.ID, client.Dni, client.Nombres, client.ApellidoPat, client.ApellidoMat,
		client.Direccion, client.Telefono, client.Correo, hash)
	return err
}

func (r ClientRepositoryImpl) Authenticate(ctx context.Context, tx pgx.Tx, dni, credential string) (*models.Client, error) {
	client, err := r.FindByDni(ctx, tx, dni)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := utils.CompareCredential(client.CredentialHash, credential); err != nil {
		if errors.Is(err, utils.ErrCredentialMismatch) {
			return nil, nil
		}
		return nil, err
	}
	return &client, nil
}
