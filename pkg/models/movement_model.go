package models

import (
	"encoding/json"
	"time"

	"github.com/nimeshabuddhika/ledger-command-processor/pkg"
	"github.com/shopspring/decimal"
)

// Movement maps to table `movements`. Rows are append-only; the sign of Amount is implied by Type.
type Movement struct {
	ID             string
	TransferID     *string
	AccountID      string
	CounterpartyID *string
	Metadata       json.RawMessage
	Type           pkg.MovementType
	Amount         decimal.Decimal
	CreatedAt      time.Time
}
