package utils

import (
	"time"

	"github.com/google/uuid"
)

// Id prefixes per entity.
const (
	ClientIdPrefix   = "CL-"
	AccountIdPrefix  = "CU-"
	MovementIdPrefix = "TX-"
	TransferIdPrefix = "TF-"
	LoanIdPrefix     = "PR-"
)

func NewClientId() string   { return ClientIdPrefix + uuid.NewString() }
func NewAccountId() string  { return AccountIdPrefix + uuid.NewString() }
func NewMovementId() string { return MovementIdPrefix + uuid.NewString() }
func NewLoanId() string     { return LoanIdPrefix + uuid.NewString() }

// NewTransferId groups the legs of one transfer; the UTC date keeps ids sortable by day.
func NewTransferId(now time.Time) string {
	return TransferIdPrefix + now.UTC().Format("2006-01-02") + "-" + uuid.NewString()
}
