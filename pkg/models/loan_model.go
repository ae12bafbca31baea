package models

import (
	"time"

	"github.com/nimeshabuddhika/ledger-command-processor/pkg"
	"github.com/shopspring/decimal"
)

// Loan maps to table `loans`
type Loan struct {
	ID          string
	ClientID    string
	AccountID   string
	Principal   decimal.Decimal
	Pending     decimal.Decimal
	Status      pkg.LoanStatus
	RequestedAt time.Time
}
