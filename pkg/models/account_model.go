package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account maps to table `accounts`
type Account struct {
	ID       string
	ClientID string
	Balance  decimal.Decimal
	OpenedAt time.Time
}
