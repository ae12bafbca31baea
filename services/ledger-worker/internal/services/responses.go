package services

import (
	"encoding/json"
	"time"

	"github.com/nimeshabuddhika/ledger-command-processor/pkg/models"
	"github.com/shopspring/decimal"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
)

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

type BalanceView struct {
	AccountID string `json:"accountId"`
	Balance   string `json:"balance"`
	Currency  string `json:"currency"`
}

type AccountSummary struct {
	AccountID     string `json:"accountId"`
	Balance       string `json:"balance"`
	FechaApertura string `json:"fechaApertura"`
}

type ClientInfoView struct {
	ClientID      string           `json:"clientId"`
	Dni           string           `json:"dni"`
	Nombres       string           `json:"nombres"`
	Apellidos     string           `json:"apellidos"`
	Direccion     string           `json:"direccion"`
	Telefono      string           `json:"telefono"`
	Correo        string           `json:"correo"`
	FechaRegistro string           `json:"fechaRegistro"`
	Accounts      []AccountSummary `json:"accounts"`
	TotalAccounts int              `json:"totalAccounts"`
}

type MovementView struct {
	TxID                  string          `json:"txId"`
	IDTransferencia       *string         `json:"idTransferencia"`
	Tipo                  string          `json:"tipo"`
	Monto                 string          `json:"monto"`
	CounterpartyAccountID *string         `json:"counterpartyAccountId"`
	Metadata              json.RawMessage `json:"metadata"`
	Fecha                 string          `json:"fecha"`
}

type TransactionsView struct {
	AccountID      string         `json:"accountId"`
	CurrentBalance string         `json:"currentBalance"`
	Items          []MovementView `json:"items"`
	Count          int            `json:"count"`
	HasMore        bool           `json:"hasMore"` // count == limit, not a cursor guarantee
}

type PostingView struct {
	AccountID  string `json:"accountId"`
	NewBalance string `json:"newBalance"`
	TxID       string `json:"txId"`
}

type TransferView struct {
	TxID                  string `json:"txId"`
	TransferID            string `json:"transferId"`
	FromAccountNewBalance string `json:"fromAccountNewBalance"`
	ToAccountNewBalance   string `json:"toAccountNewBalance"`
}

type LoanCreatedView struct {
	LoanID            string `json:"loanId"`
	ClientID          string `json:"clientId"`
	CreditedAccountID string `json:"creditedAccountId"`
	Principal         string `json:"principal"`
	Pending           string `json:"pending"`
	Status            string `json:"status"`
	NewBalance        string `json:"newBalance"`
}

type LoanPaymentView struct {
	LoanID     string `json:"loanId"`
	AccountID  string `json:"accountId"`
	AmountPaid string `json:"amountPaid"`
	Pending    string `json:"pending"`
	Status     string `json:"status"`
	NewBalance string `json:"newBalance"`
	TxID       string `json:"txId"`
}

type LoanView struct {
	LoanID      string `json:"loanId"`
	AccountID   string `json:"accountId"`
	Principal   string `json:"principal"`
	Pending     string `json:"pending"`
	Status      string `json:"status"`
	RequestedAt string `json:"requestedAt"`
}

type ClientLoansView struct {
	ClientID string     `json:"clientId"`
	Status   string     `json:"status"`
	Items    []LoanView `json:"items"`
	Count    int        `json:"count"`
}

// RegisterView carries clienteId as well for older clients.
type RegisterView struct {
	ClientID       string `json:"clientId"`
	ClienteID      string `json:"clienteId"`
	AccountID      string `json:"accountId"`
	InitialBalance string `json:"initialBalance"`
	Status         string `json:"status"`
}

type LoginView struct {
	ClientID  string `json:"clientId"`
	ClienteID string `json:"clienteId"`
	Dni       string `json:"dni"`
	AccountID string `json:"accountId,omitempty"`
	Balance   string `json:"balance,omitempty"`
	Status    string `json:"status"`
}

func toMovementView(m models.Movement) MovementView {
	return MovementView{
		TxID:                  m.ID,
		IDTransferencia:       m.TransferID,
		Tipo:                  string(m.Type),
		Monto:                 money(m.Amount),
		CounterpartyAccountID: m.CounterpartyID,
		Metadata:              m.Metadata,
		Fecha:                 m.CreatedAt.UTC().Format(dateTimeLayout),
	}
}

func toLoanView(l models.Loan) LoanView {
	return LoanView{
		LoanID:      l.ID,
		AccountID:   l.AccountID,
		Principal:   money(l.Principal),
		Pending:     money(l.Pending),
		Status:      string(l.Status),
		RequestedAt: formatDate(l.RequestedAt),
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}
