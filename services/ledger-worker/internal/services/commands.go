package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg"
	"github.com/shopspring/decimal"
)

// Command type names carried in the `type` field.
const (
	TypeGetBalance      = "GetBalance"
	TypeGetClientInfo   = "GetClientInfo"
	TypeListTransaction = "ListTransactions"
	TypeDeposit         = "Deposit"
	TypeWithdraw        = "Withdraw"
	TypeTransfer        = "Transfer"
	TypeCreateLoan      = "CreateLoan"
	TypePayLoan         = "PayLoan"
	TypeListClientLoans = "ListClientLoans"
	TypeRegister        = "Register"
	TypeLogin           = "Login"
)

// legacy lower-case names still sent by older clients
var typeAliases = map[string]string{
	"login":    TypeLogin,
	"register": TypeRegister,
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// commandHead is the part of every command the router needs before dispatch.
type commandHead struct {
	Type          string          `json:"type"`
	OperationType string          `json:"operationType"`
	MessageID     string          `json:"messageId"`
	Payload       json.RawMessage `json:"payload"`
}

func (h commandHead) commandType() string {
	if h.Type != "" {
		return h.Type
	}
	return h.OperationType
}

type getBalanceCommand struct {
	AccountID string `json:"accountId" validate:"required"`
}

type getClientInfoCommand struct {
	ClientID string `json:"clientId" validate:"required"`
}

type listTransactionsCommand struct {
	AccountID string    `json:"accountId" validate:"required"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Limit     *intParam `json:"limit"`
	Offset    *intParam `json:"offset"`
}

// intParam is an integer sent either as a JSON number or as a numeric string.
type intParam int

func (p *intParam) UnmarshalJSON(b []byte) error {
	n, err := strconv.Atoi(strings.Trim(string(b), `"`))
	if err != nil {
		return fmt.Errorf("not an integer: %s", b)
	}
	*p = intParam(n)
	return nil
}

func (c listTransactionsCommand) page() (limit, offset int) {
	limit = defaultListLimit
	if c.Limit != nil {
		limit = int(*c.Limit)
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if c.Offset != nil && *c.Offset > 0 {
		offset = int(*c.Offset)
	}
	return limit, offset
}

type postingCommand struct {
	MessageID string           `json:"messageId" validate:"required"`
	AccountID string           `json:"accountId" validate:"required"`
	Amount    *decimal.Decimal `json:"amount" validate:"required"`
}

type transferCommand struct {
	MessageID     string           `json:"messageId" validate:"required"`
	FromAccountID string           `json:"fromAccountId" validate:"required"`
	ToAccountID   string           `json:"toAccountId" validate:"required"`
	Amount        *decimal.Decimal `json:"amount" validate:"required"`
	Metadata      json.RawMessage  `json:"metadata"`
}

type createLoanCommand struct {
	MessageID string           `json:"messageId" validate:"required"`
	ClientID  string           `json:"clientId" validate:"required"`
	AccountID string           `json:"accountId" validate:"required"`
	Principal *decimal.Decimal `json:"principal" validate:"required"`
}

type payLoanCommand struct {
	MessageID string           `json:"messageId" validate:"required"`
	LoanID    string           `json:"loanId" validate:"required"`
	AccountID string           `json:"accountId" validate:"required"`
	Amount    *decimal.Decimal `json:"amount" validate:"required"`
}

type listClientLoansCommand struct {
	ClientID string `json:"clientId" validate:"required"`
	Status   string `json:"status"`
}

// filter maps the optional status to a repository filter; nil means all.
func (c listClientLoansCommand) filter() (*pkg.LoanStatus, string, error) {
	switch strings.ToLower(strings.TrimSpace(c.Status)) {
	case "", "all":
		return nil, "all", nil
	case string(pkg.LoanStatusActive):
		s := pkg.LoanStatusActive
		return &s, string(s), nil
	case string(pkg.LoanStatusPaid):
		s := pkg.LoanStatusPaid
		return &s, string(s), nil
	}
	return nil, "", pkg.NewValidationError("INVALID_STATUS")
}

type registerCommand struct {
	MessageID   string           `json:"messageId" validate:"required"`
	Dni         string           `json:"dni"`
	Usuario     string           `json:"usuario"`
	Password    string           `json:"password" validate:"required"`
	Nombres     string           `json:"nombres"`
	ApellidoPat string           `json:"apellidoPat"`
	ApellidoMat string           `json:"apellidoMat"`
	Direccion   string           `json:"direccion"`
	Telefono    string           `json:"telefono"`
	Correo      string           `json:"correo"`
	Saldo       *decimal.Decimal `json:"saldo"`
}

func (c registerCommand) subject() string {
	if c.Dni != "" {
		return c.Dni
	}
	return c.Usuario
}

type loginCommand struct {
	Dni      string `json:"dni"`
	Usuario  string `json:"usuario"`
	Password string `json:"password"`
}

func (c loginCommand) subject() string {
	if c.Dni != "" {
		return c.Dni
	}
	return c.Usuario
}

// newCommandValidator reports field errors under their JSON names.
func newCommandValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// bind decodes the command into dst, overlaying the legacy `payload` object, then validates required fields.
func (r *Router) bind(cmd command, dst any) error {
	if err := json.Unmarshal(cmd.raw, dst); err != nil {
		return pkg.NewAppError(pkg.ErrValidationCode, "MALFORMED_COMMAND", err)
	}
	if len(cmd.head.Payload) > 0 && string(cmd.head.Payload) != "null" {
		if err := json.Unmarshal(cmd.head.Payload, dst); err != nil {
			return pkg.NewAppError(pkg.ErrValidationCode, "MALFORMED_COMMAND", err)
		}
	}
	if err := r.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			if fieldErrs[0].Tag() == "required" {
				return pkg.MissingField(fieldErrs[0].Field())
			}
			return pkg.NewValidationError("INVALID_" + fieldErrs[0].Field())
		}
		return pkg.NewAppError(pkg.ErrValidationCode, "MALFORMED_COMMAND", err)
	}
	return nil
}

// positiveAmount rejects zero, negative and sub-cent amounts.
func positiveAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return pkg.NewValidationError("INVALID_AMOUNT")
	}
	return nil
}
