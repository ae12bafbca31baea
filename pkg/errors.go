package pkg

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

var ExposeErrorDetails = false

func init() {
	if gin.DebugMode == gin.Mode() || gin.TestMode == gin.Mode() {
		ExposeErrorDetails = true
	}
}

// Reusable errors
var (
	// ErrBalanceGuard is returned when a guarded balance delta matched no row:
	// the account is absent or the result would be negative.
	ErrBalanceGuard = errors.New("INSUFFICIENT_FUNDS or ACCOUNT_NOT_FOUND")
	// ErrLoanGuard is returned when a guarded loan payment matched no row.
	ErrLoanGuard = errors.New("loan payment guard rejected update")
	SqlError     = errors.New("sql error")
)

// ErrorCode defines a standardized error category with its default message.
type ErrorCode struct {
	Code    string
	Message string // default message
}

var (
	ErrValidationCode        = ErrorCode{Code: "VALIDATION", Message: "VALIDATION_ERROR"}
	ErrNotFoundCode          = ErrorCode{Code: "NOT_FOUND", Message: "NOT_FOUND"}
	ErrConflictCode          = ErrorCode{Code: "CONFLICT", Message: "CONFLICT"}
	ErrInsufficientFundsCode = ErrorCode{Code: "INSUFFICIENT_FUNDS", Message: "INSUFFICIENT_FUNDS"}
	ErrIdentityInvalidCode   = ErrorCode{Code: "IDENTITY_INVALID", Message: "IDENTITY_INVALID"}
	ErrTimeoutCode           = ErrorCode{Code: "TIMEOUT", Message: "VERIFICATION_TIMEOUT"}
	ErrUnknownTypeCode       = ErrorCode{Code: "UNKNOWN_TYPE", Message: "UNKNOWN_TYPE"}
	ErrServerCode            = ErrorCode{Code: "INTERNAL", Message: "INTERNAL_ERROR"}
)

type AppError struct {
	Code    ErrorCode
	Message string // public-facing message
	Cause   error  // internal cause (wrapped)
}

func (e AppError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}
func (e AppError) Unwrap() error { return e.Cause }

func NewAppError(code ErrorCode, msg string, cause error) error {
	if msg == "" {
		msg = code.Message
	}
	return AppError{Code: code, Message: msg, Cause: cause}
}

func NewValidationError(msg string) error { return NewAppError(ErrValidationCode, msg, nil) }
func NewNotFoundError(msg string) error   { return NewAppError(ErrNotFoundCode, msg, nil) }
func NewConflictError(msg string) error   { return NewAppError(ErrConflictCode, msg, nil) }

// MissingField renders the MISSING_<field> validation error.
func MissingField(field string) error {
	return NewValidationError("MISSING_" + field)
}

// IsCode reports whether err is an AppError of the given category.
func IsCode(err error, code ErrorCode) bool {
	var appErr AppError
	return errors.As(err, &appErr) && appErr.Code.Code == code.Code
}

// ErrorBody is the error object carried inside a response envelope.
type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// ToErrorBody converts an error into an ErrorBody, logging details and optionally exposing the cause.
// If the error is not an AppError, it is rendered as a generic internal error.
func ToErrorBody(logger *zap.Logger, correlationID string, err error) ErrorBody {
	var appErr AppError
	if errors.As(err, &appErr) {
		body := ErrorBody{
			Code:    appErr.Code.Code,
			Message: appErr.Message,
		}
		logger.Warn("command_rejected", zap.String(CorrelationId, correlationID), zap.String("code", body.Code), zap.Error(err))
		if ExposeErrorDetails && appErr.Cause != nil {
			body.Details = err.Error()
		}
		return body
	}
	body := ErrorBody{
		Code:    ErrServerCode.Code,
		Message: ErrServerCode.Message,
	}
	logger.Error("command_failed", zap.String(CorrelationId, correlationID), zap.Error(err))
	if ExposeErrorDetails {
		body.Details = err.Error()
	}
	return body
}

// HandleSQLError maps pg errors -> AppError with proper codes
func HandleSQLError(correlationID string, logger *zap.Logger, err error) error {
	var pgErr *pgconn.PgError
	if errors.Is(err, pgx.ErrNoRows) {
		logger.Warn("sql error : no records found", zap.String(CorrelationId, correlationID))
		return NewAppError(ErrNotFoundCode, "", err)
	}
	if !errors.As(err, &pgErr) {
		logger.Error("sql error : unknown", zap.String(CorrelationId, correlationID), zap.Error(err))
		return NewAppError(ErrServerCode, "", err)
	}

	logger.Error("sql error",
		zap.String(CorrelationId, correlationID),
		zap.String("code", pgErr.Code),
		zap.String("message", pgErr.Message),
		zap.String("detail", pgErr.Detail),
		zap.String("table", pgErr.TableName),
		zap.String("constraint", pgErr.ConstraintName),
	)

	switch pgErr.Code {
	case "23505": // unique_violation
		return NewAppError(ErrConflictCode, "DUPLICATE_RECORD", SqlError)
	case "23503": // foreign_key_violation
		return NewAppError(ErrNotFoundCode, "REFERENCED_RECORD_NOT_FOUND", SqlError)
	case "23514": // check_violation
		return NewAppError(ErrValidationCode, "CONSTRAINT_VIOLATION", SqlError)
	case "22P02", "22003": // invalid_text_representation, numeric_value_out_of_range
		return NewAppError(ErrValidationCode, "INVALID_VALUE", SqlError)
	default:
		return NewAppError(ErrServerCode, "", SqlError)
	}
}
