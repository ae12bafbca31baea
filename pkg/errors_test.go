package pkg

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestAppError_WrapsAndMatches(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("deposit: %w", NewAppError(ErrInsufficientFundsCode, "", cause))

	assert.True(t, IsCode(err, ErrInsufficientFundsCode))
	assert.False(t, IsCode(err, ErrNotFoundCode))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsCode(cause, ErrServerCode))
}

func TestMissingField(t *testing.T) {
	err := MissingField("accountId")
	assert.EqualError(t, err, "MISSING_accountId")
	assert.True(t, IsCode(err, ErrValidationCode))
}

func TestToErrorBody(t *testing.T) {
	logger := zap.NewNop()

	body := ToErrorBody(logger, "c1", NewNotFoundError("ACCOUNT_NOT_FOUND"))
	assert.Equal(t, ErrorBody{Message: "ACCOUNT_NOT_FOUND", Code: "NOT_FOUND"}, body)

	body = ToErrorBody(logger, "c1", errors.New("driver exploded"))
	assert.Equal(t, "INTERNAL_ERROR", body.Message)
	assert.Equal(t, "INTERNAL", body.Code)
}

func TestHandleSQLError(t *testing.T) {
	logger := zap.NewNop()
	tests := []struct {
		name    string
		err     error
		code    ErrorCode
		message string
	}{
		{name: "no rows", err: pgx.ErrNoRows, code: ErrNotFoundCode, message: "NOT_FOUND"},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, code: ErrConflictCode, message: "DUPLICATE_RECORD"},
		{name: "fk violation", err: &pgconn.PgError{Code: "23503"}, code: ErrNotFoundCode, message: "REFERENCED_RECORD_NOT_FOUND"},
		{name: "check violation", err: &pgconn.PgError{Code: "23514"}, code: ErrValidationCode, message: "CONSTRAINT_VIOLATION"},
		{name: "numeric overflow", err: &pgconn.PgError{Code: "22003"}, code: ErrValidationCode, message: "INVALID_VALUE"},
		{name: "other pg error", err: &pgconn.PgError{Code: "40001"}, code: ErrServerCode, message: "INTERNAL_ERROR"},
		{name: "non pg error", err: errors.New("conn reset"), code: ErrServerCode, message: "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := HandleSQLError("c1", logger, tt.err)
			assert.True(t, IsCode(err, tt.code))
			assert.Equal(t, tt.message, ToErrorBody(logger, "c1", err).Message)
		})
	}
}
