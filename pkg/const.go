package pkg

// Kafka header names carried by command and reply messages.
const (
	HeaderCorrelationId string = "correlation_id"
	HeaderReplyTo       string = "reply_to"
	HeaderTraceId       string = "trace_id"
	HeaderDLQReason     string = "x-dlq-reason"
)

// Log field keys.
const (
	TraceId       string = "trace_id"
	CorrelationId string = "correlation_id"
	MessageId     string = "message_id"
	CommandType   string = "command_type"
)

// Currency is fixed; multi-currency is not supported.
const Currency = "PEN"

// Date sentinels used when a range bound is absent or malformed.
const (
	MinDate = "0001-01-01"
	MaxDate = "9999-12-31"
)

type LoanStatus string

const (
	LoanStatusActive LoanStatus = "active"
	LoanStatusPaid   LoanStatus = "paid"
)

type MovementType string

const (
	MovementDeposit     MovementType = "deposit"
	MovementWithdrawal  MovementType = "withdrawal"
	MovementDebtPayment MovementType = "debt-payment"
)

type CommandStatus string

const (
	CommandStatusInProgress CommandStatus = "in_progress"
	CommandStatusDone       CommandStatus = "done"
)
