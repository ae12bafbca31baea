package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/database"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/repositories"
	"github.com/nimeshabuddhika/ledger-command-processor/services/ledger-worker/internal/observability"
	"github.com/nimeshabuddhika/ledger-command-processor/services/ledger-worker/internal/verification"
	"go.uber.org/zap"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Envelope is the reply produced for every command, success or not.
type Envelope struct {
	Ok            bool           `json:"ok"`
	Status        string         `json:"status"`
	Data          any            `json:"data"`
	Error         *pkg.ErrorBody `json:"error"`
	CorrelationID string         `json:"correlationId"`
}

// Duplicate is the data of a command whose messageId already completed.
type Duplicate struct {
	Duplicate bool   `json:"duplicate"`
	MessageID string `json:"messageId"`
}

// errDuplicate aborts a transaction whose mark lost the race against a concurrent worker.
var errDuplicate = errors.New("command completed concurrently")

// CommandProcessor turns one command document into its reply envelope.
type CommandProcessor interface {
	Handle(ctx context.Context, body []byte, correlationID string) Envelope
}

// RouterConfig holds the dependencies of the command router.
type RouterConfig struct {
	Logger    *zap.Logger
	DB        database.TxRunner
	Clients   repositories.ClientRepository
	Accounts  repositories.AccountRepository
	Movements repositories.MovementRepository
	Loans     repositories.LoanRepository
	Commands  repositories.ProcessedCommandRepository
	Verifier  verification.Verifier
	ClaimTTL  time.Duration // age after which an in-progress claim may be taken over
}

type command struct {
	head          commandHead
	raw           []byte
	correlationID string
	log           *zap.Logger
}

type operation func(ctx context.Context, cmd command) (any, error)

// Router dispatches commands to their operation and renders the envelope.
type Router struct {
	logger     *zap.Logger
	db         database.TxRunner
	clients    repositories.ClientRepository
	accounts   repositories.AccountRepository
	loans      repositories.LoanRepository
	commands   repositories.ProcessedCommandRepository
	ledger     *TransactionLog
	loanBook   *LoanBook
	verifier   verification.Verifier
	claimTTL   time.Duration
	validate   *validator.Validate
	operations map[string]operation
}

func NewCommandRouter(cfg RouterConfig) *Router {
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 2 * time.Minute
	}
	ledger := NewTransactionLog(cfg.Accounts, cfg.Movements)
	r := &Router{
		logger:   cfg.Logger,
		db:       cfg.DB,
		clients:  cfg.Clients,
		accounts: cfg.Accounts,
		loans:    cfg.Loans,
		commands: cfg.Commands,
		ledger:   ledger,
		loanBook: NewLoanBook(cfg.Loans, ledger),
		verifier: cfg.Verifier,
		claimTTL: cfg.ClaimTTL,
		validate: newCommandValidator(),
	}
	r.operations = map[string]operation{
		TypeGetBalance:      r.getBalance,
		TypeGetClientInfo:   r.getClientInfo,
		TypeListTransaction: r.listTransactions,
		TypeDeposit:         r.deposit,
		TypeWithdraw:        r.withdraw,
		TypeTransfer:        r.transfer,
		TypeCreateLoan:      r.createLoan,
		TypePayLoan:         r.payLoan,
		TypeListClientLoans: r.listClientLoans,
		TypeRegister:        r.register,
		TypeLogin:           r.login,
	}
	return r
}

// Handle never returns an error and never panics: every failure becomes an error envelope.
func (r *Router) Handle(ctx context.Context, body []byte, correlationID string) (env Envelope) {
	start := time.Now()
	metricType := "unknown"
	log := r.logger.With(zap.String(pkg.CorrelationId, correlationID))

	defer func() {
		if p := recover(); p != nil {
			log.Error("command_panic_recovered", zap.Any("panic", p), zap.Stack("stack"))
			env = r.failure(log, correlationID, fmt.Errorf("panic: %v", p))
		}
		observability.ProcessLatency.WithLabelValues(metricType).Observe(time.Since(start).Seconds())
		switch {
		case !env.Ok:
			observability.CommandsFailed.WithLabelValues(metricType, env.Error.Code).Inc()
		case isDuplicate(env.Data):
			observability.CommandsDuplicate.WithLabelValues(metricType).Inc()
		default:
			observability.CommandsProcessed.WithLabelValues(metricType).Inc()
		}
	}()

	var head commandHead
	if err := json.Unmarshal(body, &head); err != nil {
		return r.failure(log, correlationID, pkg.NewAppError(pkg.ErrValidationCode, "MALFORMED_COMMAND", err))
	}
	commandType := head.commandType()
	if commandType == "" {
		return r.failure(log, correlationID, pkg.MissingField("type"))
	}
	if alias, ok := typeAliases[commandType]; ok {
		commandType = alias
	}
	op, ok := r.operations[commandType]
	if !ok {
		return r.failure(log, correlationID, pkg.NewAppError(pkg.ErrUnknownTypeCode, "UNKNOWN_TYPE: "+commandType, nil))
	}
	metricType = commandType

	log = log.With(zap.String(pkg.CommandType, commandType), zap.String(pkg.MessageId, head.MessageID))
	data, err := op(ctx, command{head: head, raw: body, correlationID: correlationID, log: log})
	if err != nil {
		return r.failure(log, correlationID, err)
	}
	log.Debug("command_completed", zap.Duration("took", time.Since(start)))
	return Envelope{Ok: true, Status: StatusOK, Data: data, CorrelationID: correlationID}
}

func (r *Router) failure(log *zap.Logger, correlationID string, err error) Envelope {
	var appErr pkg.AppError
	if !errors.As(err, &appErr) && isStoreError(err) {
		err = pkg.HandleSQLError(correlationID, log, err)
	}
	body := pkg.ToErrorBody(log, correlationID, err)
	return Envelope{Ok: false, Status: StatusError, Error: &body, CorrelationID: correlationID}
}

func isDuplicate(data any) bool {
	_, ok := data.(Duplicate)
	return ok
}

// exactlyOnce runs fn and the done mark in one transaction, short-circuiting ids that already completed.
func (r *Router) exactlyOnce(ctx context.Context, cmd command, messageID string, fn func(ctx context.Context, tx pgx.Tx) (any, error)) (any, error) {
	var data any
	err := r.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		done, err := r.commands.AlreadyProcessed(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if done {
			data = Duplicate{Duplicate: true, MessageID: messageID}
			return nil
		}
		out, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		marked, err := r.commands.MarkProcessed(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if !marked {
			return errDuplicate
		}
		data = out
		return nil
	})
	if errors.Is(err, errDuplicate) {
		cmd.log.Info("command_completed_concurrently")
		return Duplicate{Duplicate: true, MessageID: messageID}, nil
	}
	if err != nil {
		return nil, err
	}
	if isDuplicate(data) {
		cmd.log.Info("command_duplicate_skipped")
	}
	return data, nil
}

// readOnly runs fn in a read-only transaction.
func (r *Router) readOnly(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) (any, error)) (any, error) {
	var data any
	err := r.db.WithReadTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		out, err := fn(ctx, tx)
		data = out
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
