package services

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/models"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (r *Router) findAccount(ctx context.Context, tx pgx.Tx, accountID string) (models.Account, error) {
	account, err := r.accounts.FindById(ctx, tx, accountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Account{}, pkg.NewNotFoundError("ACCOUNT_NOT_FOUND")
	}
	return account, err
}

func (r *Router) findClient(ctx context.Context, tx pgx.Tx, clientID string) (models.Client, error) {
	client, err := r.clients.FindById(ctx, tx, clientID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Client{}, pkg.NewNotFoundError("CLIENT_NOT_FOUND")
	}
	return client, err
}

func (r *Router) getBalance(ctx context.Context, cmd command) (any, error) {
	var req getBalanceCommand
	if err := r.bind(cmd, &req); err != nil {
		return nil, err
	}
	return r.readOnly(ctx, func(ctx context.Context, tx pgx.Tx) (any, error) {
		account, err := r.findAccount(ctx, tx, req.AccountID)
		if err != nil {
			return nil, err
		}
		return BalanceView{AccountID: account.ID, Balance: money(account.Balance), Currency: pkg.Currency}, nil
	})
}

func (r *Router) getClientInfo(ctx context.Context, cmd command) (any, error) {
	var req getClientInfoCommand
	if err := r.bind(cmd, &req); err != nil {
		return nil, err
	}
	return r.readOnly(ctx, func(ctx context.Context, tx pgx.Tx) (any, error) {
		client, err := r.findClient(ctx, tx, req.ClientID)
		if err != nil {
			return nil, err
		}
		accounts, err := r.accounts.FindAllByClient(ctx, tx, client.ID)
		if err != nil {
			return nil, err
		}
		summaries := make([]AccountSummary, 0, len(accounts))
		for _, a := range accounts {
			summaries = append(summaries, AccountSummary{AccountID: a.ID, Balance: money(a.Balance), FechaApertura: formatDate(a.OpenedAt)})
		}
		return ClientInfoView{
			ClientID:      client.ID,
			Dni:           client.Dni,
			Nombres:       client.Nombres,
			Apellidos:     client.Apellidos(),
			Direccion:     client.Direccion,
			Telefono:      client.Telefono,
			Correo:        client.Correo,
			FechaRegistro: client.RegisteredAt.UTC().Format(dateTimeLayout),
			Accounts:      summaries,
			TotalAccounts: len(summaries),
		}, nil
	})
}

func (r *Router) listTransactions(ctx context.Context, cmd command) (any, error) {
	var req listTransactionsCommand
	if err := r.bind(cmd, &req); err != nil {
		return nil, err
	}
	limit, offset := req.page()
	from := utils.NormalizeDate(req.From, pkg.MinDate)
	to := utils.NormalizeDate(req.To, pkg.MaxDate)

	return r.readOnly(ctx, func(ctx context.Context, tx pgx.Tx) (any, error) {
		account, err := r.findAccount(ctx, tx, req.AccountID)
		if err != nil {
			return nil, err
		}
		movements, err := r.ledger.List(ctx, tx, account.ID, from, to, limit, offset)
		if err != nil {
			return nil, err
		}
		items := make([]MovementView, 0, len(movements))
		for _, m := range movements {
			items = append(items, toMovementView(m))
		}
		return TransactionsView{
			AccountID:      account.ID,
			CurrentBalance: money(account.Balance),
			Items:          items,
			Count:          len(items),
			HasMore:        len(items) == limit,
		}, nil
	})
}

func (r *Router) deposit(ctx context.Context, cmd command) (any, error) {
	return r.post(ctx, cmd, r.ledger.Deposit)
}

func (r *Router) withdraw(ctx context.Context, cmd command) (any, error) {
	return r.post(ctx, cmd, r.ledger.Withdraw)
}

type postFunc func(ctx context.Context, tx pgx.Tx, accountID string, amount decimal.Decimal) (Posting, error)

func (r *Router) post(ctx context.Context, cmd command, fn postFunc) (any, error) {
	var req postingCommand
	if err := r.bind(cmd, &req); err != nil {
		return nil, err
	}
	if err := positiveAmount(*req.Amount); err != nil {
		return nil, err
	}
	return r.exactlyOnce(ctx, cmd, req.MessageID, func(ctx context.Context, tx pgx.Tx) (any, error) {
		if _, err := r.findAccount(ctx, tx, req.AccountID); err != nil {
			return nil, err
		}
		posting, err := fn(ctx, tx, req.AccountID, *req.Amount)
		if err != nil {
			return nil, err
		}
		return PostingView{AccountID: req.AccountID, NewBalance: money(posting.NewBalance), TxID: posting.MovementID}, nil
	})
}

func (r *Router) transfer(ctx context.Context, cmd command) (any, error) {
	var req transferCommand
	if err := r.bind(cmd, &req); err != nil {
		return nil, err
	}
	if req.FromAccountID == req.ToAccountID {
		return nil, pkg.NewConflictError("SAME_ACCOUNT")
	}
	if err := positiveAmount(*req.Amount); err != nil {
		return nil, err
	}
	return r.exactlyOnce(ctx, cmd, req.MessageID, func(ctx context.Context, tx pgx.Tx) (any, error) {
		if _, err := r.findAccount(ctx, tx, req.FromAccountID); err != nil {
			return nil, err
		}
		if _, err := r.findAccount(ctx, tx, req.ToAccountID); err != nil {
			return nil, err
		}
		var metadata []byte
		if len(req.Metadata) > 0 && string(req.Metadata) != "null" {
			metadata = req.Metadata
		}
		receipt, err := r.ledger.Transfer(ctx, tx, TransferOrder{
			FromAccountID: req.FromAccountID,
			ToAccountID:   req.ToAccountID,
			Amount:        *req.Amount,
			Metadata:      metadata,
		})
		if err != nil {
			return nil, err
		}
		return TransferView{
			TxID:                  receipt.Debit.MovementID,
			TransferID:            receipt.TransferID,
			FromAccountNewBalance: money(receipt.Debit.NewBalance),
			ToAccountNewBalance:   money(receipt.Credit.NewBalance),
		}, nil
	})
}

// createLoan verifies the client's identity outside any store transaction. The messageId is claimed first
// so a concurrent delivery cannot start a second verification, and released if the command fails.
func (r *Router) createLoan(ctx context.Context, cmd command) (any, error) {
	var req createLoanCommand
	if err := r.bind(cmd, &req); err != nil {
		return nil, err
	}
	if err := positiveAmount(*req.Principal); err != nil {
		return nil, err
	}

	var (
		dni       string
		duplicate bool
	)
	err := r.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		done, err := r.commands.AlreadyProcessed(ctx, tx, req.MessageID)
		if err != nil {
			return err
		}
		if done {
			duplicate = true
			return nil
		}
		claimed, err := r.commands.TryClaim(ctx, tx, req.MessageID, r.claimTTL)
		if err != nil {
			return err
		}
		if !claimed {
			return pkg.NewConflictError("COMMAND_IN_PROGRESS")
		}
		client, err := r.checkLoanParties(ctx, tx, req.ClientID, req.AccountID)
		if err != nil {
			return err
		}
		dni = client.Dni
		return nil
	})
	if err != nil {
		return nil, err
	}
	if duplicate {
		cmd.log.Info("command_duplicate_skipped")
		return Duplicate{Duplicate: true, MessageID: req.MessageID}, nil
	}

	issued := false
	defer func() {
		if !issued {
			r.releaseClaim(ctx, cmd, req.MessageID)
		}
	}()
	data, err := r.issueLoan(ctx, cmd, req, dni)
	if errors.Is(err, errDuplicate) {
		cmd.log.Info("command_completed_concurrently")
		return Duplicate{Duplicate: true, MessageID: req.MessageID}, nil
	}
	if err != nil {
		return nil, err
	}
	issued = true
	return data, nil
}

func (r *Router) issueLoan(ctx context.Context, cmd command, req createLoanCommand, dni string) (any, error) {
	result, err := r.verifier.Verify(ctx, dni)
	if err != nil {
		if pkg.IsCode(err, pkg.ErrTimeoutCode) {
			cmd.log.Warn("identity_verification_unavailable", zap.Error(err))
		}
		return nil, err
	}
	if !result.Valid {
		return nil, pkg.NewAppError(pkg.ErrIdentityInvalidCode, "IDENTITY_INVALID", nil)
	}
	cmd.log.Debug("identity_verified")

	var data any
	err = r.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := r.checkLoanParties(ctx, tx, req.ClientID, req.AccountID); err != nil {
			return err
		}
		loan, posting, err := r.loanBook.CreateAndCredit(ctx, tx, utils.NewLoanId(), req.ClientID, req.AccountID, *req.Principal)
		if err != nil {
			return err
		}
		marked, err := r.commands.MarkProcessed(ctx, tx, req.MessageID)
		if err != nil {
			return err
		}
		if !marked {
			return errDuplicate
		}
		data = LoanCreatedView{
			LoanID:            loan.ID,
			ClientID:          loan.ClientID,
			CreditedAccountID: loan.AccountID,
			Principal:         money(loan.Principal),
			Pending:           money(loan.Pending),
			Status:            string(loan.Status),
			NewBalance:        money(posting.NewBalance),
		}
		return nil
	})
	return data, err
}

func (r *Router) checkLoanParties(ctx context.Context, tx pgx.Tx, clientID, accountID string) (models.Client, error) {
	client, err := r.findClient(ctx, tx, clientID)
	if err != nil {
		return models.Client{}, err
	}
	account, err := r.findAccount(ctx, tx, accountID)
	if err != nil {
		return models.Client{}, err
	}
	if account.ClientID != client.ID {
		return models.Client{}, pkg.NewConflictError("ACCOUNT_NOT_OWNED")
	}
	return client, nil
}

// releaseClaim runs in its own transaction; a failure only delays retries until the claim goes stale.
func (r *Router) releaseClaim(ctx context.Context, cmd command, messageID string) {
	err := r.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return r.commands.Release(ctx, tx, messageID)
	})
	if err != nil {
		cmd.log.Error("command_claim_release_failed", zap.Error(err))
	}
}

func (r *Router) payLoan(ctx context.Context, cmd command) (any, error) {
	var req payLoanCommand
	if err := r.bind(cmd, &req); err != nil {
		return nil, err
	}
	if err := positiveAmount(*req.Amount); err != nil {
		return nil, err
	}
	return r.exactlyOnce(ctx, cmd, req.MessageID, func(ctx context.Context, tx pgx.Tx) (any, error) {
		loan, err := r.loans.FindById(ctx, tx, req.LoanID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pkg.NewNotFoundError("LOAN_NOT_FOUND")
		}
		if err != nil {
			return nil, err
		}
		account, err := r.findAccount(ctx, tx, req.AccountID)
		if err != nil {
			return nil, err
		}
		if err := ValidatePayment(loan, account, *req.Amount); err != nil {
			return nil, err
		}
		posting, err := r.ledger.PayDebt(ctx, tx, account.ID, *req.Amount)
		if err != nil {
			return nil, err
		}
		loan, err = r.loanBook.ApplyPayment(ctx, tx, loan.ID, *req.Amount)
		if err != nil {
			return nil, err
		}
		return LoanPaymentView{
			LoanID:     loan.ID,
			AccountID:  account.ID,
			AmountPaid: money(*req.Amount),
			Pending:    money(loan.Pending),
			Status:     string(loan.Status),
			NewBalance: money(posting.NewBalance),
			TxID:       posting.MovementID,
		}, nil
	})
}

func (r *Router) listClientLoans(ctx context.Context, cmd command) (any, error) {
	var req listClientLoansCommand
	if err := r.bind(cmd, &req); err != nil {
		return nil, err
	}
	status, label, err := req.filter()
	if err != nil {
		return nil, err
	}
	return r.readOnly(ctx, func(ctx context.Context, tx pgx.Tx) (any, error) {
		client, err := r.findClient(ctx, tx, req.ClientID)
		if err != nil {
			return nil, err
		}
		loans, err := r.loanBook.ListByClient(ctx, tx, client.ID, status)
		if err != nil {
			return nil, err
		}
		items := make([]LoanView, 0, len(loans))
		for _, l := range loans {
			items = append(items, toLoanView(l))
		}
		return ClientLoansView{ClientID: client.ID, Status: label, Items: items, Count: len(items)}, nil
	})
}

func (r *Router) register(ctx context.Context, cmd command) (any, error) {
	var req registerCommand
	if err := r.bind(cmd, &req); err != nil {
		return nil, err
	}
	dni := req.subject()
	if dni == "" {
		return nil, pkg.MissingField("dni")
	}
	saldo := decimal.Zero
	if req.Saldo != nil {
		saldo = *req.Saldo
	}
	if saldo.IsNegative() || !saldo.Equal(saldo.Round(2)) {
		return nil, pkg.NewValidationError("INVALID_AMOUNT")
	}
	return r.exactlyOnce(ctx, cmd, req.MessageID, func(ctx context.Context, tx pgx.Tx) (any, error) {
		_, err := r.clients.FindByDni(ctx, tx, dni)
		if err == nil {
			return nil, pkg.NewConflictError("CLIENT_ALREADY_EXISTS")
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		client := models.Client{
			ID:          utils.NewClientId(),
			Dni:         dni,
			Nombres:     req.Nombres,
			ApellidoPat: req.ApellidoPat,
			ApellidoMat: req.ApellidoMat,
			Direccion:   req.Direccion,
			Telefono:    req.Telefono,
			Correo:      req.Correo,
		}
		if err := r.clients.Insert(ctx, tx, client, req.Password); err != nil {
			if isUniqueViolation(err) {
				return nil, pkg.NewAppError(pkg.ErrConflictCode, "CLIENT_ALREADY_EXISTS", err)
			}
			return nil, err
		}
		account := models.Account{ID: utils.NewAccountId(), ClientID: client.ID, Balance: saldo}
		if err := r.accounts.Insert(ctx, tx, account); err != nil {
			return nil, err
		}
		cmd.log.Info("client_registered", zap.String("client_id", client.ID))
		return RegisterView{
			ClientID:       client.ID,
			ClienteID:      client.ID,
			AccountID:      account.ID,
			InitialBalance: money(saldo),
			Status:         StatusOK,
		}, nil
	})
}

func (r *Router) login(ctx context.Context, cmd command) (any, error) {
	var req loginCommand
	if err := r.bind(cmd, &req); err != nil {
		return nil, err
	}
	dni := req.subject()
	if dni == "" {
		return nil, pkg.MissingField("dni")
	}
	if req.Password == "" {
		return nil, pkg.MissingField("password")
	}
	return r.readOnly(ctx, func(ctx context.Context, tx pgx.Tx) (any, error) {
		client, err := r.clients.Authenticate(ctx, tx, dni, req.Password)
		if err != nil {
			return nil, err
		}
		if client == nil {
			return nil, pkg.NewValidationError("INVALID_CREDENTIALS")
		}
		view := LoginView{ClientID: client.ID, ClienteID: client.ID, Dni: client.Dni, Status: StatusOK}
		account, err := r.accounts.FindAnyByClient(ctx, tx, client.ID)
		switch {
		case err == nil:
			view.AccountID = account.ID
			view.Balance = money(account.Balance)
		case !errors.Is(err, pgx.ErrNoRows):
			return nil, err
		}
		return view, nil
	})
}

// isStoreError reports whether err came from the database rather than from the worker itself.
func isStoreError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.Is(err, pgx.ErrNoRows) || errors.As(err, &pgErr)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
