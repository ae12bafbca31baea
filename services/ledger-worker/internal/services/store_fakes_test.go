package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/database"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/models"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/utils"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory store with all-or-nothing transactions: state is restored when a unit of work fails.
// Transactions are serialized, so repositories do not lock.
type memStore struct {
	mu        sync.Mutex
	clients   map[string]models.Client
	accounts  map[string]models.Account
	accSeq    map[string]int
	movements []models.Movement
	loans     map[string]models.Loan
	commands  map[string]models.ProcessedCommand
	now       func() time.Time

	failMark error // returned by MarkProcessed when set
	lostMark bool  // MarkProcessed reports that another worker marked first
}

var _ database.TxRunner = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		clients:  map[string]models.Client{},
		accounts: map[string]models.Account{},
		accSeq:   map[string]int{},
		loans:    map[string]models.Loan{},
		commands: map[string]models.ProcessedCommand{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type memSnapshot struct {
	clients   map[string]models.Client
	accounts  map[string]models.Account
	accSeq    map[string]int
	movements []models.Movement
	loans     map[string]models.Loan
	commands  map[string]models.ProcessedCommand
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memStore) snapshot() memSnapshot {
	return memSnapshot{
		clients:   copyMap(s.clients),
		accounts:  copyMap(s.accounts),
		accSeq:    copyMap(s.accSeq),
		movements: append([]models.Movement(nil), s.movements...),
		loans:     copyMap(s.loans),
		commands:  copyMap(s.commands),
	}
}

func (s *memStore) restore(snap memSnapshot) {
	s.clients, s.accounts, s.accSeq = snap.clients, snap.accounts, snap.accSeq
	s.movements, s.loans, s.commands = snap.movements, snap.loans, snap.commands
}

func (s *memStore) WithTransaction(ctx context.Context, fn database.TxFunc) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
		if err != nil {
			s.restore(snap)
		}
	}()
	return fn(ctx, nil)
}

func (s *memStore) WithReadTransaction(ctx context.Context, fn database.TxFunc) error {
	return s.WithTransaction(ctx, fn)
}

func (s *memStore) balance(accountID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[accountID].Balance.StringFixed(2)
}

func (s *memStore) movementsOf(accountID string) []models.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Movement
	for _, m := range s.movements {
		if m.AccountID == accountID {
			out = append(out, m)
		}
	}
	return out
}

func (s *memStore) loan(loanID string) (models.Loan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loans[loanID]
	return l, ok
}

func (s *memStore) command(messageID string) (models.ProcessedCommand, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commands[messageID]
	return c, ok
}

func (s *memStore) seedClient(clientID, dni, credential string) {
	hash, err := utils.HashCredential(credential, 4)
	if err != nil {
		panic(err)
	}
	s.clients[clientID] = models.Client{
		ID: clientID, Dni: dni, Nombres: "MARÍA ELENA", ApellidoPat: "GARCÍA", ApellidoMat: "FLORES",
		Direccion: "Av. Universitaria 1234", CredentialHash: hash, RegisteredAt: s.now(),
	}
}

func (s *memStore) seedAccount(accountID, clientID, balance string) {
	s.accSeq[accountID] = len(s.accSeq)
	s.accounts[accountID] = models.Account{ID: accountID, ClientID: clientID, Balance: decimal.RequireFromString(balance), OpenedAt: s.now()}
}

type memClientRepo struct{ s *memStore }

func (r memClientRepo) FindById(_ context.Context, _ pgx.Tx, clientID string) (models.Client, error) {
	c, ok := r.s.clients[clientID]
	if !ok {
		return models.Client{}, pgx.ErrNoRows
	}
	return c, nil
}

func (r memClientRepo) FindByDni(_ context.Context, _ pgx.Tx, dni string) (models.Client, error) {
	for _, c := range r.s.clients {
		if c.Dni == dni {
			return c, nil
		}
	}
	return models.Client{}, pgx.ErrNoRows
}

func (r memClientRepo) Insert(ctx context.Context, tx pgx.Tx, client models.Client, credential string) error {
	if _, err := r.FindByDni(ctx, tx, client.Dni); err == nil {
		return &pgconn.PgError{Code: "23505", ConstraintName: "clients_dni_key"}
	}
	hash, err := utils.HashCredential(credential, 4)
	if err != nil {
		return err
	}
	client.CredentialHash = hash
	client.RegisteredAt = r.s.now()
	r.s.clients[client.ID] = client
	return nil
}

func (r memClientRepo) Authenticate(ctx context.Context, tx pgx.Tx, dni, credential string) (*models.Client, error) {
	c, err := r.FindByDni(ctx, tx, dni)
	if err != nil {
		return nil, nil
	}
	if utils.CompareCredential(c.CredentialHash, credential) != nil {
		return nil, nil
	}
	return &c, nil
}

type memAccountRepo struct{ s *memStore }

func (r memAccountRepo) FindById(_ context.Context, _ pgx.Tx, accountID string) (models.Account, error) {
	a, ok := r.s.accounts[accountID]
	if !ok {
		return models.Account{}, pgx.ErrNoRows
	}
	return a, nil
}

func (r memAccountRepo) FindAllByClient(_ context.Context, _ pgx.Tx, clientID string) ([]models.Account, error) {
	out := make([]models.Account, 0)
	for _, a := range r.s.accounts {
		if a.ClientID == clientID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return r.s.accSeq[out[i].ID] < r.s.accSeq[out[j].ID]
	})
	return out, nil
}

func (r memAccountRepo) FindAnyByClient(ctx context.Context, tx pgx.Tx, clientID string) (models.Account, error) {
	all, _ := r.FindAllByClient(ctx, tx, clientID)
	if len(all) == 0 {
		return models.Account{}, pgx.ErrNoRows
	}
	return all[0], nil
}

func (r memAccountRepo) Insert(_ context.Context, _ pgx.Tx, account models.Account) error {
	account.OpenedAt = r.s.now().Truncate(24 * time.Hour)
	r.s.accSeq[account.ID] = len(r.s.accSeq)
	r.s.accounts[account.ID] = account
	return nil
}

func (r memAccountRepo) ChangeBalance(_ context.Context, _ pgx.Tx, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	a, ok := r.s.accounts[accountID]
	if !ok || a.Balance.Add(delta).IsNegative() {
		return decimal.Zero, pkg.ErrBalanceGuard
	}
	a.Balance = a.Balance.Add(delta)
	r.s.accounts[accountID] = a
	return a.Balance, nil
}

type memMovementRepo struct{ s *memStore }

func (r memMovementRepo) Insert(_ context.Context, _ pgx.Tx, movement models.Movement) error {
	movement.CreatedAt = r.s.now()
	r.s.movements = append(r.s.movements, movement)
	return nil
}

func (r memMovementRepo) ListByAccountAndDate(_ context.Context, _ pgx.Tx, accountID string, from, to time.Time, limit, offset int) ([]models.Movement, error) {
	matched := make([]models.Movement, 0)
	// newest first; insertion order stands in for the sequence column
	for i := len(r.s.movements) - 1; i >= 0; i-- {
		m := r.s.movements[i]
		if m.AccountID == accountID && !m.CreatedAt.Before(from) && m.CreatedAt.Before(to) {
			matched = append(matched, m)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if offset >= len(matched) {
		return []models.Movement{}, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

type memLoanRepo struct{ s *memStore }

func (r memLoanRepo) Insert(_ context.Context, _ pgx.Tx, loan models.Loan) error {
	loan.Pending = loan.Principal
	loan.Status = pkg.LoanStatusActive
	loan.RequestedAt = r.s.now().Truncate(24 * time.Hour)
	r.s.loans[loan.ID] = loan
	return nil
}

func (r memLoanRepo) FindById(_ context.Context, _ pgx.Tx, loanID string) (models.Loan, error) {
	l, ok := r.s.loans[loanID]
	if !ok {
		return models.Loan{}, pgx.ErrNoRows
	}
	return l, nil
}

func (r memLoanRepo) ApplyPayment(_ context.Context, _ pgx.Tx, loanID string, amount decimal.Decimal) (models.Loan, error) {
	l, ok := r.s.loans[loanID]
	if !ok || l.Status != pkg.LoanStatusActive || l.Pending.Sub(amount).IsNegative() {
		return models.Loan{}, pkg.ErrLoanGuard
	}
	l.Pending = l.Pending.Sub(amount)
	if l.Pending.IsZero() {
		l.Status = pkg.LoanStatusPaid
	}
	r.s.loans[loanID] = l
	return l, nil
}

func (r memLoanRepo) ListByClient(_ context.Context, _ pgx.Tx, clientID string, status *pkg.LoanStatus) ([]models.Loan, error) {
	out := make([]models.Loan, 0)
	for _, l := range r.s.loans {
		if l.ClientID == clientID && (status == nil || l.Status == *status) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memCommandRepo struct{ s *memStore }

func (r memCommandRepo) AlreadyProcessed(_ context.Context, _ pgx.Tx, messageID string) (bool, error) {
	c, ok := r.s.commands[messageID]
	return ok && c.Status == pkg.CommandStatusDone, nil
}

func (r memCommandRepo) MarkProcessed(_ context.Context, _ pgx.Tx, messageID string) (bool, error) {
	if r.s.failMark != nil {
		return false, r.s.failMark
	}
	if r.s.lostMark {
		return false, nil
	}
	c, ok := r.s.commands[messageID]
	if ok && c.Status == pkg.CommandStatusDone {
		return false, nil
	}
	now := r.s.now()
	if !ok {
		c = models.ProcessedCommand{MessageID: messageID, ClaimedAt: now}
	}
	c.Status = pkg.CommandStatusDone
	c.UpdatedAt = now
	r.s.commands[messageID] = c
	return true, nil
}

func (r memCommandRepo) TryClaim(_ context.Context, _ pgx.Tx, messageID string, ttl time.Duration) (bool, error) {
	now := r.s.now()
	c, ok := r.s.commands[messageID]
	if ok && (c.Status == pkg.CommandStatusDone || !c.ClaimedAt.Before(now.Add(-ttl))) {
		return false, nil
	}
	r.s.commands[messageID] = models.ProcessedCommand{MessageID: messageID, Status: pkg.CommandStatusInProgress, ClaimedAt: now, UpdatedAt: now}
	return true, nil
}

func (r memCommandRepo) Release(_ context.Context, _ pgx.Tx, messageID string) error {
	if c, ok := r.s.commands[messageID]; ok && c.Status == pkg.CommandStatusInProgress {
		delete(r.s.commands, messageID)
	}
	return nil
}

func (r memCommandRepo) Find(_ context.Context, _ pgx.Tx, messageID string) (models.ProcessedCommand, error) {
	c, ok := r.s.commands[messageID]
	if !ok {
		return models.ProcessedCommand{}, pgx.ErrNoRows
	}
	return c, nil
}

var errInjected = errors.New("injected store failure")
