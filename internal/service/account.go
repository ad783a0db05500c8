package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/abkawan/account-ledger/internal/ledger"
	"github.com/abkawan/account-ledger/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FirstAccountNumber is the number given to the first account ever opened.
const FirstAccountNumber = 1001

var ErrAccountNotFound = errors.New("account not found")

// AccountStore persists account snapshots. SaveAccounts must write all
// snapshots in one transaction.
type AccountStore interface {
	SaveAccounts(ctx context.Context, snapshots ...models.AccountSnapshot) error
	LoadAccounts(ctx context.Context) ([]models.AccountSnapshot, error)
}

// AuditPublisher hands audit events to the audit pipeline.
type AuditPublisher interface {
	PublishAuditEvent(ctx context.Context, ev *models.AuditEvent) error
}

// handles account operations
type AccountService struct {
	store     AccountStore
	publisher AuditPublisher
	logger    *zap.Logger
	opts      []ledger.Option

	mu         sync.RWMutex
	accounts   map[int]*ledger.Account
	writers    map[int]*sync.Mutex
	nextNumber int
}

// creates a new AccountService
func NewAccountService(store AccountStore, publisher AuditPublisher, logger *zap.Logger, opts ...ledger.Option) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{
		store:      store,
		publisher:  publisher,
		logger:     logger,
		opts:       opts,
		accounts:   make(map[int]*ledger.Account),
		writers:    make(map[int]*sync.Mutex),
		nextNumber: FirstAccountNumber,
	}
}

// Load restores every stored account and moves the number allocator past
// the highest one.
func (s *AccountService) Load(ctx context.Context) error {
	snapshots, err := s.store.LoadAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range snapshots {
		acc, err := ledger.Restore(snap, s.opts...)
		if err != nil {
			return fmt.Errorf("failed to restore account %d: %w", snap.Account.Number, err)
		}
		s.accounts[acc.Number()] = acc
		s.writers[acc.Number()] = &sync.Mutex{}
		if acc.Number() >= s.nextNumber {
			s.nextNumber = acc.Number() + 1
		}
	}
	s.logger.Info("accounts loaded", zap.Int("count", len(snapshots)), zap.Int("next_number", s.nextNumber))
	return nil
}

func (s *AccountService) account(number int) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[number]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrAccountNotFound, number)
	}
	return acc, nil
}

// lockWriters takes the writer lock of each account in number order. A
// writer lock is held from the mutation until its snapshot is saved, so
// saves of one account reach the store in mutation order.
func (s *AccountService) lockWriters(numbers ...int) (unlock func()) {
	sorted := append([]int(nil), numbers...)
	sort.Ints(sorted)

	s.mu.RLock()
	held := make([]*sync.Mutex, 0, len(sorted))
	for i, n := range sorted {
		if i > 0 && n == sorted[i-1] {
			continue
		}
		held = append(held, s.writers[n])
	}
	s.mu.RUnlock()

	for _, m := range held {
		m.Lock()
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// commit persists the accounts and publishes their audit events. Publishing
// failures are logged; a failed save is returned since the stored state is
// now behind. The next successful save of the account catches it up.
func (s *AccountService) commit(ctx context.Context, events []models.AuditEvent, accounts ...*ledger.Account) error {
	snaps := make([]models.AccountSnapshot, 0, len(accounts))
	for _, acc := range accounts {
		snaps = append(snaps, acc.Snapshot())
	}
	if err := s.store.SaveAccounts(ctx, snaps...); err != nil {
		s.logger.Error("failed to persist accounts", zap.Error(err))
		return fmt.Errorf("failed to persist account: %w", err)
	}

	for i := range events {
		ev := events[i]
		s.logger.Info("audit",
			zap.String("event_id", ev.ID),
			zap.Int("account", ev.AccountNumber),
			zap.String("type", string(ev.Type)),
			zap.String("amount", ev.Amount),
			zap.String("detail", ev.Detail),
		)
		if s.publisher == nil {
			continue
		}
		if err := s.publisher.PublishAuditEvent(ctx, &ev); err != nil {
			s.logger.Error("failed to publish audit event", zap.String("event_id", ev.ID), zap.Error(err))
		}
	}
	return nil
}

// creates a new account
func (s *AccountService) CreateAccount(ctx context.Context, req *models.CreateAccountRequest) (*models.AccountResponse, error) {
	s.mu.Lock()
	number := s.nextNumber
	acc, events, err := ledger.Create(ledger.Params{
		Number:         number,
		Name:           req.Name,
		Age:            req.Age,
		Type:           req.Type,
		InitialDeposit: req.InitialDeposit,
		PIN:            req.PIN,
	}, s.opts...)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	writer := &sync.Mutex{}
	writer.Lock()
	defer writer.Unlock()
	s.accounts[number] = acc
	s.writers[number] = writer
	s.nextNumber++
	s.mu.Unlock()

	if err := s.commit(ctx, events, acc); err != nil {
		return nil, err
	}
	view := acc.View()
	return &view, nil
}

// retrieves an account by number
func (s *AccountService) GetAccount(ctx context.Context, number int) (*models.AccountResponse, error) {
	acc, err := s.account(number)
	if err != nil {
		return nil, err
	}
	view := acc.View()
	return &view, nil
}

// SearchByName returns every account whose holder name matches name,
// ignoring case and surrounding blanks, ordered by account number.
func (s *AccountService) SearchByName(ctx context.Context, name string) []models.AccountResponse {
	name = strings.TrimSpace(name)
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.AccountResponse{}
	for _, acc := range s.accounts {
		if strings.EqualFold(acc.Name(), name) {
			out = append(out, acc.View())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func optionalCategory(s string) models.Category {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return models.ParseCategory(s)
}

func (s *AccountService) Deposit(ctx context.Context, number int, req *models.DepositRequest) (*models.Transaction, error) {
	acc, err := s.account(number)
	if err != nil {
		return nil, err
	}
	defer s.lockWriters(number)()
	rec, events, err := acc.Deposit(req.Amount, optionalCategory(req.Category), req.Description)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, events, acc); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *AccountService) Withdraw(ctx context.Context, number int, req *models.WithdrawRequest) (*models.Transaction, error) {
	acc, err := s.account(number)
	if err != nil {
		return nil, err
	}
	defer s.lockWriters(number)()
	rec, events, err := acc.Withdraw(req.Amount, req.Description)
	if err != nil {
		s.logger.Info("withdrawal rejected", zap.Int("account", number), zap.String("amount", req.Amount.String()), zap.Error(err))
		return nil, err
	}
	if err := s.commit(ctx, events, acc); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Transfer moves funds between two registered accounts. Both snapshots are
// saved together.
func (s *AccountService) Transfer(ctx context.Context, from int, req *models.TransferRequest) (*models.TransferResponse, error) {
	src, err := s.account(from)
	if err != nil {
		return nil, err
	}
	dst, err := s.account(req.ToAccount)
	if err != nil {
		return nil, err
	}
	defer s.lockWriters(from, req.ToAccount)()
	debit, credit, events, err := src.Transfer(dst, req.Amount, optionalCategory(req.Category), req.Description)
	if err != nil {
		s.logger.Info("transfer rejected", zap.Int("from", from), zap.Int("to", req.ToAccount), zap.Error(err))
		return nil, err
	}
	if err := s.commit(ctx, events, src, dst); err != nil {
		return nil, err
	}
	return &models.TransferResponse{Debit: debit, Credit: credit}, nil
}

func (s *AccountService) changeStatus(ctx context.Context, number int, change func(*ledger.Account) []models.AuditEvent) (*models.AccountResponse, error) {
	acc, err := s.account(number)
	if err != nil {
		return nil, err
	}
	defer s.lockWriters(number)()
	if err := s.commit(ctx, change(acc), acc); err != nil {
		return nil, err
	}
	view := acc.View()
	return &view, nil
}

func (s *AccountService) CloseAccount(ctx context.Context, number int) (*models.AccountResponse, error) {
	return s.changeStatus(ctx, number, (*ledger.Account).Close)
}

func (s *AccountService) ReopenAccount(ctx context.Context, number int) (*models.AccountResponse, error) {
	return s.changeStatus(ctx, number, (*ledger.Account).Reopen)
}

func (s *AccountService) SuspendAccount(ctx context.Context, number int) (*models.AccountResponse, error) {
	return s.changeStatus(ctx, number, (*ledger.Account).Suspend)
}

func (s *AccountService) ResetLoginAttempts(ctx context.Context, number int) (*models.AccountResponse, error) {
	return s.changeStatus(ctx, number, (*ledger.Account).ResetLoginAttempts)
}

func (s *AccountService) SetPin(ctx context.Context, number int, pin string) error {
	acc, err := s.account(number)
	if err != nil {
		return err
	}
	defer s.lockWriters(number)()
	events, err := acc.SetPin(pin)
	if err != nil {
		return err
	}
	return s.commit(ctx, events, acc)
}

// Authenticate checks pin. A mismatch is reported in the response; a lockout
// is returned as *ledger.LockedError. The credential state is saved either
// way, and a lockout is reported even when that save fails.
func (s *AccountService) Authenticate(ctx context.Context, number int, pin string) (*models.AuthResponse, error) {
	acc, err := s.account(number)
	if err != nil {
		return nil, err
	}
	defer s.lockWriters(number)()
	res, events, authErr := acc.Authenticate(pin)
	saveErr := s.commit(ctx, events, acc)
	if authErr != nil {
		var locked *ledger.LockedError
		if errors.As(authErr, &locked) {
			s.logger.Warn("authentication while locked", zap.Int("account", number), zap.Time("locked_until", locked.Until))
		}
		return nil, authErr
	}
	if saveErr != nil {
		return nil, saveErr
	}
	return &models.AuthResponse{Authenticated: res.Authenticated, AttemptsRemaining: res.AttemptsRemaining}, nil
}

// History returns the last limit records, optionally of one category only.
func (s *AccountService) History(ctx context.Context, number, limit int, category models.Category) ([]models.Transaction, error) {
	acc, err := s.account(number)
	if err != nil {
		return nil, err
	}
	return acc.History(limit, category), nil
}

func (s *AccountService) Summary(ctx context.Context, number int) ([]models.CategorySummary, error) {
	acc, err := s.account(number)
	if err != nil {
		return nil, err
	}
	return acc.Summary(), nil
}

type InterestKind string

const (
	SimpleInterest   InterestKind = "simple"
	CompoundInterest InterestKind = "compound"
)

// Interest projects interest on the current balance. perYear is only used
// for compound interest.
func (s *AccountService) Interest(ctx context.Context, number int, kind InterestKind, rate, years decimal.Decimal, perYear int) (*models.InterestResponse, error) {
	acc, err := s.account(number)
	if err != nil {
		return nil, err
	}
	var res models.InterestResponse
	switch kind {
	case SimpleInterest:
		res, err = acc.SimpleInterest(rate, years)
	case CompoundInterest, "":
		res, err = acc.CompoundInterest(rate, years, perYear)
	default:
		return nil, &ledger.ValidationError{Field: "kind", Err: fmt.Errorf("unknown interest kind %q", kind)}
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}
