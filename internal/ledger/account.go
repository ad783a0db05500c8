// Package ledger holds the single-account core: PIN credentials with
// timed lockout, the rolling withdrawal limiter and the categorized
// transaction ledger, composed into Account.
//
// Every exported Account method takes the account's own mutex, so callers
// may share an *Account between goroutines.
package ledger

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/abkawan/account-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	MinimumAge = 18

	largeDepositNote = "large deposit flagged for review"
)

// LargeDepositThreshold marks deposits that are accepted but tagged for
// monitoring.
var LargeDepositThreshold = decimal.NewFromInt(100000)

type options struct {
	now           func() time.Time
	dailyLimit    decimal.Decimal
	pinIterations int
}

type Option func(*options)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithDailyLimit(limit decimal.Decimal) Option {
	return func(o *options) { o.dailyLimit = limit }
}

// WithPinIterations raises the PBKDF2 work factor. Values below
// MinPinIterations are ignored.
func WithPinIterations(n int) Option {
	return func(o *options) { o.pinIterations = n }
}

func buildOptions(opts []Option) options {
	o := options{
		now:           time.Now,
		dailyLimit:    DefaultDailyLimit,
		pinIterations: MinPinIterations,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Params describes a new account. A nil InitialDeposit opens the account
// with the category minimum. An empty PIN leaves authentication off.
type Params struct {
	Number         int
	Name           string
	Age            int
	Type           string
	InitialDeposit *decimal.Decimal
	PIN            string
}

type Account struct {
	mu sync.Mutex

	number int
	name   string
	age    int
	typ    models.AccountType
	status models.AccountStatus

	guard   *CredentialGuard
	limiter *WithdrawalLimiter
	ledger  *TransactionLedger

	now func() time.Time
}

// Create validates p and opens an active account.
func Create(p Params, opts ...Option) (*Account, []models.AuditEvent, error) {
	if p.Age < MinimumAge {
		return nil, nil, invalid("age", ErrUnderage)
	}
	typ, ok := models.ParseAccountType(p.Type)
	if !ok {
		return nil, nil, invalid("type", ErrInvalidAccountType)
	}
	deposit := typ.MinimumBalance()
	if p.InitialDeposit != nil {
		if p.InitialDeposit.LessThan(deposit) {
			return nil, nil, invalid("initial_deposit", ErrInsufficientInitialDeposit)
		}
		deposit = *p.InitialDeposit
	}

	o := buildOptions(opts)
	a := &Account{
		number:  p.Number,
		name:    strings.TrimSpace(p.Name),
		age:     p.Age,
		typ:     typ,
		status:  models.Active,
		guard:   NewCredentialGuard(o.pinIterations),
		limiter: NewWithdrawalLimiter(o.dailyLimit),
		ledger:  NewTransactionLedger(deposit),
		now:     o.now,
	}
	if p.PIN != "" {
		if err := a.guard.SetPin(p.PIN); err != nil {
			return nil, nil, err
		}
	}

	events := []models.AuditEvent{a.event(models.AuditAccountCreated, deposit, string(typ))}
	if a.guard.HasPin() {
		events = append(events, a.event(models.AuditPinSet, decimal.Zero, ""))
	}
	return a, events, nil
}

func (a *Account) event(typ models.AuditEventType, amount decimal.Decimal, detail string) models.AuditEvent {
	ev := models.AuditEvent{
		ID:            uuid.NewString(),
		AccountNumber: a.number,
		Type:          typ,
		BalanceAfter:  a.ledger.Balance().String(),
		Detail:        detail,
		OccurredAt:    a.now().UTC(),
	}
	if !amount.IsZero() {
		ev.Amount = amount.String()
	}
	return ev
}

func (a *Account) Number() int { return a.number }

func (a *Account) Name() string { return a.name }

func (a *Account) Age() int { return a.age }

func (a *Account) Type() models.AccountType { return a.typ }

func (a *Account) Status() models.AccountStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *Account) Balance() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.Balance()
}

// View returns a read-only copy of the account fields.
func (a *Account) View() models.AccountResponse {
	a.mu.Lock()
	defer a.mu.Unlock()
	return models.AccountResponse{
		Number:        a.number,
		Name:          a.name,
		Age:           a.age,
		Type:          a.typ,
		Balance:       a.ledger.Balance(),
		Status:        a.status,
		PinConfigured: a.guard.HasPin(),
	}
}

// Deposit credits amount. Deposits above LargeDepositThreshold are booked
// under DEPOSIT whatever category was asked for and tagged for review.
func (a *Account) Deposit(amount decimal.Decimal, category models.Category, description string) (models.Transaction, []models.AuditEvent, error) {
	if !amount.IsPositive() {
		return models.Transaction{}, nil, invalid("amount", ErrNonPositiveAmount)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if category == "" {
		category = models.CategoryDeposit
	}
	large := amount.GreaterThan(LargeDepositThreshold)
	if large {
		category = models.CategoryDeposit
		if description == "" {
			description = largeDepositNote
		} else {
			description = description + " (" + largeDepositNote + ")"
		}
	}

	rec := a.ledger.Append(a.now(), models.Deposit, amount, category, description)
	events := []models.AuditEvent{a.event(models.AuditDeposit, amount, string(rec.Category))}
	if large {
		events = append(events, a.event(models.AuditLargeDeposit, amount, largeDepositNote))
	}
	return rec, events, nil
}

// Withdraw debits amount once the limiter approves it. A rejection leaves
// the account untouched and carries the limiter's reason.
func (a *Account) Withdraw(amount decimal.Decimal, description string) (models.Transaction, []models.AuditEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if err := a.limiter.CanWithdraw(a.ledger.Balance(), a.typ, a.status, amount, now); err != nil {
		return models.Transaction{}, nil, err
	}
	rec := a.limiter.RecordWithdrawal(now, amount, description, a.ledger)
	return rec, []models.AuditEvent{a.event(models.AuditWithdrawal, amount, description)}, nil
}

// Transfer moves amount to another account. Both accounts are locked for
// the whole operation and validated before either ledger changes, so the
// debit and the credit are applied together or not at all. Transfers pass
// the withdrawal checks but do not count towards the daily limit.
//
// category, when set, is applied to the debit record; the credit is always
// TRANSFER_IN.
func (a *Account) Transfer(to *Account, amount decimal.Decimal, category models.Category, description string) (debit, credit models.Transaction, events []models.AuditEvent, err error) {
	if to == nil || to == a || to.number == a.number {
		return debit, credit, nil, invalid("to_account", ErrSameAccount)
	}
	first, second := a, to
	if to.number < a.number {
		first, second = to, a
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if to.status != models.Active {
		return debit, credit, nil, reject(ErrAccountNotActive,
			"destination account %d is %s, both accounts must be active", to.number, to.status)
	}
	now := a.now()
	if err := a.limiter.CanWithdraw(a.ledger.Balance(), a.typ, a.status, amount, now); err != nil {
		return debit, credit, nil, err
	}

	if category == "" {
		category = models.CategoryTransferOut
	}
	debit = a.ledger.Append(now, models.TransferOut, amount.Neg(), category, description)
	credit = to.ledger.Append(now, models.TransferIn, amount, models.CategoryTransferIn, description)

	events = []models.AuditEvent{
		a.event(models.AuditTransferOut, amount, transferDetail("to", to.number)),
		to.event(models.AuditTransferIn, amount, transferDetail("from", a.number)),
	}
	return debit, credit, events, nil
}

func transferDetail(dir string, number int) string {
	return dir + " account " + strconv.Itoa(number)
}

func (a *Account) setStatus(status models.AccountStatus, typ models.AuditEventType) []models.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.status
	a.status = status
	return []models.AuditEvent{a.event(typ, decimal.Zero, string(prev)+" -> "+string(status))}
}

// Close marks the account Inactive. Balance and ledger are kept.
func (a *Account) Close() []models.AuditEvent {
	return a.setStatus(models.Inactive, models.AuditAccountClosed)
}

// Reopen returns an Inactive or Suspended account to Active.
func (a *Account) Reopen() []models.AuditEvent {
	return a.setStatus(models.Active, models.AuditAccountReopened)
}

func (a *Account) Suspend() []models.AuditEvent {
	return a.setStatus(models.Suspended, models.AuditAccountSuspended)
}

// SetPin replaces the PIN. It does not lift an active lockout.
func (a *Account) SetPin(pin string) ([]models.AuditEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.guard.SetPin(pin); err != nil {
		return nil, err
	}
	return []models.AuditEvent{a.event(models.AuditPinSet, decimal.Zero, "")}, nil
}

type AuthResult struct {
	Authenticated     bool
	AttemptsRemaining int
}

// Authenticate verifies pin. A wrong PIN is reported through the result,
// not an error; a lockout is reported as *LockedError.
func (a *Account) Authenticate(pin string) (AuthResult, []models.AuditEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	wasLocked := a.guard.LockedAt(a.now())
	ok, err := a.guard.VerifyPin(pin, a.now())
	res := AuthResult{Authenticated: ok, AttemptsRemaining: a.guard.AttemptsRemaining()}
	switch {
	case err != nil && wasLocked:
		return res, []models.AuditEvent{a.event(models.AuditAuthFailed, decimal.Zero, "rejected while locked")}, err
	case err != nil:
		return res, []models.AuditEvent{
			a.event(models.AuditAuthFailed, decimal.Zero, "pin mismatch"),
			a.event(models.AuditAccountLocked, decimal.Zero, err.Error()),
		}, err
	case !ok:
		return res, []models.AuditEvent{a.event(models.AuditAuthFailed, decimal.Zero, "pin mismatch")}, nil
	default:
		return res, []models.AuditEvent{a.event(models.AuditAuthSucceeded, decimal.Zero, "")}, nil
	}
}

// ResetLoginAttempts clears the failed counter and any lockout.
func (a *Account) ResetLoginAttempts() []models.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.guard.ResetLoginAttempts()
	return []models.AuditEvent{a.event(models.AuditAttemptsReset, decimal.Zero, "")}
}

func (a *Account) History(limit int, category models.Category) []models.Transaction {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.History(limit, category)
}

func (a *Account) Summary() []models.CategorySummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.Summary()
}

func (a *Account) CategoryCount(category models.Category) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.CategoryCount(category)
}

// DailyWithdrawn is today's withdrawal total.
func (a *Account) DailyWithdrawn() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.limiter.DailyTotal(a.now())
}
