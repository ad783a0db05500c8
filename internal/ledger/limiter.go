package ledger

import (
	"time"

	"github.com/abkawan/account-ledger/internal/models"
	"github.com/shopspring/decimal"
)

const WithdrawalRetention = 7 * 24 * time.Hour

// DefaultDailyLimit is the per-account withdrawal ceiling per calendar day.
var DefaultDailyLimit = decimal.NewFromInt(50000)

// Debiter is the ledger side of a withdrawal.
type Debiter interface {
	Append(at time.Time, typ models.TransactionType, amount decimal.Decimal, category models.Category, description string) models.Transaction
}

// WithdrawalLimiter keeps a rolling seven-day log of withdrawals and
// enforces the daily ceiling and the minimum balance floor.
type WithdrawalLimiter struct {
	dailyLimit decimal.Decimal
	events     []models.WithdrawalEvent
}

func NewWithdrawalLimiter(dailyLimit decimal.Decimal) *WithdrawalLimiter {
	if !dailyLimit.IsPositive() {
		dailyLimit = DefaultDailyLimit
	}
	return &WithdrawalLimiter{dailyLimit: dailyLimit}
}

func (w *WithdrawalLimiter) DailyLimit() decimal.Decimal { return w.dailyLimit }

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DailyTotal sums today's withdrawals.
func (w *WithdrawalLimiter) DailyTotal(now time.Time) decimal.Decimal {
	return w.DailyTotalOn(now, now)
}

// DailyTotalOn sums retained withdrawals whose calendar date, in now's
// location, equals date. Events older than the retention window are ignored
// even before they are purged.
func (w *WithdrawalLimiter) DailyTotalOn(date, now time.Time) decimal.Decimal {
	date = date.In(now.Location())
	total := decimal.Zero
	for _, e := range w.events {
		if now.Sub(e.At) >= WithdrawalRetention {
			continue
		}
		if sameDay(e.At.In(now.Location()), date) {
			total = total.Add(e.Amount)
		}
	}
	return total
}

// Remaining is what can still be withdrawn today.
func (w *WithdrawalLimiter) Remaining(now time.Time) decimal.Decimal {
	r := w.dailyLimit.Sub(w.DailyTotal(now))
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// CanWithdraw decides whether amount may leave an account with the given
// balance, type and status. It has no side effects. A nil error approves.
func (w *WithdrawalLimiter) CanWithdraw(balance decimal.Decimal, accountType models.AccountType, status models.AccountStatus, amount decimal.Decimal, now time.Time) error {
	if status != models.Active {
		return reject(ErrAccountNotActive, "account is %s, only active accounts can withdraw", status)
	}
	if !amount.IsPositive() {
		return invalid("amount", ErrNonPositiveAmount)
	}
	minimum := accountType.MinimumBalance()
	if balance.Sub(amount).LessThan(minimum) {
		return reject(ErrBelowMinimumBalance,
			"insufficient funds: withdrawing %s would leave %s, below the %s minimum of %s",
			amount.StringFixed(2), balance.Sub(amount).StringFixed(2), accountType, minimum.StringFixed(2))
	}
	used := w.DailyTotal(now)
	if used.Add(amount).GreaterThan(w.dailyLimit) {
		return reject(ErrDailyLimitExceeded,
			"daily withdrawal limit of %s exceeded: remaining allowance today is %s",
			w.dailyLimit.StringFixed(2), w.dailyLimit.Sub(used).StringFixed(2))
	}
	return nil
}

// RecordWithdrawal logs an approved withdrawal, debits it through ledger
// and drops events older than the retention window. It does not re-check
// the amount; callers must have passed CanWithdraw.
func (w *WithdrawalLimiter) RecordWithdrawal(now time.Time, amount decimal.Decimal, description string, ledger Debiter) models.Transaction {
	w.events = append(w.events, models.WithdrawalEvent{At: now, Amount: amount})
	rec := ledger.Append(now, models.Withdrawal, amount.Neg(), models.CategoryWithdrawal, description)
	w.purge(now)
	return rec
}

func (w *WithdrawalLimiter) purge(now time.Time) {
	kept := w.events[:0]
	for _, e := range w.events {
		if now.Sub(e.At) < WithdrawalRetention {
			kept = append(kept, e)
		}
	}
	w.events = kept
}

// Events returns the retained withdrawal log.
func (w *WithdrawalLimiter) Events() []models.WithdrawalEvent {
	out := make([]models.WithdrawalEvent, len(w.events))
	copy(out, w.events)
	return out
}

func restoreWithdrawalLimiter(dailyLimit decimal.Decimal, events []models.WithdrawalEvent) *WithdrawalLimiter {
	w := NewWithdrawalLimiter(dailyLimit)
	w.events = append(w.events, events...)
	return w
}
