package ledger

import (
	"fmt"

	"github.com/abkawan/account-ledger/internal/models"
)

// Snapshot flattens the account, its credential state, the retained
// withdrawal window and every ledger record.
func (a *Account) Snapshot() models.AccountSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	hash, salt, iterations, failed, lastFailed, lockedUntil := a.guard.export()
	return models.AccountSnapshot{
		Account: models.AccountRecord{
			Number:         a.number,
			Name:           a.name,
			Age:            a.age,
			Type:           a.typ,
			Balance:        a.ledger.Balance(),
			OpeningBalance: a.ledger.OpeningBalance(),
			Status:         a.status,
			PinHash:        hash,
			PinSalt:        salt,
			PinIterations:  iterations,
			FailedAttempts: failed,
			LastFailedAt:   lastFailed,
			LockedUntil:    lockedUntil,
		},
		Withdrawals:  a.limiter.Events(),
		Transactions: a.ledger.Records(),
	}
}

// Restore rebuilds an account from a snapshot. Timestamps are kept as
// stored, so a lockout or the withdrawal window continues to run against
// the clock after reload.
func Restore(s models.AccountSnapshot, opts ...Option) (*Account, error) {
	rec := s.Account
	if rec.Number <= 0 {
		return nil, fmt.Errorf("%w: account number %d", ErrCorruptSnapshot, rec.Number)
	}
	typ, ok := models.ParseAccountType(string(rec.Type))
	if !ok {
		return nil, fmt.Errorf("%w: account type %q", ErrCorruptSnapshot, rec.Type)
	}
	status, ok := models.ParseAccountStatus(string(rec.Status))
	if !ok {
		return nil, fmt.Errorf("%w: status %q", ErrCorruptSnapshot, rec.Status)
	}

	l, err := restoreTransactionLedger(rec.OpeningBalance, s.Transactions)
	if err != nil {
		return nil, err
	}
	if !l.Balance().Equal(rec.Balance) {
		return nil, fmt.Errorf("%w: balance %s does not match ledger %s", ErrCorruptSnapshot, rec.Balance, l.Balance())
	}

	o := buildOptions(opts)
	iterations := rec.PinIterations
	if iterations == 0 {
		iterations = o.pinIterations
	}
	g, err := restoreCredentialGuard(rec.PinHash, rec.PinSalt, iterations, rec.FailedAttempts, rec.LastFailedAt, rec.LockedUntil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	return &Account{
		number:  rec.Number,
		name:    rec.Name,
		age:     rec.Age,
		typ:     typ,
		status:  status,
		guard:   g,
		limiter: restoreWithdrawalLimiter(o.dailyLimit, s.Withdrawals),
		ledger:  l,
		now:     o.now,
	}, nil
}
