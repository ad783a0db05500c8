package ledger

import (
	"errors"
	"fmt"
	"time"
)

// Validation sentinels. They are wrapped in a *ValidationError.
var (
	ErrUnderage                   = errors.New("account holder must be 18 or older")
	ErrInvalidAccountType         = errors.New("account type must be Savings or Current")
	ErrInsufficientInitialDeposit = errors.New("initial deposit below category minimum")
	ErrInvalidPinFormat           = errors.New("pin must be exactly 4 digits")
	ErrNonPositiveAmount          = errors.New("amount must be greater than zero")
	ErrInvalidInterestInput       = errors.New("rate, years and frequency must be greater than zero")
	ErrNonPositiveBalance         = errors.New("balance must be greater than zero")
	ErrSameAccount                = errors.New("source and destination accounts are the same")
)

// Policy sentinels. They are wrapped in a *PolicyRejection.
var (
	ErrAccountNotActive    = errors.New("account is not active")
	ErrBelowMinimumBalance = errors.New("minimum balance would be breached")
	ErrDailyLimitExceeded  = errors.New("daily withdrawal limit exceeded")
)

// ErrCorruptSnapshot is returned by Restore when persisted state violates
// the ledger chain.
var ErrCorruptSnapshot = errors.New("corrupt account snapshot")

// ValidationError reports malformed or out-of-range input.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// PolicyRejection reports an operation refused by account rules. State is
// never mutated when one is returned.
type PolicyRejection struct {
	Reason string
	Err    error
}

func (e *PolicyRejection) Error() string { return e.Reason }

func (e *PolicyRejection) Unwrap() error { return e.Err }

func reject(err error, format string, args ...any) *PolicyRejection {
	return &PolicyRejection{Reason: fmt.Sprintf(format, args...), Err: err}
}

// LockedError is returned while PIN verification is suspended.
type LockedError struct {
	Until            time.Time
	RemainingMinutes int
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, try again in %d minute(s)", e.RemainingMinutes)
}
