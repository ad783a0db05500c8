package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType is the product category of an account.
type AccountType string

const (
	Savings AccountType = "Savings"
	Current AccountType = "Current"
)

var (
	savingsMinimum = decimal.NewFromInt(500)
	currentMinimum = decimal.NewFromInt(1000)
)

// ParseAccountType accepts any casing of "savings" or "current".
func ParseAccountType(s string) (AccountType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "savings":
		return Savings, true
	case "current":
		return Current, true
	default:
		return "", false
	}
}

// MinimumBalance is both the smallest opening deposit and the floor a
// withdrawal may leave the account at.
func (t AccountType) MinimumBalance() decimal.Decimal {
	if t == Current {
		return currentMinimum
	}
	return savingsMinimum
}

type AccountStatus string

const (
	Active    AccountStatus = "Active"
	Inactive  AccountStatus = "Inactive"
	Suspended AccountStatus = "Suspended"
)

func ParseAccountStatus(s string) (AccountStatus, bool) {
	switch AccountStatus(s) {
	case Active, Inactive, Suspended:
		return AccountStatus(s), true
	default:
		return "", false
	}
}

// AccountRecord is the flat persisted form of an account, its credentials
// and its opening balance.
type AccountRecord struct {
	Number         int             `json:"number" db:"number"`
	Name           string          `json:"name" db:"name"`
	Age            int             `json:"age" db:"age"`
	Type           AccountType     `json:"type" db:"type"`
	Balance        decimal.Decimal `json:"balance" db:"balance"`
	OpeningBalance decimal.Decimal `json:"opening_balance" db:"opening_balance"`
	Status         AccountStatus   `json:"status" db:"status"`
	PinHash        string          `json:"pin_hash,omitempty" db:"pin_hash"`
	PinSalt        string          `json:"pin_salt,omitempty" db:"pin_salt"`
	PinIterations  int             `json:"pin_iterations,omitempty" db:"pin_iterations"`
	FailedAttempts int             `json:"failed_attempts" db:"failed_attempts"`
	LastFailedAt   *time.Time      `json:"last_failed_at,omitempty" db:"last_failed_at"`
	LockedUntil    *time.Time      `json:"locked_until,omitempty" db:"locked_until"`
}

// WithdrawalEvent is one entry of the rolling withdrawal window.
type WithdrawalEvent struct {
	At     time.Time       `json:"at" db:"at"`
	Amount decimal.Decimal `json:"amount" db:"amount"`
}

// AccountSnapshot carries everything needed to rebuild an account.
type AccountSnapshot struct {
	Account      AccountRecord     `json:"account"`
	Withdrawals  []WithdrawalEvent `json:"withdrawals"`
	Transactions []Transaction     `json:"transactions"`
}

type CreateAccountRequest struct {
	Name           string           `json:"name" validate:"required"`
	Age            int              `json:"age" validate:"min=18"`
	Type           string           `json:"type" validate:"required,oneof=Savings Current"`
	InitialDeposit *decimal.Decimal `json:"initial_deposit,omitempty"`
	PIN            string           `json:"pin,omitempty"`
}

type AccountResponse struct {
	Number        int             `json:"number"`
	Name          string          `json:"name"`
	Age           int             `json:"age"`
	Type          AccountType     `json:"type"`
	Balance       decimal.Decimal `json:"balance"`
	Status        AccountStatus   `json:"status"`
	PinConfigured bool            `json:"pin_configured"`
}

type PinRequest struct {
	PIN string `json:"pin" validate:"required,len=4,numeric"`
}

type AuthResponse struct {
	Authenticated     bool `json:"authenticated"`
	AttemptsRemaining int  `json:"attempts_remaining"`
}

type InterestResponse struct {
	Principal decimal.Decimal `json:"principal"`
	Interest  decimal.Decimal `json:"interest"`
	Total     decimal.Decimal `json:"total"`
}
