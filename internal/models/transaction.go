package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	// Deposit represents a deposit transaction
	Deposit TransactionType = "DEPOSIT"

	// Withdrawal represents a withdrawal transaction
	Withdrawal TransactionType = "WITHDRAWAL"

	TransferIn  TransactionType = "TRANSFER_IN"
	TransferOut TransactionType = "TRANSFER_OUT"
)

// Category classifies a ledger record. The set is closed: anything outside
// it is recorded as CategoryOther.
type Category string

const (
	CategoryDeposit        Category = "DEPOSIT"
	CategoryWithdrawal     Category = "WITHDRAWAL"
	CategoryTransferIn     Category = "TRANSFER_IN"
	CategoryTransferOut    Category = "TRANSFER_OUT"
	CategoryInterest       Category = "INTEREST"
	CategoryFee            Category = "FEE"
	CategoryPayment        Category = "PAYMENT"
	CategoryRefund         Category = "REFUND"
	CategorySalary         Category = "SALARY"
	CategoryBillPayment    Category = "BILL_PAYMENT"
	CategoryOnlinePurchase Category = "ONLINE_PURCHASE"
	CategoryOther          Category = "OTHER"
)

var categories = []Category{
	CategoryDeposit,
	CategoryWithdrawal,
	CategoryTransferIn,
	CategoryTransferOut,
	CategoryInterest,
	CategoryFee,
	CategoryPayment,
	CategoryRefund,
	CategorySalary,
	CategoryBillPayment,
	CategoryOnlinePurchase,
	CategoryOther,
}

// Categories returns the enumeration in declaration order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// LookupCategory reports whether s names a known category.
func LookupCategory(s string) (Category, bool) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range categories {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// ParseCategory coerces unknown values to CategoryOther.
func ParseCategory(s string) Category {
	if c, ok := LookupCategory(s); ok {
		return c
	}
	return CategoryOther
}

// Index returns the position of c in the enumeration, or -1.
func (c Category) Index() int {
	for i, known := range categories {
		if c == known {
			return i
		}
	}
	return -1
}

// Transaction is one ledger record. The persisted form is exactly six
// ordered fields, see Fields.
type Transaction struct {
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
	Type         TransactionType `json:"type" db:"type"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after" db:"balance_after"`
	Category     Category        `json:"category" db:"category"`
	Description  string          `json:"description" db:"description"`
}

const TransactionFieldCount = 6

// Fields flattens the record as timestamp, type, amount, balance-after,
// category, description.
func (t Transaction) Fields() []string {
	return []string{
		t.Timestamp.Format(time.RFC3339Nano),
		string(t.Type),
		t.Amount.String(),
		t.BalanceAfter.String(),
		string(t.Category),
		t.Description,
	}
}

// ParseTransactionFields is the inverse of Fields.
func ParseTransactionFields(fields []string) (Transaction, error) {
	if len(fields) != TransactionFieldCount {
		return Transaction{}, fmt.Errorf("transaction record has %d fields, want %d", len(fields), TransactionFieldCount)
	}
	ts, err := time.Parse(time.RFC3339Nano, fields[0])
	if err != nil {
		return Transaction{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	amount, err := decimal.NewFromString(fields[2])
	if err != nil {
		return Transaction{}, fmt.Errorf("invalid amount: %w", err)
	}
	balance, err := decimal.NewFromString(fields[3])
	if err != nil {
		return Transaction{}, fmt.Errorf("invalid balance_after: %w", err)
	}
	return Transaction{
		Timestamp:    ts,
		Type:         TransactionType(fields[1]),
		Amount:       amount,
		BalanceAfter: balance,
		Category:     ParseCategory(fields[4]),
		Description:  fields[5],
	}, nil
}

// CategorySummary aggregates all records of one category.
type CategorySummary struct {
	Category Category        `json:"category"`
	Count    int             `json:"count"`
	Total    decimal.Decimal `json:"total"`
	Average  decimal.Decimal `json:"average"`
}

type DepositRequest struct {
	Amount      decimal.Decimal `json:"amount" validate:"required,gt=0"`
	Category    string          `json:"category,omitempty"`
	Description string          `json:"description,omitempty"`
}

type WithdrawRequest struct {
	Amount      decimal.Decimal `json:"amount" validate:"required,gt=0"`
	Description string          `json:"description,omitempty"`
}

type TransferRequest struct {
	ToAccount   int             `json:"to_account" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"required,gt=0"`
	Category    string          `json:"category,omitempty"`
	Description string          `json:"description,omitempty"`
}

type TransferResponse struct {
	Debit  Transaction `json:"debit"`
	Credit Transaction `json:"credit"`
}
