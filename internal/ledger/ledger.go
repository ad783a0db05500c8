package ledger

import (
	"fmt"
	"time"

	"github.com/abkawan/account-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// TransactionLedger is the append-only record list of one account and the
// only place its balance changes.
//
// For every record i, BalanceAfter(i) = BalanceAfter(i-1) + Amount(i), with
// the opening balance standing in for record -1.
type TransactionLedger struct {
	opening decimal.Decimal
	balance decimal.Decimal
	records []models.Transaction
	counts  map[models.Category]int
}

func NewTransactionLedger(opening decimal.Decimal) *TransactionLedger {
	return &TransactionLedger{
		opening: opening,
		balance: opening,
		counts:  make(map[models.Category]int),
	}
}

func (l *TransactionLedger) Balance() decimal.Decimal { return l.balance }

func (l *TransactionLedger) OpeningBalance() decimal.Decimal { return l.opening }

func (l *TransactionLedger) Len() int { return len(l.records) }

// Append applies a signed amount (positive credits, negative debits) and
// records the resulting balance. Unknown categories become OTHER.
func (l *TransactionLedger) Append(at time.Time, typ models.TransactionType, amount decimal.Decimal, category models.Category, description string) models.Transaction {
	if category.Index() < 0 {
		category = models.CategoryOther
	}
	l.balance = l.balance.Add(amount)
	rec := models.Transaction{
		Timestamp:    at,
		Type:         typ,
		Amount:       amount,
		BalanceAfter: l.balance,
		Category:     category,
		Description:  description,
	}
	l.records = append(l.records, rec)
	l.counts[category]++
	return rec
}

// CategoryCount returns how many records carry category.
func (l *TransactionLedger) CategoryCount(category models.Category) int {
	return l.counts[category]
}

// History returns records of category (all categories when empty), keeping
// only the last limit entries when limit is positive. Order is chronological.
func (l *TransactionLedger) History(limit int, category models.Category) []models.Transaction {
	out := make([]models.Transaction, 0, len(l.records))
	for _, rec := range l.records {
		if category != "" && rec.Category != category {
			continue
		}
		out = append(out, rec)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Summary aggregates count, total and mean per category, skipping empty
// categories. Results follow the enumeration order.
func (l *TransactionLedger) Summary() []models.CategorySummary {
	totals := make(map[models.Category]decimal.Decimal, len(l.counts))
	for _, rec := range l.records {
		totals[rec.Category] = totals[rec.Category].Add(rec.Amount)
	}

	var out []models.CategorySummary
	for _, c := range models.Categories() {
		n := l.counts[c]
		if n == 0 {
			continue
		}
		total := totals[c]
		out = append(out, models.CategorySummary{
			Category: c,
			Count:    n,
			Total:    total,
			Average:  total.Div(decimal.NewFromInt(int64(n))),
		})
	}
	return out
}

func (l *TransactionLedger) Records() []models.Transaction {
	out := make([]models.Transaction, len(l.records))
	copy(out, l.records)
	return out
}

func restoreTransactionLedger(opening decimal.Decimal, records []models.Transaction) (*TransactionLedger, error) {
	l := NewTransactionLedger(opening)
	for i, rec := range records {
		want := l.balance.Add(rec.Amount)
		if !rec.BalanceAfter.Equal(want) {
			return nil, fmt.Errorf("%w: record %d balance_after %s, expected %s",
				ErrCorruptSnapshot, i, rec.BalanceAfter, want)
		}
		l.Append(rec.Timestamp, rec.Type, rec.Amount, rec.Category, rec.Description)
	}
	return l, nil
}
