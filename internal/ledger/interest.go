package ledger

import (
	"github.com/abkawan/account-ledger/internal/models"
	"github.com/shopspring/decimal"
)

const interestPrecision = 16

var hundred = decimal.NewFromInt(100)

func (a *Account) principal() (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.ledger.Balance()
	if !p.IsPositive() {
		return p, invalid("balance", ErrNonPositiveBalance)
	}
	return p, nil
}

func interestResult(principal, total decimal.Decimal) models.InterestResponse {
	total = total.Round(2)
	return models.InterestResponse{
		Principal: principal,
		Interest:  total.Sub(principal).Round(2),
		Total:     total,
	}
}

// SimpleInterest computes balance*rate/100*years. Nothing is booked.
func (a *Account) SimpleInterest(ratePercent, years decimal.Decimal) (models.InterestResponse, error) {
	if !ratePercent.IsPositive() || !years.IsPositive() {
		return models.InterestResponse{}, invalid("", ErrInvalidInterestInput)
	}
	p, err := a.principal()
	if err != nil {
		return models.InterestResponse{}, err
	}
	interest := p.Mul(ratePercent).Div(hundred).Mul(years)
	return interestResult(p, p.Add(interest)), nil
}

// CompoundInterest computes balance*(1+rate/100/n)^(n*years). Nothing is
// booked.
func (a *Account) CompoundInterest(ratePercent, years decimal.Decimal, perYear int) (models.InterestResponse, error) {
	if !ratePercent.IsPositive() || !years.IsPositive() || perYear <= 0 {
		return models.InterestResponse{}, invalid("", ErrInvalidInterestInput)
	}
	p, err := a.principal()
	if err != nil {
		return models.InterestResponse{}, err
	}
	n := decimal.NewFromInt(int64(perYear))
	base := decimal.NewFromInt(1).Add(ratePercent.Div(hundred).Div(n))
	factor, err := base.PowWithPrecision(n.Mul(years), interestPrecision)
	if err != nil {
		return models.InterestResponse{}, invalid("", err)
	}
	return interestResult(p, p.Mul(factor)), nil
}
