package ledger

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/abkawan/account-ledger/internal/models"
	"github.com/shopspring/decimal"
)

func mustCreate(t *testing.T, clock *fakeClock, p Params) *Account {
	t.Helper()
	a, _, err := Create(p, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Create(%+v) err=%v", p, err)
	}
	return a
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name string
		p    Params
		want error
	}{
		{"underage", Params{Number: 1, Name: "A", Age: 17, Type: "Savings"}, ErrUnderage},
		{"bad type", Params{Number: 1, Name: "A", Age: 30, Type: "Checking"}, ErrInvalidAccountType},
		{"savings deposit too small", Params{Number: 1, Name: "A", Age: 30, Type: "Savings", InitialDeposit: decPtr("499.99")}, ErrInsufficientInitialDeposit},
		{"current deposit too small", Params{Number: 1, Name: "A", Age: 30, Type: "current", InitialDeposit: decPtr("999")}, ErrInsufficientInitialDeposit},
		{"bad pin", Params{Number: 1, Name: "A", Age: 30, Type: "Savings", PIN: "12"}, ErrInvalidPinFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Create(tt.p)
			var ve *ValidationError
			if !errors.As(err, &ve) || !errors.Is(err, tt.want) {
				t.Fatalf("err=%v want %v", err, tt.want)
			}
		})
	}
}

func TestCreateDefaults(t *testing.T) {
	clock := newFakeClock()
	s := mustCreate(t, clock, Params{Number: 1001, Name: " Asha ", Age: 18, Type: "savings"})
	c := mustCreate(t, clock, Params{Number: 1002, Name: "Ben", Age: 40, Type: "CURRENT"})

	if s.Type() != models.Savings || !s.Balance().Equal(dec("500")) {
		t.Fatalf("savings account %+v", s.View())
	}
	if c.Type() != models.Current || !c.Balance().Equal(dec("1000")) {
		t.Fatalf("current account %+v", c.View())
	}
	if s.Name() != "Asha" || s.Status() != models.Active {
		t.Fatalf("unexpected view %+v", s.View())
	}
	if len(s.History(0, "")) != 0 {
		t.Fatal("opening deposit is not a ledger record")
	}
}

func TestSavingsScenario(t *testing.T) {
	clock := newFakeClock()
	a := mustCreate(t, clock, Params{Number: 1001, Name: "Asha", Age: 25, Type: "Savings"})

	rec, events, err := a.Deposit(dec("200"), "", "")
	if err != nil {
		t.Fatal(err)
	}
	if !a.Balance().Equal(dec("700")) || !rec.BalanceAfter.Equal(dec("700")) || rec.Category != models.CategoryDeposit {
		t.Fatalf("after deposit balance=%s record=%+v", a.Balance(), rec)
	}
	if len(events) != 1 || events[0].Type != models.AuditDeposit {
		t.Fatalf("events=%+v", events)
	}

	if _, _, err := a.Withdraw(dec("100"), ""); err != nil {
		t.Fatalf("withdraw 100: %v", err)
	}
	if !a.Balance().Equal(dec("600")) {
		t.Fatalf("balance=%s want=600", a.Balance())
	}

	_, _, err = a.Withdraw(dec("150"), "")
	var pr *PolicyRejection
	if !errors.As(err, &pr) || !errors.Is(err, ErrBelowMinimumBalance) {
		t.Fatalf("withdraw 150 err=%v", err)
	}
	if !a.Balance().Equal(dec("600")) || len(a.History(0, "")) != 2 {
		t.Fatalf("rejected withdrawal mutated state: balance=%s", a.Balance())
	}

	hist := a.History(0, "")
	if !hist[len(hist)-1].BalanceAfter.Equal(a.Balance()) {
		t.Fatal("balance must equal the last record's balance_after")
	}
}

func TestDepositRejectsNonPositive(t *testing.T) {
	a := mustCreate(t, newFakeClock(), Params{Number: 1, Name: "A", Age: 30, Type: "Savings"})
	for _, amt := range []string{"0", "-1"} {
		if _, _, err := a.Deposit(dec(amt), "", ""); !errors.Is(err, ErrNonPositiveAmount) {
			t.Fatalf("deposit %s err=%v", amt, err)
		}
	}
}

func TestLargeDepositIsFlagged(t *testing.T) {
	a := mustCreate(t, newFakeClock(), Params{Number: 1, Name: "A", Age: 30, Type: "Savings"})

	rec, events, err := a.Deposit(dec("150000"), models.CategorySalary, "bonus")
	if err != nil {
		t.Fatalf("large deposits are accepted: %v", err)
	}
	if rec.Category != models.CategoryDeposit {
		t.Fatalf("category=%s want DEPOSIT", rec.Category)
	}
	if !strings.Contains(rec.Description, "flagged") {
		t.Fatalf("description=%q", rec.Description)
	}
	if len(events) != 2 || events[1].Type != models.AuditLargeDeposit {
		t.Fatalf("events=%+v", events)
	}

	rec, _, _ = a.Deposit(dec("100000"), models.CategorySalary, "pay")
	if rec.Category != models.CategorySalary {
		t.Fatalf("threshold itself is not large, got %s", rec.Category)
	}
}

func TestWithdrawDailyLimit(t *testing.T) {
	clock := newFakeClock()
	a := mustCreate(t, clock, Params{Number: 1, Name: "A", Age: 30, Type: "Savings", InitialDeposit: decPtr("100000")})

	if _, _, err := a.Withdraw(dec("30000"), ""); err != nil {
		t.Fatal(err)
	}
	_, _, err := a.Withdraw(dec("25000"), "")
	if !errors.Is(err, ErrDailyLimitExceeded) || !strings.Contains(err.Error(), "20000.00") {
		t.Fatalf("err=%v", err)
	}
	if !a.DailyWithdrawn().Equal(dec("30000")) {
		t.Fatalf("daily withdrawn=%s", a.DailyWithdrawn())
	}

	clock.Advance(24 * time.Hour)
	if _, _, err := a.Withdraw(dec("25000"), ""); err != nil {
		t.Fatalf("next day: %v", err)
	}
}

func TestWithdrawClosedAccount(t *testing.T) {
	a := mustCreate(t, newFakeClock(), Params{Number: 1, Name: "A", Age: 30, Type: "Savings", InitialDeposit: decPtr("5000")})
	a.Close()
	if _, _, err := a.Withdraw(dec("10"), ""); !errors.Is(err, ErrAccountNotActive) {
		t.Fatalf("err=%v", err)
	}
	a.Reopen()
	if _, _, err := a.Withdraw(dec("10"), ""); err != nil {
		t.Fatalf("reopened account: %v", err)
	}
	a.Suspend()
	if a.Status() != models.Suspended {
		t.Fatalf("status=%s", a.Status())
	}
	if _, _, err := a.Withdraw(dec("10"), ""); !errors.Is(err, ErrAccountNotActive) {
		t.Fatalf("suspended err=%v", err)
	}
	if !a.Balance().Equal(dec("4990")) {
		t.Fatalf("status changes must not touch the balance: %s", a.Balance())
	}
}

func TestTransfer(t *testing.T) {
	clock := newFakeClock()
	src := mustCreate(t, clock, Params{Number: 1002, Name: "A", Age: 30, Type: "Current", InitialDeposit: decPtr("3000")})
	dst := mustCreate(t, clock, Params{Number: 1001, Name: "B", Age: 30, Type: "Savings"})

	debit, credit, events, err := src.Transfer(dst, dec("1500"), "", "rent")
	if err != nil {
		t.Fatal(err)
	}
	if debit.Type != models.TransferOut || !debit.Amount.Equal(dec("-1500")) || !debit.BalanceAfter.Equal(dec("1500")) {
		t.Fatalf("debit=%+v", debit)
	}
	if credit.Type != models.TransferIn || credit.Category != models.CategoryTransferIn || !credit.BalanceAfter.Equal(dec("2000")) {
		t.Fatalf("credit=%+v", credit)
	}
	if len(events) != 2 || events[0].AccountNumber != 1002 || events[1].AccountNumber != 1001 {
		t.Fatalf("events=%+v", events)
	}
	if !src.DailyWithdrawn().IsZero() {
		t.Fatal("transfers do not count towards the daily withdrawal limit")
	}

	// 1500 - 501 < 1000 minimum for Current.
	if _, _, _, err := src.Transfer(dst, dec("501"), "", ""); !errors.Is(err, ErrBelowMinimumBalance) {
		t.Fatalf("err=%v", err)
	}

	dst.Close()
	if _, _, _, err := src.Transfer(dst, dec("10"), "", ""); !errors.Is(err, ErrAccountNotActive) {
		t.Fatalf("closed destination err=%v", err)
	}
	if !src.Balance().Equal(dec("1500")) || !dst.Balance().Equal(dec("2000")) {
		t.Fatalf("rejected transfers mutated balances: %s %s", src.Balance(), dst.Balance())
	}

	if _, _, _, err := src.Transfer(src, dec("10"), "", ""); !errors.Is(err, ErrSameAccount) {
		t.Fatalf("self transfer err=%v", err)
	}
}

func TestTransferCategoryAppliesToDebit(t *testing.T) {
	clock := newFakeClock()
	src := mustCreate(t, clock, Params{Number: 1, Name: "A", Age: 30, Type: "Savings", InitialDeposit: decPtr("5000")})
	dst := mustCreate(t, clock, Params{Number: 2, Name: "B", Age: 30, Type: "Savings"})

	debit, credit, _, err := src.Transfer(dst, dec("100"), models.CategoryBillPayment, "power")
	if err != nil {
		t.Fatal(err)
	}
	if debit.Category != models.CategoryBillPayment || credit.Category != models.CategoryTransferIn {
		t.Fatalf("debit=%s credit=%s", debit.Category, credit.Category)
	}
}

func TestAuthenticateScenario(t *testing.T) {
	clock := newFakeClock()
	a := mustCreate(t, clock, Params{Number: 1, Name: "A", Age: 30, Type: "Savings"})

	res, _, err := a.Authenticate("0000")
	if err != nil || !res.Authenticated {
		t.Fatalf("no pin configured: res=%+v err=%v", res, err)
	}

	if _, err := a.SetPin("1234"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		res, events, err := a.Authenticate("0000")
		if err != nil || res.Authenticated {
			t.Fatalf("attempt %d res=%+v err=%v", i, res, err)
		}
		if events[0].Type != models.AuditAuthFailed {
			t.Fatalf("events=%+v", events)
		}
	}

	_, events, err := a.Authenticate("0000")
	var locked *LockedError
	if !errors.As(err, &locked) || locked.RemainingMinutes != 30 {
		t.Fatalf("third failure err=%v", err)
	}
	if len(events) != 2 || events[1].Type != models.AuditAccountLocked {
		t.Fatalf("events=%+v", events)
	}

	res, _, err = a.Authenticate("1234")
	if !errors.As(err, &locked) || res.Authenticated {
		t.Fatalf("correct pin while locked res=%+v err=%v", res, err)
	}

	a.ResetLoginAttempts()
	res, events, err = a.Authenticate("1234")
	if err != nil || !res.Authenticated || events[0].Type != models.AuditAuthSucceeded {
		t.Fatalf("after reset res=%+v err=%v", res, err)
	}
}
