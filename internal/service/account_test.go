package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/abkawan/account-ledger/internal/ledger"
	"github.com/abkawan/account-ledger/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestService(t *testing.T) (*AccountService, *fakeStore, *fakePublisher) {
	t.Helper()
	store := newFakeStore()
	pub := &fakePublisher{}
	return NewAccountService(store, pub, zap.NewNop()), store, pub
}

func mustOpen(t *testing.T, s *AccountService, name, typ string) *models.AccountResponse {
	t.Helper()
	acc, err := s.CreateAccount(context.Background(), &models.CreateAccountRequest{Name: name, Age: 30, Type: typ})
	if err != nil {
		t.Fatalf("CreateAccount(%s): %v", name, err)
	}
	return acc
}

func TestCreateAccountAllocatesNumbers(t *testing.T) {
	s, store, pub := newTestService(t)
	ctx := context.Background()

	a := mustOpen(t, s, "Asha", "Savings")
	if _, err := s.CreateAccount(ctx, &models.CreateAccountRequest{Name: "Kid", Age: 12, Type: "Savings"}); !errors.Is(err, ledger.ErrUnderage) {
		t.Fatalf("err=%v", err)
	}
	b := mustOpen(t, s, "Ben", "Current")

	if a.Number != FirstAccountNumber || b.Number != FirstAccountNumber+1 {
		t.Fatalf("numbers %d, %d", a.Number, b.Number)
	}
	if len(store.saved) != 2 {
		t.Fatalf("saved=%d", len(store.saved))
	}
	if got := pub.types(); len(got) != 2 || got[0] != models.AuditAccountCreated {
		t.Fatalf("published %v", got)
	}
}

func TestLoadContinuesNumbering(t *testing.T) {
	s, store, _ := newTestService(t)
	ctx := context.Background()
	mustOpen(t, s, "Asha", "Savings")
	last := mustOpen(t, s, "Ben", "Savings")
	if _, err := s.Deposit(ctx, last.Number, &models.DepositRequest{Amount: dec("250")}); err != nil {
		t.Fatal(err)
	}

	reloaded := NewAccountService(store, &fakePublisher{}, nil)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatal(err)
	}
	got, err := reloaded.GetAccount(ctx, last.Number)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Balance.Equal(dec("750")) {
		t.Fatalf("balance=%s", got.Balance)
	}
	next := mustOpen(t, reloaded, "Cy", "Savings")
	if next.Number != last.Number+1 {
		t.Fatalf("next number=%d want %d", next.Number, last.Number+1)
	}
}

func TestGetUnknownAccount(t *testing.T) {
	s, _, _ := newTestService(t)
	if _, err := s.GetAccount(context.Background(), 42); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestSearchByName(t *testing.T) {
	s, _, _ := newTestService(t)
	mustOpen(t, s, "Asha Rao", "Savings")
	mustOpen(t, s, "Ben", "Savings")
	mustOpen(t, s, "asha rao", "Current")

	got := s.SearchByName(context.Background(), "  ASHA RAO ")
	if len(got) != 2 || got[0].Number > got[1].Number {
		t.Fatalf("got %+v", got)
	}
	if got := s.SearchByName(context.Background(), "nobody"); len(got) != 0 {
		t.Fatalf("got %+v", got)
	}
}

func TestWithdrawRejectionIsNotPersisted(t *testing.T) {
	s, store, pub := newTestService(t)
	ctx := context.Background()
	acc := mustOpen(t, s, "Asha", "Savings")
	saves := len(store.batches)

	_, err := s.Withdraw(ctx, acc.Number, &models.WithdrawRequest{Amount: dec("1")})
	var pr *ledger.PolicyRejection
	if !errors.As(err, &pr) {
		t.Fatalf("err=%v", err)
	}
	if len(store.batches) != saves || len(pub.types()) != 1 {
		t.Fatal("rejected withdrawal must not be saved or audited")
	}
}

func TestDepositCategory(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	acc := mustOpen(t, s, "Asha", "Savings")

	rec, err := s.Deposit(ctx, acc.Number, &models.DepositRequest{Amount: dec("10"), Category: "salary"})
	if err != nil || rec.Category != models.CategorySalary {
		t.Fatalf("rec=%+v err=%v", rec, err)
	}
	rec, err = s.Deposit(ctx, acc.Number, &models.DepositRequest{Amount: dec("10"), Category: "lottery"})
	if err != nil || rec.Category != models.CategoryOther {
		t.Fatalf("rec=%+v err=%v", rec, err)
	}
	rec, _ = s.Deposit(ctx, acc.Number, &models.DepositRequest{Amount: dec("10")})
	if rec.Category != models.CategoryDeposit {
		t.Fatalf("default category=%s", rec.Category)
	}
}

func TestTransferSavesBothAccountsTogether(t *testing.T) {
	s, store, pub := newTestService(t)
	ctx := context.Background()
	a := mustOpen(t, s, "Asha", "Current")
	b := mustOpen(t, s, "Ben", "Savings")
	if _, err := s.Deposit(ctx, a.Number, &models.DepositRequest{Amount: dec("2000")}); err != nil {
		t.Fatal(err)
	}

	res, err := s.Transfer(ctx, a.Number, &models.TransferRequest{ToAccount: b.Number, Amount: dec("700")})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Debit.BalanceAfter.Equal(dec("2300")) || !res.Credit.BalanceAfter.Equal(dec("1200")) {
		t.Fatalf("res=%+v", res)
	}
	last := store.batches[len(store.batches)-1]
	if len(last) != 2 {
		t.Fatalf("transfer saved in batch %v", last)
	}
	types := pub.types()
	if types[len(types)-2] != models.AuditTransferOut || types[len(types)-1] != models.AuditTransferIn {
		t.Fatalf("published %v", types)
	}

	if _, err := s.Transfer(ctx, a.Number, &models.TransferRequest{ToAccount: 9999, Amount: dec("1")}); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestStatusChanges(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	acc := mustOpen(t, s, "Asha", "Savings")

	view, err := s.CloseAccount(ctx, acc.Number)
	if err != nil || view.Status != models.Inactive {
		t.Fatalf("view=%+v err=%v", view, err)
	}
	if _, err := s.Withdraw(ctx, acc.Number, &models.WithdrawRequest{Amount: dec("1")}); !errors.Is(err, ledger.ErrAccountNotActive) {
		t.Fatalf("err=%v", err)
	}
	if view, _ = s.SuspendAccount(ctx, acc.Number); view.Status != models.Suspended {
		t.Fatalf("status=%s", view.Status)
	}
	if view, _ = s.ReopenAccount(ctx, acc.Number); view.Status != models.Active {
		t.Fatalf("status=%s", view.Status)
	}
}

func TestAuthenticateLockoutIsPersisted(t *testing.T) {
	s, store, pub := newTestService(t)
	ctx := context.Background()
	acc := mustOpen(t, s, "Asha", "Savings")
	if err := s.SetPin(ctx, acc.Number, "1234"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPin(ctx, acc.Number, "12"); !errors.Is(err, ledger.ErrInvalidPinFormat) {
		t.Fatalf("err=%v", err)
	}

	res, err := s.Authenticate(ctx, acc.Number, "0000")
	if err != nil || res.Authenticated || res.AttemptsRemaining != 2 {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	s.Authenticate(ctx, acc.Number, "0000")
	_, err = s.Authenticate(ctx, acc.Number, "0000")
	var locked *ledger.LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("err=%v", err)
	}
	if store.saved[acc.Number].Account.LockedUntil == nil {
		t.Fatal("lockout was not persisted")
	}

	if _, err := s.ResetLoginAttempts(ctx, acc.Number); err != nil {
		t.Fatal(err)
	}
	res, err = s.Authenticate(ctx, acc.Number, "1234")
	if err != nil || !res.Authenticated {
		t.Fatalf("res=%+v err=%v", res, err)
	}

	types := pub.types()
	if types[len(types)-1] != models.AuditAuthSucceeded || types[len(types)-2] != models.AuditAttemptsReset {
		t.Fatalf("published %v", types)
	}
}

func TestPersistFailureIsReturned(t *testing.T) {
	s, store, pub := newTestService(t)
	ctx := context.Background()
	acc := mustOpen(t, s, "Asha", "Savings")
	store.failOn = errors.New("db down")
	published := len(pub.types())

	if _, err := s.Deposit(ctx, acc.Number, &models.DepositRequest{Amount: dec("5")}); err == nil {
		t.Fatal("expected persistence error")
	}
	if len(pub.types()) != published {
		t.Fatal("events must not be published for unsaved state")
	}
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	s, _, pub := newTestService(t)
	acc := mustOpen(t, s, "Asha", "Savings")
	pub.fail = true
	if _, err := s.Deposit(context.Background(), acc.Number, &models.DepositRequest{Amount: dec("5")}); err != nil {
		t.Fatalf("err=%v", err)
	}
}

func TestHistorySummaryInterest(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	acc := mustOpen(t, s, "Asha", "Current")
	s.Deposit(ctx, acc.Number, &models.DepositRequest{Amount: dec("100"), Category: "REFUND"})
	s.Deposit(ctx, acc.Number, &models.DepositRequest{Amount: dec("300"), Category: "REFUND"})
	s.Withdraw(ctx, acc.Number, &models.WithdrawRequest{Amount: dec("400")})

	hist, err := s.History(ctx, acc.Number, 2, "")
	if err != nil || len(hist) != 2 || hist[1].Type != models.Withdrawal {
		t.Fatalf("hist=%+v err=%v", hist, err)
	}
	summary, _ := s.Summary(ctx, acc.Number)
	for _, c := range summary {
		if c.Category == models.CategoryRefund && (!c.Average.Equal(dec("200")) || c.Count != 2) {
			t.Fatalf("refund summary %+v", c)
		}
	}

	res, err := s.Interest(ctx, acc.Number, CompoundInterest, dec("10"), dec("1"), 1)
	if err != nil || !res.Total.Equal(dec("1100")) {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if _, err := s.Interest(ctx, acc.Number, "weird", dec("10"), dec("1"), 1); err == nil {
		t.Fatal("unknown kind accepted")
	}
}

func TestConcurrentSavesKeepMutationOrder(t *testing.T) {
	store := newGatedStore()
	s := NewAccountService(store, &fakePublisher{}, zap.NewNop())
	ctx := context.Background()
	acc, err := s.CreateAccount(ctx, &models.CreateAccountRequest{Name: "Asha", Age: 30, Type: "Savings", PIN: "1234"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Authenticate(ctx, acc.Number, "0000"); err != nil {
		t.Fatal(err)
	}

	store.arm()
	second := make(chan error, 1)
	go func() {
		_, err := s.Authenticate(ctx, acc.Number, "0000")
		second <- err
	}()
	<-store.entered

	third := make(chan error, 1)
	go func() {
		_, err := s.Authenticate(ctx, acc.Number, "0000")
		third <- err
	}()
	select {
	case err := <-third:
		t.Fatalf("third attempt finished while an earlier save was pending: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	if err := <-second; err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	var locked *ledger.LockedError
	if err := <-third; !errors.As(err, &locked) {
		t.Fatalf("third attempt err=%v", err)
	}

	store.fakeStore.mu.Lock()
	saved := store.saved[acc.Number].Account
	store.fakeStore.mu.Unlock()
	if saved.FailedAttempts != 3 || saved.LockedUntil == nil {
		t.Fatalf("persisted failed=%d locked_until=%v", saved.FailedAttempts, saved.LockedUntil)
	}
}

func TestLockoutSurvivesFailedSave(t *testing.T) {
	s, store, _ := newTestService(t)
	ctx := context.Background()
	acc := mustOpen(t, s, "Asha", "Savings")
	if err := s.SetPin(ctx, acc.Number, "1234"); err != nil {
		t.Fatal(err)
	}
	s.Authenticate(ctx, acc.Number, "0000")
	s.Authenticate(ctx, acc.Number, "0000")

	store.mu.Lock()
	store.failOn = errors.New("db down")
	store.mu.Unlock()
	_, err := s.Authenticate(ctx, acc.Number, "0000")
	var locked *ledger.LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("err=%v", err)
	}
}
