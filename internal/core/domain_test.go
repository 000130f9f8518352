package core

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTransactionValidate(t *testing.T) {
	day := time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC)
	good := Transaction{ID: "t1", Date: day, Type: Expense, Amount: decimal.NewFromInt(10), AccountID: "a1"}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	transfer := Transaction{ID: "t2", Date: day, Type: Transfer, Amount: decimal.NewFromInt(10), AccountID: "a1", ToAccountID: "a2"}
	if err := transfer.Validate(); err != nil {
		t.Fatalf("expected ok transfer, got %v", err)
	}

	bads := []struct {
		tx   Transaction
		want error
	}{
		{Transaction{Date: day, Type: Expense, AccountID: "a1"}, ErrEmptyID},
		{Transaction{ID: "x", Type: Expense, AccountID: "a1"}, ErrZeroDate},
		{Transaction{ID: "x", Date: time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC), Type: Expense, AccountID: "a1"}, ErrDateOutOfRange},
		{Transaction{ID: "x", Date: time.Date(1899, 12, 31, 23, 0, 0, 0, time.UTC), Type: Expense, AccountID: "a1"}, ErrDateOutOfRange},
		{Transaction{ID: "x", Date: day, Type: "REFUND", AccountID: "a1"}, ErrInvalidType},
		{Transaction{ID: "x", Date: day, Type: Income, Amount: decimal.NewFromInt(-1), AccountID: "a1"}, ErrInvalidAmount},
		{Transaction{ID: "x", Date: day, Type: Income}, ErrEmptyAccount},
		{Transaction{ID: "x", Date: day, Type: Transfer, AccountID: "a1"}, ErrMissingDestination},
		{Transaction{ID: "x", Date: day, Type: Expense, AccountID: "a1", ToAccountID: "a2"}, ErrUnexpectedToAccount},
	}
	for i, tc := range bads {
		err := tc.tx.Validate()
		if !errors.Is(err, tc.want) {
			t.Fatalf("case %d expected %v, got %v", i, tc.want, err)
		}
		if !IsValidationError(err) {
			t.Fatalf("case %d: %v should be a validation error", i, err)
		}
	}
}

func TestAccountValidate(t *testing.T) {
	cases := []struct {
		acc Account
		ok  bool
	}{
		{Account{ID: "a", Type: Cash}, true},
		{Account{ID: "a", Type: Credit, DebitMethod: Invoice}, true},
		{Account{ID: "a", Type: Credit, DebitMethod: PerPurchase}, true},
		{Account{ID: "a", Type: Credit}, true},
		{Account{ID: "a", Type: Prepaid, DebitMethod: Invoice}, false},
		{Account{ID: "a", Type: Credit, DebitMethod: "MONTHLY"}, false},
		{Account{ID: "a", Type: "SAVINGS"}, false},
		{Account{Type: Cash}, false},
	}
	for i, tc := range cases {
		err := tc.acc.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestSnapshotValidate(t *testing.T) {
	ok := BalanceSnapshot{ID: "s", AccountID: "a", Date: time.Now(), Amount: decimal.NewFromInt(-20)}
	if err := ok.Validate(); err != nil {
		t.Fatalf("negative balances are allowed, got %v", err)
	}
	if err := (BalanceSnapshot{ID: "s", AccountID: "a"}).Validate(); !errors.Is(err, ErrZeroDate) {
		t.Fatalf("expected ErrZeroDate, got %v", err)
	}
	late := BalanceSnapshot{ID: "s", AccountID: "a", Date: time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC)}
	if err := late.Validate(); !errors.Is(err, ErrDateOutOfRange) {
		t.Fatalf("expected ErrDateOutOfRange, got %v", err)
	}
	edge := BalanceSnapshot{ID: "s", AccountID: "a", Date: time.Date(2199, 12, 31, 23, 59, 0, 0, time.UTC)}
	if err := edge.Validate(); err != nil {
		t.Fatalf("last valid day rejected: %v", err)
	}
}

func TestTouches(t *testing.T) {
	tx := Transaction{AccountID: "a", ToAccountID: "b"}
	if !tx.Touches("a") || !tx.Touches("b") || tx.Touches("c") {
		t.Fatalf("unexpected Touches result")
	}
	if (Transaction{AccountID: "a"}).Touches("") {
		t.Fatalf("empty account id must not match a missing destination")
	}
}
