package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
	"saldo/internal/ledger"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "saldo.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func may(d int) time.Time { return time.Date(2025, time.May, d, 9, 30, 0, 0, time.UTC) }

func TestRepositoryTransactionRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	want := core.Transaction{
		ID:          "t1",
		Date:        may(3),
		Type:        core.Transfer,
		Amount:      decimal.RequireFromString("123.45"),
		AccountID:   "a1",
		ToAccountID: "a2",
		Description: "rent share",
		Category:    "Casa",
	}
	if err := repo.CreateTransaction(ctx, want); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetTransaction(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Date.Equal(want.Date) || !got.Amount.Equal(want.Amount) || got.ToAccountID != "a2" || got.Category != "Casa" {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}

	// Destination side is part of the account's history
	list, err := repo.ListTransactions(ctx, ledger.Query{AccountID: "a2"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 transaction for destination, got %d", len(list))
	}

	if err := repo.CreateTransaction(ctx, want); !errors.Is(err, core.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists for duplicate id, got %v", err)
	}
}

func TestRepositoryDateRange(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	late := time.Date(2199, time.December, 31, 23, 0, 0, 0, time.UTC)
	tx := core.Transaction{ID: "late", Date: late, Type: core.Income, Amount: decimal.NewFromInt(1), AccountID: "a1"}
	if err := repo.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := repo.ListTransactions(ctx, ledger.Query{AccountID: "a1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || !got[0].Date.Equal(late) {
		t.Fatalf("round trip = %+v, want date %s", got, late)
	}

	tests := []struct {
		name string
		date time.Time
	}{
		{"after 2199", time.Date(2300, time.January, 1, 0, 0, 0, 0, time.UTC)},
		{"before 1900", time.Date(1650, time.June, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := core.Transaction{ID: "x", Date: tt.date, Type: core.Income, Amount: decimal.NewFromInt(1), AccountID: "a1"}
			if err := repo.CreateTransaction(ctx, tx); !errors.Is(err, core.ErrDateOutOfRange) {
				t.Errorf("transaction: got %v, want ErrDateOutOfRange", err)
			}
			snap := core.BalanceSnapshot{ID: "s", AccountID: "a1", Date: tt.date, Amount: decimal.NewFromInt(1)}
			if err := repo.CreateSnapshot(ctx, snap); !errors.Is(err, core.ErrDateOutOfRange) {
				t.Errorf("snapshot: got %v, want ErrDateOutOfRange", err)
			}
		})
	}
}

func TestRepositoryListTransactionsWindow(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	for i, d := range []int{1, 2, 3, 4} {
		tx := core.Transaction{
			ID:        string(rune('a' + i)),
			Date:      may(d),
			Type:      core.Expense,
			Amount:    decimal.NewFromInt(int64(d)),
			AccountID: "a1",
		}
		if err := repo.CreateTransaction(ctx, tx); err != nil {
			t.Fatalf("create %d: %v", d, err)
		}
	}

	got, err := repo.ListTransactions(ctx, ledger.Query{AccountID: "a1", From: may(2), To: may(4)})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
		t.Fatalf("unexpected window %+v", got)
	}
}

func TestRepositoryRevisionAndSyncQueue(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	rev, err := repo.Revision(ctx)
	if err != nil || rev != 0 {
		t.Fatalf("expected fresh revision 0, got %d (%v)", rev, err)
	}

	if err := repo.SaveAccount(ctx, core.Account{ID: "cc", Type: core.Credit, DebitMethod: core.Invoice}); err != nil {
		t.Fatalf("save account: %v", err)
	}
	snap := core.BalanceSnapshot{ID: "s1", AccountID: "cc", Date: may(1), Amount: decimal.RequireFromString("-50.10")}
	if err := repo.CreateSnapshot(ctx, snap); err != nil {
		t.Fatalf("create snapshot: %v", err)
	}
	// A rejected duplicate leaves revision and queue untouched.
	if err := repo.CreateSnapshot(ctx, snap); !errors.Is(err, core.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if _, err := repo.DeleteSnapshot(ctx, "s1"); err != nil {
		t.Fatalf("delete snapshot: %v", err)
	}
	if _, err := repo.DeleteSnapshot(ctx, "s1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	rev, _ = repo.Revision(ctx)
	if rev != 3 {
		t.Fatalf("expected revision 3, got %d", rev)
	}

	items, err := repo.PendingSync(ctx, 10, 3)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 queued changes, got %d", len(items))
	}
	if items[2].Kind != EntitySnapshot || items[2].Op != OpDelete || items[2].Revision != 3 {
		t.Fatalf("unexpected last item %+v", items[2])
	}

	if err := repo.MarkSynced(ctx, EntitySnapshot, "s1", 3); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	if err := repo.MarkSyncError(ctx, items[0].ID); err != nil {
		t.Fatalf("mark error: %v", err)
	}
	items, _ = repo.PendingSync(ctx, 10, 1)
	if len(items) != 0 {
		t.Fatalf("expected exhausted retries to be skipped, got %+v", items)
	}

	accounts, _ := repo.ListAccounts(ctx)
	if len(accounts) != 1 || accounts[0].DebitMethod != core.Invoice {
		t.Fatalf("unexpected accounts %+v", accounts)
	}
}

func TestMigrationVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saldo.db")
	if err := RunMigrations(path); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	v, dirty, err := MigrationVersion(path)
	if err != nil || dirty || v != 1 {
		t.Fatalf("expected clean version 1, got %d dirty=%v err=%v", v, dirty, err)
	}
}
