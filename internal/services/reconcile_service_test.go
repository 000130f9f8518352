package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"

	"saldo/internal/cache"
	"saldo/internal/core"
	"saldo/internal/ledger"
	"saldo/internal/ledger/memory"
	"saldo/internal/reconcile"
)

// countingStore counts transaction listings to observe cache hits.
type countingStore struct {
	*memory.Store
	lists atomic.Int32
}

func (c *countingStore) ListTransactions(ctx context.Context, q ledger.Query) ([]core.Transaction, error) {
	c.lists.Add(1)
	return c.Store.ListTransactions(ctx, q)
}

// gatedStore holds snapshot listings until release is closed, then fails
// them if their context was cancelled meanwhile.
type gatedStore struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedStore) ListSnapshots(ctx context.Context, accountID string) ([]core.BalanceSnapshot, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.Store.ListSnapshots(ctx, accountID)
}

func day(d int, h int) time.Time {
	return time.Date(2024, time.March, d, h, 0, 0, 0, time.UTC)
}

func fixtureStore() *memory.Store {
	accounts := []core.Account{
		{ID: "cash", Type: core.Cash},
		{ID: "card", Type: core.Credit, DebitMethod: core.Invoice},
	}
	txs := []core.Transaction{
		// Before the March window but after the anchor.
		{ID: "gap", Date: time.Date(2024, time.February, 20, 12, 0, 0, 0, time.UTC), Type: core.Income, Amount: decimal.NewFromInt(50), AccountID: "cash"},
		{ID: "t1", Date: day(2, 9), Type: core.Expense, Amount: decimal.NewFromInt(20), AccountID: "cash"},
		{ID: "t2", Date: day(2, 18), Type: core.Income, Amount: decimal.NewFromInt(100), AccountID: "cash"},
		{ID: "t3", Date: day(5, 10), Type: core.Transfer, Amount: decimal.NewFromInt(30), AccountID: "cash", ToAccountID: "card"},
	}
	snaps := []core.BalanceSnapshot{
		{ID: "anchor", AccountID: "cash", Date: time.Date(2024, time.February, 10, 0, 0, 0, 0, time.UTC), Amount: decimal.NewFromInt(200)},
		{ID: "check", AccountID: "cash", Date: day(3, 0), Amount: decimal.NewFromInt(300)},
	}
	return memory.New(accounts, txs, snaps)
}

func TestAccountLedgerUsesGapAnchor(t *testing.T) {
	svc := NewReconcileService(fixtureStore(), nil, nil)
	w := MonthWindow(day(15, 0))

	l, err := svc.AccountLedger(context.Background(), "cash", w, time.UTC)
	if err != nil {
		t.Fatalf("AccountLedger: %v", err)
	}

	// 200 anchor + 50 gap - 20 + 100
	if got := l.BalanceAfter["t2"]; !got.Equal(decimal.NewFromInt(330)) {
		t.Errorf("balance after t2 = %s, want 330", got)
	}
	if len(l.Divergences) != 1 || l.Divergences[0].ID != "divergence-check" {
		t.Fatalf("divergences = %+v", l.Divergences)
	}
	if !l.Divergences[0].Amount.Equal(decimal.NewFromInt(30)) {
		t.Errorf("divergence amount = %s, want 30", l.Divergences[0].Amount)
	}
	// Snapshot resets the balance before the transfer.
	if got := l.BalanceAfter["t3"]; !got.Equal(decimal.NewFromInt(270)) {
		t.Errorf("balance after t3 = %s, want 270", got)
	}
	if len(l.Months) != 1 || len(l.Months[0].Days) != 3 {
		t.Fatalf("unexpected grouping: %+v", l.Months)
	}
	if _, ok := l.BalanceAfter["gap"]; ok {
		t.Errorf("gap transaction must not appear in the window")
	}
}

func TestAccountLedgerCachesByRevision(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: fixtureStore()}
	svc := NewReconcileService(store, cache.NewLRUCache[reconcile.Ledger](8, time.Minute), nil)
	w := MonthWindow(day(1, 0))

	if _, err := svc.AccountLedger(ctx, "cash", w, time.UTC); err != nil {
		t.Fatalf("first call: %v", err)
	}
	first := store.lists.Load()
	if _, err := svc.AccountLedger(ctx, "cash", w, time.UTC); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if store.lists.Load() != first {
		t.Errorf("expected cached result, store was queried again")
	}

	tx := core.Transaction{ID: "t4", Date: day(6, 0), Type: core.Expense, Amount: decimal.NewFromInt(5), AccountID: "cash"}
	if err := store.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("create: %v", err)
	}
	l, err := svc.AccountLedger(ctx, "cash", w, time.UTC)
	if err != nil {
		t.Fatalf("third call: %v", err)
	}
	if store.lists.Load() == first {
		t.Errorf("expected recomputation after write")
	}
	if _, ok := l.BalanceAfter["t4"]; !ok {
		t.Errorf("new transaction missing from ledger")
	}
}

func TestAccountLedgerCacheHitsAreCopies(t *testing.T) {
	ctx := context.Background()
	svc := NewReconcileService(fixtureStore(), cache.NewLRUCache[reconcile.Ledger](8, time.Minute), nil)
	w := MonthWindow(day(1, 0))

	first, err := svc.AccountLedger(ctx, "cash", w, time.UTC)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	first.BalanceAfter["t2"] = decimal.Zero
	first.Divergences[0].ID = "edited"

	second, err := svc.AccountLedger(ctx, "cash", w, time.UTC)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !second.BalanceAfter["t2"].Equal(decimal.NewFromInt(330)) || second.Divergences[0].ID != "divergence-check" {
		t.Errorf("cached ledger was modified through a previous result")
	}
}

func TestAccountLedgerCallerCancellation(t *testing.T) {
	store := &gatedStore{Store: fixtureStore(), entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewReconcileService(store, nil, nil)
	w := MonthWindow(day(1, 0))

	// The first caller gives up while the shared computation is running.
	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.AccountLedger(ctx, "cash", w, time.UTC)
		firstErr <- err
	}()
	<-store.entered
	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("first caller: got %v, want context.Canceled", err)
	}

	// A caller with a live context still gets the ledger.
	secondErr := make(chan error, 1)
	go func() {
		l, err := svc.AccountLedger(context.Background(), "cash", w, time.UTC)
		if err == nil && !l.BalanceAfter["t2"].Equal(decimal.NewFromInt(330)) {
			err = errors.New("unexpected balance " + l.BalanceAfter["t2"].String())
		}
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(store.release)
	if err := <-secondErr; err != nil {
		t.Fatalf("second caller: %v", err)
	}
}

func TestAccountLedgerErrors(t *testing.T) {
	svc := NewReconcileService(fixtureStore(), nil, nil)
	ctx := context.Background()
	w := MonthWindow(day(1, 0))

	tests := []struct {
		name    string
		account string
		window  Window
		want    error
	}{
		{"unknown account", "nope", w, core.ErrNotFound},
		{"empty account", "", w, core.ErrEmptyAccount},
		{"inverted window", "cash", Window{From: w.To, To: w.From}, ErrInvalidWindow},
		{"zero window", "cash", Window{}, ErrInvalidWindow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AccountLedger(ctx, tt.account, tt.window, time.UTC)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAccountLedgerWithoutSnapshots(t *testing.T) {
	store := memory.New(
		[]core.Account{{ID: "cash", Type: core.Cash}},
		[]core.Transaction{{ID: "t1", Date: day(2, 0), Type: core.Income, Amount: decimal.NewFromInt(1), AccountID: "cash"}},
		nil,
	)
	svc := NewReconcileService(store, nil, nil)
	l, err := svc.AccountLedger(context.Background(), "cash", MonthWindow(day(1, 0)), time.UTC)
	if err != nil {
		t.Fatalf("AccountLedger: %v", err)
	}
	if len(l.BalanceAfter) != 0 || len(l.Divergences) != 0 {
		t.Errorf("expected empty balances, got %+v", l)
	}
	if len(l.Months) != 1 {
		t.Errorf("transactions should still be grouped, got %d months", len(l.Months))
	}
}

func TestMonthWindow(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	w := MonthWindow(time.Date(2024, time.December, 31, 23, 0, 0, 0, rome))
	if !w.From.Equal(time.Date(2024, time.December, 1, 0, 0, 0, 0, rome)) {
		t.Errorf("from = %s", w.From)
	}
	if !w.To.Equal(time.Date(2025, time.January, 1, 0, 0, 0, 0, rome)) {
		t.Errorf("to = %s", w.To)
	}
}
