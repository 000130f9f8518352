package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	goption "google.golang.org/api/option"

	"saldo/internal/core"
	"saldo/internal/ledger"
)

// fakeSheets implements the subset of the Sheets values API the client uses.
type fakeSheets struct {
	mu    sync.Mutex
	tabs  map[string][][]any
	reads int
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, rest, ok := strings.Cut(r.URL.Path, "/values/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	action := ""
	if i := strings.LastIndex(rest, ":"); i > 0 && !strings.ContainsAny(rest[i+1:], "0123456789") && strings.Count(rest, ":") > 1 {
		rest, action = rest[:i], rest[i+1:]
	}
	tab, cells, _ := strings.Cut(rest, "!")

	switch {
	case r.Method == http.MethodGet:
		f.reads++
		json.NewEncoder(w).Encode(map[string]any{"range": rest, "majorDimension": "ROWS", "values": f.tabs[tab]})
	case action == "append":
		var vr struct{ Values [][]any }
		json.NewDecoder(r.Body).Decode(&vr)
		f.tabs[tab] = append(f.tabs[tab], vr.Values...)
		w.Write([]byte(`{}`))
	case action == "clear":
		f.tabs[tab][rowIndex(cells)] = []any{}
		w.Write([]byte(`{}`))
	case r.Method == http.MethodPut:
		var vr struct{ Values [][]any }
		json.NewDecoder(r.Body).Decode(&vr)
		f.tabs[tab][rowIndex(cells)] = vr.Values[0]
		w.Write([]byte(`{}`))
	default:
		http.Error(w, "unsupported", http.StatusBadRequest)
	}
}

func (f *fakeSheets) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeSheets) rowCount(tab string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tabs[tab])
}

// rowIndex turns "A3:H3" into the zero-based index 2.
func rowIndex(cells string) int {
	first, _, _ := strings.Cut(cells, ":")
	n, _ := strconv.Atoi(strings.TrimLeft(first, "ABCDEFGHIJKLMNOPQRSTUVWXYZ"))
	return n - 1
}

func newTestClient(t *testing.T, tabs map[string][][]any) (*Client, *fakeSheets) {
	t.Helper()
	fake := &fakeSheets{tabs: tabs}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), Config{SpreadsheetID: "sheet-1"},
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication(),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, fake
}

func TestNew_MissingSpreadsheetID(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for missing spreadsheet id")
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{SpreadsheetID: "x"})
	if err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Fatalf("expected credentials error, got %v", err)
	}
}

func TestClient_ReadsSkipHeaderAndBadRows(t *testing.T) {
	c, _ := newTestClient(t, map[string][][]any{
		"Accounts": {
			{"id", "name", "type", "debit_method"},
			{"a1", "Checking", "CASH"},
			{"cc", "Visa", "CREDIT", "INVOICE"},
		},
		"Transactions": {
			{"id", "date", "type", "amount", "account", "to_account"},
			{"t1", "2025-01-02T10:00:00Z", "EXPENSE", "20", "a1"},
			{"t2", "not a date", "EXPENSE", "20", "a1"},
			{"t3", "2025-01-03T10:00:00Z", "TRANSFER", "50", "a1", "cc"},
			{"t4", "2025-01-04T10:00:00Z", "INCOME", "100", "b9"},
		},
		"Snapshots": {
			{"id", "account", "date", "amount"},
			{"s1", "a1", "2025-01-01", "1000"},
			{"s2", "cc", "2025-01-01", "-80"},
		},
	})
	ctx := context.Background()

	accounts, err := c.ListAccounts(ctx)
	if err != nil || len(accounts) != 2 {
		t.Fatalf("ListAccounts() = %+v, %v", accounts, err)
	}

	txs, err := c.ListTransactions(ctx, ledger.Query{AccountID: "cc"})
	if err != nil || len(txs) != 1 || txs[0].ID != "t3" {
		t.Fatalf("ListTransactions(cc) = %+v, %v", txs, err)
	}
	txs, _ = c.ListTransactions(ctx, ledger.Query{AccountID: "a1"})
	if len(txs) != 2 {
		t.Fatalf("expected malformed row to be skipped, got %+v", txs)
	}

	snaps, err := c.ListSnapshots(ctx, "cc")
	if err != nil || len(snaps) != 1 || !snaps[0].Amount.Equal(decimal.NewFromInt(-80)) {
		t.Fatalf("ListSnapshots(cc) = %+v, %v", snaps, err)
	}
}

func TestClient_WritesInvalidateCacheAndBumpRevision(t *testing.T) {
	c, fake := newTestClient(t, map[string][][]any{
		"Transactions": {{"id", "date", "type", "amount", "account"}},
	})
	ctx := context.Background()

	if _, err := c.ListTransactions(ctx, ledger.Query{}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := c.ListTransactions(ctx, ledger.Query{}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if n := fake.readCount(); n != 1 {
		t.Fatalf("expected cached second read, got %d reads", n)
	}

	tx := core.Transaction{ID: "t1", Date: time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC), Type: core.Expense, Amount: decimal.NewFromInt(7), AccountID: "a1"}
	if err := c.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := c.CreateTransaction(ctx, tx); !errors.Is(err, core.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, _ := c.ListTransactions(ctx, ledger.Query{AccountID: "a1"})
	if len(got) != 1 || !got[0].Amount.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("expected created transaction, got %+v", got)
	}

	deleted, err := c.DeleteTransaction(ctx, "t1")
	if err != nil || deleted.ID != "t1" {
		t.Fatalf("delete = %+v, %v", deleted, err)
	}
	if _, err := c.DeleteTransaction(ctx, "t1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	rev, _ := c.Revision(ctx)
	if rev != 2 {
		t.Fatalf("expected revision 2, got %d", rev)
	}
}

func TestClient_MirrorIsIdempotent(t *testing.T) {
	c, fake := newTestClient(t, map[string][][]any{
		"Snapshots": {{"id", "account", "date", "amount"}},
	})
	ctx := context.Background()

	snap := core.BalanceSnapshot{ID: "s1", AccountID: "a1", Date: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), Amount: decimal.NewFromInt(10)}
	for i := 0; i < 2; i++ {
		if err := c.MirrorSnapshot(ctx, snap); err != nil {
			t.Fatalf("mirror %d: %v", i, err)
		}
	}
	if n := fake.rowCount("Snapshots"); n != 2 {
		t.Fatalf("expected header plus one row, got %d rows", n)
	}

	snap.Amount = decimal.NewFromInt(12)
	if err := c.MirrorSnapshot(ctx, snap); err != nil {
		t.Fatalf("mirror update: %v", err)
	}
	got, _ := c.ListSnapshots(ctx, "a1")
	if len(got) != 1 || !got[0].Amount.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("expected updated snapshot, got %+v", got)
	}

	if err := c.MirrorDelete(ctx, "snapshot", "s1"); err != nil {
		t.Fatalf("mirror delete: %v", err)
	}
	if err := c.MirrorDelete(ctx, "snapshot", "s1"); err != nil {
		t.Fatalf("second mirror delete should be a no-op, got %v", err)
	}
	if err := c.MirrorDelete(ctx, "expense", "s1"); err == nil {
		t.Fatal("expected unknown entity error")
	}
}
