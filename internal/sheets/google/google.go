// Package google stores the ledger in a Google Sheets spreadsheet with one
// tab per entity, and mirrors SQLite writes into it.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"saldo/internal/cache"
	"saldo/internal/core"
	"saldo/internal/ledger"
)

var _ ledger.Store = (*Client)(nil)

const rowCacheTTL = 30 * time.Second

type Config struct {
	SpreadsheetID     string
	AccountsSheet     string
	TransactionsSheet string
	SnapshotsSheet    string
	// Service account credentials, inline JSON wins over the file.
	CredentialsJSON string
	CredentialsFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	accounts      sheetLayout
	transactions  sheetLayout
	snapshots     sheetLayout

	// rows caches whole tabs keyed by sheet name.
	rows *cache.LRUCache[[][]string]
	// mu serializes writes so row lookups and appends do not interleave.
	mu       sync.Mutex
	revision atomic.Int64
}

type sheetLayout struct {
	name    string
	lastCol string
}

func (l sheetLayout) fullRange() string {
	return fmt.Sprintf("%s!A:%s", l.name, l.lastCol)
}

func (l sheetLayout) rowRange(n int) string {
	return fmt.Sprintf("%s!A%d:%s%d", l.name, n, l.lastCol, n)
}

// New builds a client from cfg. Extra options replace the service account
// credentials, which lets tests point the client at a fake endpoint.
func New(ctx context.Context, cfg Config, opts ...goption.ClientOption) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if len(opts) == 0 {
		creds, err := credentials(ctx, cfg)
		if err != nil {
			return nil, err
		}
		opts = []goption.ClientOption{
			goption.WithCredentialsJSON(creds),
			goption.WithScopes(gsheet.SpreadsheetsScope),
		}
	}

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		accounts:      sheetLayout{name: orDefault(cfg.AccountsSheet, "Accounts"), lastCol: "D"},
		transactions:  sheetLayout{name: orDefault(cfg.TransactionsSheet, "Transactions"), lastCol: "H"},
		snapshots:     sheetLayout{name: orDefault(cfg.SnapshotsSheet, "Snapshots"), lastCol: "D"},
		rows:          cache.NewLRUCache[[][]string](8, rowCacheTTL),
	}, nil
}

// NewFromEnv reads the spreadsheet settings from the GOOGLE_* variables.
func NewFromEnv(ctx context.Context) (*Client, error) {
	return New(ctx, Config{
		SpreadsheetID:     strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID")),
		AccountsSheet:     strings.TrimSpace(os.Getenv("GOOGLE_ACCOUNTS_SHEET")),
		TransactionsSheet: strings.TrimSpace(os.Getenv("GOOGLE_TRANSACTIONS_SHEET")),
		SnapshotsSheet:    strings.TrimSpace(os.Getenv("GOOGLE_SNAPSHOTS_SHEET")),
		CredentialsJSON:   strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON")),
		CredentialsFile:   strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE")),
	})
}

func credentials(ctx context.Context, cfg Config) ([]byte, error) {
	switch {
	case cfg.CredentialsJSON != "":
		slog.InfoContext(ctx, "Using inline service account credentials")
		return []byte(cfg.CredentialsJSON), nil
	case cfg.CredentialsFile != "":
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		slog.InfoContext(ctx, "Read service account credentials", "path", cfg.CredentialsFile, "size", len(b))
		return b, nil
	}
	return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

// ListAccounts implements ledger.AccountReader
func (c *Client) ListAccounts(ctx context.Context) ([]core.Account, error) {
	rows, err := c.readRows(ctx, c.accounts)
	if err != nil {
		return nil, err
	}
	out := make([]core.Account, 0, len(rows))
	for i, row := range rows {
		a, ok := parseAccountRow(row)
		if !ok {
			logSkippedRow(ctx, c.accounts.name, i+1)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// ListTransactions implements ledger.TransactionReader
func (c *Client) ListTransactions(ctx context.Context, q ledger.Query) ([]core.Transaction, error) {
	rows, err := c.readRows(ctx, c.transactions)
	if err != nil {
		return nil, err
	}
	out := make([]core.Transaction, 0)
	for i, row := range rows {
		tx, ok := parseTransactionRow(row)
		if !ok {
			logSkippedRow(ctx, c.transactions.name, i+1)
			continue
		}
		if q.Matches(tx) {
			out = append(out, tx)
		}
	}
	return out, nil
}

// ListSnapshots implements ledger.SnapshotReader
func (c *Client) ListSnapshots(ctx context.Context, accountID string) ([]core.BalanceSnapshot, error) {
	rows, err := c.readRows(ctx, c.snapshots)
	if err != nil {
		return nil, err
	}
	out := make([]core.BalanceSnapshot, 0)
	for i, row := range rows {
		s, ok := parseSnapshotRow(row)
		if !ok {
			logSkippedRow(ctx, c.snapshots.name, i+1)
			continue
		}
		if s.AccountID == accountID {
			out = append(out, s)
		}
	}
	return out, nil
}

// Revision counts the writes made through this client. Edits made directly
// in the spreadsheet are picked up once the row cache expires.
func (c *Client) Revision(context.Context) (int64, error) {
	return c.revision.Load(), nil
}

// SaveAccount implements ledger.AccountWriter
func (c *Client) SaveAccount(ctx context.Context, a core.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	return c.upsert(ctx, c.accounts, a.ID, accountRow(a))
}

// CreateTransaction implements ledger.TransactionWriter
func (c *Client) CreateTransaction(ctx context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return c.insert(ctx, c.transactions, tx.ID, transactionRow(tx))
}

// DeleteTransaction implements ledger.TransactionWriter
func (c *Client) DeleteTransaction(ctx context.Context, id string) (core.Transaction, error) {
	var deleted core.Transaction
	err := c.remove(ctx, c.transactions, id, func(row []string) {
		deleted, _ = parseTransactionRow(row)
	})
	return deleted, err
}

// CreateSnapshot implements ledger.SnapshotWriter
func (c *Client) CreateSnapshot(ctx context.Context, s core.BalanceSnapshot) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return c.insert(ctx, c.snapshots, s.ID, snapshotRow(s))
}

// DeleteSnapshot implements ledger.SnapshotWriter
func (c *Client) DeleteSnapshot(ctx context.Context, id string) (core.BalanceSnapshot, error) {
	var deleted core.BalanceSnapshot
	err := c.remove(ctx, c.snapshots, id, func(row []string) {
		deleted, _ = parseSnapshotRow(row)
	})
	return deleted, err
}

// Mirror operations. They are idempotent so redelivered messages are harmless.

func (c *Client) MirrorAccount(ctx context.Context, a core.Account) error {
	return c.upsert(ctx, c.accounts, a.ID, accountRow(a))
}

func (c *Client) MirrorTransaction(ctx context.Context, tx core.Transaction) error {
	return c.upsert(ctx, c.transactions, tx.ID, transactionRow(tx))
}

func (c *Client) MirrorSnapshot(ctx context.Context, s core.BalanceSnapshot) error {
	return c.upsert(ctx, c.snapshots, s.ID, snapshotRow(s))
}

// MirrorDelete clears the row of the given entity, if any.
func (c *Client) MirrorDelete(ctx context.Context, entity, id string) error {
	layout, err := c.layoutFor(entity)
	if err != nil {
		return err
	}
	err = c.remove(ctx, layout, id, nil)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	return err
}

func (c *Client) layoutFor(entity string) (sheetLayout, error) {
	switch entity {
	case "account":
		return c.accounts, nil
	case "transaction":
		return c.transactions, nil
	case "snapshot":
		return c.snapshots, nil
	}
	return sheetLayout{}, fmt.Errorf("unknown entity %q", entity)
}

func (c *Client) insert(ctx context.Context, l sheetLayout, id string, row []any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.readRows(ctx, l)
	if err != nil {
		return err
	}
	if findRow(rows, id) > 0 {
		return fmt.Errorf("%s %s: %w", strings.ToLower(l.name), id, core.ErrAlreadyExists)
	}
	return c.appendRow(ctx, l, row)
}

func (c *Client) upsert(ctx context.Context, l sheetLayout, id string, row []any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.readRows(ctx, l)
	if err != nil {
		return err
	}
	n := findRow(rows, id)
	if n == 0 {
		return c.appendRow(ctx, l, row)
	}

	vr := &gsheet.ValueRange{Values: [][]any{row}}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, l.rowRange(n), vr).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("update %s: %w", l.rowRange(n), err)
	}
	c.wrote(l)
	return nil
}

func (c *Client) remove(ctx context.Context, l sheetLayout, id string, found func([]string)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.readRows(ctx, l)
	if err != nil {
		return err
	}
	n := findRow(rows, id)
	if n == 0 {
		return fmt.Errorf("%s %s: %w", strings.ToLower(l.name), id, core.ErrNotFound)
	}
	if found != nil {
		found(rows[n-1])
	}

	// Clearing keeps the row numbers of later entries stable
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, l.rowRange(n), &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", l.rowRange(n), err)
	}
	c.wrote(l)
	return nil
}

func (c *Client) appendRow(ctx context.Context, l sheetLayout, row []any) error {
	vr := &gsheet.ValueRange{Values: [][]any{row}}
	if _, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, l.fullRange(), vr).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do(); err != nil {
		return fmt.Errorf("append to %s: %w", l.name, err)
	}
	c.wrote(l)
	return nil
}

func (c *Client) wrote(l sheetLayout) {
	c.rows.Delete(l.name)
	c.revision.Add(1)
}

// readRows returns every row of the tab as trimmed strings, header included.
func (c *Client) readRows(ctx context.Context, l sheetLayout) ([][]string, error) {
	if rows, ok := c.rows.Get(l.name); ok {
		return rows, nil
	}
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, l.fullRange()).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", l.fullRange(), err)
	}
	rows := make([][]string, len(resp.Values))
	for i, r := range resp.Values {
		rows[i] = toStrings(r)
	}
	c.rows.Set(l.name, rows)
	return rows, nil
}

// findRow returns the 1-based sheet row holding id, or 0.
func findRow(rows [][]string, id string) int {
	for i, row := range rows {
		if len(row) > 0 && row[0] == id {
			return i + 1
		}
	}
	return 0
}

func logSkippedRow(ctx context.Context, sheet string, row int) {
	slog.DebugContext(ctx, "Skipping unparseable row", "sheet", sheet, "row", row)
}
