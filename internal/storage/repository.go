package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"saldo/internal/core"
	"saldo/internal/ledger"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var _ ledger.Store = (*SQLiteRepository)(nil)

// Sync queue vocabulary.
const (
	EntityAccount     = "account"
	EntityTransaction = "transaction"
	EntitySnapshot    = "snapshot"

	OpUpsert = "upsert"
	OpDelete = "delete"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer keeps revision bumps serialized
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// ListAccounts implements ledger.AccountReader
func (r *SQLiteRepository) ListAccounts(ctx context.Context) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, type, debit_method FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]core.Account, 0)
	for rows.Next() {
		var (
			a                core.Account
			typ, debitMethod string
		)
		if err := rows.Scan(&a.ID, &a.Name, &typ, &debitMethod); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.Type = core.AccountType(typ)
		a.DebitMethod = core.DebitMethod(debitMethod)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// SaveAccount implements ledger.AccountWriter
func (r *SQLiteRepository) SaveAccount(ctx context.Context, a core.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	return r.write(ctx, EntityAccount, a.ID, OpUpsert, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (id, name, type, debit_method) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				type = excluded.type,
				debit_method = excluded.debit_method,
				updated_at = CURRENT_TIMESTAMP`,
			a.ID, a.Name, string(a.Type), string(a.DebitMethod))
		return err
	})
}

const transactionColumns = `id, occurred_at, type, amount_cents, account_id, to_account_id, description, category`

// ListTransactions implements ledger.TransactionReader
func (r *SQLiteRepository) ListTransactions(ctx context.Context, q ledger.Query) ([]core.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if q.AccountID != "" {
		where = append(where, `(account_id = ? OR to_account_id = ?)`)
		args = append(args, q.AccountID, q.AccountID)
	}
	if !q.From.IsZero() {
		where = append(where, `occurred_at >= ?`)
		args = append(args, q.From.UnixNano())
	}
	if !q.To.IsZero() {
		where = append(where, `occurred_at < ?`)
		args = append(args, q.To.UnixNano())
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY occurred_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]core.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// GetTransaction retrieves a single transaction by id.
func (r *SQLiteRepository) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	return t, err
}

// CreateTransaction implements ledger.TransactionWriter
func (r *SQLiteRepository) CreateTransaction(ctx context.Context, t core.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	err := r.write(ctx, EntityTransaction, t.ID, OpUpsert, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO transactions (`+transactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Date.UnixNano(), string(t.Type), core.ToCents(t.Amount),
			t.AccountID, t.ToAccountID, t.Description, t.Category)
		return duplicate(err, EntityTransaction, t.ID)
	})
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved to SQLite",
		"id", t.ID,
		"type", t.Type,
		"account_id", t.AccountID,
		"amount", t.Amount.StringFixed(2))
	return nil
}

// DeleteTransaction implements ledger.TransactionWriter
func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, id string) (core.Transaction, error) {
	t, err := r.GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, err
	}
	err = r.write(ctx, EntityTransaction, id, OpDelete, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("delete transaction: %w", err)
	}
	return t, nil
}

const snapshotColumns = `id, account_id, taken_at, amount_cents`

// ListSnapshots implements ledger.SnapshotReader
func (r *SQLiteRepository) ListSnapshots(ctx context.Context, accountID string) ([]core.BalanceSnapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM balance_snapshots WHERE account_id = ? ORDER BY taken_at, id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	snaps := make([]core.BalanceSnapshot, 0)
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

// GetSnapshot retrieves a single snapshot by id.
func (r *SQLiteRepository) GetSnapshot(ctx context.Context, id string) (core.BalanceSnapshot, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+snapshotColumns+` FROM balance_snapshots WHERE id = ?`, id)
	s, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BalanceSnapshot{}, fmt.Errorf("snapshot %s: %w", id, core.ErrNotFound)
	}
	return s, err
}

// CreateSnapshot implements ledger.SnapshotWriter
func (r *SQLiteRepository) CreateSnapshot(ctx context.Context, s core.BalanceSnapshot) error {
	if err := s.Validate(); err != nil {
		return err
	}
	err := r.write(ctx, EntitySnapshot, s.ID, OpUpsert, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO balance_snapshots (`+snapshotColumns+`) VALUES (?, ?, ?, ?)`,
			s.ID, s.AccountID, s.Date.UnixNano(), core.ToCents(s.Amount))
		return duplicate(err, EntitySnapshot, s.ID)
	})
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}

	slog.InfoContext(ctx, "Snapshot saved to SQLite",
		"id", s.ID,
		"account_id", s.AccountID,
		"amount", s.Amount.StringFixed(2))
	return nil
}

// DeleteSnapshot implements ledger.SnapshotWriter
func (r *SQLiteRepository) DeleteSnapshot(ctx context.Context, id string) (core.BalanceSnapshot, error) {
	s, err := r.GetSnapshot(ctx, id)
	if err != nil {
		return core.BalanceSnapshot{}, err
	}
	err = r.write(ctx, EntitySnapshot, id, OpDelete, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM balance_snapshots WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return core.BalanceSnapshot{}, fmt.Errorf("delete snapshot: %w", err)
	}
	return s, nil
}

// Revision implements ledger.RevisionReader
func (r *SQLiteRepository) Revision(ctx context.Context) (int64, error) {
	var rev int64
	if err := r.db.QueryRowContext(ctx, `SELECT revision FROM ledger_revision WHERE id = 1`).Scan(&rev); err != nil {
		return 0, fmt.Errorf("read revision: %w", err)
	}
	return rev, nil
}

// write runs fn in a transaction that also bumps the ledger revision and
// enqueues the change for the sheets mirror.
func (r *SQLiteRepository) write(ctx context.Context, kind, id, op string, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	var rev int64
	if err := tx.QueryRowContext(ctx,
		`UPDATE ledger_revision SET revision = revision + 1 WHERE id = 1 RETURNING revision`).Scan(&rev); err != nil {
		return fmt.Errorf("bump revision: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sync_queue (entity_kind, entity_id, op, revision) VALUES (?, ?, ?, ?)`,
		kind, id, op, rev); err != nil {
		return fmt.Errorf("enqueue sync: %w", err)
	}
	return tx.Commit()
}

// SyncItem is one pending change waiting to be mirrored.
type SyncItem struct {
	ID        int64
	Kind      string
	EntityID  string
	Op        string
	Attempts  int
	Revision  int64
	CreatedAt time.Time
}

// PendingSync returns the oldest pending and retryable failed items.
func (r *SQLiteRepository) PendingSync(ctx context.Context, limit int, maxAttempts int) ([]SyncItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, entity_kind, entity_id, op, attempts, revision, created_at
		FROM sync_queue
		WHERE status = 'pending' OR (status = 'error' AND attempts < ?)
		ORDER BY id
		LIMIT ?`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending sync: %w", err)
	}
	defer rows.Close()

	items := make([]SyncItem, 0)
	for rows.Next() {
		var (
			it      SyncItem
			created sql.NullTime
		)
		if err := rows.Scan(&it.ID, &it.Kind, &it.EntityID, &it.Op, &it.Attempts, &it.Revision, &created); err != nil {
			return nil, fmt.Errorf("scan sync item: %w", err)
		}
		it.CreatedAt = created.Time
		items = append(items, it)
	}
	return items, rows.Err()
}

// MarkSynced marks every queued change of the entity up to revision as synced.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, kind, entityID string, revision int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = 'synced', updated_at = CURRENT_TIMESTAMP
		WHERE entity_kind = ? AND entity_id = ? AND revision <= ?`, kind, entityID, revision)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	slog.InfoContext(ctx, "Change marked as synced", "kind", kind, "entity_id", entityID, "revision", revision)
	return nil
}

// MarkSyncError records a failed mirror attempt.
func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = 'error', attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark sync error: %w", err)
	}
	slog.WarnContext(ctx, "Change marked with sync error", "id", id)
	return nil
}

// CleanupSynced deletes synced queue items last touched before cutoff.
func (r *SQLiteRepository) CleanupSynced(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE status = 'synced' AND updated_at < ?`,
		cutoff.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, fmt.Errorf("cleanup synced: %w", err)
	}
	return res.RowsAffected()
}

// duplicate turns a primary key violation into core.ErrAlreadyExists.
func duplicate(err error, kind, id string) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			(code == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE constraint failed")) {
			return fmt.Errorf("%s %s: %w", kind, id, core.ErrAlreadyExists)
		}
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (core.Transaction, error) {
	var (
		t          core.Transaction
		occurredAt int64
		typ        string
		cents      int64
	)
	if err := s.Scan(&t.ID, &occurredAt, &typ, &cents, &t.AccountID, &t.ToAccountID, &t.Description, &t.Category); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("scan transaction: %w", err)
	}
	t.Date = time.Unix(0, occurredAt).UTC()
	t.Type = core.TransactionType(typ)
	t.Amount = core.FromCents(cents)
	return t, nil
}

func scanSnapshot(s scanner) (core.BalanceSnapshot, error) {
	var (
		snap    core.BalanceSnapshot
		takenAt int64
		cents   int64
	)
	if err := s.Scan(&snap.ID, &snap.AccountID, &takenAt, &cents); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return snap, err
		}
		return snap, fmt.Errorf("scan snapshot: %w", err)
	}
	snap.Date = time.Unix(0, takenAt).UTC()
	snap.Amount = core.FromCents(cents)
	return snap, nil
}
