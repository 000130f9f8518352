package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"saldo/internal/core"
	"saldo/internal/ledger"
)

var _ ledger.Store = (*Store)(nil)

type Store struct {
	mu        sync.Mutex
	accounts  []core.Account
	txs       []core.Transaction
	snapshots []core.BalanceSnapshot
	revision  int64
}

func New(accounts []core.Account, txs []core.Transaction, snapshots []core.BalanceSnapshot) *Store {
	return &Store{
		accounts:  slices.Clone(accounts),
		txs:       slices.Clone(txs),
		snapshots: slices.Clone(snapshots),
	}
}

// NewFromFiles seeds the store from accounts.json, transactions.json and
// snapshots.json in base. Missing or malformed files are skipped.
func NewFromFiles(base string) *Store {
	var (
		accounts  []core.Account
		txs       []core.Transaction
		snapshots []core.BalanceSnapshot
	)
	readJSON(filepath.Join(base, "accounts.json"), &accounts)
	readJSON(filepath.Join(base, "transactions.json"), &txs)
	readJSON(filepath.Join(base, "snapshots.json"), &snapshots)
	return New(accounts, txs, snapshots)
}

func (s *Store) ListTransactions(_ context.Context, q ledger.Query) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Transaction, 0)
	for _, tx := range s.txs {
		if q.Matches(tx) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *Store) ListSnapshots(_ context.Context, accountID string) ([]core.BalanceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.BalanceSnapshot, 0)
	for _, snap := range s.snapshots {
		if snap.AccountID == accountID {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.accounts), nil
}

func (s *Store) Revision(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision, nil
}

func (s *Store) CreateTransaction(_ context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.ContainsFunc(s.txs, func(t core.Transaction) bool { return t.ID == tx.ID }) {
		return fmt.Errorf("transaction %s: %w", tx.ID, core.ErrAlreadyExists)
	}
	s.txs = append(s.txs, tx)
	s.revision++
	return nil
}

func (s *Store) DeleteTransaction(_ context.Context, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.txs, func(t core.Transaction) bool { return t.ID == id })
	if i < 0 {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	tx := s.txs[i]
	s.txs = slices.Delete(s.txs, i, i+1)
	s.revision++
	return tx, nil
}

func (s *Store) CreateSnapshot(_ context.Context, snap core.BalanceSnapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.ContainsFunc(s.snapshots, func(o core.BalanceSnapshot) bool { return o.ID == snap.ID }) {
		return fmt.Errorf("snapshot %s: %w", snap.ID, core.ErrAlreadyExists)
	}
	s.snapshots = append(s.snapshots, snap)
	s.revision++
	return nil
}

func (s *Store) DeleteSnapshot(_ context.Context, id string) (core.BalanceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.snapshots, func(o core.BalanceSnapshot) bool { return o.ID == id })
	if i < 0 {
		return core.BalanceSnapshot{}, fmt.Errorf("snapshot %s: %w", id, core.ErrNotFound)
	}
	snap := s.snapshots[i]
	s.snapshots = slices.Delete(s.snapshots, i, i+1)
	s.revision++
	return snap, nil
}

// SaveAccount inserts or replaces the account with the same id.
func (s *Store) SaveAccount(_ context.Context, a core.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := slices.IndexFunc(s.accounts, func(o core.Account) bool { return o.ID == a.ID }); i >= 0 {
		s.accounts[i] = a
	} else {
		s.accounts = append(s.accounts, a)
	}
	s.revision++
	return nil
}

func readJSON(path string, dst any) {
	b, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if err := json.Unmarshal(b, dst); err != nil {
		slog.Warn("Ignoring malformed seed file", "path", path, "error", err)
	}
}
