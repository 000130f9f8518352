// Package ledger declares the ports through which the service reads and
// writes accounts, transactions and balance snapshots.
package ledger

import (
	"context"
	"time"

	"saldo/internal/core"
)

// Query selects the transactions touching an account, either as source or
// as destination. From is inclusive and To exclusive; a zero bound is open.
type Query struct {
	AccountID string
	From      time.Time
	To        time.Time
}

// Matches reports whether the transaction satisfies the query.
func (q Query) Matches(tx core.Transaction) bool {
	if q.AccountID != "" && !tx.Touches(q.AccountID) {
		return false
	}
	if !q.From.IsZero() && tx.Date.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !tx.Date.Before(q.To) {
		return false
	}
	return true
}

// Ports for outbound adapters.
type (
	TransactionReader interface {
		ListTransactions(ctx context.Context, q Query) ([]core.Transaction, error)
	}

	SnapshotReader interface {
		ListSnapshots(ctx context.Context, accountID string) ([]core.BalanceSnapshot, error)
	}

	AccountReader interface {
		ListAccounts(ctx context.Context) ([]core.Account, error)
	}

	// RevisionReader exposes a counter bumped on every write. Callers use it
	// to key memoized computations.
	RevisionReader interface {
		Revision(ctx context.Context) (int64, error)
	}

	TransactionWriter interface {
		CreateTransaction(ctx context.Context, tx core.Transaction) error
		DeleteTransaction(ctx context.Context, id string) (core.Transaction, error)
	}

	SnapshotWriter interface {
		CreateSnapshot(ctx context.Context, s core.BalanceSnapshot) error
		DeleteSnapshot(ctx context.Context, id string) (core.BalanceSnapshot, error)
	}

	AccountWriter interface {
		SaveAccount(ctx context.Context, a core.Account) error
	}

	// Reader groups everything reconciliation needs.
	Reader interface {
		TransactionReader
		SnapshotReader
		AccountReader
		RevisionReader
	}

	// Store is a complete ledger backend.
	Store interface {
		Reader
		TransactionWriter
		SnapshotWriter
		AccountWriter
	}
)
