package reconcile

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
)

// Tolerance is the largest difference between a calculated balance and a
// snapshot that is not reported as a divergence.
var Tolerance = decimal.New(1, -2)

// Input holds everything needed to rebuild one account's running balance.
type Input struct {
	// AccountID is the viewpoint account.
	AccountID string
	// Transactions touching the account inside the visible window, any order.
	Transactions []core.Transaction
	// Snapshots of the account, any time range, any order.
	Snapshots []core.BalanceSnapshot
	// GapTransactions touch the account between the last snapshot before the
	// window and the window's first transaction. Supplied by the caller.
	GapTransactions []core.Transaction
	Accounts        Accounts
}

// Result is the output of Reconcile.
type Result struct {
	// BalanceAfter maps a transaction id to the account balance right after it.
	BalanceAfter map[string]decimal.Decimal `json:"balanceAfter"`
	// Divergences are ordered by snapshot date.
	Divergences []core.Divergence `json:"divergences"`
}

// Reconcile rebuilds the running balance of in.AccountID over the window
// spanned by in.Transactions.
//
// The balance starts from the last snapshot before the window, carried over
// the gap transactions. Without such an anchor it is derived backwards from
// the first snapshot inside the window. Every snapshot reached while scanning
// is compared with the calculated balance and then replaces it. Without any
// snapshot nothing can be computed and the result is empty.
func Reconcile(in Input) Result {
	res := Result{
		BalanceAfter: map[string]decimal.Decimal{},
		Divergences:  []core.Divergence{},
	}

	txs := sortedTransactions(in.Transactions)
	if len(txs) == 0 {
		return res
	}
	snaps := sortedSnapshots(in.Snapshots)
	if len(snaps) == 0 {
		return res
	}

	windowStart := txs[0].Date
	windowEnd := txs[len(txs)-1].Date

	split := splitBefore(snaps, windowStart)
	before, inRange := snaps[:split], snaps[split:]

	var balance decimal.Decimal
	if len(before) > 0 {
		anchor := before[len(before)-1]
		balance = anchor.Amount
		for _, tx := range sortedTransactions(in.GapTransactions) {
			if tx.Date.After(anchor.Date) && tx.Date.Before(windowStart) {
				balance = balance.Add(Classify(tx, in.AccountID, in.Accounts).Delta)
			}
		}
	} else {
		balance = balanceBefore(inRange[0], txs, in.AccountID, in.Accounts)
	}

	s := scan{balance: balance, pending: inRange, result: &res}
	for _, tx := range txs {
		s.syncUntil(tx.Date)
		s.balance = s.balance.Add(Classify(tx, in.AccountID, in.Accounts).Delta)
		res.BalanceAfter[tx.ID] = s.balance
	}
	s.syncUntil(windowEnd)

	return res
}

// balanceBefore walks backwards from the first snapshot over the window's
// transactions dated before it, undoing their effects.
func balanceBefore(first core.BalanceSnapshot, txs []core.Transaction, viewpoint string, accounts Accounts) decimal.Decimal {
	balance := first.Amount
	for i := len(txs) - 1; i >= 0; i-- {
		if !txs[i].Date.Before(first.Date) {
			continue
		}
		balance = balance.Sub(Classify(txs[i], viewpoint, accounts).Delta)
	}
	return balance
}

type scan struct {
	balance decimal.Decimal
	pending []core.BalanceSnapshot
	result  *Result
}

// syncUntil checks every pending snapshot dated at or before t against the
// running balance and resets the balance to the recorded amount.
func (s *scan) syncUntil(t time.Time) {
	for len(s.pending) > 0 && !s.pending[0].Date.After(t) {
		snap := s.pending[0]
		s.pending = s.pending[1:]

		diff := s.balance.Sub(snap.Amount).Abs()
		if diff.GreaterThan(Tolerance) {
			s.result.Divergences = append(s.result.Divergences, core.Divergence{
				ID:                DivergenceID(snap),
				Date:              snap.Date,
				Amount:            diff,
				CalculatedBalance: s.balance,
				ActualBalance:     snap.Amount,
			})
		}
		s.balance = snap.Amount
	}
}

// Anchor returns the last snapshot recorded strictly before t, the one a
// window starting at t is reconciled from.
func Anchor(snapshots []core.BalanceSnapshot, t time.Time) (core.BalanceSnapshot, bool) {
	snaps := sortedSnapshots(snapshots)
	i := splitBefore(snaps, t)
	if i == 0 {
		return core.BalanceSnapshot{}, false
	}
	return snaps[i-1], true
}

// splitBefore returns the index of the first sorted snapshot not before t.
func splitBefore(snaps []core.BalanceSnapshot, t time.Time) int {
	i, _ := slices.BinarySearchFunc(snaps, t, func(s core.BalanceSnapshot, t time.Time) int {
		return s.Date.Compare(t)
	})
	return i
}

// DivergenceID is stable across recomputations of the same snapshot.
func DivergenceID(snap core.BalanceSnapshot) string {
	return "divergence-" + snap.ID
}

// sortedTransactions returns a sorted copy ordered by date, then id, so that
// permutations of the same input always produce the same scan.
func sortedTransactions(in []core.Transaction) []core.Transaction {
	out := slices.Clone(in)
	slices.SortStableFunc(out, func(a, b core.Transaction) int {
		return cmp.Or(a.Date.Compare(b.Date), strings.Compare(a.ID, b.ID))
	})
	return out
}

// sortedSnapshots orders snapshots by date. Snapshots recorded at the same
// instant are ordered by id.
func sortedSnapshots(in []core.BalanceSnapshot) []core.BalanceSnapshot {
	out := slices.Clone(in)
	slices.SortStableFunc(out, func(a, b core.BalanceSnapshot) int {
		return cmp.Or(a.Date.Compare(b.Date), strings.Compare(a.ID, b.ID))
	})
	return out
}
