// Package reconcile rebuilds the running balance of an account from its
// transactions and the balance snapshots recorded by the user, and reports
// the snapshots the calculation disagrees with.
//
// Everything in this package is a pure function of its arguments: inputs are
// never mutated and every call returns freshly allocated results.
package reconcile

import (
	"github.com/shopspring/decimal"

	"saldo/internal/core"
)

// Kind says how a transaction counts towards displayed totals.
type Kind int

const (
	KindIncome Kind = iota
	KindExpense
	// KindTransfer moves money between the user's own accounts, or is settled
	// later through a separate transaction. Excluded from totals.
	KindTransfer
	// KindMarker is a synthetic inline balance update. It never moves money.
	KindMarker
)

func (k Kind) String() string {
	switch k {
	case KindIncome:
		return "income"
	case KindExpense:
		return "expense"
	case KindTransfer:
		return "transfer"
	case KindMarker:
		return "marker"
	default:
		return "unknown"
	}
}

// AccountRole is the part of an account's configuration that matters when
// classifying the transactions recorded against it.
type AccountRole int

const (
	// RoleUnknown is used when the account id cannot be resolved.
	RoleUnknown AccountRole = iota
	// RoleDirect accounts are debited at purchase time (cash, per-purchase credit).
	RoleDirect
	// RoleInvoiceCredit accounts are debited when the invoice is paid.
	RoleInvoiceCredit
	// RolePrepaid accounts are funded separately.
	RolePrepaid
)

// Accounts indexes account metadata by id.
type Accounts map[string]core.Account

// IndexAccounts builds an Accounts lookup from a list.
func IndexAccounts(list []core.Account) Accounts {
	idx := make(Accounts, len(list))
	for _, a := range list {
		idx[a.ID] = a
	}
	return idx
}

// Role resolves the role of the given account id.
func (a Accounts) Role(id string) AccountRole {
	acc, ok := a[id]
	if !ok {
		return RoleUnknown
	}
	switch acc.Type {
	case core.Prepaid:
		return RolePrepaid
	case core.Credit:
		if acc.DebitMethod == core.Invoice {
			return RoleInvoiceCredit
		}
		return RoleDirect
	case core.Cash:
		return RoleDirect
	default:
		return RoleUnknown
	}
}

// Effect is the classification of a transaction seen from one account.
type Effect struct {
	Kind Kind
	// Delta is the signed change applied to the viewpoint account's running balance.
	Delta decimal.Decimal
}

func (e Effect) CountsAsIncome() bool  { return e.Kind == KindIncome }
func (e Effect) CountsAsExpense() bool { return e.Kind == KindExpense }

// Classify maps a transaction to its effect on the viewpoint account.
//
// An expense whose account is unknown is treated like a cash expense; a
// transfer whose destination is unknown stays a plain transfer.
func Classify(tx core.Transaction, viewpoint string, accounts Accounts) Effect {
	switch tx.Type {
	case core.Income:
		return Effect{Kind: KindIncome, Delta: tx.Amount}
	case core.Expense:
		switch accounts.Role(tx.AccountID) {
		case RolePrepaid, RoleInvoiceCredit:
			return Effect{Kind: KindTransfer, Delta: decimal.Zero}
		case RoleDirect, RoleUnknown:
			return Effect{Kind: KindExpense, Delta: tx.Amount.Neg()}
		}
	case core.Transfer:
		kind := KindTransfer
		switch accounts.Role(tx.ToAccountID) {
		case RolePrepaid, RoleInvoiceCredit:
			kind = KindExpense
		case RoleDirect, RoleUnknown:
		}
		return Effect{Kind: kind, Delta: transferDelta(tx, viewpoint)}
	case core.Update:
		return Effect{Kind: KindMarker, Delta: decimal.Zero}
	}
	return Effect{Kind: KindMarker, Delta: decimal.Zero}
}

// transferDelta is negative on the source side and positive on the
// destination side. A transfer onto the same account nets to zero.
func transferDelta(tx core.Transaction, viewpoint string) decimal.Decimal {
	delta := decimal.Zero
	if tx.AccountID == viewpoint {
		delta = delta.Sub(tx.Amount)
	}
	if tx.ToAccountID == viewpoint {
		delta = delta.Add(tx.Amount)
	}
	return delta
}
