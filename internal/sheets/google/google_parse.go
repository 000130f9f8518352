package google

import (
	"fmt"
	"strings"
	"time"

	"saldo/internal/core"
)

// Column layouts, one entity per row with the id in column A:
//
//	Accounts:     id | name | type | debit method
//	Transactions: id | date | type | amount | account | to account | description | category
//	Snapshots:    id | account | date | amount

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.DateOnly,
	"02/01/2006",
}

func accountRow(a core.Account) []any {
	return []any{a.ID, a.Name, string(a.Type), string(a.DebitMethod)}
}

func transactionRow(tx core.Transaction) []any {
	return []any{
		tx.ID,
		tx.Date.UTC().Format(time.RFC3339Nano),
		string(tx.Type),
		tx.Amount.StringFixed(2),
		tx.AccountID,
		tx.ToAccountID,
		tx.Description,
		tx.Category,
	}
}

func snapshotRow(s core.BalanceSnapshot) []any {
	return []any{s.ID, s.AccountID, s.Date.UTC().Format(time.RFC3339Nano), s.Amount.StringFixed(2)}
}

func parseAccountRow(row []string) (core.Account, bool) {
	a := core.Account{
		ID:          safeGet(row, 0),
		Name:        safeGet(row, 1),
		Type:        core.AccountType(strings.ToUpper(safeGet(row, 2))),
		DebitMethod: core.DebitMethod(strings.ToUpper(safeGet(row, 3))),
	}
	return a, a.Validate() == nil
}

func parseTransactionRow(row []string) (core.Transaction, bool) {
	date, ok := parseSheetTime(safeGet(row, 1))
	if !ok {
		return core.Transaction{}, false
	}
	amount, err := core.ParseAmount(safeGet(row, 3), false)
	if err != nil {
		return core.Transaction{}, false
	}
	tx := core.Transaction{
		ID:          safeGet(row, 0),
		Date:        date,
		Type:        core.TransactionType(strings.ToUpper(safeGet(row, 2))),
		Amount:      amount,
		AccountID:   safeGet(row, 4),
		ToAccountID: safeGet(row, 5),
		Description: safeGet(row, 6),
		Category:    safeGet(row, 7),
	}
	return tx, tx.Validate() == nil
}

func parseSnapshotRow(row []string) (core.BalanceSnapshot, bool) {
	date, ok := parseSheetTime(safeGet(row, 2))
	if !ok {
		return core.BalanceSnapshot{}, false
	}
	amount, err := core.ParseAmount(safeGet(row, 3), true)
	if err != nil {
		return core.BalanceSnapshot{}, false
	}
	s := core.BalanceSnapshot{
		ID:        safeGet(row, 0),
		AccountID: safeGet(row, 1),
		Date:      date,
		Amount:    amount,
	}
	return s, s.Validate() == nil
}

// parseSheetTime accepts the formats people actually type into a sheet.
// Values without a zone are read as UTC.
func parseSheetTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}
