package reconcile

import (
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
)

const dayLayout = "2006-01-02"

// Entry is a transaction annotated for display.
type Entry struct {
	Transaction core.Transaction `json:"transaction"`
	Kind        string           `json:"kind"`
	Delta       decimal.Decimal  `json:"delta"`
	// BalanceAfter is nil when no balance could be computed.
	BalanceAfter *decimal.Decimal `json:"balanceAfter,omitempty"`
}

// Day groups the entries and divergences falling on one calendar day.
type Day struct {
	Date        string            `json:"date"`
	Entries     []Entry           `json:"entries"`
	Divergences []core.Divergence `json:"divergences,omitempty"`
	Totals      core.Totals       `json:"totals"`
	Net         decimal.Decimal   `json:"net"`
}

type Month struct {
	Year   int             `json:"year"`
	Month  int             `json:"month"`
	Totals core.Totals     `json:"totals"`
	Net    decimal.Decimal `json:"net"`
	Days   []Day           `json:"days"`
}

// Ledger is the display form of a reconciled window.
type Ledger struct {
	AccountID    string                     `json:"accountId"`
	Months       []Month                    `json:"months"`
	BalanceAfter map[string]decimal.Decimal `json:"balanceAfter"`
	Divergences  []core.Divergence          `json:"divergences"`
}

// GroupByDay buckets the window's transactions by calendar day in loc and
// sums income and expense per day and per month. Transfer-like transactions
// and markers are listed but not summed. Divergences land on the day of
// their snapshot. Days and months are in ascending order.
func GroupByDay(in Input, res Result, loc *time.Location) Ledger {
	if loc == nil {
		loc = time.UTC
	}

	days := map[string]*Day{}
	dayOf := func(t time.Time) *Day {
		key := t.In(loc).Format(dayLayout)
		d, ok := days[key]
		if !ok {
			d = &Day{
				Date:    key,
				Entries: []Entry{},
				Totals:  core.Totals{Income: decimal.Zero, Expense: decimal.Zero},
			}
			days[key] = d
		}
		return d
	}

	for _, tx := range sortedTransactions(in.Transactions) {
		eff := Classify(tx, in.AccountID, in.Accounts)
		e := Entry{Transaction: tx, Kind: eff.Kind.String(), Delta: eff.Delta}
		if b, ok := res.BalanceAfter[tx.ID]; ok {
			e.BalanceAfter = &b
		}
		d := dayOf(tx.Date)
		d.Entries = append(d.Entries, e)
		switch {
		case eff.CountsAsIncome():
			d.Totals.Income = d.Totals.Income.Add(tx.Amount)
		case eff.CountsAsExpense():
			d.Totals.Expense = d.Totals.Expense.Add(tx.Amount)
		}
	}
	for _, div := range res.Divergences {
		d := dayOf(div.Date)
		d.Divergences = append(d.Divergences, div)
	}

	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	ledger := Ledger{
		AccountID:    in.AccountID,
		Months:       []Month{},
		BalanceAfter: res.BalanceAfter,
		Divergences:  res.Divergences,
	}
	for _, k := range keys {
		d := *days[k]
		d.Net = d.Totals.Net()

		date, _ := time.Parse(dayLayout, k)
		year, month := date.Year(), int(date.Month())
		n := len(ledger.Months)
		if n == 0 || ledger.Months[n-1].Year != year || ledger.Months[n-1].Month != month {
			ledger.Months = append(ledger.Months, Month{
				Year:   year,
				Month:  month,
				Totals: core.Totals{Income: decimal.Zero, Expense: decimal.Zero},
			})
			n++
		}
		m := &ledger.Months[n-1]
		m.Totals = m.Totals.Add(d.Totals)
		m.Days = append(m.Days, d)
	}
	for i := range ledger.Months {
		ledger.Months[i].Net = ledger.Months[i].Totals.Net()
	}
	return ledger
}

// Clone returns a deep copy, so a memoized ledger can be handed out without
// sharing its maps and slices.
func (l Ledger) Clone() Ledger {
	out := l
	out.BalanceAfter = maps.Clone(l.BalanceAfter)
	out.Divergences = slices.Clone(l.Divergences)
	out.Months = slices.Clone(l.Months)
	for i := range out.Months {
		m := &out.Months[i]
		m.Days = slices.Clone(m.Days)
		for j := range m.Days {
			d := &m.Days[j]
			d.Divergences = slices.Clone(d.Divergences)
			d.Entries = slices.Clone(d.Entries)
			for k := range d.Entries {
				if b := d.Entries[k].BalanceAfter; b != nil {
					v := *b
					d.Entries[k].BalanceAfter = &v
				}
			}
		}
	}
	return out
}
