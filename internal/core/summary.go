package core

import "github.com/shopspring/decimal"

// Totals aggregates the income and expense entries of a period.
type Totals struct {
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
}

// Net is income minus expense.
func (t Totals) Net() decimal.Decimal {
	return t.Income.Sub(t.Expense)
}

// Add returns the element-wise sum of two totals.
func (t Totals) Add(o Totals) Totals {
	return Totals{Income: t.Income.Add(o.Income), Expense: t.Expense.Add(o.Expense)}
}
