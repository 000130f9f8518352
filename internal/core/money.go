// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing monetary amounts from strings
// and converting between minor units and decimal representations.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a user supplied decimal string to a decimal amount
// rounded half-up to two fractional digits.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. A leading
// minus sign is only accepted when allowNegative is true, which is the case
// for balance snapshots (an overdrawn account has a negative balance).
//
// Examples:
//
//	ParseAmount("12.34", false)  -> 12.34, nil
//	ParseAmount("12,345", false) -> 12.35, nil (half-up)
//	ParseAmount("-5", true)      -> -5, nil
func ParseAmount(s string, allowNegative bool) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	neg := false
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		if !allowNegative {
			return decimal.Zero, ErrInvalidAmount
		}
		neg = true
		s = s[1:]
	}
	if s == "" || strings.Count(s, ".") > 1 {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, r := range s {
		if r != '.' && !unicode.IsDigit(r) {
			return decimal.Zero, ErrInvalidAmount
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	d = d.Round(2)
	if neg {
		d = d.Neg()
	}
	return d, nil
}

// ToCents returns the amount in minor units, rounding half away from zero.
// Storage keeps integers to avoid drifting through float conversions.
func ToCents(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}

// FromCents builds an amount from minor units.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
