// Package http serves the JSON API.
//
// This file implements utilities for parsing and validating request data.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
	"saldo/internal/services"
)

const (
	maxBodyBytes = 1 << 20
	// Stateless reconcile requests carry whole ledgers.
	maxReconcileBodyBytes = 8 << 20
	dateLayout            = "2006-01-02"
)

// decodeJSON reads exactly one JSON value into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return badRequest(fmt.Sprintf("request body larger than %d bytes", maxErr.Limit))
		case errors.Is(err, io.EOF):
			return badRequest("request body is empty")
		}
		return badRequest("invalid JSON: " + err.Error())
	}
	if dec.More() {
		return badRequest("request body must contain a single JSON value")
	}
	return nil
}

// amountText accepts an amount written as a JSON string ("12,50") or number.
type amountText string

func (a *amountText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = amountText(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount must be a string or a number")
	}
	*a = amountText(n.String())
	return nil
}

func (a amountText) parse(allowNegative bool) (decimal.Decimal, error) {
	return core.ParseAmount(string(a), allowNegative)
}

// parseTimestamp accepts RFC 3339 or a bare YYYY-MM-DD date, read as
// midnight in loc.
func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, core.ErrZeroDate
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, badRequest(fmt.Sprintf("invalid date %q: use YYYY-MM-DD or RFC 3339", s))
	}
	return t, nil
}

// parseLocation reads the tz parameter, falling back to def.
func parseLocation(query url.Values, def *time.Location) (*time.Location, error) {
	name := strings.TrimSpace(query.Get("tz"))
	if name == "" {
		return def, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, badRequest(fmt.Sprintf("unknown time zone %q", name))
	}
	return loc, nil
}

// ParseWindowParams reads from and to as calendar days in loc. Both bounds
// are inclusive days. Without either, the calendar month containing now is used.
func ParseWindowParams(query url.Values, loc *time.Location, now time.Time) (services.Window, error) {
	fromStr := strings.TrimSpace(query.Get("from"))
	toStr := strings.TrimSpace(query.Get("to"))

	switch {
	case fromStr == "" && toStr == "":
		return services.MonthWindow(now.In(loc)), nil
	case fromStr == "" || toStr == "":
		return services.Window{}, badRequest("from and to must be given together")
	}

	from, err := time.ParseInLocation(dateLayout, fromStr, loc)
	if err != nil {
		return services.Window{}, badRequest(fmt.Sprintf("invalid from date %q", fromStr))
	}
	to, err := time.ParseInLocation(dateLayout, toStr, loc)
	if err != nil {
		return services.Window{}, badRequest(fmt.Sprintf("invalid to date %q", toStr))
	}
	w := services.Window{From: from, To: to.AddDate(0, 0, 1)}
	if err := w.Validate(); err != nil {
		return services.Window{}, err
	}
	return w, nil
}

// sanitizeInput removes control characters except tab and newlines, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

type accountRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	DebitMethod string `json:"debitMethod"`
}

func (req accountRequest) toAccount() core.Account {
	return core.Account{
		ID:          sanitizeInput(req.ID),
		Name:        sanitizeInput(req.Name),
		Type:        core.AccountType(strings.ToUpper(strings.TrimSpace(req.Type))),
		DebitMethod: core.DebitMethod(strings.ToUpper(strings.TrimSpace(req.DebitMethod))),
	}
}

type transactionRequest struct {
	ID          string     `json:"id"`
	Date        string     `json:"date"`
	Type        string     `json:"type"`
	Amount      amountText `json:"amount"`
	AccountID   string     `json:"accountId"`
	ToAccountID string     `json:"toAccountId"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
}

func (req transactionRequest) toTransaction(loc *time.Location) (core.Transaction, error) {
	date, err := parseTimestamp(req.Date, loc)
	if err != nil {
		return core.Transaction{}, err
	}
	amount, err := req.Amount.parse(false)
	if err != nil {
		return core.Transaction{}, err
	}
	return core.Transaction{
		ID:          sanitizeInput(req.ID),
		Date:        date,
		Type:        core.TransactionType(strings.ToUpper(strings.TrimSpace(req.Type))),
		Amount:      amount,
		AccountID:   sanitizeInput(req.AccountID),
		ToAccountID: sanitizeInput(req.ToAccountID),
		Description: sanitizeInput(req.Description),
		Category:    sanitizeInput(req.Category),
	}, nil
}

type snapshotRequest struct {
	ID     string     `json:"id"`
	Date   string     `json:"date"`
	Amount amountText `json:"amount"`
}

func (req snapshotRequest) toSnapshot(accountID string, loc *time.Location) (core.BalanceSnapshot, error) {
	date, err := parseTimestamp(req.Date, loc)
	if err != nil {
		return core.BalanceSnapshot{}, err
	}
	amount, err := req.Amount.parse(true)
	if err != nil {
		return core.BalanceSnapshot{}, err
	}
	return core.BalanceSnapshot{
		ID:        sanitizeInput(req.ID),
		AccountID: accountID,
		Date:      date,
		Amount:    amount,
	}, nil
}

// reconcileRequest carries every input of a stateless reconciliation.
type reconcileRequest struct {
	AccountID       string                 `json:"accountId"`
	Accounts        []core.Account         `json:"accounts"`
	Transactions    []core.Transaction     `json:"transactions"`
	Snapshots       []core.BalanceSnapshot `json:"snapshots"`
	GapTransactions []core.Transaction     `json:"gapTransactions"`
	TZ              string                 `json:"tz"`
}
