package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income   TransactionType = "INCOME"
	Expense  TransactionType = "EXPENSE"
	Transfer TransactionType = "TRANSFER"
	Update   TransactionType = "UPDATE"
)

const (
	Cash    AccountType = "CASH"
	Credit  AccountType = "CREDIT"
	Prepaid AccountType = "PREPAID"
)

const (
	Invoice     DebitMethod = "INVOICE"
	PerPurchase DebitMethod = "PER_PURCHASE"
)

type (
	TransactionType string
	AccountType     string
	DebitMethod     string

	// Transaction is a ledger entry. Amount is always a magnitude; the
	// direction comes from Type and the role of the accounts involved.
	Transaction struct {
		ID          string          `json:"id"`
		Date        time.Time       `json:"date"`
		Type        TransactionType `json:"type"`
		Amount      decimal.Decimal `json:"amount"`
		AccountID   string          `json:"accountId"`
		ToAccountID string          `json:"toAccountId,omitempty"`
		Description string          `json:"description,omitempty"`
		Category    string          `json:"category,omitempty"`
	}

	Account struct {
		ID          string      `json:"id"`
		Name        string      `json:"name,omitempty"`
		Type        AccountType `json:"type"`
		DebitMethod DebitMethod `json:"debitMethod,omitempty"`
	}

	// BalanceSnapshot is a balance recorded by the user at a given instant.
	// It is ground truth and never derived from transactions.
	BalanceSnapshot struct {
		ID        string          `json:"id"`
		AccountID string          `json:"accountId,omitempty"`
		Date      time.Time       `json:"date"`
		Amount    decimal.Decimal `json:"amount"`
	}

	// Divergence reports a snapshot whose recorded amount disagrees with the
	// balance calculated from transactions.
	Divergence struct {
		ID                string          `json:"id"`
		Date              time.Time       `json:"date"`
		Amount            decimal.Decimal `json:"amount"`
		CalculatedBalance decimal.Decimal `json:"calculatedBalance"`
		ActualBalance     decimal.Decimal `json:"actualBalance"`
	}
)

var (
	ErrNotFound             = errors.New("not found")
	ErrEmptyID              = errors.New("empty id")
	ErrZeroDate             = errors.New("date cannot be zero")
	ErrDateOutOfRange       = errors.New("date must fall between years 1900 and 2199")
	ErrAlreadyExists        = errors.New("already exists")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidType          = errors.New("invalid transaction type")
	ErrInvalidAccountType   = errors.New("invalid account type")
	ErrInvalidDebitMethod   = errors.New("invalid debit method")
	ErrEmptyAccount         = errors.New("empty account id")
	ErrMissingDestination   = errors.New("transfer requires a destination account")
	ErrUnexpectedToAccount  = errors.New("only transfers can have a destination account")
	ErrDescriptionTooLong   = errors.New("description too long (max 200 characters)")
	ErrDebitMethodNotCredit = errors.New("debit method is only allowed on credit accounts")
)

func (t TransactionType) IsValid() bool {
	switch t {
	case Income, Expense, Transfer, Update:
		return true
	default:
		return false
	}
}

func (t AccountType) IsValid() bool {
	switch t {
	case Cash, Credit, Prepaid:
		return true
	default:
		return false
	}
}

func (m DebitMethod) IsValid() bool {
	switch m {
	case Invoice, PerPurchase:
		return true
	default:
		return false
	}
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return ErrEmptyID
	}
	if err := validateDate(t.Date); err != nil {
		return err
	}
	if !t.Type.IsValid() {
		return ErrInvalidType
	}
	if t.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(t.AccountID) == "" {
		return ErrEmptyAccount
	}
	if t.Type == Transfer && strings.TrimSpace(t.ToAccountID) == "" {
		return ErrMissingDestination
	}
	if t.Type != Transfer && t.ToAccountID != "" {
		return ErrUnexpectedToAccount
	}
	if len(t.Description) > 200 {
		return ErrDescriptionTooLong
	}
	return nil
}

// Touches reports whether the transaction moves money on the given account.
func (t Transaction) Touches(accountID string) bool {
	return t.AccountID == accountID || (t.ToAccountID != "" && t.ToAccountID == accountID)
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return ErrEmptyID
	}
	if !a.Type.IsValid() {
		return ErrInvalidAccountType
	}
	if a.DebitMethod == "" {
		return nil
	}
	if a.Type != Credit {
		return ErrDebitMethodNotCredit
	}
	if !a.DebitMethod.IsValid() {
		return ErrInvalidDebitMethod
	}
	return nil
}

func (s BalanceSnapshot) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return ErrEmptyID
	}
	if err := validateDate(s.Date); err != nil {
		return err
	}
	if strings.TrimSpace(s.AccountID) == "" {
		return ErrEmptyAccount
	}
	return nil
}

// Dates are stored as Unix nanoseconds, which cannot represent instants
// far outside this range.
var (
	minDate = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)
	maxDate = time.Date(2200, time.January, 1, 0, 0, 0, 0, time.UTC)
)

func validateDate(t time.Time) error {
	if t.IsZero() {
		return ErrZeroDate
	}
	if t.Before(minDate) || !t.Before(maxDate) {
		return ErrDateOutOfRange
	}
	return nil
}

// IsValidationError reports whether err comes from one of the Validate methods.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrEmptyID, ErrZeroDate, ErrDateOutOfRange, ErrInvalidAmount, ErrInvalidType,
		ErrInvalidAccountType, ErrInvalidDebitMethod, ErrEmptyAccount,
		ErrMissingDestination, ErrUnexpectedToAccount, ErrDescriptionTooLong,
		ErrDebitMethodNotCredit,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
