// Package bank mirrors external bank accounts, ingests provider sync deltas
// and reconciles bank lines against ledger transactions.
package bank

import (
	"errors"
	"fmt"
	"time"

	"finstream.org/internal/fault"
	"finstream.org/internal/money"
)

// Account is an external-institution mirror of an internal ledger account.
type Account struct {
	ID              string       `json:"id"`
	AccountID       string       `json:"account_id"`
	InstitutionName string       `json:"institution_name"`
	AccountName     string       `json:"account_name"`
	AccountType     string       `json:"account_type,omitempty"`
	Mask            string       `json:"mask,omitempty"`
	Balance         money.Amount `json:"balance"`
	LastUpdated     time.Time    `json:"last_updated,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Transaction is one line of a bank feed. Positive amounts are inflows.
type Transaction struct {
	ID            string       `json:"id"`
	BankAccountID string       `json:"bank_account_id"`
	ProviderID    string       `json:"provider_id"`
	Date          time.Time    `json:"date"`
	Description   string       `json:"description"`
	Amount        money.Amount `json:"amount"`
	Category      string       `json:"category,omitempty"`
	Pending       bool         `json:"pending"`
	TransactionID string       `json:"transaction_id,omitempty"`
	IsMatched     bool         `json:"is_matched"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// AccountSpec describes a bank account to link.
type AccountSpec struct {
	AccountID       string       `json:"account_id"`
	InstitutionName string       `json:"institution_name"`
	AccountName     string       `json:"account_name"`
	AccountType     string       `json:"account_type,omitempty"`
	Mask            string       `json:"mask,omitempty"`
	Balance         money.Amount `json:"balance"`
}

// Record is a bank line as delivered by the provider.
type Record struct {
	ProviderID  string       `json:"provider_id"`
	Date        time.Time    `json:"date"`
	Description string       `json:"description"`
	Amount      money.Amount `json:"amount"`
	Category    string       `json:"category,omitempty"`
	Pending     bool         `json:"pending"`
}

// SyncDelta is one provider sync cycle for a bank account.
type SyncDelta struct {
	Added    []Record      `json:"added"`
	Modified []Record      `json:"modified"`
	Removed  []string      `json:"removed"`
	Balance  *money.Amount `json:"balance,omitempty"`
}

type SyncResult struct {
	Added    int `json:"added"`
	Modified int `json:"modified"`
	Removed  int `json:"removed"`
}

// Suggestion is a ledger transaction that could explain a bank line.
type Suggestion struct {
	TransactionID string       `json:"transaction_id"`
	Date          time.Time    `json:"date"`
	Description   string       `json:"description"`
	Amount        money.Amount `json:"amount"`
	DaysApart     int          `json:"days_apart"`
}

type Summary struct {
	Total     int `json:"total"`
	Matched   int `json:"matched"`
	Unmatched int `json:"unmatched"`
	Pending   int `json:"pending"`
}

var (
	ErrAccountNotFound     = fmt.Errorf("bank account %w", fault.ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("bank transaction %w", fault.ErrNotFound)

	ErrLinkRequired       = fmt.Errorf("%w: account_id, institution_name and account_name are required", fault.ErrValidation)
	ErrProviderIDRequired = fmt.Errorf("%w: provider_id is required", fault.ErrValidation)
	ErrInvalidWindow      = fmt.Errorf("%w: window must not be negative", fault.ErrValidation)

	// ErrAlreadyMatched reports a bank line matched to a different transaction.
	ErrAlreadyMatched = errors.New("bank transaction already matched")
	// ErrUnknownTransaction reports a match against a missing ledger transaction.
	ErrUnknownTransaction = errors.New("unknown ledger transaction")
)
