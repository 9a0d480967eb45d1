package bank

import (
	"context"

	"finstream.org/internal/ledger"
)

// Store runs units of work spanning bank and ledger persistence, so a bank
// line can be posted and matched atomically.
type Store interface {
	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
}

// Tx extends the ledger unit of work with bank records. Missing records are
// reported as ErrAccountNotFound / ErrTransactionNotFound.
type Tx interface {
	ledger.Tx

	BankAccount(id string) (Account, error)
	BankAccounts() ([]Account, error)
	InsertBankAccount(a Account) error
	UpdateBankAccount(a Account) error
	// DeleteBankAccount removes the account and every line of its feed.
	DeleteBankAccount(id string) error

	BankTransaction(id string) (Transaction, error)
	BankTransactionByProvider(bankAccountID, providerID string) (Transaction, bool, error)
	// BankTransactions lists the feed of one account ordered by date, then id.
	BankTransactions(bankAccountID string) ([]Transaction, error)
	// MatchedTransactionIDs returns the ledger transactions matched by any bank line.
	MatchedTransactionIDs() (map[string]struct{}, error)
	// PutBankTransaction inserts t or replaces the line with the same id.
	PutBankTransaction(t Transaction) error
	DeleteBankTransaction(id string) error
}
