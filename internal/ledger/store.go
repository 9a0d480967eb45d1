package ledger

import "context"

// Store runs units of work against ledger persistence. Update commits every
// write made through its Tx together, or none of them if fn returns an error
// or the context ends first.
type Store interface {
	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
}

// Tx is the view of ledger persistence inside one unit of work.
//
// Lookups of missing records return ErrAccountNotFound / ErrTransactionNotFound.
// UpdateAccount is optimistic: it fails with fault.ErrConflict unless the
// stored version equals a.Version-1.
type Tx interface {
	Account(id string) (Account, error)
	Accounts(filter AccountFilter) ([]Account, error)
	InsertAccount(a Account) error
	UpdateAccount(a Account) error

	Transaction(id string) (Transaction, error)
	Transactions(limit int, afterSeq uint64) ([]Transaction, error)
	// InsertTransaction assigns the next sequence number to t. A non-empty
	// IdempotencyKey already in use fails with fault.ErrConflict.
	InsertTransaction(t *Transaction) error
	// UpdateTransaction persists the mutable fields only: IsReconciled,
	// Attachments and UpdatedAt.
	UpdateTransaction(t Transaction) error
	// TransactionByKey returns the transaction posted under an idempotency key.
	TransactionByKey(key string) (Transaction, bool, error)
	// ReversalOf returns the transaction reversing id, if any.
	ReversalOf(id string) (Transaction, bool, error)
	// AccountEntries returns every posted entry for the account in sequence order.
	AccountEntries(accountID string) ([]PostedEntry, error)
}

// AccountFilter narrows Accounts. The zero value lists active accounts of
// every type.
type AccountFilter struct {
	Type            AccountType
	IncludeArchived bool
}

// Match reports whether a satisfies the filter.
func (f AccountFilter) Match(a Account) bool {
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if a.IsArchived && !f.IncludeArchived {
		return false
	}
	return true
}
