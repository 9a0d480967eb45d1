package ledger

import (
	"fmt"
	"time"

	"finstream.org/internal/fault"
	"finstream.org/internal/ids"
	"finstream.org/internal/money"
)

// AccountType is the top level of the chart of accounts taxonomy.
type AccountType string

const (
	Asset     AccountType = "ASSET"
	Liability AccountType = "LIABILITY"
	Equity    AccountType = "EQUITY"
	Income    AccountType = "INCOME"
	Expense   AccountType = "EXPENSE"
)

// Subtype refines an AccountType. Each subtype belongs to exactly one type.
type Subtype string

const (
	Cash               Subtype = "CASH"
	Bank               Subtype = "BANK"
	AccountsReceivable Subtype = "ACCOUNTS_RECEIVABLE"
	Inventory          Subtype = "INVENTORY"
	FixedAsset         Subtype = "FIXED_ASSET"
	OtherAsset         Subtype = "OTHER_ASSET"

	AccountsPayable Subtype = "ACCOUNTS_PAYABLE"
	CreditCard      Subtype = "CREDIT_CARD"
	Loan            Subtype = "LOAN"
	TaxPayable      Subtype = "TAX_PAYABLE"
	OtherLiability  Subtype = "OTHER_LIABILITY"

	RetainedEarnings Subtype = "RETAINED_EARNINGS"
	OwnerEquity      Subtype = "OWNER_EQUITY"

	Sales       Subtype = "SALES"
	OtherIncome Subtype = "OTHER_INCOME"

	OperatingExpense Subtype = "OPERATING_EXPENSE"
	Payroll          Subtype = "PAYROLL"
	TaxExpense       Subtype = "TAX_EXPENSE"
	OtherExpense     Subtype = "OTHER_EXPENSE"
)

// Account is a node of the chart of accounts with a materialized balance.
type Account struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Number      string       `json:"number,omitempty"`
	Description string       `json:"description,omitempty"`
	Type        AccountType  `json:"type"`
	Subtype     Subtype      `json:"subtype"`
	Balance     money.Amount `json:"balance"` // minor units, debit positive
	IsActive    bool         `json:"is_active"`
	IsArchived  bool         `json:"is_archived"`
	Version     int64        `json:"version"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Transaction is a balanced set of journal entries posted atomically.
type Transaction struct {
	ID             string         `json:"id"`
	Sequence       uint64         `json:"sequence"` // monotonic post order
	Date           time.Time      `json:"date"`
	Description    string         `json:"description"`
	Reference      string         `json:"reference,omitempty"`
	ReversalOf     string         `json:"reversal_of,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"` // client retry key
	Entries        []JournalEntry `json:"entries"`
	Attachments    []Attachment   `json:"attachments,omitempty"`
	IsReconciled   bool           `json:"is_reconciled"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// JournalEntry is one leg of a Transaction. Positive amounts are debits,
// negative amounts credits.
type JournalEntry struct {
	ID            string       `json:"id"`
	TransactionID string       `json:"transaction_id"`
	AccountID     string       `json:"account_id"`
	Amount        money.Amount `json:"amount"`
	Memo          string       `json:"memo,omitempty"`
}

// Attachment links a stored document (receipt, bank statement) to a Transaction.
type Attachment struct {
	ID        string    `json:"id"`
	FileName  string    `json:"file_name"`
	FileURL   string    `json:"file_url"`
	FileType  string    `json:"file_type,omitempty"`
	FileSize  int64     `json:"file_size,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PostedEntry is a journal entry together with the transaction data needed
// to order it in an account history.
type PostedEntry struct {
	JournalEntry
	Sequence    uint64    `json:"sequence"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
}

var (
	ErrAccountNotFound     = fmt.Errorf("account %w", fault.ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("transaction %w", fault.ErrNotFound)
	ErrAttachmentNotFound  = fmt.Errorf("attachment %w", fault.ErrNotFound)

	ErrInvalidType         = fmt.Errorf("%w: unknown account type", fault.ErrValidation)
	ErrInvalidSubtype      = fmt.Errorf("%w: subtype not valid for account type", fault.ErrValidation)
	ErrNameRequired        = fmt.Errorf("%w: name is required", fault.ErrValidation)
	ErrDescriptionRequired = fmt.Errorf("%w: description is required", fault.ErrValidation)
	ErrTooFewEntries       = fmt.Errorf("%w: a transaction needs at least two entries", fault.ErrValidation)
	ErrUnknownAccount      = fmt.Errorf("%w: entry references an unknown account", fault.ErrValidation)
	ErrArchivedAccount     = fmt.Errorf("%w: entry references an archived account", fault.ErrValidation)
	ErrZeroAmount          = fmt.Errorf("%w: entry amount must not be zero", fault.ErrValidation)
	ErrMissingDate         = fmt.Errorf("%w: date is required", fault.ErrValidation)
	ErrInvalidRange        = fmt.Errorf("%w: date range ends before it starts", fault.ErrValidation)
	ErrAmountOutOfRange    = fmt.Errorf("%w: entry amounts exceed the representable range", fault.ErrValidation)
	ErrIdempotencyKey      = fmt.Errorf("%w: idempotency key must be at most %d characters", fault.ErrValidation, maxIdempotencyKey)

	ErrUnbalancedEntries = fmt.Errorf("%w: entries do not sum to zero", fault.ErrInvariant)
	ErrNonZeroBalance    = fmt.Errorf("%w: account balance is not zero", fault.ErrInvariant)
	ErrAlreadyReversed   = fmt.Errorf("%w: transaction already reversed", fault.ErrInvariant)
	ErrReverseReversal   = fmt.Errorf("%w: a reversal cannot be reversed", fault.ErrInvariant)
	ErrIdempotencyReused = fmt.Errorf("%w: idempotency key already used for a different transaction", fault.ErrInvariant)
)

func newID() string {
	return ids.New()
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
