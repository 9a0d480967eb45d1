// Package invoice computes invoice totals and drives the invoice status
// state machine as invoices are sent, paid, cancelled and fall overdue.
package invoice

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"finstream.org/internal/fault"
	"finstream.org/internal/money"
)

type Status string

const (
	StatusDraft         Status = "DRAFT"
	StatusSent          Status = "SENT"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusPaid          Status = "PAID"
	StatusOverdue       Status = "OVERDUE"
	StatusCancelled     Status = "CANCELLED"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

func (s Status) valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusPartiallyPaid, StatusPaid, StatusOverdue, StatusCancelled:
		return true
	}
	return false
}

type Invoice struct {
	ID            string          `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	CustomerID    string          `json:"customer_id"`
	CustomerName  string          `json:"customer_name,omitempty"`
	Date          time.Time       `json:"date"`
	DueDate       time.Time       `json:"due_date"`
	Items         []Item          `json:"items"`
	Notes         string          `json:"notes,omitempty"`
	Terms         string          `json:"terms,omitempty"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	Subtotal      money.Amount    `json:"subtotal"`
	TaxAmount     money.Amount    `json:"tax_amount"`
	Total         money.Amount    `json:"total"`
	AmountPaid    money.Amount    `json:"amount_paid"`
	Payments      []Payment       `json:"payments,omitempty"`
	Status        Status          `json:"status"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Outstanding is the amount still to be paid.
func (inv Invoice) Outstanding() money.Amount {
	return inv.Total - inv.AmountPaid
}

type Item struct {
	ID          string          `json:"id"`
	InvoiceID   string          `json:"invoice_id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       money.Amount    `json:"price"`
	Amount      money.Amount    `json:"amount"`
	Taxable     bool            `json:"taxable"`
}

type Payment struct {
	ID        string       `json:"id"`
	Amount    money.Amount `json:"amount"`
	Date      time.Time    `json:"date"`
	CreatedAt time.Time    `json:"created_at"`
}

// Spec is the caller-supplied content of a draft invoice.
type Spec struct {
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	CustomerID    string          `json:"customer_id"`
	CustomerName  string          `json:"customer_name,omitempty"`
	Date          time.Time       `json:"date"`
	DueDate       time.Time       `json:"due_date"`
	Items         []ItemSpec      `json:"items"`
	Notes         string          `json:"notes,omitempty"`
	Terms         string          `json:"terms,omitempty"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
}

// ItemSpec is one proposed line. Amount overrides quantity × price when set.
type ItemSpec struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       money.Amount    `json:"price"`
	Amount      *money.Amount   `json:"amount,omitempty"`
	Taxable     bool            `json:"taxable"`
}

var numberPattern = regexp.MustCompile(`^[A-Za-z0-9.-]+$`)

var (
	ErrNotFound = fmt.Errorf("invoice %w", fault.ErrNotFound)

	ErrCustomerRequired = fmt.Errorf("%w: customer_id is required", fault.ErrValidation)
	ErrNoItems          = fmt.Errorf("%w: an invoice needs at least one item", fault.ErrValidation)
	ErrInvalidNumber    = fmt.Errorf("%w: invoice number may contain only letters, digits, dots and dashes", fault.ErrValidation)
	ErrDuplicateNumber  = fmt.Errorf("%w: invoice number already in use", fault.ErrValidation)
	ErrInvalidTaxRate   = fmt.Errorf("%w: tax rate must be between 0 and 1", fault.ErrValidation)
	ErrInvalidItem      = fmt.Errorf("%w: invalid invoice item", fault.ErrValidation)
	ErrInvalidDates     = fmt.Errorf("%w: due date must not precede invoice date", fault.ErrValidation)
	ErrInvalidAmount    = fmt.Errorf("%w: payment amount must be positive", fault.ErrValidation)

	ErrOverpayment  = fmt.Errorf("%w: payment exceeds outstanding amount", fault.ErrInvariant)
	ErrInconsistent = fmt.Errorf("%w: invoice totals or status are inconsistent", fault.ErrInvariant)
	ErrNonPositive  = fmt.Errorf("%w: invoice total must be positive", fault.ErrInvariant)
)
