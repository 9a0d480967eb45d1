package invoice

import (
	"context"
	"time"
)

// Store runs units of work against invoice persistence.
type Store interface {
	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
}

// Tx is the view of invoice persistence inside one unit of work. Missing
// invoices are reported as ErrNotFound. UpdateInvoice fails with
// fault.ErrConflict unless the stored version equals inv.Version-1.
type Tx interface {
	Invoice(id string) (Invoice, error)
	InvoiceByNumber(number string) (Invoice, bool, error)
	Invoices(filter Filter) ([]Invoice, error)
	InsertInvoice(inv Invoice) error
	UpdateInvoice(inv Invoice) error
	DeleteInvoice(id string) error
	// NextInvoiceSeq returns a fresh value of the invoice number counter.
	NextInvoiceSeq() (int64, error)
}

// Filter narrows Invoices. Empty fields match everything.
type Filter struct {
	Status     Status
	CustomerID string
	// DueBefore keeps invoices whose due date is strictly before it.
	DueBefore time.Time
}

// Match reports whether inv satisfies the filter.
func (f Filter) Match(inv Invoice) bool {
	if f.Status != "" && inv.Status != f.Status {
		return false
	}
	if f.CustomerID != "" && inv.CustomerID != f.CustomerID {
		return false
	}
	if !f.DueBefore.IsZero() && !inv.DueDate.Before(f.DueBefore) {
		return false
	}
	return true
}
