package invoice

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"finstream.org/internal/fault"
	"finstream.org/internal/ids"
	"finstream.org/internal/ledger"
	"finstream.org/internal/money"
)

// transitions lists the statuses each status may move to.
var transitions = map[Status][]Status{
	StatusDraft:         {StatusSent, StatusCancelled},
	StatusSent:          {StatusPartiallyPaid, StatusPaid, StatusOverdue, StatusCancelled},
	StatusPartiallyPaid: {StatusPartiallyPaid, StatusPaid, StatusOverdue, StatusCancelled},
	StatusOverdue:       {StatusOverdue, StatusPaid, StatusCancelled},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transitionError(inv Invoice, op string) error {
	return fmt.Errorf("%w: cannot %s invoice %s in status %s", fault.ErrInvalidTransition, op, inv.InvoiceNumber, inv.Status)
}

// compute builds the items and totals of inv from spec. It does not touch
// payments or status.
func compute(inv *Invoice, spec Spec) error {
	if strings.TrimSpace(spec.CustomerID) == "" {
		return ErrCustomerRequired
	}
	if spec.Date.IsZero() || spec.DueDate.IsZero() {
		return fault.Validation("date and due_date are required")
	}
	if spec.DueDate.Before(spec.Date) {
		return ErrInvalidDates
	}
	if spec.TaxRate.IsNegative() || spec.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		return ErrInvalidTaxRate
	}
	if len(spec.Items) == 0 {
		return ErrNoItems
	}

	items := make([]Item, 0, len(spec.Items))
	var amounts, taxable []money.Amount
	for i, in := range spec.Items {
		if strings.TrimSpace(in.Description) == "" {
			return fmt.Errorf("%w: item %d has no description", ErrInvalidItem, i)
		}
		if !in.Quantity.IsPositive() {
			return fmt.Errorf("%w: item %d quantity must be positive", ErrInvalidItem, i)
		}
		if in.Price < 0 {
			return fmt.Errorf("%w: item %d price is negative", ErrInvalidItem, i)
		}
		amt, err := in.Price.MulRate(in.Quantity)
		if err != nil {
			return fmt.Errorf("%w: item %d: %w", ErrInvalidItem, i, err)
		}
		if in.Amount != nil {
			if *in.Amount < 0 {
				return fmt.Errorf("%w: item %d amount is negative", ErrInvalidItem, i)
			}
			amt = *in.Amount
		}
		items = append(items, Item{
			ID:          ids.New(),
			InvoiceID:   inv.ID,
			Description: strings.TrimSpace(in.Description),
			Quantity:    in.Quantity,
			Price:       in.Price,
			Amount:      amt,
			Taxable:     in.Taxable,
		})
		amounts = append(amounts, amt)
		if in.Taxable {
			taxable = append(taxable, amt)
		}
	}

	subtotal, err := money.Sum(amounts...)
	if err != nil {
		return fmt.Errorf("%w: subtotal: %w", ErrInvalidItem, err)
	}
	taxBase, err := money.Sum(taxable...)
	if err != nil {
		return fmt.Errorf("%w: tax base: %w", ErrInvalidItem, err)
	}
	tax, err := taxBase.MulRate(spec.TaxRate)
	if err != nil {
		return fmt.Errorf("%w: tax: %w", ErrInvalidItem, err)
	}
	total, err := money.Add(subtotal, tax)
	if err != nil {
		return fmt.Errorf("%w: total: %w", ErrInvalidItem, err)
	}
	if total <= 0 {
		return ErrNonPositive
	}

	inv.CustomerID = strings.TrimSpace(spec.CustomerID)
	inv.CustomerName = strings.TrimSpace(spec.CustomerName)
	inv.Date = ledger.Day(spec.Date)
	inv.DueDate = ledger.Day(spec.DueDate)
	inv.Notes = spec.Notes
	inv.Terms = spec.Terms
	inv.TaxRate = spec.TaxRate
	inv.Items = items
	inv.Subtotal = subtotal
	inv.TaxAmount = tax
	inv.Total = total
	return nil
}

// CheckConsistency verifies the totals and the agreement between status and
// amount paid. Every write path calls it before persisting.
func CheckConsistency(inv Invoice) error {
	if !inv.Status.valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInconsistent, inv.Status)
	}
	var amounts, paid []money.Amount
	for _, it := range inv.Items {
		amounts = append(amounts, it.Amount)
	}
	subtotal, err := money.Sum(amounts...)
	if err != nil || subtotal != inv.Subtotal {
		return fmt.Errorf("%w: subtotal %s does not match items", ErrInconsistent, inv.Subtotal)
	}
	if total, err := money.Add(inv.Subtotal, inv.TaxAmount); err != nil || total != inv.Total {
		return fmt.Errorf("%w: total %s is not subtotal plus tax", ErrInconsistent, inv.Total)
	}
	for _, p := range inv.Payments {
		paid = append(paid, p.Amount)
	}
	if sum, err := money.Sum(paid...); err != nil || sum != inv.AmountPaid {
		return fmt.Errorf("%w: amount paid %s does not match payments", ErrInconsistent, inv.AmountPaid)
	}
	if inv.AmountPaid < 0 || inv.AmountPaid > inv.Total {
		return fmt.Errorf("%w: amount paid %s outside [0, %s]", ErrInconsistent, inv.AmountPaid, inv.Total)
	}

	settled := inv.AmountPaid == inv.Total
	switch inv.Status {
	case StatusDraft, StatusSent:
		if inv.AmountPaid != 0 {
			return fmt.Errorf("%w: %s invoice has payments", ErrInconsistent, inv.Status)
		}
	case StatusPartiallyPaid:
		if inv.AmountPaid == 0 || settled {
			return fmt.Errorf("%w: partially paid invoice has paid %s of %s", ErrInconsistent, inv.AmountPaid, inv.Total)
		}
	case StatusOverdue:
		if settled {
			return fmt.Errorf("%w: overdue invoice is fully paid", ErrInconsistent)
		}
	case StatusPaid:
		if !settled {
			return fmt.Errorf("%w: paid invoice has paid %s of %s", ErrInconsistent, inv.AmountPaid, inv.Total)
		}
	}
	return nil
}

// applyPayment records amount against inv and advances its status.
func applyPayment(inv *Invoice, p Payment) error {
	switch inv.Status {
	case StatusSent, StatusPartiallyPaid, StatusOverdue:
	default:
		return transitionError(*inv, "record payment on")
	}
	if !p.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	paid, err := money.Add(inv.AmountPaid, p.Amount)
	if err != nil || paid > inv.Total {
		return fmt.Errorf("%w: %s outstanding, %s offered", ErrOverpayment, inv.Outstanding(), p.Amount)
	}
	inv.AmountPaid = paid
	inv.Payments = append(inv.Payments, p)
	switch {
	case paid == inv.Total:
		inv.Status = StatusPaid
	case inv.Status == StatusSent:
		inv.Status = StatusPartiallyPaid
	}
	return nil
}
