package invoice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"finstream.org/internal/ids"
	"finstream.org/internal/ledger"
	"finstream.org/internal/money"
)

// Service drives invoice lifecycles.
type Service struct {
	store Store
	now   func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new DRAFT invoice. When spec.InvoiceNumber is empty the
// next free INV-nnnnnn number is assigned.
func (s *Service) Create(ctx context.Context, spec Spec) (Invoice, error) {
	number := strings.TrimSpace(spec.InvoiceNumber)
	if number != "" && !numberPattern.MatchString(number) {
		return Invoice{}, ErrInvalidNumber
	}
	now := s.now()
	inv := Invoice{
		ID:        ids.New(),
		Status:    StatusDraft,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := compute(&inv, spec); err != nil {
		return Invoice{}, err
	}
	err := s.store.Update(ctx, func(tx Tx) error {
		n, err := s.reserveNumber(tx, number)
		if err != nil {
			return err
		}
		inv.InvoiceNumber = n
		if err := CheckConsistency(inv); err != nil {
			return err
		}
		return tx.InsertInvoice(inv)
	})
	if err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

func (s *Service) reserveNumber(tx Tx, number string) (string, error) {
	if number != "" {
		_, taken, err := tx.InvoiceByNumber(number)
		if err != nil {
			return "", err
		}
		if taken {
			return "", fmt.Errorf("%w: %s", ErrDuplicateNumber, number)
		}
		return number, nil
	}
	for {
		seq, err := tx.NextInvoiceSeq()
		if err != nil {
			return "", err
		}
		candidate := fmt.Sprintf("INV-%06d", seq)
		_, taken, err := tx.InvoiceByNumber(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
}

// UpdateDraft replaces the content of a DRAFT invoice. The invoice number is
// kept unless spec names a new one.
func (s *Service) UpdateDraft(ctx context.Context, id string, spec Spec) (Invoice, error) {
	number := strings.TrimSpace(spec.InvoiceNumber)
	if number != "" && !numberPattern.MatchString(number) {
		return Invoice{}, ErrInvalidNumber
	}
	return s.mutate(ctx, id, func(tx Tx, inv *Invoice) error {
		if inv.Status != StatusDraft {
			return transitionError(*inv, "edit")
		}
		if number != "" && number != inv.InvoiceNumber {
			n, err := s.reserveNumber(tx, number)
			if err != nil {
				return err
			}
			inv.InvoiceNumber = n
		}
		return compute(inv, spec)
	})
}

// DeleteDraft removes a DRAFT invoice. Sent invoices are cancelled instead.
func (s *Service) DeleteDraft(ctx context.Context, id string) error {
	return s.store.Update(ctx, func(tx Tx) error {
		inv, err := tx.Invoice(id)
		if err != nil {
			return err
		}
		if inv.Status != StatusDraft {
			return transitionError(inv, "delete")
		}
		return tx.DeleteInvoice(id)
	})
}

func (s *Service) Send(ctx context.Context, id string) (Invoice, error) {
	return s.mutate(ctx, id, func(_ Tx, inv *Invoice) error {
		if inv.Status != StatusDraft {
			return transitionError(*inv, "send")
		}
		inv.Status = StatusSent
		return nil
	})
}

// RecordPayment adds a payment. The status becomes PAID once the invoice is
// settled, PARTIALLY_PAID after a first partial payment on a SENT invoice,
// and is otherwise unchanged. A zero date means today.
func (s *Service) RecordPayment(ctx context.Context, id string, amount money.Amount, date time.Time) (Invoice, error) {
	now := s.now()
	if date.IsZero() {
		date = now
	}
	return s.mutate(ctx, id, func(_ Tx, inv *Invoice) error {
		return applyPayment(inv, Payment{
			ID:        ids.New(),
			Amount:    amount,
			Date:      ledger.Day(date),
			CreatedAt: now,
		})
	})
}

// MarkPaid records a payment for the whole outstanding amount.
func (s *Service) MarkPaid(ctx context.Context, id string, date time.Time) (Invoice, error) {
	now := s.now()
	if date.IsZero() {
		date = now
	}
	return s.mutate(ctx, id, func(_ Tx, inv *Invoice) error {
		return applyPayment(inv, Payment{
			ID:        ids.New(),
			Amount:    inv.Outstanding(),
			Date:      ledger.Day(date),
			CreatedAt: now,
		})
	})
}

// MarkOverdue moves a SENT or PARTIALLY_PAID invoice to OVERDUE once now's
// date is past its due date. Otherwise it returns the invoice unchanged;
// a DRAFT invoice is an error.
func (s *Service) MarkOverdue(ctx context.Context, id string, now time.Time) (Invoice, bool, error) {
	var (
		out     Invoice
		changed bool
	)
	err := s.store.Update(ctx, func(tx Tx) error {
		inv, err := tx.Invoice(id)
		if err != nil {
			return err
		}
		changed, err = s.markOverdue(tx, &inv, now)
		out = inv
		return err
	})
	if err != nil {
		return Invoice{}, false, err
	}
	return out, changed, nil
}

func (s *Service) markOverdue(tx Tx, inv *Invoice, now time.Time) (bool, error) {
	if inv.Status == StatusDraft {
		return false, transitionError(*inv, "mark overdue")
	}
	if !CanTransition(inv.Status, StatusOverdue) || inv.Status == StatusOverdue {
		return false, nil
	}
	if !ledger.Day(now).After(inv.DueDate) {
		return false, nil
	}
	inv.Status = StatusOverdue
	if err := s.persist(tx, inv); err != nil {
		return false, err
	}
	return true, nil
}

// SweepOverdue marks every past-due SENT or PARTIALLY_PAID invoice overdue
// in one unit of work and returns the invoices it changed.
func (s *Service) SweepOverdue(ctx context.Context, now time.Time) ([]Invoice, error) {
	var changed []Invoice
	err := s.store.Update(ctx, func(tx Tx) error {
		changed = nil
		for _, st := range []Status{StatusSent, StatusPartiallyPaid} {
			due, err := tx.Invoices(Filter{Status: st, DueBefore: ledger.Day(now)})
			if err != nil {
				return err
			}
			for i := range due {
				ok, err := s.markOverdue(tx, &due[i], now)
				if err != nil {
					return fmt.Errorf("invoice %s: %w", due[i].InvoiceNumber, err)
				}
				if ok {
					changed = append(changed, due[i])
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// Cancel moves any non-PAID invoice to CANCELLED. Cancelling a cancelled
// invoice is a no-op.
func (s *Service) Cancel(ctx context.Context, id string) (Invoice, error) {
	var out Invoice
	err := s.store.Update(ctx, func(tx Tx) error {
		inv, err := tx.Invoice(id)
		if err != nil {
			return err
		}
		out = inv
		if inv.Status == StatusCancelled {
			return nil
		}
		if !CanTransition(inv.Status, StatusCancelled) {
			return transitionError(inv, "cancel")
		}
		out.Status = StatusCancelled
		return s.persist(tx, &out)
	})
	if err != nil {
		return Invoice{}, err
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (Invoice, error) {
	var inv Invoice
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		inv, err = tx.Invoice(id)
		return err
	})
	return inv, err
}

func (s *Service) List(ctx context.Context, filter Filter) ([]Invoice, error) {
	var out []Invoice
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Invoices(filter)
		return err
	})
	return out, err
}

func (s *Service) mutate(ctx context.Context, id string, fn func(Tx, *Invoice) error) (Invoice, error) {
	var out Invoice
	err := s.store.Update(ctx, func(tx Tx) error {
		inv, err := tx.Invoice(id)
		if err != nil {
			return err
		}
		if err := fn(tx, &inv); err != nil {
			return err
		}
		out = inv
		return s.persist(tx, &out)
	})
	if err != nil {
		return Invoice{}, err
	}
	return out, nil
}

func (s *Service) persist(tx Tx, inv *Invoice) error {
	if err := CheckConsistency(*inv); err != nil {
		return err
	}
	inv.Version++
	inv.UpdatedAt = s.now()
	return tx.UpdateInvoice(*inv)
}
