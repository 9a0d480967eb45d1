package invoice_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finstream.org/internal/fault"
	"finstream.org/internal/invoice"
	"finstream.org/internal/money"
	"finstream.org/internal/store/memory"
)

var (
	issued = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	due    = time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC)
)

func newService() *invoice.Service {
	return invoice.NewService(memory.New().Invoices(), invoice.WithClock(func() time.Time { return issued }))
}

func singleItem(price string) invoice.Spec {
	return invoice.Spec{
		CustomerID: "cust-1",
		Date:       issued,
		DueDate:    due,
		Items: []invoice.ItemSpec{
			{Description: "Consulting", Quantity: decimal.NewFromInt(1), Price: money.MustParse(price)},
		},
	}
}

func sent(t *testing.T, s *invoice.Service, spec invoice.Spec) invoice.Invoice {
	t.Helper()
	ctx := context.Background()
	inv, err := s.Create(ctx, spec)
	require.NoError(t, err)
	inv, err = s.Send(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoice.StatusSent, inv.Status)
	return inv
}

func TestCreateComputesTotals(t *testing.T) {
	s := newService()
	inv, err := s.Create(context.Background(), invoice.Spec{
		CustomerID:   "cust-1",
		CustomerName: "Acme",
		Date:         issued,
		DueDate:      due,
		TaxRate:      decimal.RequireFromString("0.07"),
		Items: []invoice.ItemSpec{
			{Description: "Widgets", Quantity: decimal.RequireFromString("2.5"), Price: money.MustParse("100.00"), Taxable: true},
			{Description: "Shipping", Quantity: decimal.NewFromInt(1), Price: money.MustParse("40.00")},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "INV-000001", inv.InvoiceNumber)
	assert.Equal(t, invoice.StatusDraft, inv.Status)
	assert.Equal(t, money.MustParse("250.00"), inv.Items[0].Amount)
	assert.Equal(t, money.MustParse("290.00"), inv.Subtotal)
	assert.Equal(t, money.MustParse("17.50"), inv.TaxAmount)
	assert.Equal(t, money.MustParse("307.50"), inv.Total)
	assert.Zero(t, inv.AmountPaid)
	assert.NoError(t, invoice.CheckConsistency(inv))
}

func TestCreateRoundsTaxHalfAwayFromZero(t *testing.T) {
	s := newService()
	spec := singleItem("0.10")
	spec.Items[0].Taxable = true
	spec.TaxRate = decimal.RequireFromString("0.05") // 0.5 cents
	inv, err := s.Create(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(1), inv.TaxAmount)
	assert.Equal(t, money.Amount(11), inv.Total)
}

func TestCreateItemAmountOverride(t *testing.T) {
	s := newService()
	override := money.MustParse("80.00")
	spec := singleItem("100.00")
	spec.Items[0].Amount = &override
	inv, err := s.Create(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, override, inv.Subtotal)
}

func TestCreateValidation(t *testing.T) {
	s := newService()
	ctx := context.Background()

	spec := singleItem("10.00")
	spec.InvoiceNumber = "INV 7"
	_, err := s.Create(ctx, spec)
	assert.ErrorIs(t, err, invoice.ErrInvalidNumber)

	spec = singleItem("10.00")
	spec.TaxRate = decimal.RequireFromString("1.5")
	_, err = s.Create(ctx, spec)
	assert.ErrorIs(t, err, invoice.ErrInvalidTaxRate)

	spec = singleItem("10.00")
	spec.Items = nil
	_, err = s.Create(ctx, spec)
	assert.ErrorIs(t, err, invoice.ErrNoItems)

	spec = singleItem("10.00")
	spec.DueDate = issued.AddDate(0, 0, -1)
	_, err = s.Create(ctx, spec)
	assert.ErrorIs(t, err, invoice.ErrInvalidDates)

	spec = singleItem("10.00")
	spec.InvoiceNumber = "A-1"
	_, err = s.Create(ctx, spec)
	require.NoError(t, err)
	_, err = s.Create(ctx, spec)
	assert.ErrorIs(t, err, invoice.ErrDuplicateNumber)
	assert.ErrorIs(t, err, fault.ErrValidation)
}

func TestGeneratedNumbersSkipTakenOnes(t *testing.T) {
	s := newService()
	ctx := context.Background()
	spec := singleItem("10.00")
	spec.InvoiceNumber = "INV-000001"
	_, err := s.Create(ctx, spec)
	require.NoError(t, err)

	inv, err := s.Create(ctx, singleItem("10.00"))
	require.NoError(t, err)
	assert.Equal(t, "INV-000002", inv.InvoiceNumber)
}

func TestFullPaymentThenRejectsMore(t *testing.T) {
	s := newService()
	ctx := context.Background()
	inv := sent(t, s, singleItem("909.50"))

	paid, err := s.RecordPayment(ctx, inv.ID, money.MustParse("909.50"), issued)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, paid.Status)
	assert.Equal(t, money.MustParse("909.50"), paid.AmountPaid)
	require.Len(t, paid.Payments, 1)

	_, err = s.RecordPayment(ctx, inv.ID, money.MustParse("1.00"), issued)
	assert.ErrorIs(t, err, fault.ErrInvalidTransition)
}

func TestPartialPaymentThenOverdue(t *testing.T) {
	s := newService()
	ctx := context.Background()
	inv := sent(t, s, singleItem("2675.00"))

	partial, err := s.RecordPayment(ctx, inv.ID, money.MustParse("1000.00"), issued)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPartiallyPaid, partial.Status)
	assert.Equal(t, money.MustParse("1000.00"), partial.AmountPaid)

	// not yet past the due date
	same, changed, err := s.MarkOverdue(ctx, inv.ID, due.Add(23*time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, invoice.StatusPartiallyPaid, same.Status)

	after := due.AddDate(0, 0, 1)
	overdue, changed, err := s.MarkOverdue(ctx, inv.ID, after)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, invoice.StatusOverdue, overdue.Status)

	again, changed, err := s.MarkOverdue(ctx, inv.ID, after)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, overdue.Version, again.Version)

	// a partial payment keeps it overdue, settling it marks it paid
	stillOverdue, err := s.RecordPayment(ctx, inv.ID, money.MustParse("675.00"), after)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusOverdue, stillOverdue.Status)

	settled, err := s.MarkPaid(ctx, inv.ID, after)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, settled.Status)
	assert.Equal(t, settled.Total, settled.AmountPaid)
	assert.Len(t, settled.Payments, 3)
}

func TestRecordPaymentChecks(t *testing.T) {
	s := newService()
	ctx := context.Background()

	draft, err := s.Create(ctx, singleItem("50.00"))
	require.NoError(t, err)
	_, err = s.RecordPayment(ctx, draft.ID, 0, issued)
	assert.ErrorIs(t, err, fault.ErrInvalidTransition, "transition is checked before amount")

	inv := sent(t, s, singleItem("50.00"))
	_, err = s.RecordPayment(ctx, inv.ID, 0, issued)
	assert.ErrorIs(t, err, invoice.ErrInvalidAmount)
	_, err = s.RecordPayment(ctx, inv.ID, -100, issued)
	assert.ErrorIs(t, err, invoice.ErrInvalidAmount)

	_, err = s.RecordPayment(ctx, inv.ID, money.MustParse("50.01"), issued)
	assert.ErrorIs(t, err, invoice.ErrOverpayment)
	assert.ErrorIs(t, err, fault.ErrInvariant)

	got, err := s.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Zero(t, got.AmountPaid)
	assert.Equal(t, invoice.StatusSent, got.Status)
}

func TestMarkOverdueRules(t *testing.T) {
	s := newService()
	ctx := context.Background()
	late := due.AddDate(0, 1, 0)

	draft, err := s.Create(ctx, singleItem("10.00"))
	require.NoError(t, err)
	_, _, err = s.MarkOverdue(ctx, draft.ID, late)
	assert.ErrorIs(t, err, fault.ErrInvalidTransition)

	inv := sent(t, s, singleItem("10.00"))
	_, err = s.MarkPaid(ctx, inv.ID, issued)
	require.NoError(t, err)
	paid, changed, err := s.MarkOverdue(ctx, inv.ID, late)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, invoice.StatusPaid, paid.Status)
}

func TestSweepOverdue(t *testing.T) {
	s := newService()
	ctx := context.Background()
	a := sent(t, s, singleItem("10.00"))
	b := sent(t, s, singleItem("20.00"))
	_, err := s.RecordPayment(ctx, b.ID, money.MustParse("5.00"), issued)
	require.NoError(t, err)

	later := singleItem("30.00")
	later.DueDate = due.AddDate(0, 2, 0)
	notDue := sent(t, s, later)

	_, err = s.Create(ctx, singleItem("40.00")) // draft, ignored
	require.NoError(t, err)

	changed, err := s.SweepOverdue(ctx, due.AddDate(0, 0, 2))
	require.NoError(t, err)
	ids := []string{}
	for _, inv := range changed {
		ids = append(ids, inv.ID)
		assert.Equal(t, invoice.StatusOverdue, inv.Status)
	}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)

	untouched, err := s.Get(ctx, notDue.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusSent, untouched.Status)

	again, err := s.SweepOverdue(ctx, due.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestCancel(t *testing.T) {
	s := newService()
	ctx := context.Background()

	inv := sent(t, s, singleItem("10.00"))
	cancelled, err := s.Cancel(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusCancelled, cancelled.Status)

	again, err := s.Cancel(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, cancelled.Version, again.Version)

	_, err = s.Send(ctx, inv.ID)
	assert.ErrorIs(t, err, fault.ErrInvalidTransition)

	paid := sent(t, s, singleItem("10.00"))
	_, err = s.MarkPaid(ctx, paid.ID, issued)
	require.NoError(t, err)
	_, err = s.Cancel(ctx, paid.ID)
	assert.ErrorIs(t, err, fault.ErrInvalidTransition)
}

func TestDraftEditing(t *testing.T) {
	s := newService()
	ctx := context.Background()
	draft, err := s.Create(ctx, singleItem("10.00"))
	require.NoError(t, err)

	updated, err := s.UpdateDraft(ctx, draft.ID, singleItem("12.00"))
	require.NoError(t, err)
	assert.Equal(t, draft.InvoiceNumber, updated.InvoiceNumber)
	assert.Equal(t, money.MustParse("12.00"), updated.Total)
	assert.Equal(t, draft.Version+1, updated.Version)

	_, err = s.Send(ctx, draft.ID)
	require.NoError(t, err)
	_, err = s.UpdateDraft(ctx, draft.ID, singleItem("99.00"))
	assert.ErrorIs(t, err, fault.ErrInvalidTransition)
	assert.ErrorIs(t, s.DeleteDraft(ctx, draft.ID), fault.ErrInvalidTransition)

	other, err := s.Create(ctx, singleItem("1.00"))
	require.NoError(t, err)
	require.NoError(t, s.DeleteDraft(ctx, other.ID))
	_, err = s.Get(ctx, other.ID)
	assert.ErrorIs(t, err, invoice.ErrNotFound)
}

func TestListFilters(t *testing.T) {
	s := newService()
	ctx := context.Background()
	sent(t, s, singleItem("10.00"))
	_, err := s.Create(ctx, singleItem("20.00"))
	require.NoError(t, err)

	drafts, err := s.List(ctx, invoice.Filter{Status: invoice.StatusDraft})
	require.NoError(t, err)
	assert.Len(t, drafts, 1)

	all, err := s.List(ctx, invoice.Filter{CustomerID: "cust-1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
