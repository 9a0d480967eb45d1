package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"finstream.org/internal/invoice"
	"finstream.org/internal/money"
	"finstream.org/internal/obs"
	"finstream.org/internal/stream"
)

type invoiceRequest struct {
	InvoiceNumber string             `json:"invoice_number,omitempty"`
	CustomerID    string             `json:"customer_id"`
	CustomerName  string             `json:"customer_name,omitempty"`
	Date          Day                `json:"date"`
	DueDate       Day                `json:"due_date"`
	Items         []invoice.ItemSpec `json:"items"`
	Notes         string             `json:"notes,omitempty"`
	Terms         string             `json:"terms,omitempty"`
	TaxRate       decimal.Decimal    `json:"tax_rate"`
}

func (req invoiceRequest) spec() invoice.Spec {
	return invoice.Spec{
		InvoiceNumber: req.InvoiceNumber,
		CustomerID:    req.CustomerID,
		CustomerName:  req.CustomerName,
		Date:          req.Date.Time,
		DueDate:       req.DueDate.Time,
		Items:         req.Items,
		Notes:         req.Notes,
		Terms:         req.Terms,
		TaxRate:       req.TaxRate,
	}
}

type paymentRequest struct {
	Amount money.Amount `json:"amount"`
	Date   Day          `json:"date"`
}

type markPaidRequest struct {
	Date Day `json:"date"`
}

func (a *API) invoiceRoutes(r chi.Router) {
	r.Get("/", a.listInvoices)
	r.Post("/", a.createInvoice)
	r.Post("/sweep-overdue", a.sweepOverdue)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", a.getInvoice)
		r.Put("/", a.updateInvoice)
		r.Delete("/", a.deleteInvoice)
		r.Post("/send", a.sendInvoice)
		r.Post("/payments", a.recordPayment)
		r.Post("/mark-paid", a.markPaid)
		r.Post("/mark-overdue", a.markOverdue)
		r.Post("/cancel", a.cancelInvoice)
	})
}

func (a *API) listInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := invoice.Filter{
		Status:     invoice.Status(strings.ToUpper(q.Get("status"))),
		CustomerID: q.Get("customer_id"),
	}
	due, err := queryDay(r, "due_before")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	filter.DueBefore = due
	items, err := a.svc.Invoices.List(r.Context(), filter)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if items == nil {
		items = []invoice.Invoice{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoiceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	inv, err := a.svc.Invoices.Create(r.Context(), req.spec())
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.invoiceChanged(r, "invoice.create", inv)
	w.Header().Set("Location", "/v1/invoices/"+inv.ID)
	writeJSON(w, http.StatusCreated, inv)
}

func (a *API) getInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := a.svc.Invoices.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) updateInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoiceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	inv, err := a.svc.Invoices.UpdateDraft(r.Context(), chi.URLParam(r, "id"), req.spec())
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.invoiceChanged(r, "invoice.update", inv)
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) deleteInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.svc.Invoices.DeleteDraft(r.Context(), id); err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "invoice.delete", map[string]any{"invoice_id": id})
	a.publish(stream.InvoiceChanged, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) sendInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := a.svc.Invoices.Send(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	obs.CountInvoiceTransition(string(inv.Status))
	a.invoiceChanged(r, "invoice.send", inv)
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	date := req.Date.Time
	if date.IsZero() {
		date = a.now().UTC()
	}
	before, err := a.svc.Invoices.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	inv, err := a.svc.Invoices.RecordPayment(r.Context(), before.ID, req.Amount, date)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if inv.Status != before.Status {
		obs.CountInvoiceTransition(string(inv.Status))
	}
	a.invoiceChanged(r, "invoice.payment", inv)
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) markPaid(w http.ResponseWriter, r *http.Request) {
	var req markPaidRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	date := req.Date.Time
	if date.IsZero() {
		date = a.now().UTC()
	}
	inv, err := a.svc.Invoices.MarkPaid(r.Context(), chi.URLParam(r, "id"), date)
	if err != nil {
		handleError(w, r, err)
		return
	}
	obs.CountInvoiceTransition(string(inv.Status))
	a.invoiceChanged(r, "invoice.mark_paid", inv)
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) markOverdue(w http.ResponseWriter, r *http.Request) {
	inv, changed, err := a.svc.Invoices.MarkOverdue(r.Context(), chi.URLParam(r, "id"), a.now())
	if err != nil {
		handleError(w, r, err)
		return
	}
	if changed {
		obs.CountInvoiceTransition(string(inv.Status))
		a.invoiceChanged(r, "invoice.mark_overdue", inv)
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": inv, "changed": changed})
}

func (a *API) sweepOverdue(w http.ResponseWriter, r *http.Request) {
	marked, err := a.svc.Invoices.SweepOverdue(r.Context(), a.now())
	obs.CountSweep(err)
	if err != nil {
		handleError(w, r, err)
		return
	}
	for _, inv := range marked {
		obs.CountInvoiceTransition(string(inv.Status))
		a.publish(stream.InvoiceChanged, inv.ID, inv)
	}
	if marked == nil {
		marked = []invoice.Invoice{}
	}
	a.audit(r, "invoice.sweep_overdue", map[string]any{"marked": len(marked)})
	writeJSON(w, http.StatusOK, map[string]any{"marked": marked})
}

func (a *API) cancelInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := a.svc.Invoices.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	obs.CountInvoiceTransition(string(inv.Status))
	a.invoiceChanged(r, "invoice.cancel", inv)
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) invoiceChanged(r *http.Request, event string, inv invoice.Invoice) {
	a.publish(stream.InvoiceChanged, inv.ID, inv)
	a.audit(r, event, map[string]any{
		"invoice_id":     inv.ID,
		"invoice_number": inv.InvoiceNumber,
		"status":         inv.Status,
		"amount_paid":    inv.AmountPaid,
	})
}
