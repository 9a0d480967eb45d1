package pg

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"finstream.org/internal/invoice"
)

const invoiceColumns = `id, invoice_number, customer_id, customer_name, date, due_date, notes, terms,
	tax_rate, subtotal, tax_amount, total, amount_paid, status, version, created_at, updated_at`

func scanInvoice(row interface{ Scan(...any) error }) (invoice.Invoice, error) {
	var inv invoice.Invoice
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.CustomerID, &inv.CustomerName, &inv.Date, &inv.DueDate,
		&inv.Notes, &inv.Terms, &inv.TaxRate, &inv.Subtotal, &inv.TaxAmount, &inv.Total, &inv.AmountPaid,
		&inv.Status, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt)
	return inv, err
}

func (t *tx) Invoice(id string) (invoice.Invoice, error) {
	inv, err := scanInvoice(t.queryRow(`select `+invoiceColumns+` from invoices where id=$1`+t.forUpdate(), id))
	if errors.Is(err, sql.ErrNoRows) {
		return invoice.Invoice{}, invoice.ErrNotFound
	}
	if err != nil {
		return invoice.Invoice{}, fmt.Errorf("load invoice %s: %w", id, err)
	}
	if err := t.loadInvoiceLines(&inv); err != nil {
		return invoice.Invoice{}, err
	}
	return inv, nil
}

func (t *tx) loadInvoiceLines(inv *invoice.Invoice) error {
	rows, err := t.query(`
		select id, description, quantity, price, amount, taxable
		from invoice_items where invoice_id=$1 order by position
	`, inv.ID)
	if err != nil {
		return fmt.Errorf("load invoice items: %w", err)
	}
	defer rows.Close()
	inv.Items = nil
	for rows.Next() {
		it := invoice.Item{InvoiceID: inv.ID}
		if err := rows.Scan(&it.ID, &it.Description, &it.Quantity, &it.Price, &it.Amount, &it.Taxable); err != nil {
			return err
		}
		inv.Items = append(inv.Items, it)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	prows, err := t.query(`
		select id, amount, date, created_at
		from invoice_payments where invoice_id=$1 order by created_at, id
	`, inv.ID)
	if err != nil {
		return fmt.Errorf("load invoice payments: %w", err)
	}
	defer prows.Close()
	inv.Payments = nil
	for prows.Next() {
		var p invoice.Payment
		if err := prows.Scan(&p.ID, &p.Amount, &p.Date, &p.CreatedAt); err != nil {
			return err
		}
		inv.Payments = append(inv.Payments, p)
	}
	return prows.Err()
}

func (t *tx) InvoiceByNumber(number string) (invoice.Invoice, bool, error) {
	var id string
	err := t.queryRow(`select id from invoices where invoice_number=$1`, number).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return invoice.Invoice{}, false, nil
	}
	if err != nil {
		return invoice.Invoice{}, false, fmt.Errorf("lookup invoice %s: %w", number, err)
	}
	inv, err := t.Invoice(id)
	if err != nil {
		return invoice.Invoice{}, false, err
	}
	return inv, true, nil
}

func (t *tx) Invoices(f invoice.Filter) ([]invoice.Invoice, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if f.CustomerID != "" {
		args = append(args, f.CustomerID)
		where = append(where, fmt.Sprintf("customer_id=$%d", len(args)))
	}
	if !f.DueBefore.IsZero() {
		args = append(args, f.DueBefore)
		where = append(where, fmt.Sprintf("due_date < $%d", len(args)))
	}
	q := `select ` + invoiceColumns + ` from invoices`
	if len(where) > 0 {
		q += ` where ` + strings.Join(where, " and ")
	}
	q += ` order by date, invoice_number`

	rows, err := t.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	var out []invoice.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, inv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Lines are loaded after the cursor is closed; one connection serves the tx.
	for i := range out {
		if err := t.loadInvoiceLines(&out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *tx) InsertInvoice(inv invoice.Invoice) error {
	_, err := t.exec(`
		insert into invoices (`+invoiceColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, inv.ID, inv.InvoiceNumber, inv.CustomerID, inv.CustomerName, inv.Date, inv.DueDate, inv.Notes, inv.Terms,
		inv.TaxRate, inv.Subtotal, inv.TaxAmount, inv.Total, inv.AmountPaid, inv.Status, inv.Version,
		inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return t.writeInvoiceLines(inv)
}

func (t *tx) UpdateInvoice(inv invoice.Invoice) error {
	res, err := t.exec(`
		update invoices
		set invoice_number=$2, customer_id=$3, customer_name=$4, date=$5, due_date=$6, notes=$7, terms=$8,
		    tax_rate=$9, subtotal=$10, tax_amount=$11, total=$12, amount_paid=$13, status=$14,
		    version=$15, updated_at=$16
		where id=$1 and version=$17
	`, inv.ID, inv.InvoiceNumber, inv.CustomerID, inv.CustomerName, inv.Date, inv.DueDate, inv.Notes, inv.Terms,
		inv.TaxRate, inv.Subtotal, inv.TaxAmount, inv.Total, inv.AmountPaid, inv.Status,
		inv.Version, inv.UpdatedAt, inv.Version-1)
	if err != nil {
		return fmt.Errorf("update invoice %s: %w", inv.ID, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n != 1 {
		ok, err := t.exists("invoices", inv.ID)
		if err != nil {
			return err
		}
		if !ok {
			return invoice.ErrNotFound
		}
		return conflict("invoice %s changed concurrently", inv.ID)
	}
	if _, err := t.exec(`delete from invoice_items where invoice_id=$1`, inv.ID); err != nil {
		return fmt.Errorf("clear invoice items: %w", err)
	}
	if _, err := t.exec(`delete from invoice_payments where invoice_id=$1`, inv.ID); err != nil {
		return fmt.Errorf("clear invoice payments: %w", err)
	}
	return t.writeInvoiceLines(inv)
}

func (t *tx) writeInvoiceLines(inv invoice.Invoice) error {
	for i, it := range inv.Items {
		if _, err := t.exec(`
			insert into invoice_items (id, invoice_id, position, description, quantity, price, amount, taxable)
			values ($1,$2,$3,$4,$5,$6,$7,$8)
		`, it.ID, inv.ID, i, it.Description, it.Quantity, it.Price, it.Amount, it.Taxable); err != nil {
			return fmt.Errorf("insert invoice item %d: %w", i, err)
		}
	}
	for _, p := range inv.Payments {
		if _, err := t.exec(`
			insert into invoice_payments (id, invoice_id, amount, date, created_at)
			values ($1,$2,$3,$4,$5)
		`, p.ID, inv.ID, p.Amount, p.Date, p.CreatedAt); err != nil {
			return fmt.Errorf("insert invoice payment: %w", err)
		}
	}
	return nil
}

func (t *tx) DeleteInvoice(id string) error {
	res, err := t.exec(`delete from invoices where id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete invoice %s: %w", id, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return invoice.ErrNotFound
	}
	return nil
}

func (t *tx) NextInvoiceSeq() (int64, error) {
	var n int64
	if err := t.queryRow(`select nextval('invoice_number_seq')`).Scan(&n); err != nil {
		return 0, fmt.Errorf("next invoice number: %w", err)
	}
	return n, nil
}
