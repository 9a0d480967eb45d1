package bolt

import (
	"fmt"
	"sort"

	"finstream.org/internal/bank"
	"finstream.org/internal/fault"
	"finstream.org/internal/invoice"
	"finstream.org/internal/ledger"
)

func conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", fault.ErrConflict, fmt.Sprintf(format, args...))
}

// Ledger

func (t *tx) Account(id string) (ledger.Account, error) {
	var a ledger.Account
	ok, err := t.get(bucketAccounts, id, &a)
	if err != nil {
		return ledger.Account{}, err
	}
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return a, nil
}

func (t *tx) Accounts(f ledger.AccountFilter) ([]ledger.Account, error) {
	var out []ledger.Account
	err := each(t, bucketAccounts, func(a ledger.Account) error {
		if f.Match(a) {
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *tx) InsertAccount(a ledger.Account) error {
	if t.bucket(bucketAccounts).Get([]byte(a.ID)) != nil {
		return conflict("account %s exists", a.ID)
	}
	return t.put(bucketAccounts, a.ID, a)
}

func (t *tx) UpdateAccount(a ledger.Account) error {
	cur, err := t.Account(a.ID)
	if err != nil {
		return err
	}
	if cur.Version != a.Version-1 {
		return conflict("account %s at version %d, update expects %d", a.ID, cur.Version, a.Version-1)
	}
	return t.put(bucketAccounts, a.ID, a)
}

func (t *tx) Transaction(id string) (ledger.Transaction, error) {
	var tr ledger.Transaction
	ok, err := t.get(bucketTransactions, id, &tr)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if !ok {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return tr, nil
}

func (t *tx) Transactions(limit int, afterSeq uint64) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	c := t.bucket(bucketTxBySeq).Cursor()
	for k, v := c.Seek(seqKey(afterSeq + 1)); k != nil; k, v = c.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		tr, err := t.Transaction(string(v))
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, nil
}

func (t *tx) InsertTransaction(tr *ledger.Transaction) error {
	b := t.bucket(bucketTransactions)
	if b.Get([]byte(tr.ID)) != nil {
		return conflict("transaction %s exists", tr.ID)
	}
	if tr.IdempotencyKey != "" {
		keys := t.bucket(bucketTxByKey)
		if prev := keys.Get([]byte(tr.IdempotencyKey)); prev != nil {
			return conflict("idempotency key %q used by %s", tr.IdempotencyKey, prev)
		}
		if err := keys.Put([]byte(tr.IdempotencyKey), []byte(tr.ID)); err != nil {
			return err
		}
	}
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	tr.Sequence = seq
	if err := t.put(bucketTransactions, tr.ID, tr); err != nil {
		return err
	}
	if err := t.bucket(bucketTxBySeq).Put(seqKey(seq), []byte(tr.ID)); err != nil {
		return err
	}
	if tr.ReversalOf != "" {
		return t.bucket(bucketReversals).Put([]byte(tr.ReversalOf), []byte(tr.ID))
	}
	return nil
}

func (t *tx) UpdateTransaction(tr ledger.Transaction) error {
	cur, err := t.Transaction(tr.ID)
	if err != nil {
		return err
	}
	cur.IsReconciled = tr.IsReconciled
	cur.Attachments = tr.Attachments
	cur.UpdatedAt = tr.UpdatedAt
	return t.put(bucketTransactions, cur.ID, cur)
}

func (t *tx) TransactionByKey(key string) (ledger.Transaction, bool, error) {
	id := t.bucket(bucketTxByKey).Get([]byte(key))
	if id == nil {
		return ledger.Transaction{}, false, nil
	}
	tr, err := t.Transaction(string(id))
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	return tr, true, nil
}

func (t *tx) ReversalOf(id string) (ledger.Transaction, bool, error) {
	revID := t.bucket(bucketReversals).Get([]byte(id))
	if revID == nil {
		return ledger.Transaction{}, false, nil
	}
	tr, err := t.Transaction(string(revID))
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	return tr, true, nil
}

func (t *tx) AccountEntries(accountID string) ([]ledger.PostedEntry, error) {
	var out []ledger.PostedEntry
	err := t.bucket(bucketTxBySeq).ForEach(func(_, id []byte) error {
		tr, err := t.Transaction(string(id))
		if err != nil {
			return err
		}
		for _, e := range tr.Entries {
			if e.AccountID == accountID {
				out = append(out, ledger.PostedEntry{
					JournalEntry: e,
					Sequence:     tr.Sequence,
					Date:         tr.Date,
					Description:  tr.Description,
				})
			}
		}
		return nil
	})
	return out, err
}

// Invoices

func (t *tx) Invoice(id string) (invoice.Invoice, error) {
	var inv invoice.Invoice
	ok, err := t.get(bucketInvoices, id, &inv)
	if err != nil {
		return invoice.Invoice{}, err
	}
	if !ok {
		return invoice.Invoice{}, invoice.ErrNotFound
	}
	return inv, nil
}

func (t *tx) InvoiceByNumber(number string) (invoice.Invoice, bool, error) {
	id := t.bucket(bucketInvoiceNumbers).Get([]byte(number))
	if id == nil {
		return invoice.Invoice{}, false, nil
	}
	inv, err := t.Invoice(string(id))
	if err != nil {
		return invoice.Invoice{}, false, err
	}
	return inv, true, nil
}

func (t *tx) Invoices(f invoice.Filter) ([]invoice.Invoice, error) {
	var out []invoice.Invoice
	err := each(t, bucketInvoices, func(inv invoice.Invoice) error {
		if f.Match(inv) {
			out = append(out, inv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].InvoiceNumber < out[j].InvoiceNumber
	})
	return out, nil
}

func (t *tx) InsertInvoice(inv invoice.Invoice) error {
	if t.bucket(bucketInvoices).Get([]byte(inv.ID)) != nil {
		return conflict("invoice %s exists", inv.ID)
	}
	if t.bucket(bucketInvoiceNumbers).Get([]byte(inv.InvoiceNumber)) != nil {
		return conflict("invoice number %s taken", inv.InvoiceNumber)
	}
	if err := t.put(bucketInvoices, inv.ID, inv); err != nil {
		return err
	}
	return t.bucket(bucketInvoiceNumbers).Put([]byte(inv.InvoiceNumber), []byte(inv.ID))
}

func (t *tx) UpdateInvoice(inv invoice.Invoice) error {
	cur, err := t.Invoice(inv.ID)
	if err != nil {
		return err
	}
	if cur.Version != inv.Version-1 {
		return conflict("invoice %s at version %d, update expects %d", inv.ID, cur.Version, inv.Version-1)
	}
	if cur.InvoiceNumber != inv.InvoiceNumber {
		numbers := t.bucket(bucketInvoiceNumbers)
		if numbers.Get([]byte(inv.InvoiceNumber)) != nil {
			return conflict("invoice number %s taken", inv.InvoiceNumber)
		}
		if err := numbers.Delete([]byte(cur.InvoiceNumber)); err != nil {
			return err
		}
		if err := numbers.Put([]byte(inv.InvoiceNumber), []byte(inv.ID)); err != nil {
			return err
		}
	}
	return t.put(bucketInvoices, inv.ID, inv)
}

func (t *tx) DeleteInvoice(id string) error {
	inv, err := t.Invoice(id)
	if err != nil {
		return err
	}
	if err := t.bucket(bucketInvoiceNumbers).Delete([]byte(inv.InvoiceNumber)); err != nil {
		return err
	}
	return t.bucket(bucketInvoices).Delete([]byte(id))
}

func (t *tx) NextInvoiceSeq() (int64, error) {
	seq, err := t.bucket(bucketInvoiceNumbers).NextSequence()
	return int64(seq), err
}

// Bank

func (t *tx) BankAccount(id string) (bank.Account, error) {
	var a bank.Account
	ok, err := t.get(bucketBankAccounts, id, &a)
	if err != nil {
		return bank.Account{}, err
	}
	if !ok {
		return bank.Account{}, bank.ErrAccountNotFound
	}
	return a, nil
}

func (t *tx) BankAccounts() ([]bank.Account, error) {
	var out []bank.Account
	err := each(t, bucketBankAccounts, func(a bank.Account) error {
		out = append(out, a)
		return nil
	})
	return out, err
}

func (t *tx) InsertBankAccount(a bank.Account) error {
	if t.bucket(bucketBankAccounts).Get([]byte(a.ID)) != nil {
		return conflict("bank account %s exists", a.ID)
	}
	return t.put(bucketBankAccounts, a.ID, a)
}

func (t *tx) UpdateBankAccount(a bank.Account) error {
	if _, err := t.BankAccount(a.ID); err != nil {
		return err
	}
	return t.put(bucketBankAccounts, a.ID, a)
}

func (t *tx) DeleteBankAccount(id string) error {
	if _, err := t.BankAccount(id); err != nil {
		return err
	}
	lines, err := t.BankTransactions(id)
	if err != nil {
		return err
	}
	for _, l := range lines {
		if err := t.DeleteBankTransaction(l.ID); err != nil {
			return err
		}
	}
	return t.bucket(bucketBankAccounts).Delete([]byte(id))
}

func (t *tx) BankTransaction(id string) (bank.Transaction, error) {
	var l bank.Transaction
	ok, err := t.get(bucketBankLines, id, &l)
	if err != nil {
		return bank.Transaction{}, err
	}
	if !ok {
		return bank.Transaction{}, bank.ErrTransactionNotFound
	}
	return l, nil
}

func (t *tx) BankTransactionByProvider(bankAccountID, providerID string) (bank.Transaction, bool, error) {
	id := t.bucket(bucketBankProviders).Get([]byte(providerKey(bankAccountID, providerID)))
	if id == nil {
		return bank.Transaction{}, false, nil
	}
	l, err := t.BankTransaction(string(id))
	if err != nil {
		return bank.Transaction{}, false, err
	}
	return l, true, nil
}

func (t *tx) BankTransactions(bankAccountID string) ([]bank.Transaction, error) {
	var out []bank.Transaction
	prefix := bankAccountID + "\x00"
	c := t.bucket(bucketBankProviders).Cursor()
	for k, id := c.Seek([]byte(prefix)); k != nil && hasPrefix(k, prefix); k, id = c.Next() {
		l, err := t.BankTransaction(string(id))
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *tx) MatchedTransactionIDs() (map[string]struct{}, error) {
	out := make(map[string]struct{})
	err := each(t, bucketBankLines, func(l bank.Transaction) error {
		if l.IsMatched {
			out[l.TransactionID] = struct{}{}
		}
		return nil
	})
	return out, err
}

func (t *tx) PutBankTransaction(l bank.Transaction) error {
	if _, err := t.BankAccount(l.BankAccountID); err != nil {
		return err
	}
	key := providerKey(l.BankAccountID, l.ProviderID)
	if id := t.bucket(bucketBankProviders).Get([]byte(key)); id != nil && string(id) != l.ID {
		return conflict("provider id %s already stored as %s", l.ProviderID, id)
	}
	if err := t.put(bucketBankLines, l.ID, l); err != nil {
		return err
	}
	return t.bucket(bucketBankProviders).Put([]byte(key), []byte(l.ID))
}

func (t *tx) DeleteBankTransaction(id string) error {
	l, err := t.BankTransaction(id)
	if err != nil {
		return err
	}
	if err := t.bucket(bucketBankProviders).Delete([]byte(providerKey(l.BankAccountID, l.ProviderID))); err != nil {
		return err
	}
	return t.bucket(bucketBankLines).Delete([]byte(id))
}
