// Package memory is an in-process backend for the ledger, invoice and bank
// stores. Each Update works on a private copy of the state that replaces
// the shared state on commit, so readers never see a partial unit of work.
// A map is copied the first time an Update writes to it; maps it only
// reads stay shared with the committed state.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"finstream.org/internal/bank"
	"finstream.org/internal/fault"
	"finstream.org/internal/invoice"
	"finstream.org/internal/ledger"
)

type state struct {
	accounts   map[string]ledger.Account
	txns       map[string]ledger.Transaction
	txByKey    map[string]string // idempotency key -> transaction id
	reversals  map[string]string // original id -> reversal id
	txOrder    []string          // transaction ids by sequence
	seq        uint64
	invoices   map[string]invoice.Invoice
	invoiceSeq int64
	bankAccts  map[string]bank.Account
	bankLines  map[string]bank.Transaction
}

func newState() *state {
	return &state{
		accounts:  map[string]ledger.Account{},
		txns:      map[string]ledger.Transaction{},
		txByKey:   map[string]string{},
		reversals: map[string]string{},
		invoices:  map[string]invoice.Invoice{},
		bankAccts: map[string]bank.Account{},
		bankLines: map[string]bank.Transaction{},
	}
}

// Bits of tx.owned, one per map a unit of work has copied.
const (
	ownAccounts uint8 = 1 << iota
	ownTxns
	ownTxByKey
	ownReversals
	ownInvoices
	ownBankAccts
	ownBankLines
)

// own returns *m, copying it first if this unit of work has not yet.
func own[V any](t *tx, bit uint8, m *map[string]V) map[string]V {
	if t.owned&bit == 0 {
		*m = maps.Clone(*m)
		t.owned |= bit
	}
	return *m
}

// Store holds all state in memory behind a single writer lock.
type Store struct {
	mu sync.RWMutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) Ledger() ledger.Store   { return ledgerStore{s} }
func (s *Store) Invoices() invoice.Store { return invoiceStore{s} }
func (s *Store) Bank() bank.Store        { return bankStore{s} }

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func (s *Store) view(ctx context.Context, fn func(*tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{st: s.st, readOnly: true})
}

func (s *Store) update(ctx context.Context, fn func(*tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := *s.st
	// txOrder is shared too: appends land past the committed length, which
	// the committed state never reads.
	t := &tx{st: &work}
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = t.st
	return nil
}

type ledgerStore struct{ s *Store }

func (l ledgerStore) View(ctx context.Context, fn func(ledger.Tx) error) error {
	return l.s.view(ctx, func(t *tx) error { return fn(t) })
}

func (l ledgerStore) Update(ctx context.Context, fn func(ledger.Tx) error) error {
	return l.s.update(ctx, func(t *tx) error { return fn(t) })
}

type invoiceStore struct{ s *Store }

func (i invoiceStore) View(ctx context.Context, fn func(invoice.Tx) error) error {
	return i.s.view(ctx, func(t *tx) error { return fn(t) })
}

func (i invoiceStore) Update(ctx context.Context, fn func(invoice.Tx) error) error {
	return i.s.update(ctx, func(t *tx) error { return fn(t) })
}

type bankStore struct{ s *Store }

func (b bankStore) View(ctx context.Context, fn func(bank.Tx) error) error {
	return b.s.view(ctx, func(t *tx) error { return fn(t) })
}

func (b bankStore) Update(ctx context.Context, fn func(bank.Tx) error) error {
	return b.s.update(ctx, func(t *tx) error { return fn(t) })
}

var errReadOnly = errors.New("memory: write in read-only unit of work")

// tx implements ledger.Tx, invoice.Tx and bank.Tx over one state snapshot.
type tx struct {
	st       *state
	readOnly bool
	owned    uint8
}

var (
	_ ledger.Tx  = (*tx)(nil)
	_ invoice.Tx = (*tx)(nil)
	_ bank.Tx    = (*tx)(nil)
)

func (t *tx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", fault.ErrConflict, fmt.Sprintf(format, args...))
}

// Ledger

func (t *tx) Account(id string) (ledger.Account, error) {
	a, ok := t.st.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return a, nil
}

func (t *tx) Accounts(f ledger.AccountFilter) ([]ledger.Account, error) {
	out := make([]ledger.Account, 0, len(t.st.accounts))
	for _, a := range t.st.accounts {
		if f.Match(a) {
			out = append(out, a)
		}
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
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.accounts[a.ID]; ok {
		return conflict("account %s exists", a.ID)
	}
	own(t, ownAccounts, &t.st.accounts)[a.ID] = a
	return nil
}

func (t *tx) UpdateAccount(a ledger.Account) error {
	if err := t.writable(); err != nil {
		return err
	}
	cur, ok := t.st.accounts[a.ID]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	if cur.Version != a.Version-1 {
		return conflict("account %s at version %d, update expects %d", a.ID, cur.Version, a.Version-1)
	}
	own(t, ownAccounts, &t.st.accounts)[a.ID] = a
	return nil
}

func (t *tx) Transaction(id string) (ledger.Transaction, error) {
	tr, ok := t.st.txns[id]
	if !ok {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return cloneTransaction(tr), nil
}

func (t *tx) Transactions(limit int, afterSeq uint64) ([]ledger.Transaction, error) {
	// sequence n lives at txOrder[n-1]
	start := int(afterSeq)
	if start > len(t.st.txOrder) {
		start = len(t.st.txOrder)
	}
	end := len(t.st.txOrder)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]ledger.Transaction, 0, end-start)
	for _, id := range t.st.txOrder[start:end] {
		out = append(out, cloneTransaction(t.st.txns[id]))
	}
	return out, nil
}

func (t *tx) InsertTransaction(tr *ledger.Transaction) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.txns[tr.ID]; ok {
		return conflict("transaction %s exists", tr.ID)
	}
	if tr.IdempotencyKey != "" {
		if prev, ok := t.st.txByKey[tr.IdempotencyKey]; ok {
			return conflict("idempotency key %q used by %s", tr.IdempotencyKey, prev)
		}
		own(t, ownTxByKey, &t.st.txByKey)[tr.IdempotencyKey] = tr.ID
	}
	if tr.ReversalOf != "" {
		own(t, ownReversals, &t.st.reversals)[tr.ReversalOf] = tr.ID
	}
	t.st.seq++
	tr.Sequence = t.st.seq
	own(t, ownTxns, &t.st.txns)[tr.ID] = cloneTransaction(*tr)
	t.st.txOrder = append(t.st.txOrder, tr.ID)
	return nil
}

func (t *tx) UpdateTransaction(tr ledger.Transaction) error {
	if err := t.writable(); err != nil {
		return err
	}
	cur, ok := t.st.txns[tr.ID]
	if !ok {
		return ledger.ErrTransactionNotFound
	}
	cur.IsReconciled = tr.IsReconciled
	cur.Attachments = slices.Clone(tr.Attachments)
	cur.UpdatedAt = tr.UpdatedAt
	own(t, ownTxns, &t.st.txns)[tr.ID] = cur
	return nil
}

func (t *tx) TransactionByKey(key string) (ledger.Transaction, bool, error) {
	id, ok := t.st.txByKey[key]
	if !ok {
		return ledger.Transaction{}, false, nil
	}
	return cloneTransaction(t.st.txns[id]), true, nil
}

func (t *tx) ReversalOf(id string) (ledger.Transaction, bool, error) {
	rid, ok := t.st.reversals[id]
	if !ok {
		return ledger.Transaction{}, false, nil
	}
	return cloneTransaction(t.st.txns[rid]), true, nil
}

func (t *tx) AccountEntries(accountID string) ([]ledger.PostedEntry, error) {
	var out []ledger.PostedEntry
	for _, tid := range t.st.txOrder {
		tr := t.st.txns[tid]
		for _, e := range tr.Entries {
			if e.AccountID != accountID {
				continue
			}
			out = append(out, ledger.PostedEntry{
				JournalEntry: e,
				Sequence:     tr.Sequence,
				Date:         tr.Date,
				Description:  tr.Description,
			})
		}
	}
	return out, nil
}

func cloneTransaction(tr ledger.Transaction) ledger.Transaction {
	tr.Entries = slices.Clone(tr.Entries)
	tr.Attachments = slices.Clone(tr.Attachments)
	return tr
}

// Invoices

func (t *tx) Invoice(id string) (invoice.Invoice, error) {
	inv, ok := t.st.invoices[id]
	if !ok {
		return invoice.Invoice{}, invoice.ErrNotFound
	}
	return cloneInvoice(inv), nil
}

func (t *tx) InvoiceByNumber(number string) (invoice.Invoice, bool, error) {
	for _, inv := range t.st.invoices {
		if inv.InvoiceNumber == number {
			return cloneInvoice(inv), true, nil
		}
	}
	return invoice.Invoice{}, false, nil
}

func (t *tx) Invoices(f invoice.Filter) ([]invoice.Invoice, error) {
	var out []invoice.Invoice
	for _, inv := range t.st.invoices {
		if f.Match(inv) {
			out = append(out, cloneInvoice(inv))
		}
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
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.invoices[inv.ID]; ok {
		return conflict("invoice %s exists", inv.ID)
	}
	own(t, ownInvoices, &t.st.invoices)[inv.ID] = cloneInvoice(inv)
	return nil
}

func (t *tx) UpdateInvoice(inv invoice.Invoice) error {
	if err := t.writable(); err != nil {
		return err
	}
	cur, ok := t.st.invoices[inv.ID]
	if !ok {
		return invoice.ErrNotFound
	}
	if cur.Version != inv.Version-1 {
		return conflict("invoice %s at version %d, update expects %d", inv.ID, cur.Version, inv.Version-1)
	}
	own(t, ownInvoices, &t.st.invoices)[inv.ID] = cloneInvoice(inv)
	return nil
}

func (t *tx) DeleteInvoice(id string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.invoices[id]; !ok {
		return invoice.ErrNotFound
	}
	delete(own(t, ownInvoices, &t.st.invoices), id)
	return nil
}

func (t *tx) NextInvoiceSeq() (int64, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}
	t.st.invoiceSeq++
	return t.st.invoiceSeq, nil
}

func cloneInvoice(inv invoice.Invoice) invoice.Invoice {
	inv.Items = slices.Clone(inv.Items)
	inv.Payments = slices.Clone(inv.Payments)
	return inv
}

// Bank

func (t *tx) BankAccount(id string) (bank.Account, error) {
	a, ok := t.st.bankAccts[id]
	if !ok {
		return bank.Account{}, bank.ErrAccountNotFound
	}
	return a, nil
}

func (t *tx) BankAccounts() ([]bank.Account, error) {
	out := slices.Collect(maps.Values(t.st.bankAccts))
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) InsertBankAccount(a bank.Account) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.bankAccts[a.ID]; ok {
		return conflict("bank account %s exists", a.ID)
	}
	own(t, ownBankAccts, &t.st.bankAccts)[a.ID] = a
	return nil
}

func (t *tx) UpdateBankAccount(a bank.Account) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.bankAccts[a.ID]; !ok {
		return bank.ErrAccountNotFound
	}
	own(t, ownBankAccts, &t.st.bankAccts)[a.ID] = a
	return nil
}

func (t *tx) DeleteBankAccount(id string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.bankAccts[id]; !ok {
		return bank.ErrAccountNotFound
	}
	delete(own(t, ownBankAccts, &t.st.bankAccts), id)
	maps.DeleteFunc(own(t, ownBankLines, &t.st.bankLines), func(_ string, l bank.Transaction) bool {
		return l.BankAccountID == id
	})
	return nil
}

func (t *tx) BankTransaction(id string) (bank.Transaction, error) {
	l, ok := t.st.bankLines[id]
	if !ok {
		return bank.Transaction{}, bank.ErrTransactionNotFound
	}
	return l, nil
}

func (t *tx) BankTransactionByProvider(bankAccountID, providerID string) (bank.Transaction, bool, error) {
	for _, l := range t.st.bankLines {
		if l.BankAccountID == bankAccountID && l.ProviderID == providerID {
			return l, true, nil
		}
	}
	return bank.Transaction{}, false, nil
}

func (t *tx) BankTransactions(bankAccountID string) ([]bank.Transaction, error) {
	var out []bank.Transaction
	for _, l := range t.st.bankLines {
		if l.BankAccountID == bankAccountID {
			out = append(out, l)
		}
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
	for _, l := range t.st.bankLines {
		if l.IsMatched {
			out[l.TransactionID] = struct{}{}
		}
	}
	return out, nil
}

func (t *tx) PutBankTransaction(l bank.Transaction) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.bankAccts[l.BankAccountID]; !ok {
		return bank.ErrAccountNotFound
	}
	own(t, ownBankLines, &t.st.bankLines)[l.ID] = l
	return nil
}

func (t *tx) DeleteBankTransaction(id string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.bankLines[id]; !ok {
		return bank.ErrTransactionNotFound
	}
	delete(own(t, ownBankLines, &t.st.bankLines), id)
	return nil
}
