// Package bolt is an embedded single-file backend built on bbolt. Records
// are stored as JSON; Update runs in one read-write bbolt transaction.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"finstream.org/internal/bank"
	"finstream.org/internal/invoice"
	"finstream.org/internal/ledger"
)

var (
	bucketAccounts       = []byte("accounts")
	bucketTransactions   = []byte("transactions")
	bucketTxBySeq        = []byte("transactions_by_seq")
	bucketTxByKey        = []byte("transactions_by_key")
	bucketReversals      = []byte("reversals")
	bucketInvoices       = []byte("invoices")
	bucketInvoiceNumbers = []byte("invoice_numbers")
	bucketBankAccounts   = []byte("bank_accounts")
	bucketBankLines      = []byte("bank_transactions")
	bucketBankProviders  = []byte("bank_providers")
)

var allBuckets = [][]byte{
	bucketAccounts, bucketTransactions, bucketTxBySeq, bucketTxByKey, bucketReversals,
	bucketInvoices, bucketInvoiceNumbers,
	bucketBankAccounts, bucketBankLines, bucketBankProviders,
}

type Store struct {
	db *bolt.DB
}

// Open opens or creates the database file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(btx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := btx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(context.Context) error {
	return s.db.View(func(*bolt.Tx) error { return nil })
}

func (s *Store) Ledger() ledger.Store    { return ledgerStore{s} }
func (s *Store) Invoices() invoice.Store { return invoiceStore{s} }
func (s *Store) Bank() bank.Store        { return bankStore{s} }

func (s *Store) view(ctx context.Context, fn func(*tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(btx *bolt.Tx) error { return fn(&tx{b: btx}) })
}

func (s *Store) update(ctx context.Context, fn func(*tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(btx *bolt.Tx) error {
		if err := fn(&tx{b: btx}); err != nil {
			return err
		}
		return ctx.Err()
	})
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

// tx implements ledger.Tx, invoice.Tx and bank.Tx on one bbolt transaction.
type tx struct {
	b *bolt.Tx
}

var (
	_ ledger.Tx  = (*tx)(nil)
	_ invoice.Tx = (*tx)(nil)
	_ bank.Tx    = (*tx)(nil)
)

func (t *tx) bucket(name []byte) *bolt.Bucket { return t.b.Bucket(name) }

// get decodes the record stored under key into v and reports whether it exists.
func (t *tx) get(bucket []byte, key string, v any) (bool, error) {
	raw := t.bucket(bucket).Get([]byte(key))
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", bucket, key, err)
	}
	return true, nil
}

func (t *tx) put(bucket []byte, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", bucket, key, err)
	}
	return t.bucket(bucket).Put([]byte(key), raw)
}

// each decodes every record of bucket and passes it to fn in key order.
func each[T any](t *tx, bucket []byte, fn func(T) error) error {
	return t.bucket(bucket).ForEach(func(k, raw []byte) error {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("decode %s/%s: %w", bucket, k, err)
		}
		return fn(v)
	})
}

func seqKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}

func providerKey(bankAccountID, providerID string) string {
	return bankAccountID + "\x00" + providerID
}

func hasPrefix(k []byte, prefix string) bool {
	return bytes.HasPrefix(k, []byte(prefix))
}
