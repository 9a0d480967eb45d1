package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"finstream.org/internal/bank"
	"finstream.org/internal/fault"
	"finstream.org/internal/invoice"
	"finstream.org/internal/ledger"
)

const (
	pgErrSerializationFailure = "40001"
	pgErrDeadlockDetected     = "40P01"
	pgErrUniqueViolation      = "23505"
	pgErrForeignKeyViolation  = "23503"
	pgErrCheckViolation       = "23514"
)

// Store is the PostgreSQL backend. Every unit of work runs in a
// SERIALIZABLE transaction; rows are locked with select ... for update
// and versioned rows are updated with a compare-and-set on version.
type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Two API replicas plus finctl stay under the default max_connections of 100.
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing pool.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Ledger() ledger.Store    { return ledgerStore{s} }
func (s *Store) Invoices() invoice.Store { return invoiceStore{s} }
func (s *Store) Bank() bank.Store        { return bankStore{s} }

func (s *Store) view(ctx context.Context, fn func(*tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return mapErr(fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = sqlTx.Rollback() }()
	return mapErr(fn(&tx{ctx: ctx, q: sqlTx}))
}

func (s *Store) update(ctx context.Context, fn func(*tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapErr(fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = sqlTx.Rollback() }()
	if err := fn(&tx{ctx: ctx, q: sqlTx, lock: true}); err != nil {
		return mapErr(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return mapErr(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// mapErr converts contention and constraint failures into fault kinds.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	pgErr, ok := maybePgError(err)
	if !ok {
		return err
	}
	switch pgErr.Code {
	case pgErrSerializationFailure, pgErrDeadlockDetected, pgErrUniqueViolation:
		return fmt.Errorf("%w: %w", fault.ErrConflict, err)
	case pgErrForeignKeyViolation, pgErrCheckViolation:
		return fmt.Errorf("%w: %w", fault.ErrValidation, err)
	}
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
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

// tx implements ledger.Tx, invoice.Tx and bank.Tx on one *sql.Tx.
type tx struct {
	ctx  context.Context
	q    *sql.Tx
	lock bool
}

var (
	_ ledger.Tx  = (*tx)(nil)
	_ invoice.Tx = (*tx)(nil)
	_ bank.Tx    = (*tx)(nil)
)

// forUpdate returns the row-locking clause for writable units of work.
func (t *tx) forUpdate() string {
	if t.lock {
		return " for update"
	}
	return ""
}

func (t *tx) exec(query string, args ...any) (sql.Result, error) {
	return t.q.ExecContext(t.ctx, query, args...)
}

func (t *tx) query(query string, args ...any) (*sql.Rows, error) {
	return t.q.QueryContext(t.ctx, query, args...)
}

func (t *tx) queryRow(query string, args ...any) *sql.Row {
	return t.q.QueryRowContext(t.ctx, query, args...)
}

// exists reports whether table has a row with the given id.
func (t *tx) exists(table, id string) (bool, error) {
	var one int
	err := t.queryRow(fmt.Sprintf(`select 1 from %s where id=$1`, table), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", fault.ErrConflict, fmt.Sprintf(format, args...))
}

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
