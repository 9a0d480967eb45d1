package pg

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finstream.org/internal/bank"
	"finstream.org/internal/fault"
	"finstream.org/internal/invoice"
	"finstream.org/internal/ledger"
)

var (
	now          = time.Date(2024, 4, 2, 9, 30, 0, 0, time.UTC)
	accountCols  = []string{"id", "name", "number", "description", "type", "subtype", "balance", "is_active", "is_archived", "version", "created_at", "updated_at"}
	txEntryCols  = []string{"id", "sequence", "date", "description", "reference", "reversal_of", "idempotency_key", "attachments", "is_reconciled", "created_at", "updated_at", "e_id", "account_id", "amount", "memo"}
	bankLineCols = []string{"id", "bank_account_id", "provider_id", "date", "description", "amount", "category", "pending", "transaction_id", "is_matched", "created_at", "updated_at"}
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func accountRow(id, name string, balance, version int64) *sqlmock.Rows {
	return sqlmock.NewRows(accountCols).
		AddRow(id, name, "", "", "ASSET", "CASH", balance, true, false, version, now, now)
}

func clock() time.Time { return now }

func TestCreateAccountInsertsRow(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("insert into accounts").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	svc := ledger.NewService(s.Ledger(), ledger.WithClock(clock))
	acc, err := svc.CreateAccount(context.Background(), ledger.AccountSpec{Name: "Cash", Type: ledger.Asset, Subtype: ledger.Cash})
	require.NoError(t, err)
	assert.Equal(t, int64(1), acc.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSerializationFailureIsRetryable(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("insert into accounts").WillReturnError(&pgconn.PgError{Code: pgErrSerializationFailure})
	mock.ExpectRollback()

	svc := ledger.NewService(s.Ledger())
	_, err := svc.CreateAccount(context.Background(), ledger.AccountSpec{Name: "Cash", Type: ledger.Asset, Subtype: ledger.Cash})
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrConflict)
	assert.True(t, fault.Retryable(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestForeignKeyViolationIsValidation(t *testing.T) {
	err := mapErr(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	assert.ErrorIs(t, err, fault.ErrValidation)
	assert.False(t, fault.Retryable(err))
}

func TestGetAccountNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`select .* from accounts where id=\$1$`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(accountCols))
	mock.ExpectRollback()

	svc := ledger.NewService(s.Ledger())
	_, err := svc.GetAccount(context.Background(), "missing")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStaleVersionIsConflict(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`select .* from accounts where id=\$1 for update`).
		WithArgs("acc-1").
		WillReturnRows(accountRow("acc-1", "Cash", 0, 3))
	mock.ExpectExec("update accounts").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select 1 from accounts where id=\$1`).
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectRollback()

	svc := ledger.NewService(s.Ledger(), ledger.WithClock(clock))
	_, err := svc.ArchiveAccount(context.Background(), "acc-1")
	assert.ErrorIs(t, err, fault.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostTransactionLocksInOrder(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`from accounts where id=\$1 for update`).WithArgs("acc-a").WillReturnRows(accountRow("acc-a", "Cash", 0, 1))
	mock.ExpectQuery(`from accounts where id=\$1 for update`).WithArgs("acc-b").WillReturnRows(accountRow("acc-b", "Sales", 0, 1))
	mock.ExpectQuery("insert into transactions").WillReturnRows(sqlmock.NewRows([]string{"sequence"}).AddRow(7))
	mock.ExpectExec("insert into journal_entries").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into journal_entries").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update accounts").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update accounts").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	svc := ledger.NewService(s.Ledger(), ledger.WithClock(clock))
	tx, err := svc.PostTransaction(context.Background(), ledger.PostRequest{
		Date:        now,
		Description: "sale",
		Entries: []ledger.EntryInput{
			{AccountID: "acc-b", Amount: -1500},
			{AccountID: "acc-a", Amount: 1500},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), tx.Sequence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionGroupsEntries(t *testing.T) {
	s, mock := newMock(t)
	day := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("from transactions t").
		WithArgs("tx-1").
		WillReturnRows(sqlmock.NewRows(txEntryCols).
			AddRow("tx-1", 3, day, "sale", "", "", "", []byte(`[{"id":"att-1","file_name":"r.pdf","file_url":"s3://r.pdf"}]`), false, now, now, "e-1", "acc-a", 1500, "").
			AddRow("tx-1", 3, day, "sale", "", "", "", []byte(`[{"id":"att-1","file_name":"r.pdf","file_url":"s3://r.pdf"}]`), false, now, now, "e-2", "acc-b", -1500, ""))
	mock.ExpectRollback()

	svc := ledger.NewService(s.Ledger())
	tx, err := svc.GetTransaction(context.Background(), "tx-1")
	require.NoError(t, err)
	require.Len(t, tx.Entries, 2)
	assert.Equal(t, "e-2", tx.Entries[1].ID)
	assert.Equal(t, "tx-1", tx.Entries[1].TransactionID)
	require.Len(t, tx.Attachments, 1)
	assert.Equal(t, "r.pdf", tx.Attachments[0].FileName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetriedPostReturnsStoredTransaction(t *testing.T) {
	s, mock := newMock(t)
	day := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(`where t.idempotency_key=\$1`).
		WithArgs("retry-1").
		WillReturnRows(sqlmock.NewRows(txEntryCols).
			AddRow("tx-1", 4, day, "sale", "", "", "retry-1", []byte(`[]`), false, now, now, "e-1", "acc-a", 1500, "").
			AddRow("tx-1", 4, day, "sale", "", "", "retry-1", []byte(`[]`), false, now, now, "e-2", "acc-b", -1500, ""))
	mock.ExpectCommit()

	svc := ledger.NewService(s.Ledger(), ledger.WithClock(clock))
	tx, replayed, err := svc.PostIdempotent(context.Background(), ledger.PostRequest{
		Date:           day,
		Description:    "sale",
		IdempotencyKey: "retry-1",
		Entries: []ledger.EntryInput{
			{AccountID: "acc-a", Amount: 1500},
			{AccountID: "acc-b", Amount: -1500},
		},
	})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, "tx-1", tx.ID)
	assert.Equal(t, uint64(4), tx.Sequence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDuplicateIdempotencyKeyIsConflict(t *testing.T) {
	err := mapErr(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "transactions_idempotency_key"})
	assert.ErrorIs(t, err, fault.ErrConflict)
	assert.True(t, fault.Retryable(err))
}

func TestInvoiceNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("from invoices where id").WithArgs("inv-x").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	svc := invoice.NewService(s.Invoices())
	_, err := svc.Get(context.Background(), "inv-x")
	assert.ErrorIs(t, err, invoice.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnmatchClearsLink(t *testing.T) {
	s, mock := newMock(t)
	day := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(`from bank_transactions where id=\$1 for update`).
		WithArgs("bt-1").
		WillReturnRows(sqlmock.NewRows(bankLineCols).
			AddRow("bt-1", "ba-1", "p-1", day, "coffee", -450, "", false, "tx-1", true, now, now))
	mock.ExpectExec("insert into bank_transactions").
		WithArgs("bt-1", "ba-1", "p-1", day, "coffee", int64(-450), "", false, "", false, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	svc := bank.NewService(s.Bank(), bank.WithClock(clock))
	line, err := svc.Unmatch(context.Background(), "bt-1")
	require.NoError(t, err)
	assert.False(t, line.IsMatched)
	assert.Empty(t, line.TransactionID)
	require.NoError(t, mock.ExpectationsWereMet())
}
