package pg

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"finstream.org/internal/ledger"
)

const accountColumns = `id, name, number, description, type, subtype, balance, is_active, is_archived, version, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (ledger.Account, error) {
	var a ledger.Account
	err := row.Scan(&a.ID, &a.Name, &a.Number, &a.Description, &a.Type, &a.Subtype, &a.Balance,
		&a.IsActive, &a.IsArchived, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (t *tx) Account(id string) (ledger.Account, error) {
	a, err := scanAccount(t.queryRow(`select `+accountColumns+` from accounts where id=$1`+t.forUpdate(), id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	if err != nil {
		return ledger.Account{}, fmt.Errorf("load account %s: %w", id, err)
	}
	return a, nil
}

func (t *tx) Accounts(f ledger.AccountFilter) ([]ledger.Account, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		args = append(args, f.Type)
		where = append(where, fmt.Sprintf("type=$%d", len(args)))
	}
	if !f.IncludeArchived {
		where = append(where, "not is_archived")
	}
	q := `select ` + accountColumns + ` from accounts`
	if len(where) > 0 {
		q += ` where ` + strings.Join(where, " and ")
	}
	q += ` order by number, name, id`

	rows, err := t.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	var out []ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *tx) InsertAccount(a ledger.Account) error {
	_, err := t.exec(`
		insert into accounts (`+accountColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, a.ID, a.Name, a.Number, a.Description, a.Type, a.Subtype, a.Balance,
		a.IsActive, a.IsArchived, a.Version, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (t *tx) UpdateAccount(a ledger.Account) error {
	res, err := t.exec(`
		update accounts
		set name=$2, number=$3, description=$4, balance=$5, is_active=$6, is_archived=$7,
		    version=$8, updated_at=$9
		where id=$1 and version=$10
	`, a.ID, a.Name, a.Number, a.Description, a.Balance, a.IsActive, a.IsArchived,
		a.Version, a.UpdatedAt, a.Version-1)
	if err != nil {
		return fmt.Errorf("update account %s: %w", a.ID, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	ok, err := t.exists("accounts", a.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ledger.ErrAccountNotFound
	}
	return conflict("account %s changed concurrently", a.ID)
}

const transactionColumns = `t.id, t.sequence, t.date, t.description, t.reference, coalesce(t.reversal_of, ''),
	coalesce(t.idempotency_key, ''), t.attachments, t.is_reconciled, t.created_at, t.updated_at`

// loadTransactions runs a query over transactions aliased t that must
// select transactionColumns followed by the entry columns, ordered by
// sequence then entry position.
func (t *tx) loadTransactions(query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := t.query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		var (
			tr          ledger.Transaction
			attachments []byte
			e           ledger.JournalEntry
		)
		if err := rows.Scan(&tr.ID, &tr.Sequence, &tr.Date, &tr.Description, &tr.Reference, &tr.ReversalOf,
			&tr.IdempotencyKey, &attachments, &tr.IsReconciled, &tr.CreatedAt, &tr.UpdatedAt,
			&e.ID, &e.AccountID, &e.Amount, &e.Memo); err != nil {
			return nil, err
		}
		e.TransactionID = tr.ID
		if n := len(out); n > 0 && out[n-1].ID == tr.ID {
			out[n-1].Entries = append(out[n-1].Entries, e)
			continue
		}
		if len(attachments) > 0 {
			if err := json.Unmarshal(attachments, &tr.Attachments); err != nil {
				return nil, fmt.Errorf("decode attachments of %s: %w", tr.ID, err)
			}
		}
		tr.Date = ledger.Day(tr.Date)
		tr.Entries = []ledger.JournalEntry{e}
		out = append(out, tr)
	}
	return out, rows.Err()
}

const entryJoin = `
	join journal_entries e on e.transaction_id = t.id`

const entryColumns = `, e.id, e.account_id, e.amount, e.memo`

func (t *tx) Transaction(id string) (ledger.Transaction, error) {
	res, err := t.loadTransactions(`select `+transactionColumns+entryColumns+` from transactions t`+entryJoin+`
		where t.id=$1 order by e.position`, id)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if len(res) == 0 {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return res[0], nil
}

func (t *tx) Transactions(limit int, afterSeq uint64) ([]ledger.Transaction, error) {
	return t.loadTransactions(`
		with page as (
			select * from transactions where sequence > $1 order by sequence limit $2
		)
		select `+transactionColumns+entryColumns+` from page t`+entryJoin+`
		order by t.sequence, e.position`, afterSeq, limit)
}

func (t *tx) InsertTransaction(tr *ledger.Transaction) error {
	attachments, err := json.Marshal(tr.Attachments)
	if err != nil {
		return err
	}
	err = t.queryRow(`
		insert into transactions (id, date, description, reference, reversal_of, idempotency_key,
			attachments, is_reconciled, created_at, updated_at)
		values ($1,$2,$3,$4,nullif($5,''),nullif($6,''),$7,$8,$9,$10)
		returning sequence
	`, tr.ID, tr.Date, tr.Description, tr.Reference, tr.ReversalOf, tr.IdempotencyKey, attachments,
		tr.IsReconciled, tr.CreatedAt, tr.UpdatedAt).Scan(&tr.Sequence)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	for i, e := range tr.Entries {
		if _, err := t.exec(`
			insert into journal_entries (id, transaction_id, account_id, position, amount, memo)
			values ($1,$2,$3,$4,$5,$6)
		`, e.ID, tr.ID, e.AccountID, i, e.Amount, e.Memo); err != nil {
			return fmt.Errorf("insert entry %d: %w", i, err)
		}
	}
	return nil
}

func (t *tx) UpdateTransaction(tr ledger.Transaction) error {
	attachments, err := json.Marshal(tr.Attachments)
	if err != nil {
		return err
	}
	res, err := t.exec(`
		update transactions set is_reconciled=$2, attachments=$3, updated_at=$4 where id=$1
	`, tr.ID, tr.IsReconciled, attachments, tr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", tr.ID, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrTransactionNotFound
	}
	return nil
}

func (t *tx) TransactionByKey(key string) (ledger.Transaction, bool, error) {
	res, err := t.loadTransactions(`select `+transactionColumns+entryColumns+` from transactions t`+entryJoin+`
		where t.idempotency_key=$1 order by e.position`, key)
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	if len(res) == 0 {
		return ledger.Transaction{}, false, nil
	}
	return res[0], true, nil
}

func (t *tx) ReversalOf(id string) (ledger.Transaction, bool, error) {
	res, err := t.loadTransactions(`select `+transactionColumns+entryColumns+` from transactions t`+entryJoin+`
		where t.reversal_of=$1 order by t.sequence, e.position`, id)
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	if len(res) == 0 {
		return ledger.Transaction{}, false, nil
	}
	return res[0], true, nil
}

func (t *tx) AccountEntries(accountID string) ([]ledger.PostedEntry, error) {
	rows, err := t.query(`
		select e.id, e.transaction_id, e.account_id, e.amount, e.memo, t.sequence, t.date, t.description
		from journal_entries e
		join transactions t on t.id = e.transaction_id
		where e.account_id=$1
		order by t.sequence, e.position
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("account entries: %w", err)
	}
	defer rows.Close()
	var out []ledger.PostedEntry
	for rows.Next() {
		var p ledger.PostedEntry
		if err := rows.Scan(&p.ID, &p.TransactionID, &p.AccountID, &p.Amount, &p.Memo,
			&p.Sequence, &p.Date, &p.Description); err != nil {
			return nil, err
		}
		p.Date = ledger.Day(p.Date)
		out = append(out, p)
	}
	return out, rows.Err()
}
