package pg

import (
	"database/sql"
	"errors"
	"fmt"

	"finstream.org/internal/bank"
)

const bankAccountColumns = `id, account_id, institution_name, account_name, account_type, mask, balance, last_updated, created_at`

func scanBankAccount(row interface{ Scan(...any) error }) (bank.Account, error) {
	var a bank.Account
	err := row.Scan(&a.ID, &a.AccountID, &a.InstitutionName, &a.AccountName, &a.AccountType, &a.Mask,
		&a.Balance, &a.LastUpdated, &a.CreatedAt)
	return a, err
}

func (t *tx) BankAccount(id string) (bank.Account, error) {
	a, err := scanBankAccount(t.queryRow(`select `+bankAccountColumns+` from bank_accounts where id=$1`+t.forUpdate(), id))
	if errors.Is(err, sql.ErrNoRows) {
		return bank.Account{}, bank.ErrAccountNotFound
	}
	if err != nil {
		return bank.Account{}, fmt.Errorf("load bank account %s: %w", id, err)
	}
	return a, nil
}

func (t *tx) BankAccounts() ([]bank.Account, error) {
	rows, err := t.query(`select ` + bankAccountColumns + ` from bank_accounts order by id`)
	if err != nil {
		return nil, fmt.Errorf("list bank accounts: %w", err)
	}
	defer rows.Close()
	var out []bank.Account
	for rows.Next() {
		a, err := scanBankAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *tx) InsertBankAccount(a bank.Account) error {
	_, err := t.exec(`
		insert into bank_accounts (`+bankAccountColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, a.ID, a.AccountID, a.InstitutionName, a.AccountName, a.AccountType, a.Mask, a.Balance, a.LastUpdated, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert bank account: %w", err)
	}
	return nil
}

func (t *tx) UpdateBankAccount(a bank.Account) error {
	res, err := t.exec(`
		update bank_accounts
		set institution_name=$2, account_name=$3, account_type=$4, mask=$5, balance=$6, last_updated=$7
		where id=$1
	`, a.ID, a.InstitutionName, a.AccountName, a.AccountType, a.Mask, a.Balance, a.LastUpdated)
	if err != nil {
		return fmt.Errorf("update bank account %s: %w", a.ID, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return bank.ErrAccountNotFound
	}
	return nil
}

// DeleteBankAccount relies on the cascading foreign key from bank_transactions.
func (t *tx) DeleteBankAccount(id string) error {
	res, err := t.exec(`delete from bank_accounts where id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete bank account %s: %w", id, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return bank.ErrAccountNotFound
	}
	return nil
}

const bankTxColumns = `id, bank_account_id, provider_id, date, description, amount, category, pending,
	coalesce(transaction_id, ''), is_matched, created_at, updated_at`

func scanBankTx(row interface{ Scan(...any) error }) (bank.Transaction, error) {
	var l bank.Transaction
	err := row.Scan(&l.ID, &l.BankAccountID, &l.ProviderID, &l.Date, &l.Description, &l.Amount, &l.Category,
		&l.Pending, &l.TransactionID, &l.IsMatched, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func (t *tx) BankTransaction(id string) (bank.Transaction, error) {
	l, err := scanBankTx(t.queryRow(`select `+bankTxColumns+` from bank_transactions where id=$1`+t.forUpdate(), id))
	if errors.Is(err, sql.ErrNoRows) {
		return bank.Transaction{}, bank.ErrTransactionNotFound
	}
	if err != nil {
		return bank.Transaction{}, fmt.Errorf("load bank transaction %s: %w", id, err)
	}
	return l, nil
}

func (t *tx) BankTransactionByProvider(bankAccountID, providerID string) (bank.Transaction, bool, error) {
	l, err := scanBankTx(t.queryRow(`select `+bankTxColumns+` from bank_transactions
		where bank_account_id=$1 and provider_id=$2`+t.forUpdate(), bankAccountID, providerID))
	if errors.Is(err, sql.ErrNoRows) {
		return bank.Transaction{}, false, nil
	}
	if err != nil {
		return bank.Transaction{}, false, fmt.Errorf("lookup provider line %s: %w", providerID, err)
	}
	return l, true, nil
}

func (t *tx) BankTransactions(bankAccountID string) ([]bank.Transaction, error) {
	rows, err := t.query(`select `+bankTxColumns+` from bank_transactions
		where bank_account_id=$1 order by date, id`, bankAccountID)
	if err != nil {
		return nil, fmt.Errorf("list bank transactions: %w", err)
	}
	defer rows.Close()
	var out []bank.Transaction
	for rows.Next() {
		l, err := scanBankTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *tx) MatchedTransactionIDs() (map[string]struct{}, error) {
	rows, err := t.query(`select distinct transaction_id from bank_transactions where is_matched`)
	if err != nil {
		return nil, fmt.Errorf("matched transactions: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

func (t *tx) PutBankTransaction(l bank.Transaction) error {
	_, err := t.exec(`
		insert into bank_transactions (id, bank_account_id, provider_id, date, description, amount, category, pending,
			transaction_id, is_matched, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,nullif($9,''),$10,$11,$12)
		on conflict (id) do update
		set date=excluded.date, description=excluded.description, amount=excluded.amount,
		    category=excluded.category, pending=excluded.pending, transaction_id=excluded.transaction_id,
		    is_matched=excluded.is_matched, updated_at=excluded.updated_at
	`, l.ID, l.BankAccountID, l.ProviderID, l.Date, l.Description, l.Amount, l.Category, l.Pending,
		l.TransactionID, l.IsMatched, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put bank transaction %s: %w", l.ID, err)
	}
	return nil
}

func (t *tx) DeleteBankTransaction(id string) error {
	res, err := t.exec(`delete from bank_transactions where id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete bank transaction %s: %w", id, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return bank.ErrTransactionNotFound
	}
	return nil
}
