package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"finstream.org/internal/fault"
	"finstream.org/internal/money"
)

// AccountSpec describes a new account.
type AccountSpec struct {
	Name        string      `json:"name" yaml:"name"`
	Number      string      `json:"number,omitempty" yaml:"number"`
	Description string      `json:"description,omitempty" yaml:"description"`
	Type        AccountType `json:"type" yaml:"type"`
	Subtype     Subtype     `json:"subtype" yaml:"subtype"`
}

func (s AccountSpec) validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return ErrNameRequired
	}
	return validateClassification(s.Type, s.Subtype)
}

// AttachmentSpec describes a document to link to a transaction.
type AttachmentSpec struct {
	FileName string `json:"file_name"`
	FileURL  string `json:"file_url"`
	FileType string `json:"file_type,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

// Statement is the history of one account over a date range.
type Statement struct {
	AccountID      string          `json:"account_id"`
	From           time.Time       `json:"from,omitempty"`
	To             time.Time       `json:"to,omitempty"`
	OpeningBalance money.Amount    `json:"opening_balance"`
	ClosingBalance money.Amount    `json:"closing_balance"`
	Lines          []StatementLine `json:"lines"`
}

// StatementLine is one entry of a statement with the running balance after it.
type StatementLine struct {
	TransactionID string       `json:"transaction_id"`
	Sequence      uint64       `json:"sequence"`
	Date          time.Time    `json:"date"`
	Description   string       `json:"description"`
	Memo          string       `json:"memo,omitempty"`
	Amount        money.Amount `json:"amount"`
	Balance       money.Amount `json:"balance"`
}

// BalanceDrift reports an account whose materialized balance disagrees with
// the sum of its posted entries.
type BalanceDrift struct {
	AccountID string       `json:"account_id"`
	Name      string       `json:"name"`
	Stored    money.Amount `json:"stored"`
	Computed  money.Amount `json:"computed"`
}

// Service implements chart-of-accounts and ledger operations on top of a Store.
type Service struct {
	store         Store
	now           func() time.Time
	strictArchive bool
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStrictArchive controls whether archiving an account with a nonzero
// balance is rejected. Enabled by default.
func WithStrictArchive(strict bool) Option {
	return func(s *Service) { s.strictArchive = strict }
}

// NewService constructs a Service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:         store,
		now:           func() time.Time { return time.Now().UTC() },
		strictArchive: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) CreateAccount(ctx context.Context, spec AccountSpec) (Account, error) {
	if err := spec.validate(); err != nil {
		return Account{}, err
	}
	now := s.now()
	acc := Account{
		ID:          newID(),
		Name:        strings.TrimSpace(spec.Name),
		Number:      strings.TrimSpace(spec.Number),
		Description: strings.TrimSpace(spec.Description),
		Type:        spec.Type,
		Subtype:     spec.Subtype,
		IsActive:    true,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.store.Update(ctx, func(tx Tx) error {
		return tx.InsertAccount(acc)
	})
	if err != nil {
		return Account{}, err
	}
	return acc, nil
}

func (s *Service) GetAccount(ctx context.Context, id string) (Account, error) {
	var acc Account
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		acc, err = tx.Account(id)
		return err
	})
	return acc, err
}

func (s *Service) ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, error) {
	var out []Account
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Accounts(filter)
		return err
	})
	return out, err
}

func (s *Service) GetBalance(ctx context.Context, id string) (money.Amount, error) {
	acc, err := s.GetAccount(ctx, id)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// ArchiveAccount hides the account from posting. It is reversible with RestoreAccount.
func (s *Service) ArchiveAccount(ctx context.Context, id string) (Account, error) {
	return s.setArchived(ctx, id, true)
}

func (s *Service) RestoreAccount(ctx context.Context, id string) (Account, error) {
	return s.setArchived(ctx, id, false)
}

func (s *Service) setArchived(ctx context.Context, id string, archived bool) (Account, error) {
	var acc Account
	err := s.store.Update(ctx, func(tx Tx) error {
		var err error
		acc, err = tx.Account(id)
		if err != nil {
			return err
		}
		if acc.IsArchived == archived {
			return nil
		}
		if archived && s.strictArchive && !acc.Balance.IsZero() {
			return fmt.Errorf("%w: %s holds %s", ErrNonZeroBalance, acc.Name, acc.Balance)
		}
		acc.IsArchived = archived
		acc.IsActive = !archived
		acc.Version++
		acc.UpdatedAt = s.now()
		return tx.UpdateAccount(acc)
	})
	if err != nil {
		return Account{}, err
	}
	return acc, nil
}

// SeedChart creates every template account whose name is not already in use.
// It returns the accounts it created.
func (s *Service) SeedChart(ctx context.Context, tpl ChartTemplate) ([]Account, error) {
	for i, spec := range tpl.Accounts {
		if err := spec.validate(); err != nil {
			return nil, fmt.Errorf("template account %d: %w", i, err)
		}
	}
	var created []Account
	err := s.store.Update(ctx, func(tx Tx) error {
		created = nil
		existing, err := tx.Accounts(AccountFilter{IncludeArchived: true})
		if err != nil {
			return err
		}
		names := make(map[string]struct{}, len(existing))
		for _, a := range existing {
			names[strings.ToLower(a.Name)] = struct{}{}
		}
		now := s.now()
		for _, spec := range tpl.Accounts {
			key := strings.ToLower(strings.TrimSpace(spec.Name))
			if _, ok := names[key]; ok {
				continue
			}
			names[key] = struct{}{}
			acc := Account{
				ID:          newID(),
				Name:        strings.TrimSpace(spec.Name),
				Number:      spec.Number,
				Description: spec.Description,
				Type:        spec.Type,
				Subtype:     spec.Subtype,
				IsActive:    true,
				Version:     1,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.InsertAccount(acc); err != nil {
				return err
			}
			created = append(created, acc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// PostTransaction validates and posts a balanced transaction, updating every
// referenced account balance in the same unit of work.
func (s *Service) PostTransaction(ctx context.Context, req PostRequest) (Transaction, error) {
	t, _, err := s.PostIdempotent(ctx, req)
	return t, err
}

// PostIdempotent is PostTransaction that also reports whether the request
// replayed an earlier posting under the same IdempotencyKey.
func (s *Service) PostIdempotent(ctx context.Context, req PostRequest) (Transaction, bool, error) {
	if _, err := checkEntries(req); err != nil {
		return Transaction{}, false, err
	}
	var (
		t        Transaction
		replayed bool
	)
	err := s.store.Update(ctx, func(tx Tx) error {
		var err error
		t, replayed, err = PostOnce(tx, req, s.now())
		return err
	})
	if err != nil {
		return Transaction{}, false, err
	}
	return t, replayed, nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	var t Transaction
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		t, err = tx.Transaction(id)
		return err
	})
	return t, err
}

// ListTransactions pages through transactions in post order.
func (s *Service) ListTransactions(ctx context.Context, limit int, afterSeq uint64) ([]Transaction, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var res []Transaction
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		res, err = tx.Transactions(limit, afterSeq)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	var last uint64
	if n := len(res); n > 0 {
		last = res[n-1].Sequence
	}
	return res, last, nil
}

// ReverseTransaction posts the negation of transaction id dated on date.
// The original transaction is left untouched.
func (s *Service) ReverseTransaction(ctx context.Context, id string, date time.Time) (Transaction, error) {
	if date.IsZero() {
		return Transaction{}, ErrMissingDate
	}
	var rev Transaction
	err := s.store.Update(ctx, func(tx Tx) error {
		orig, err := tx.Transaction(id)
		if err != nil {
			return err
		}
		if orig.ReversalOf != "" {
			return ErrReverseReversal
		}
		if prior, ok, err := tx.ReversalOf(id); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("%w by %s", ErrAlreadyReversed, prior.ID)
		}
		rev, err = post(tx, PostRequest{
			Date:        date,
			Description: "Reversal: " + orig.Description,
			Reference:   "reversal:" + orig.ID,
			Entries:     negate(orig.Entries),
		}, orig.ID, s.now())
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	return rev, nil
}

// ReconcileTransaction sets the reconciled flag. Balances are not touched.
func (s *Service) ReconcileTransaction(ctx context.Context, id string, reconciled bool) (Transaction, error) {
	return s.mutateTransaction(ctx, id, func(t *Transaction) error {
		t.IsReconciled = reconciled
		return nil
	})
}

func (s *Service) AddAttachment(ctx context.Context, id string, spec AttachmentSpec) (Attachment, error) {
	if strings.TrimSpace(spec.FileName) == "" || strings.TrimSpace(spec.FileURL) == "" {
		return Attachment{}, fault.Validation("file_name and file_url are required")
	}
	att := Attachment{
		ID:        newID(),
		FileName:  strings.TrimSpace(spec.FileName),
		FileURL:   strings.TrimSpace(spec.FileURL),
		FileType:  spec.FileType,
		FileSize:  spec.FileSize,
		CreatedAt: s.now(),
	}
	_, err := s.mutateTransaction(ctx, id, func(t *Transaction) error {
		t.Attachments = append(t.Attachments, att)
		return nil
	})
	if err != nil {
		return Attachment{}, err
	}
	return att, nil
}

func (s *Service) RemoveAttachment(ctx context.Context, id, attachmentID string) (Transaction, error) {
	return s.mutateTransaction(ctx, id, func(t *Transaction) error {
		for i, a := range t.Attachments {
			if a.ID == attachmentID {
				t.Attachments = append(t.Attachments[:i:i], t.Attachments[i+1:]...)
				return nil
			}
		}
		return ErrAttachmentNotFound
	})
}

func (s *Service) mutateTransaction(ctx context.Context, id string, fn func(*Transaction) error) (Transaction, error) {
	var t Transaction
	err := s.store.Update(ctx, func(tx Tx) error {
		var err error
		t, err = tx.Transaction(id)
		if err != nil {
			return err
		}
		if err := fn(&t); err != nil {
			return err
		}
		t.UpdatedAt = s.now()
		return tx.UpdateTransaction(t)
	})
	if err != nil {
		return Transaction{}, err
	}
	return t, nil
}

// Statement returns the entries of an account dated within [from, to] with
// running balances. A zero bound is open.
func (s *Service) Statement(ctx context.Context, accountID string, from, to time.Time) (Statement, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return Statement{}, ErrInvalidRange
	}
	var entries []PostedEntry
	err := s.store.View(ctx, func(tx Tx) error {
		if _, err := tx.Account(accountID); err != nil {
			return err
		}
		var err error
		entries, err = tx.AccountEntries(accountID)
		return err
	})
	if err != nil {
		return Statement{}, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.Before(entries[j].Date)
		}
		return entries[i].Sequence < entries[j].Sequence
	})

	st := Statement{AccountID: accountID, Lines: []StatementLine{}}
	if !from.IsZero() {
		st.From = Day(from)
	}
	if !to.IsZero() {
		st.To = Day(to)
	}
	running := money.Amount(0)
	for _, e := range entries {
		if !st.From.IsZero() && e.Date.Before(st.From) {
			running += e.Amount
			continue
		}
		if !st.To.IsZero() && e.Date.After(st.To) {
			continue
		}
		if len(st.Lines) == 0 {
			st.OpeningBalance = running
		}
		running += e.Amount
		st.Lines = append(st.Lines, StatementLine{
			TransactionID: e.TransactionID,
			Sequence:      e.Sequence,
			Date:          e.Date,
			Description:   e.Description,
			Memo:          e.Memo,
			Amount:        e.Amount,
			Balance:       running,
		})
	}
	if len(st.Lines) == 0 {
		st.OpeningBalance = running
	}
	st.ClosingBalance = running
	return st, nil
}

// VerifyBalances recomputes every account balance from its entries and
// reports the accounts that drifted.
func (s *Service) VerifyBalances(ctx context.Context) ([]BalanceDrift, error) {
	var drifts []BalanceDrift
	err := s.store.View(ctx, func(tx Tx) error {
		accounts, err := tx.Accounts(AccountFilter{IncludeArchived: true})
		if err != nil {
			return err
		}
		for _, acc := range accounts {
			computed, err := computeBalance(tx, acc.ID)
			if err != nil {
				return err
			}
			if computed != acc.Balance {
				drifts = append(drifts, BalanceDrift{
					AccountID: acc.ID,
					Name:      acc.Name,
					Stored:    acc.Balance,
					Computed:  computed,
				})
			}
		}
		return nil
	})
	return drifts, err
}

// RebuildBalance overwrites the materialized balance with the sum of the
// account's posted entries.
func (s *Service) RebuildBalance(ctx context.Context, id string) (Account, error) {
	var acc Account
	err := s.store.Update(ctx, func(tx Tx) error {
		var err error
		acc, err = tx.Account(id)
		if err != nil {
			return err
		}
		computed, err := computeBalance(tx, id)
		if err != nil {
			return err
		}
		if computed == acc.Balance {
			return nil
		}
		acc.Balance = computed
		acc.Version++
		acc.UpdatedAt = s.now()
		return tx.UpdateAccount(acc)
	})
	if err != nil {
		return Account{}, err
	}
	return acc, nil
}

func computeBalance(tx Tx, accountID string) (money.Amount, error) {
	entries, err := tx.AccountEntries(accountID)
	if err != nil {
		return 0, err
	}
	amounts := make([]money.Amount, len(entries))
	for i, e := range entries {
		amounts[i] = e.Amount
	}
	return money.Sum(amounts...)
}
