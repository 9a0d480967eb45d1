package bank

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"finstream.org/internal/ids"
	"finstream.org/internal/ledger"
)

// Service reconciles bank feeds against the ledger.
type Service struct {
	store Store
	now   func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LinkAccount mirrors an external account onto an existing ledger account.
func (s *Service) LinkAccount(ctx context.Context, spec AccountSpec) (Account, error) {
	if strings.TrimSpace(spec.AccountID) == "" || strings.TrimSpace(spec.InstitutionName) == "" || strings.TrimSpace(spec.AccountName) == "" {
		return Account{}, ErrLinkRequired
	}
	now := s.now()
	acc := Account{
		ID:              ids.New(),
		AccountID:       strings.TrimSpace(spec.AccountID),
		InstitutionName: strings.TrimSpace(spec.InstitutionName),
		AccountName:     strings.TrimSpace(spec.AccountName),
		AccountType:     spec.AccountType,
		Mask:            lastFour(spec.Mask),
		Balance:         spec.Balance,
		LastUpdated:     now,
		CreatedAt:       now,
	}
	err := s.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.Account(acc.AccountID); err != nil {
			return fmt.Errorf("link %s: %w", acc.AccountName, err)
		}
		return tx.InsertBankAccount(acc)
	})
	if err != nil {
		return Account{}, err
	}
	return acc, nil
}

func lastFour(mask string) string {
	mask = strings.TrimSpace(mask)
	if len(mask) > 4 {
		return mask[len(mask)-4:]
	}
	return mask
}

func (s *Service) GetAccount(ctx context.Context, id string) (Account, error) {
	var acc Account
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		acc, err = tx.BankAccount(id)
		return err
	})
	return acc, err
}

func (s *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	var out []Account
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.BankAccounts()
		return err
	})
	return out, err
}

// UnlinkAccount removes a bank account and its feed. Ledger transactions
// matched by its lines are left untouched.
func (s *Service) UnlinkAccount(ctx context.Context, id string) error {
	return s.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.BankAccount(id); err != nil {
			return err
		}
		return tx.DeleteBankAccount(id)
	})
}

func (s *Service) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	var bt Transaction
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		bt, err = tx.BankTransaction(id)
		return err
	})
	return bt, err
}

func (s *Service) ListTransactions(ctx context.Context, bankAccountID string) ([]Transaction, error) {
	var out []Transaction
	err := s.store.View(ctx, func(tx Tx) error {
		if _, err := tx.BankAccount(bankAccountID); err != nil {
			return err
		}
		var err error
		out, err = tx.BankTransactions(bankAccountID)
		return err
	})
	return out, err
}

// ApplySyncDelta applies one provider sync cycle. Records are keyed by
// provider id: an added record that already exists is updated, a modified
// record that does not exist is inserted, and match state is always kept.
// Within one list the last record for a provider id wins. A record without
// a provider id rejects the whole delta.
func (s *Service) ApplySyncDelta(ctx context.Context, bankAccountID string, delta SyncDelta) (SyncResult, error) {
	added, err := dedupe(delta.Added)
	if err != nil {
		return SyncResult{}, fmt.Errorf("added: %w", err)
	}
	modified, err := dedupe(delta.Modified)
	if err != nil {
		return SyncResult{}, fmt.Errorf("modified: %w", err)
	}
	for i, pid := range delta.Removed {
		if strings.TrimSpace(pid) == "" {
			return SyncResult{}, fmt.Errorf("removed %d: %w", i, ErrProviderIDRequired)
		}
	}

	var res SyncResult
	err = s.store.Update(ctx, func(tx Tx) error {
		res = SyncResult{}
		acc, err := tx.BankAccount(bankAccountID)
		if err != nil {
			return err
		}
		now := s.now()
		for _, rec := range added {
			if err := s.upsert(tx, acc.ID, rec, now); err != nil {
				return err
			}
			res.Added++
		}
		for _, rec := range modified {
			if err := s.upsert(tx, acc.ID, rec, now); err != nil {
				return err
			}
			res.Modified++
		}
		for _, pid := range delta.Removed {
			bt, ok, err := tx.BankTransactionByProvider(acc.ID, strings.TrimSpace(pid))
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := tx.DeleteBankTransaction(bt.ID); err != nil {
				return err
			}
			res.Removed++
		}
		if delta.Balance != nil {
			acc.Balance = *delta.Balance
			acc.LastUpdated = now
			return tx.UpdateBankAccount(acc)
		}
		return nil
	})
	if err != nil {
		return SyncResult{}, err
	}
	return res, nil
}

func dedupe(recs []Record) ([]Record, error) {
	pos := make(map[string]int, len(recs))
	out := make([]Record, 0, len(recs))
	for i, r := range recs {
		r.ProviderID = strings.TrimSpace(r.ProviderID)
		if r.ProviderID == "" {
			return nil, fmt.Errorf("record %d: %w", i, ErrProviderIDRequired)
		}
		if j, ok := pos[r.ProviderID]; ok {
			out[j] = r
			continue
		}
		pos[r.ProviderID] = len(out)
		out = append(out, r)
	}
	return out, nil
}

func (s *Service) upsert(tx Tx, bankAccountID string, rec Record, now time.Time) error {
	bt, ok, err := tx.BankTransactionByProvider(bankAccountID, rec.ProviderID)
	if err != nil {
		return err
	}
	if !ok {
		bt = Transaction{
			ID:            ids.New(),
			BankAccountID: bankAccountID,
			ProviderID:    rec.ProviderID,
			CreatedAt:     now,
		}
	}
	bt.Date = ledger.Day(rec.Date)
	bt.Description = strings.TrimSpace(rec.Description)
	bt.Amount = rec.Amount
	bt.Category = rec.Category
	bt.Pending = rec.Pending
	bt.UpdatedAt = now
	return tx.PutBankTransaction(bt)
}

// Match links bank line btID to ledger transaction txID. Matching the same
// pair again is a no-op.
func (s *Service) Match(ctx context.Context, btID, txID string) (Transaction, error) {
	var out Transaction
	err := s.store.Update(ctx, func(tx Tx) error {
		bt, err := tx.BankTransaction(btID)
		if err != nil {
			return err
		}
		if _, err := tx.Transaction(txID); err != nil {
			if errors.Is(err, ledger.ErrTransactionNotFound) {
				return fmt.Errorf("%w: %s", ErrUnknownTransaction, txID)
			}
			return err
		}
		out = bt
		if bt.IsMatched {
			if bt.TransactionID == txID {
				return nil
			}
			return fmt.Errorf("%w: %s is matched to %s", ErrAlreadyMatched, bt.ID, bt.TransactionID)
		}
		out.TransactionID = txID
		out.IsMatched = true
		out.UpdatedAt = s.now()
		return tx.PutBankTransaction(out)
	})
	if err != nil {
		return Transaction{}, err
	}
	return out, nil
}

// Unmatch clears the match of bank line btID. Unmatched lines are returned
// unchanged.
func (s *Service) Unmatch(ctx context.Context, btID string) (Transaction, error) {
	var out Transaction
	err := s.store.Update(ctx, func(tx Tx) error {
		bt, err := tx.BankTransaction(btID)
		if err != nil {
			return err
		}
		out = bt
		if !bt.IsMatched && bt.TransactionID == "" {
			return nil
		}
		out.TransactionID = ""
		out.IsMatched = false
		out.UpdatedAt = s.now()
		return tx.PutBankTransaction(out)
	})
	if err != nil {
		return Transaction{}, err
	}
	return out, nil
}

// SuggestMatches lists unmatched ledger transactions that post the bank
// line's amount to the linked ledger account within window days of the
// line's date, nearest first.
func (s *Service) SuggestMatches(ctx context.Context, btID string, window int) ([]Suggestion, error) {
	if window < 0 {
		return nil, ErrInvalidWindow
	}
	var out []Suggestion
	err := s.store.View(ctx, func(tx Tx) error {
		bt, err := tx.BankTransaction(btID)
		if err != nil {
			return err
		}
		acc, err := tx.BankAccount(bt.BankAccountID)
		if err != nil {
			return err
		}
		entries, err := tx.AccountEntries(acc.AccountID)
		if err != nil {
			return err
		}
		matched, err := tx.MatchedTransactionIDs()
		if err != nil {
			return err
		}
		seen := make(map[string]struct{})
		seqs := make(map[string]uint64)
		for _, e := range entries {
			if e.Amount != bt.Amount {
				continue
			}
			if _, ok := matched[e.TransactionID]; ok {
				continue
			}
			if _, ok := seen[e.TransactionID]; ok {
				continue
			}
			apart := daysBetween(bt.Date, e.Date)
			if apart > window {
				continue
			}
			seen[e.TransactionID] = struct{}{}
			seqs[e.TransactionID] = e.Sequence
			out = append(out, Suggestion{
				TransactionID: e.TransactionID,
				Date:          e.Date,
				Description:   e.Description,
				Amount:        e.Amount,
				DaysApart:     apart,
			})
		}
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].DaysApart != out[j].DaysApart {
				return out[i].DaysApart < out[j].DaysApart
			}
			return seqs[out[i].TransactionID] < seqs[out[j].TransactionID]
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func daysBetween(a, b time.Time) int {
	d := ledger.Day(a).Sub(ledger.Day(b))
	if d < 0 {
		d = -d
	}
	return int(d / (24 * time.Hour))
}

// CreateTransactionFromBankLine posts a ledger transaction moving the bank
// line's amount between the linked account and counterAccountID, then
// matches the line to it, in one unit of work.
func (s *Service) CreateTransactionFromBankLine(ctx context.Context, btID, counterAccountID, description string) (ledger.Transaction, Transaction, error) {
	var (
		posted ledger.Transaction
		line   Transaction
	)
	err := s.store.Update(ctx, func(tx Tx) error {
		bt, err := tx.BankTransaction(btID)
		if err != nil {
			return err
		}
		if bt.IsMatched {
			return fmt.Errorf("%w: %s is matched to %s", ErrAlreadyMatched, bt.ID, bt.TransactionID)
		}
		acc, err := tx.BankAccount(bt.BankAccountID)
		if err != nil {
			return err
		}
		desc := strings.TrimSpace(description)
		if desc == "" {
			desc = bt.Description
		}
		now := s.now()
		posted, err = ledger.Post(tx, ledger.PostRequest{
			Date:        bt.Date,
			Description: desc,
			Reference:   "bank:" + bt.ProviderID,
			Entries: []ledger.EntryInput{
				{AccountID: acc.AccountID, Amount: bt.Amount},
				{AccountID: counterAccountID, Amount: bt.Amount.Neg()},
			},
		}, now)
		if err != nil {
			return err
		}
		line = bt
		line.TransactionID = posted.ID
		line.IsMatched = true
		line.UpdatedAt = now
		return tx.PutBankTransaction(line)
	})
	if err != nil {
		return ledger.Transaction{}, Transaction{}, err
	}
	return posted, line, nil
}

// MatchingSummary counts the lines of a bank account feed by match state.
func (s *Service) MatchingSummary(ctx context.Context, bankAccountID string) (Summary, error) {
	lines, err := s.ListTransactions(ctx, bankAccountID)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{Total: len(lines)}
	for _, l := range lines {
		if l.IsMatched {
			sum.Matched++
		} else {
			sum.Unmatched++
		}
		if l.Pending {
			sum.Pending++
		}
	}
	return sum, nil
}
