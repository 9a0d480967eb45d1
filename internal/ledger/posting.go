package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"finstream.org/internal/money"
)

// EntryInput is one proposed journal entry.
type EntryInput struct {
	AccountID string       `json:"account_id"`
	Amount    money.Amount `json:"amount"`
	Memo      string       `json:"memo,omitempty"`
}

// PostRequest is a proposed transaction.
type PostRequest struct {
	Date        time.Time    `json:"date"`
	Description string       `json:"description"`
	Reference   string       `json:"reference,omitempty"`
	Entries     []EntryInput `json:"entries"`

	// IdempotencyKey makes retries safe: a second request with the same key
	// returns the first transaction instead of posting again.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

const maxIdempotencyKey = 255

// Post validates req and, inside tx, creates the transaction and applies
// every entry to its account balance. Nothing is written unless all checks
// pass. It is exported so other units of work (bank reconciliation) can post
// within their own transaction.
func Post(tx Tx, req PostRequest, now time.Time) (Transaction, error) {
	t, _, err := PostOnce(tx, req, now)
	return t, err
}

// PostOnce is Post that also reports whether req replayed an earlier posting
// with the same IdempotencyKey. A replay writes nothing; reusing a key for a
// different request fails with ErrIdempotencyReused.
func PostOnce(tx Tx, req PostRequest, now time.Time) (Transaction, bool, error) {
	key := strings.TrimSpace(req.IdempotencyKey)
	if len(key) > maxIdempotencyKey {
		return Transaction{}, false, ErrIdempotencyKey
	}
	if key != "" {
		prev, ok, err := tx.TransactionByKey(key)
		if err != nil {
			return Transaction{}, false, err
		}
		if ok {
			if !sameRequest(prev, req) {
				return Transaction{}, false, fmt.Errorf("%w: %s", ErrIdempotencyReused, key)
			}
			return prev, true, nil
		}
	}
	t, err := post(tx, req, "", now)
	return t, false, err
}

// sameRequest reports whether t is what posting req would have produced.
func sameRequest(t Transaction, req PostRequest) bool {
	if !t.Date.Equal(Day(req.Date)) ||
		t.Description != strings.TrimSpace(req.Description) ||
		t.Reference != strings.TrimSpace(req.Reference) ||
		len(t.Entries) != len(req.Entries) {
		return false
	}
	for i, e := range req.Entries {
		got := t.Entries[i]
		if got.AccountID != e.AccountID || got.Amount != e.Amount || got.Memo != strings.TrimSpace(e.Memo) {
			return false
		}
	}
	return true
}

func post(tx Tx, req PostRequest, reversalOf string, now time.Time) (Transaction, error) {
	deltas, err := checkEntries(req)
	if err != nil {
		return Transaction{}, err
	}

	// Load in sorted order so concurrent postings lock rows consistently.
	accountIDs := make([]string, 0, len(deltas))
	for id := range deltas {
		accountIDs = append(accountIDs, id)
	}
	sort.Strings(accountIDs)

	updated := make([]Account, 0, len(accountIDs))
	for _, id := range accountIDs {
		acc, err := tx.Account(id)
		if errors.Is(err, ErrAccountNotFound) {
			return Transaction{}, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
		}
		if err != nil {
			return Transaction{}, err
		}
		if acc.IsArchived {
			return Transaction{}, fmt.Errorf("%w: %s", ErrArchivedAccount, acc.Name)
		}
		bal, err := money.Add(acc.Balance, deltas[id])
		if err != nil {
			return Transaction{}, fmt.Errorf("account %s: %w", acc.Name, err)
		}
		acc.Balance = bal
		acc.Version++
		acc.UpdatedAt = now
		updated = append(updated, acc)
	}

	t := Transaction{
		ID:          newID(),
		Date:        Day(req.Date),
		Description: strings.TrimSpace(req.Description),
		Reference:   strings.TrimSpace(req.Reference),
		ReversalOf:  reversalOf,
		Entries:     make([]JournalEntry, 0, len(req.Entries)),
		CreatedAt:   now,
		UpdatedAt:   now,

		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	}
	for _, in := range req.Entries {
		t.Entries = append(t.Entries, JournalEntry{
			ID:            newID(),
			TransactionID: t.ID,
			AccountID:     in.AccountID,
			Amount:        in.Amount,
			Memo:          strings.TrimSpace(in.Memo),
		})
	}

	if err := tx.InsertTransaction(&t); err != nil {
		return Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	for _, acc := range updated {
		if err := tx.UpdateAccount(acc); err != nil {
			return Transaction{}, fmt.Errorf("update account %s: %w", acc.ID, err)
		}
	}
	return t, nil
}

// checkEntries performs the structural checks that need no storage access
// and returns the net delta per account.
func checkEntries(req PostRequest) (map[string]money.Amount, error) {
	if req.Date.IsZero() {
		return nil, ErrMissingDate
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, ErrDescriptionRequired
	}
	if len(req.Entries) < 2 {
		return nil, ErrTooFewEntries
	}

	amounts := make([]money.Amount, 0, len(req.Entries))
	deltas := make(map[string]money.Amount, len(req.Entries))
	for i, e := range req.Entries {
		if strings.TrimSpace(e.AccountID) == "" {
			return nil, fmt.Errorf("%w: entry %d has no account", ErrUnknownAccount, i)
		}
		if e.Amount.IsZero() {
			return nil, fmt.Errorf("%w (entry %d)", ErrZeroAmount, i)
		}
		amounts = append(amounts, e.Amount)
		d, err := money.Add(deltas[e.AccountID], e.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: account %s", ErrAmountOutOfRange, e.AccountID)
		}
		deltas[e.AccountID] = d
	}

	sum, err := money.Sum(amounts...)
	if err != nil {
		return nil, ErrAmountOutOfRange
	}
	if sum != 0 {
		return nil, fmt.Errorf("%w (off by %s)", ErrUnbalancedEntries, sum)
	}
	return deltas, nil
}

func negate(entries []JournalEntry) []EntryInput {
	out := make([]EntryInput, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryInput{AccountID: e.AccountID, Amount: e.Amount.Neg(), Memo: e.Memo})
	}
	return out
}
