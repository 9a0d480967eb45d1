package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"finstream.org/internal/bank"
	"finstream.org/internal/money"
	"finstream.org/internal/obs"
	"finstream.org/internal/stream"
)

type syncRecord struct {
	ProviderID  string       `json:"provider_id"`
	Date        Day          `json:"date"`
	Description string       `json:"description"`
	Amount      money.Amount `json:"amount"`
	Category    string       `json:"category,omitempty"`
	Pending     bool         `json:"pending"`
}

func (s syncRecord) record() bank.Record {
	return bank.Record{
		ProviderID:  s.ProviderID,
		Date:        s.Date.Time,
		Description: s.Description,
		Amount:      s.Amount,
		Category:    s.Category,
		Pending:     s.Pending,
	}
}

type syncRequest struct {
	Added    []syncRecord  `json:"added"`
	Modified []syncRecord  `json:"modified"`
	Removed  []string      `json:"removed"`
	Balance  *money.Amount `json:"balance,omitempty"`
}

func (req syncRequest) delta() bank.SyncDelta {
	d := bank.SyncDelta{Removed: req.Removed, Balance: req.Balance}
	for _, rec := range req.Added {
		d.Added = append(d.Added, rec.record())
	}
	for _, rec := range req.Modified {
		d.Modified = append(d.Modified, rec.record())
	}
	return d
}

type matchRequest struct {
	TransactionID string `json:"transaction_id"`
}

type createFromLineRequest struct {
	CounterAccountID string `json:"counter_account_id"`
	Description      string `json:"description,omitempty"`
}

func (a *API) bankRoutes(r chi.Router) {
	r.Route("/accounts", func(r chi.Router) {
		r.Get("/", a.listBankAccounts)
		r.Post("/", a.linkBankAccount)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.getBankAccount)
			r.Delete("/", a.unlinkBankAccount)
			r.Post("/sync", a.syncBankAccount)
			r.Get("/transactions", a.listBankTransactions)
			r.Get("/summary", a.matchingSummary)
		})
	})
	r.Route("/transactions/{id}", func(r chi.Router) {
		r.Get("/", a.getBankTransaction)
		r.Post("/match", a.matchBankTransaction)
		r.Delete("/match", a.unmatchBankTransaction)
		r.Get("/suggestions", a.suggestMatches)
		r.Post("/ledger-transaction", a.createFromBankLine)
	})
}

func (a *API) listBankAccounts(w http.ResponseWriter, r *http.Request) {
	items, err := a.svc.Bank.ListAccounts(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	if items == nil {
		items = []bank.Account{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) linkBankAccount(w http.ResponseWriter, r *http.Request) {
	var req bank.AccountSpec
	if !decodeBody(w, r, &req) {
		return
	}
	acct, err := a.svc.Bank.LinkAccount(r.Context(), req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "bank.account.link", map[string]any{"bank_account_id": acct.ID, "account_id": acct.AccountID})
	w.Header().Set("Location", "/v1/bank/accounts/"+acct.ID)
	writeJSON(w, http.StatusCreated, acct)
}

func (a *API) getBankAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := a.svc.Bank.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (a *API) unlinkBankAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.svc.Bank.UnlinkAccount(r.Context(), id); err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "bank.account.unlink", map[string]any{"bank_account_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) syncBankAccount(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	res, err := a.svc.Bank.ApplySyncDelta(r.Context(), id, req.delta())
	if err != nil {
		handleError(w, r, err)
		return
	}
	obs.CountBankSync(res.Added, res.Modified, res.Removed)
	a.publish(stream.BankSynced, id, res)
	a.audit(r, "bank.account.sync", map[string]any{
		"bank_account_id": id,
		"added":           res.Added,
		"modified":        res.Modified,
		"removed":         res.Removed,
	})
	writeJSON(w, http.StatusOK, res)
}

func (a *API) listBankTransactions(w http.ResponseWriter, r *http.Request) {
	items, err := a.svc.Bank.ListTransactions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	if items == nil {
		items = []bank.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) matchingSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := a.svc.Bank.MatchingSummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *API) getBankTransaction(w http.ResponseWriter, r *http.Request) {
	line, err := a.svc.Bank.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

func (a *API) matchBankTransaction(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	line, err := a.svc.Bank.Match(r.Context(), chi.URLParam(r, "id"), req.TransactionID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.publish(stream.BankMatched, line.ID, line)
	a.audit(r, "bank.transaction.match", map[string]any{"bank_transaction_id": line.ID, "transaction_id": line.TransactionID})
	writeJSON(w, http.StatusOK, line)
}

func (a *API) unmatchBankTransaction(w http.ResponseWriter, r *http.Request) {
	line, err := a.svc.Bank.Unmatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.publish(stream.BankUnmatched, line.ID, line)
	a.audit(r, "bank.transaction.unmatch", map[string]any{"bank_transaction_id": line.ID})
	writeJSON(w, http.StatusOK, line)
}

func (a *API) suggestMatches(w http.ResponseWriter, r *http.Request) {
	window, err := parsePositiveInt(r.URL.Query().Get("window"), "window", 3, 0, 365)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.svc.Bank.SuggestMatches(r.Context(), chi.URLParam(r, "id"), window)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if items == nil {
		items = []bank.Suggestion{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) createFromBankLine(w http.ResponseWriter, r *http.Request) {
	var req createFromLineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tx, line, err := a.svc.Bank.CreateTransactionFromBankLine(r.Context(), chi.URLParam(r, "id"), req.CounterAccountID, req.Description)
	if err != nil {
		handleError(w, r, err)
		return
	}
	obs.CountPosting("bank")
	a.publish(stream.TransactionPosted, tx.ID, tx)
	a.publish(stream.BankMatched, line.ID, line)
	a.audit(r, "bank.transaction.post_to_ledger", map[string]any{"bank_transaction_id": line.ID, "transaction_id": tx.ID})
	writeJSON(w, http.StatusCreated, map[string]any{"transaction": tx, "bank_transaction": line})
}
