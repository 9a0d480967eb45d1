package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"finstream.org/internal/ledger"
	"finstream.org/internal/obs"
	"finstream.org/internal/stream"
)

type postTransactionRequest struct {
	Date        Day                 `json:"date"`
	Description string              `json:"description"`
	Reference   string              `json:"reference,omitempty"`
	Entries     []ledger.EntryInput `json:"entries"`
}

type reverseRequest struct {
	Date Day `json:"date"`
}

type reconcileRequest struct {
	Reconciled bool `json:"reconciled"`
}

type listTransactionsResponse struct {
	Items     []ledger.Transaction `json:"items"`
	NextAfter uint64               `json:"next_after"`
	AsOf      time.Time            `json:"as_of"`
}

func (a *API) accountRoutes(r chi.Router) {
	r.Get("/", a.listAccounts)
	r.Post("/", a.createAccount)
	r.Post("/seed", a.seedChart)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", a.getAccount)
		r.Get("/balance", a.getBalance)
		r.Get("/statement", a.statement)
		r.Post("/archive", a.archiveAccount)
		r.Post("/restore", a.restoreAccount)
		r.Post("/rebuild-balance", a.rebuildBalance)
	})
}

func (a *API) transactionRoutes(r chi.Router) {
	r.Get("/", a.listTransactions)
	r.Post("/", a.postTransaction)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", a.getTransaction)
		r.Post("/reverse", a.reverseTransaction)
		r.Put("/reconciled", a.reconcileTransaction)
		r.Post("/attachments", a.addAttachment)
		r.Delete("/attachments/{attachmentID}", a.removeAttachment)
	})
}

func (a *API) listAccounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.AccountFilter{Type: ledger.AccountType(strings.ToUpper(q.Get("type")))}
	if raw := q.Get("include_archived"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "include_archived must be a boolean")
			return
		}
		filter.IncludeArchived = v
	}
	accounts, err := a.svc.Ledger.ListAccounts(r.Context(), filter)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": accounts})
}

func (a *API) createAccount(w http.ResponseWriter, r *http.Request) {
	var req ledger.AccountSpec
	if !decodeBody(w, r, &req) {
		return
	}
	acc, err := a.svc.Ledger.CreateAccount(r.Context(), req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "ledger.account.create", map[string]any{
		"account_id": acc.ID,
		"type":       acc.Type,
		"subtype":    acc.Subtype,
	})
	w.Header().Set("Location", "/v1/accounts/"+acc.ID)
	writeJSON(w, http.StatusCreated, acc)
}

// seedChart installs the default onboarding chart, skipping names that
// already exist.
func (a *API) seedChart(w http.ResponseWriter, r *http.Request) {
	tpl, err := ledger.DefaultChart()
	if err != nil {
		handleError(w, r, err)
		return
	}
	created, err := a.svc.Ledger.SeedChart(r.Context(), tpl)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "ledger.chart.seed", map[string]any{"created": len(created)})
	writeJSON(w, http.StatusOK, map[string]any{"created": created})
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := a.svc.Ledger.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) getBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	bal, err := a.svc.Ledger.GetBalance(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": id,
		"balance":    bal,
		"formatted":  bal.String(),
	})
}

func (a *API) statement(w http.ResponseWriter, r *http.Request) {
	from, err := queryDay(r, "from")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	to, err := queryDay(r, "to")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	st, err := a.svc.Ledger.Statement(r.Context(), chi.URLParam(r, "id"), from, to)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) archiveAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := a.svc.Ledger.ArchiveAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "ledger.account.archive", map[string]any{"account_id": acc.ID})
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) restoreAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := a.svc.Ledger.RestoreAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "ledger.account.restore", map[string]any{"account_id": acc.ID})
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) rebuildBalance(w http.ResponseWriter, r *http.Request) {
	acc, err := a.svc.Ledger.RebuildBalance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "ledger.account.rebuild_balance", map[string]any{"account_id": acc.ID, "balance": acc.Balance})
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) listTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), "limit", 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var after uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		after, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
	}
	items, next, err := a.svc.Ledger.ListTransactions(r.Context(), limit, after)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if items == nil {
		items = []ledger.Transaction{}
	}
	writeJSON(w, http.StatusOK, listTransactionsResponse{
		Items:     items,
		NextAfter: next,
		AsOf:      a.now().UTC(),
	})
}

func (a *API) postTransaction(w http.ResponseWriter, r *http.Request) {
	var req postTransactionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tx, replayed, err := a.svc.Ledger.PostIdempotent(r.Context(), ledger.PostRequest{
		Date:           req.Date.Time,
		Description:    req.Description,
		Reference:      req.Reference,
		Entries:        req.Entries,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/transactions/"+tx.ID)
	if replayed {
		w.Header().Set("Idempotent-Replayed", "true")
		writeJSON(w, http.StatusOK, tx)
		return
	}
	obs.CountPosting("api")
	a.publish(stream.TransactionPosted, tx.ID, tx)
	a.audit(r, "ledger.transaction.post", map[string]any{
		"transaction_id": tx.ID,
		"sequence":       tx.Sequence,
		"entries":        len(tx.Entries),
	})
	writeJSON(w, http.StatusCreated, tx)
}

func (a *API) getTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := a.svc.Ledger.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (a *API) reverseTransaction(w http.ResponseWriter, r *http.Request) {
	var req reverseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	tx, err := a.svc.Ledger.ReverseTransaction(r.Context(), id, req.Date.Time)
	if err != nil {
		handleError(w, r, err)
		return
	}
	obs.CountPosting("reversal")
	a.publish(stream.TransactionReversed, tx.ID, tx)
	a.audit(r, "ledger.transaction.reverse", map[string]any{"transaction_id": id, "reversal_id": tx.ID})
	w.Header().Set("Location", "/v1/transactions/"+tx.ID)
	writeJSON(w, http.StatusCreated, tx)
}

func (a *API) reconcileTransaction(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tx, err := a.svc.Ledger.ReconcileTransaction(r.Context(), chi.URLParam(r, "id"), req.Reconciled)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "ledger.transaction.reconcile", map[string]any{"transaction_id": tx.ID, "reconciled": tx.IsReconciled})
	writeJSON(w, http.StatusOK, tx)
}

func (a *API) addAttachment(w http.ResponseWriter, r *http.Request) {
	var req ledger.AttachmentSpec
	if !decodeBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	att, err := a.svc.Ledger.AddAttachment(r.Context(), id, req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "ledger.attachment.add", map[string]any{"transaction_id": id, "attachment_id": att.ID})
	writeJSON(w, http.StatusCreated, att)
}

func (a *API) removeAttachment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	attID := chi.URLParam(r, "attachmentID")
	tx, err := a.svc.Ledger.RemoveAttachment(r.Context(), id, attID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r, "ledger.attachment.remove", map[string]any{"transaction_id": id, "attachment_id": attID})
	writeJSON(w, http.StatusOK, tx)
}

func (a *API) verifyLedger(w http.ResponseWriter, r *http.Request) {
	drift, err := a.svc.Ledger.VerifyBalances(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	if drift == nil {
		drift = []ledger.BalanceDrift{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":    len(drift) == 0,
		"drift": drift,
	})
}
