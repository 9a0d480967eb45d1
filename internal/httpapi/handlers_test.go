package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finstream.org/internal/bank"
	"finstream.org/internal/fault"
	"finstream.org/internal/invoice"
	"finstream.org/internal/ledger"
	"finstream.org/internal/obs"
	"finstream.org/internal/store/memory"
	"finstream.org/internal/stream"
)

var testNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T, ready readinessChecker) *apiClient {
	t.Helper()
	obs.Init()

	store := memory.New()
	clock := func() time.Time { return testNow }
	svc := Services{
		Ledger:   ledger.NewService(store.Ledger(), ledger.WithClock(clock)),
		Invoices: invoice.NewService(store.Invoices(), invoice.WithClock(clock)),
		Bank:     bank.NewService(store.Bank(), bank.WithClock(clock)),
	}
	if ready == nil {
		ready = ReadyProbe{Store: store}
	}
	api := New(svc, ready, "test",
		WithEvents(stream.New()),
		WithRateLimit(1000, 1000),
		WithClock(clock),
	)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), t: t}
}

func (c *apiClient) do(method, path string, body any) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(c.t, err)
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	require.NoError(c.t, err)
	return resp
}

func (c *apiClient) post(path string, body any) *http.Response {
	return c.do(http.MethodPost, path, body)
}

func (c *apiClient) get(path string) *http.Response {
	return c.do(http.MethodGet, path, nil)
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(r.Body).Decode(&v))
	return v
}

func expectStatus(t *testing.T, r *http.Response, code int) map[string]any {
	t.Helper()
	body := decode[map[string]any](t, r)
	require.Equal(t, code, r.StatusCode, "body: %v", body)
	return body
}

func (c *apiClient) createAccount(name, typ, subtype string) string {
	c.t.Helper()
	resp := c.post("/v1/accounts", map[string]any{"name": name, "type": typ, "subtype": subtype})
	acc := expectStatus(c.t, resp, http.StatusCreated)
	return acc["id"].(string)
}

func TestLedgerEndpoints(t *testing.T) {
	api := newTestAPI(t, nil)
	cash := api.createAccount("Cash", "ASSET", "CASH")
	sales := api.createAccount("Sales", "INCOME", "SALES")

	resp := api.post("/v1/transactions", map[string]any{
		"date":        "2024-05-01",
		"description": "cash sale",
		"entries": []map[string]any{
			{"account_id": cash, "amount": 2500},
			{"account_id": sales, "amount": -2500},
		},
	})
	tx := expectStatus(t, resp, http.StatusCreated)
	assert.Equal(t, "/v1/transactions/"+tx["id"].(string), resp.Header.Get("Location"))

	bal := expectStatus(t, api.get("/v1/accounts/"+cash+"/balance"), http.StatusOK)
	assert.Equal(t, float64(2500), bal["balance"])
	assert.Equal(t, "25.00", bal["formatted"])

	resp = api.post("/v1/transactions", map[string]any{
		"date":        "2024-05-01",
		"description": "lopsided",
		"entries": []map[string]any{
			{"account_id": cash, "amount": 100},
			{"account_id": sales, "amount": -99},
		},
	})
	expectStatus(t, resp, http.StatusUnprocessableEntity)

	resp = api.post("/v1/transactions", map[string]any{"date": "05/01/2024", "description": "x"})
	expectStatus(t, resp, http.StatusBadRequest)

	expectStatus(t, api.get("/v1/accounts/nope"), http.StatusNotFound)

	resp = api.post("/v1/transactions/"+tx["id"].(string)+"/reverse", map[string]any{"date": "2024-05-02"})
	expectStatus(t, resp, http.StatusCreated)
	resp = api.post("/v1/transactions/"+tx["id"].(string)+"/reverse", map[string]any{"date": "2024-05-03"})
	expectStatus(t, resp, http.StatusUnprocessableEntity)

	page := expectStatus(t, api.get("/v1/transactions?limit=1"), http.StatusOK)
	assert.Len(t, page["items"], 1)
	assert.Equal(t, float64(1), page["next_after"])
	expectStatus(t, api.get("/v1/transactions?limit=0"), http.StatusBadRequest)

	st := expectStatus(t, api.get("/v1/accounts/"+cash+"/statement?from=2024-05-01&to=2024-05-31"), http.StatusOK)
	assert.Len(t, st["lines"], 2)
	assert.Equal(t, float64(0), st["closing_balance"])

	verify := expectStatus(t, api.get("/v1/ledger/verify"), http.StatusOK)
	assert.Equal(t, true, verify["ok"])
}

func TestRetriedPostWithIdempotencyKeyPostsOnce(t *testing.T) {
	api := newTestAPI(t, nil)
	cash := api.createAccount("Cash", "ASSET", "CASH")
	sales := api.createAccount("Sales", "INCOME", "SALES")
	body := map[string]any{
		"date":        "2024-05-01",
		"description": "cash sale",
		"entries": []map[string]any{
			{"account_id": cash, "amount": 100},
			{"account_id": sales, "amount": -100},
		},
	}
	postWithKey := func(key string, body any) *http.Response {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodPost, api.baseURL+"/v1/transactions", bytes.NewReader(payload))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", key)
		resp, err := api.client.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := postWithKey("order-77", body)
	first := expectStatus(t, resp, http.StatusCreated)
	assert.Equal(t, "order-77", first["idempotency_key"])

	resp = postWithKey("order-77", body)
	assert.Equal(t, "true", resp.Header.Get("Idempotent-Replayed"))
	second := expectStatus(t, resp, http.StatusOK)
	assert.Equal(t, first["id"], second["id"])

	bal := expectStatus(t, api.get("/v1/accounts/"+cash+"/balance"), http.StatusOK)
	assert.Equal(t, float64(100), bal["balance"])

	body["description"] = "different sale"
	expectStatus(t, postWithKey("order-77", body), http.StatusUnprocessableEntity)
}

func TestSeedChartIsIdempotent(t *testing.T) {
	api := newTestAPI(t, nil)
	first := expectStatus(t, api.post("/v1/accounts/seed", nil), http.StatusOK)
	assert.NotEmpty(t, first["created"])
	second := expectStatus(t, api.post("/v1/accounts/seed", nil), http.StatusOK)
	assert.Empty(t, second["created"])
}

func TestInvoiceLifecycle(t *testing.T) {
	api := newTestAPI(t, nil)

	inv := expectStatus(t, api.post("/v1/invoices", map[string]any{
		"customer_id": "cust-1",
		"date":        "2024-04-01",
		"due_date":    "2024-05-01",
		"tax_rate":    "0.1",
		"items": []map[string]any{
			{"description": "Design", "quantity": "2", "price": 50000, "taxable": true},
		},
	}), http.StatusCreated)
	id := inv["id"].(string)
	assert.Equal(t, "DRAFT", inv["status"])
	assert.Equal(t, float64(110000), inv["total"])

	expectStatus(t, api.post("/v1/invoices/"+id+"/payments", map[string]any{"amount": 100}), http.StatusConflict)
	expectStatus(t, api.post("/v1/invoices/"+id+"/send", nil), http.StatusOK)

	inv = expectStatus(t, api.post("/v1/invoices/"+id+"/payments", map[string]any{"amount": 10000, "date": "2024-04-10"}), http.StatusOK)
	assert.Equal(t, "PARTIALLY_PAID", inv["status"])

	expectStatus(t, api.post("/v1/invoices/"+id+"/payments", map[string]any{"amount": 200000}), http.StatusUnprocessableEntity)

	sweep := expectStatus(t, api.post("/v1/invoices/sweep-overdue", nil), http.StatusOK)
	assert.Len(t, sweep["marked"], 1)

	expectStatus(t, api.post("/v1/invoices/"+id+"/mark-paid", map[string]any{"paid_by": "wire"}), http.StatusBadRequest)
	inv = expectStatus(t, api.post("/v1/invoices/"+id+"/mark-paid", nil), http.StatusOK)
	assert.Equal(t, "PAID", inv["status"])
	assert.Equal(t, float64(110000), inv["amount_paid"])

	expectStatus(t, api.post("/v1/invoices/"+id+"/cancel", nil), http.StatusConflict)

	list := expectStatus(t, api.get("/v1/invoices?status=paid"), http.StatusOK)
	assert.Len(t, list["items"], 1)
}

func TestBankReconciliation(t *testing.T) {
	api := newTestAPI(t, nil)
	checking := api.createAccount("Checking", "ASSET", "BANK")
	supplies := api.createAccount("Supplies", "EXPENSE", "OPERATING_EXPENSE")

	acct := expectStatus(t, api.post("/v1/bank/accounts", map[string]any{
		"account_id":       checking,
		"institution_name": "First Bank",
		"account_name":     "Operating",
		"mask":             "000123456789",
	}), http.StatusCreated)
	bankID := acct["id"].(string)
	assert.Equal(t, "6789", acct["mask"])

	sync := map[string]any{
		"added": []map[string]any{
			{"provider_id": "p-1", "date": "2024-05-03", "description": "Paper", "amount": -1299},
			{"provider_id": "p-2", "date": "2024-05-04", "description": "Ink", "amount": -4500},
		},
		"balance": 100000,
	}
	res := expectStatus(t, api.post("/v1/bank/accounts/"+bankID+"/sync", sync), http.StatusOK)
	assert.Equal(t, float64(2), res["added"])
	expectStatus(t, api.post("/v1/bank/accounts/"+bankID+"/sync", sync), http.StatusOK)

	lines := expectStatus(t, api.get("/v1/bank/accounts/"+bankID+"/transactions"), http.StatusOK)
	items := lines["items"].([]any)
	require.Len(t, items, 2)
	paper := items[0].(map[string]any)["id"].(string)
	ink := items[1].(map[string]any)["id"].(string)

	created := expectStatus(t, api.post("/v1/bank/transactions/"+paper+"/ledger-transaction", map[string]any{
		"counter_account_id": supplies,
	}), http.StatusCreated)
	txID := created["transaction"].(map[string]any)["id"].(string)

	expectStatus(t, api.post("/v1/bank/transactions/"+ink+"/match", map[string]any{"transaction_id": "missing"}), http.StatusNotFound)
	expectStatus(t, api.post("/v1/bank/transactions/"+paper+"/match", map[string]any{"transaction_id": txID}), http.StatusOK)

	sum := expectStatus(t, api.get("/v1/bank/accounts/"+bankID+"/summary"), http.StatusOK)
	assert.Equal(t, float64(1), sum["matched"])
	assert.Equal(t, float64(1), sum["unmatched"])

	line := expectStatus(t, api.do(http.MethodDelete, "/v1/bank/transactions/"+paper+"/match", nil), http.StatusOK)
	assert.Equal(t, false, line["is_matched"])

	sugg := expectStatus(t, api.get("/v1/bank/transactions/"+paper+"/suggestions?window=3"), http.StatusOK)
	assert.Len(t, sugg["items"], 1)
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t, nil)
	health := expectStatus(t, api.get("/healthz"), http.StatusOK)
	assert.Equal(t, "ok", health["status"])
	expectStatus(t, api.get("/readyz"), http.StatusOK)
	info := expectStatus(t, api.get("/v1/info"), http.StatusOK)
	assert.Equal(t, "test", info["version"])

	down := newTestAPI(t, &stubChecker{err: errors.New("db down")})
	body := expectStatus(t, down.get("/readyz"), http.StatusServiceUnavailable)
	assert.Equal(t, "not_ready", body["status"])

	resp := api.get("/metrics")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConflictIsRetryable(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/transactions", nil)
	handleError(rec, req, fmt.Errorf("post: %w", fault.ErrConflict))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["retryable"])

	rec = httptest.NewRecorder()
	handleError(rec, req, errors.New("disk on fire"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk on fire")
}

func TestEventsStreamPublishesPostings(t *testing.T) {
	api := newTestAPI(t, nil)
	cash := api.createAccount("Cash", "ASSET", "CASH")
	sales := api.createAccount("Sales", "INCOME", "SALES")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/v1/events", nil)
	require.NoError(t, err)
	resp, err := api.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(first, ": stream started"))

	tx := expectStatus(t, api.post("/v1/transactions", map[string]any{
		"date":        "2024-05-01",
		"description": "sale",
		"entries": []map[string]any{
			{"account_id": cash, "amount": 100},
			{"account_id": sales, "amount": -100},
		},
	}), http.StatusCreated)

	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			var evt stream.Event
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt))
			assert.Equal(t, stream.TransactionPosted, evt.Kind)
			assert.Equal(t, tx["id"], evt.ID)
			return
		}
	}
}
