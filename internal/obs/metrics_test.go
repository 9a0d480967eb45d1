package obs

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestInstrumentLabelsByRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Instrument)
	r.Get("/v1/accounts/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/accounts/"+id, nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	body := scrape(t)
	assert.Contains(t, body, `http_requests_total{method="GET",route="/v1/accounts/{id}",status="418"} 3`)
	assert.Contains(t, body, `route="unmatched",status="404"`)
	assert.NotContains(t, body, `/v1/accounts/a"`)
}

func TestDomainCounters(t *testing.T) {
	Init()
	SetBuildInfo("1.2.3", "abc")
	SetReady(true)
	CountPosting("api")
	CountBankSync(2, 1, 0)

	body := scrape(t)
	assert.Contains(t, body, `finstream_build_info{commit="abc",version="1.2.3"} 1`)
	assert.Contains(t, body, "finstream_ready 1")
	assert.Contains(t, body, `finstream_ledger_postings_total{origin="api"}`)
	assert.Contains(t, body, `finstream_bank_sync_records_total{kind="added"}`)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Str("k", "v").Msg("shown")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "v", entry["k"])
	assert.Equal(t, "finstream", entry["service"])
}

func TestNewLoggerRejectsBadConfig(t *testing.T) {
	_, err := NewLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)
	_, err = NewLogger(LogConfig{Format: "xml"})
	assert.Error(t, err)
}
