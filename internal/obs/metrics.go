package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registerOnce sync.Once

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "finstream_build_info",
			Help: "Finstream build information.",
		},
		[]string{"version", "commit"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "finstream_ready",
		Help: "1 when the storage backend answers, 0 otherwise.",
	})

	postings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finstream_ledger_postings_total",
			Help: "Ledger transactions posted, by origin.",
		},
		[]string{"origin"},
	)

	invoiceTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finstream_invoice_transitions_total",
			Help: "Invoice status changes, by target status.",
		},
		[]string{"status"},
	)

	bankSyncRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finstream_bank_sync_records_total",
			Help: "Bank feed records applied, by kind (added, modified, removed).",
		},
		[]string{"kind"},
	)

	overdueSweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finstream_overdue_sweeps_total",
			Help: "Overdue sweeps run, by result.",
		},
		[]string{"result"},
	)
)

// Init registers every collector in the default registry. It is safe to
// call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			buildInfo, ready,
			postings, invoiceTransitions, bankSyncRecords, overdueSweeps,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo publishes finstream_build_info{version,commit} 1.
func SetBuildInfo(version, commit string) {
	buildInfo.WithLabelValues(version, commit).Set(1)
}

func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

func CountPosting(origin string) { postings.WithLabelValues(origin).Inc() }

func CountInvoiceTransition(status string) { invoiceTransitions.WithLabelValues(status).Inc() }

func CountBankSync(added, modified, removed int) {
	bankSyncRecords.WithLabelValues("added").Add(float64(added))
	bankSyncRecords.WithLabelValues("modified").Add(float64(modified))
	bankSyncRecords.WithLabelValues("removed").Add(float64(removed))
}

func CountSweep(err error) {
	if err != nil {
		overdueSweeps.WithLabelValues("error").Inc()
		return
	}
	overdueSweeps.WithLabelValues("ok").Inc()
}

// Instrument records request count, latency and in-flight gauge. Requests
// are labelled with the chi route pattern so ids do not explode the series.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &StatusWriter{ResponseWriter: w, Code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := RoutePattern(r)
		status := strconv.Itoa(sw.Code)
		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

// RoutePattern returns the matched chi pattern, or "unmatched" for requests
// that hit no route.
func RoutePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// StatusWriter remembers the response status code.
type StatusWriter struct {
	http.ResponseWriter
	Code int
}

func (w *StatusWriter) WriteHeader(code int) {
	w.Code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the wrapper.
func (w *StatusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
