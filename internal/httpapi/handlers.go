package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"finstream.org/internal/bank"
	"finstream.org/internal/invoice"
	"finstream.org/internal/ledger"
	"finstream.org/internal/obs"
	"finstream.org/internal/stream"
)

const serviceName = "finstream-api"

// Pinger is implemented by every storage backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe reports readiness by pinging the storage backend. A nil Store
// is always ready.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Services bundles the domain services exposed over HTTP.
type Services struct {
	Ledger   *ledger.Service
	Invoices *invoice.Service
	Bank     *bank.Service
}

// API is the HTTP layer.
type API struct {
	svc          Services
	ready        readinessChecker
	version      string
	events       *stream.Stream
	log          zerolog.Logger
	now          func() time.Time
	rateBurst    int
	ratePerSec   int
	maxBodyBytes int64
}

type Option func(*API)

func WithLogger(l zerolog.Logger) Option { return func(a *API) { a.log = l } }

// WithEvents publishes domain events to st and serves them on /v1/events.
func WithEvents(st *stream.Stream) Option { return func(a *API) { a.events = st } }

func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		a.rateBurst = burst
		a.ratePerSec = perSecond
	}
}

func WithMaxBodyBytes(n int64) Option { return func(a *API) { a.maxBodyBytes = n } }

func WithClock(now func() time.Time) Option { return func(a *API) { a.now = now } }

func New(svc Services, ready readinessChecker, version string, opts ...Option) *API {
	a := &API{
		svc:          svc,
		ready:        ready,
		version:      version,
		log:          zerolog.Nop(),
		now:          time.Now,
		rateBurst:    100,
		ratePerSec:   50,
		maxBodyBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler assembles the router with the full middleware chain.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(obs.Instrument)
	r.Use(Logging(a.log))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Group(func(r chi.Router) {
		r.Use(RateLimit(a.rateBurst, a.ratePerSec))
		r.Use(MaxBodyBytes(a.maxBodyBytes))

		r.Route("/v1/accounts", a.accountRoutes)
		r.Route("/v1/transactions", a.transactionRoutes)
		r.Get("/v1/ledger/verify", a.verifyLedger)
		r.Route("/v1/invoices", a.invoiceRoutes)
		r.Route("/v1/bank", a.bankRoutes)
		r.Get("/v1/events", a.Events)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    a.now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) publish(kind, id string, data any) {
	if a.events == nil {
		return
	}
	a.events.Publish(stream.Event{Kind: kind, ID: id, Data: data, Timestamp: a.now().UTC()})
}
