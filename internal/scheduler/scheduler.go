// Package scheduler runs periodic maintenance against the invoice engine.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron"
	"github.com/rs/zerolog"

	"finstream.org/internal/invoice"
	"finstream.org/internal/obs"
	"finstream.org/internal/stream"
)

// Sweeper is the part of the invoice service the scheduler drives.
type Sweeper interface {
	SweepOverdue(ctx context.Context, now time.Time) ([]invoice.Invoice, error)
}

type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	events  *stream.Stream
	log     zerolog.Logger
	now     func() time.Time
	timeout time.Duration
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// WithEvents publishes an invoice.changed event per invoice marked overdue.
func WithEvents(st *stream.Stream) Option { return func(s *Scheduler) { s.events = st } }

// New schedules the overdue sweep on spec, a robfig/cron expression such as
// "@hourly" or "0 30 1 * * *".
func New(spec string, sweeper Sweeper, log zerolog.Logger, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(),
		sweeper: sweeper,
		log:     log.With().Str("component", "scheduler").Logger(),
		now:     time.Now,
		timeout: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.cron.AddFunc(spec, func() { _, _ = s.SweepOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule overdue sweep %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.log.Info().Msg("scheduler started")
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.log.Info().Msg("scheduler stopped")
}

// SweepOnce marks every invoice past due as OVERDUE and returns how many
// changed.
func (s *Scheduler) SweepOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	now := s.now()
	marked, err := s.sweeper.SweepOverdue(ctx, now)
	obs.CountSweep(err)
	if err != nil {
		s.log.Error().Err(err).Msg("overdue sweep failed")
		return 0, err
	}
	for _, inv := range marked {
		obs.CountInvoiceTransition(string(inv.Status))
		if s.events != nil {
			s.events.Publish(stream.Event{Kind: stream.InvoiceChanged, ID: inv.ID, Data: inv, Timestamp: now.UTC()})
		}
	}
	s.log.Info().Int("marked", len(marked)).Dur("took", time.Since(start)).Msg("overdue sweep done")
	return len(marked), nil
}
