package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"finstream.org/internal/bank"
	"finstream.org/internal/config"
	"finstream.org/internal/httpapi"
	"finstream.org/internal/invoice"
	"finstream.org/internal/ledger"
	"finstream.org/internal/obs"
	"finstream.org/internal/scheduler"
	"finstream.org/internal/store"
	"finstream.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatal(zerolog.New(os.Stderr), "load config", err)
	}
	log, err := obs.NewLogger(obs.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fatal(zerolog.New(os.Stderr), "configure logging", err)
	}
	if err := run(cfg, log); err != nil {
		fatal(log, "finstream-api stopped", err)
	}
}

func fatal(log zerolog.Logger, msg string, err error) {
	log.Error().Err(err).Msg(msg)
	os.Exit(1)
}

func run(cfg config.Config, log zerolog.Logger) error {
	obs.Init()
	obs.SetBuildInfo(version, commit)

	backend, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := httpapi.Services{
		Ledger:   ledger.NewService(backend.Ledger(), ledger.WithStrictArchive(cfg.StrictArchive)),
		Invoices: invoice.NewService(backend.Invoices()),
		Bank:     bank.NewService(backend.Bank()),
	}
	if cfg.SeedChart {
		tpl, err := ledger.DefaultChart()
		if err != nil {
			return err
		}
		created, err := svc.Ledger.SeedChart(ctx, tpl)
		if err != nil {
			return err
		}
		log.Info().Int("created", len(created)).Msg("default chart seeded")
	}

	events := stream.New()
	probe := httpapi.ReadyProbe{Store: backend}
	api := httpapi.New(svc, probe, version,
		httpapi.WithLogger(log),
		httpapi.WithEvents(events),
		httpapi.WithRateLimit(cfg.RateLimitBurst, cfg.RateLimitRPS),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewHealthService(probe, log)
	grpcSrv := httpapi.NewGRPCServer(health)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	go health.Watch(ctx, 10*time.Second)

	if cfg.OverdueSweep != "" {
		sched, err := scheduler.New(cfg.OverdueSweep, svc.Invoices, log, scheduler.WithEvents(events))
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	errc := make(chan error, 2)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("version", version).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("grpc listening")
		if err := grpcSrv.Serve(lis); err != nil {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errc:
		return err
	}

	health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	grpcSrv.GracefulStop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("stopped")
	return nil
}
