package httpapi

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"finstream.org/internal/obs"
)

// HealthService publishes storage readiness through grpc.health.v1.Health,
// both for the overall server ("") and for serviceName.
type HealthService struct {
	srv       *health.Server
	readiness readinessChecker
	log       zerolog.Logger
}

func NewHealthService(r readinessChecker, log zerolog.Logger) *HealthService {
	h := &HealthService{srv: health.NewServer(), readiness: r, log: log}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// NewGRPCServer returns a gRPC server with the health service registered.
func NewGRPCServer(h *HealthService, opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s, h.srv)
	return s
}

// Refresh probes readiness once and updates the published status.
func (h *HealthService) Refresh(ctx context.Context) bool {
	err := h.readiness.Check(ctx)
	obs.SetReady(err == nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("readiness check failed")
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Watch refreshes the status every interval until ctx ends.
func (h *HealthService) Watch(ctx context.Context, interval time.Duration) {
	h.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

// Shutdown reports NOT_SERVING to every watcher and stops further updates.
func (h *HealthService) Shutdown() {
	h.srv.Shutdown()
}

func (h *HealthService) set(st healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", st)
	h.srv.SetServingStatus(serviceName, st)
}
