package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServicePrefix names the per-side services, e.g. "facilitator.origin".
const ServicePrefix = "facilitator."

// GRPCServer serves the standard gRPC health protocol. The empty service
// name reflects the overall status; each side is served as
// ServicePrefix+side.
type GRPCServer struct {
	monitor  *Monitor
	port     int
	interval time.Duration
	server   *grpc.Server
	health   *grpchealth.Server
	logger   *slog.Logger
}

// NewGRPCServer creates a gRPC health server that refreshes from monitor
// every interval.
func NewGRPCServer(monitor *Monitor, port int, interval time.Duration, logger *slog.Logger) *GRPCServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	srv := grpc.NewServer()
	hs := grpchealth.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, hs)
	return &GRPCServer{
		monitor:  monitor,
		port:     port,
		interval: interval,
		server:   srv,
		health:   hs,
		logger:   logger.With("component", "grpc-health"),
	}
}

// Start listens and serves until Stop. Status is refreshed until ctx ends.
func (g *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", g.port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	g.Refresh(ctx)
	go func() {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.Refresh(ctx)
			}
		}
	}()
	g.logger.Info("gRPC health server started", "port", g.port)
	return g.server.Serve(lis)
}

// Refresh copies the current report into the health service.
func (g *GRPCServer) Refresh(ctx context.Context) {
	report := g.monitor.CheckHealth(ctx)
	g.health.SetServingStatus("", servingStatus(report.SystemStatus))
	for _, side := range g.monitor.Sides() {
		g.health.SetServingStatus(ServicePrefix+string(side), servingStatus(report.Sides[string(side)].Status))
	}
}

// Stop marks every service as not serving and stops the server.
func (g *GRPCServer) Stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
}

// HealthServer exposes the registered health service, for tests.
func (g *GRPCServer) HealthServer() grpc_health_v1.HealthServer {
	return g.health
}

func servingStatus(s SystemStatus) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if s == StatusCritical {
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_SERVING
}
