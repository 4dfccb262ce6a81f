package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCServer exposes grpc.health.v1 for orchestrators that probe over gRPC.
// The overall status ("") is SERVING only while every check passes; each
// check is also reported under its own service name.
type GRPCServer struct {
	port     string
	checks   map[string]Pinger
	interval time.Duration
	logger   *logrus.Logger

	server *grpc.Server
	health *grpchealth.Server
}

// NewGRPCServer creates a gRPC health server that re-runs checks every interval
func NewGRPCServer(port int, checks map[string]Pinger, interval time.Duration, logger *logrus.Logger) *GRPCServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, hs)

	return &GRPCServer{
		port:     fmt.Sprintf("%d", port),
		checks:   checks,
		interval: interval,
		logger:   logger,
		server:   server,
		health:   hs,
	}
}

// Start listens in the background until ctx is cancelled
func (g *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", ":"+g.port)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", g.port, err)
	}

	g.Refresh(ctx)
	go func() {
		g.logger.WithField("port", g.port).Info("gRPC health server starting")
		if err := g.server.Serve(lis); err != nil {
			g.logger.WithError(err).Error("gRPC health server error")
		}
	}()

	go func() {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				g.health.Shutdown()
				g.server.GracefulStop()
				g.logger.Info("gRPC health server stopped")
				return
			case <-ticker.C:
				g.Refresh(ctx)
			}
		}
	}()
	return nil
}

// Refresh runs every check once and publishes the statuses
func (g *GRPCServer) Refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	overall := healthpb.HealthCheckResponse_SERVING
	for name, pinger := range g.checks {
		status := healthpb.HealthCheckResponse_SERVING
		if err := pinger.Ping(ctx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = status
			g.logger.WithError(err).WithField("check", name).Warn("Health check failed")
		}
		g.health.SetServingStatus(name, status)
	}
	g.health.SetServingStatus("", overall)
}

// Check returns the published status of service ("" for overall)
func (g *GRPCServer) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := g.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.Status, nil
}
