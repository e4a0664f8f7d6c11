// Package healthgrpc exposes raft log health over the standard gRPC health protocol.
package healthgrpc

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the raft log.
// The empty service name reports the same status.
const ServiceName = "raftlog.Log"

// Source reports why the served component cannot work, or nil when it can.
// *raftlog.SegmentedLog satisfies this interface.
type Source interface {
	Err() error
}

// Logger is a minimal structured logger interface, compatible with slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Server mirrors a Source into a grpc health server.
type Server struct {
	src    Source
	logger Logger
	hs     *health.Server

	mu   sync.Mutex
	last healthpb.HealthCheckResponse_ServingStatus
}

// NewServer creates a health server. Status is UNKNOWN until the first Update.
func NewServer(src Source, logger Logger) *Server {
	return &Server{
		src:    src,
		logger: logger,
		hs:     health.NewServer(),
		last:   healthpb.HealthCheckResponse_UNKNOWN,
	}
}

// Register installs the health service on g.
func (s *Server) Register(g *grpc.Server) {
	healthpb.RegisterHealthServer(g, s.hs)
}

// Update polls the source once and publishes the result.
func (s *Server) Update() healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	err := s.src.Err()
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}

	s.mu.Lock()
	changed := status != s.last
	s.last = status
	s.mu.Unlock()

	s.hs.SetServingStatus("", status)
	s.hs.SetServingStatus(ServiceName, status)

	if changed {
		if err != nil {
			s.logger.Warn("raft log health changed", "status", status.String(), "error", err)
		} else {
			s.logger.Info("raft log health changed", "status", status.String())
		}
	}
	return status
}

// Run calls Update every interval until ctx is canceled.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	s.Update()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Update()
		}
	}
}

// Shutdown reports NOT_SERVING for every service and ignores later updates.
func (s *Server) Shutdown() {
	s.hs.Shutdown()
}
