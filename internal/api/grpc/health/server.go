// Package health serves the standard gRPC health checking protocol.
//
// The controller service reports NOT_SERVING until the first control cycle
// completes and SERVING afterwards.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/oshokin/carbon-gate/internal/logger"
	"github.com/oshokin/carbon-gate/internal/status"
)

// ServiceName is the health service name of the controller.
const ServiceName = "carbon-gate.Controller"

// Server wraps a gRPC server exposing health and reflection.
type Server struct {
	grpc   *grpc.Server
	health *grpchealth.Server
}

// NewServer creates the server and subscribes it to board updates.
func NewServer(board *status.Board) *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: grpchealth.NewServer(),
	}

	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)

	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	if board != nil {
		board.Watch(func(status.Snapshot) {
			s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
		})
	}

	return s
}

// Serve listens on address until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}

	return s.ServeListener(ctx, listener)
}

// ServeListener serves on an existing listener until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()

	logger.InfoKV(ctx, "Serving gRPC health", "address", listener.Addr().String())

	if err := s.grpc.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve grpc: %w", err)
	}

	return nil
}
