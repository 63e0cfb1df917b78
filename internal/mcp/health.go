package mcp

import (
	"context"
	"net"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the service name reported on the gRPC health endpoint.
const HealthService = "mcp.ControlPlane"

func (s *Server) setServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(HealthService, status)
}

// ServeGRPC serves the gRPC health protocol on lis until ctx ends.
func (s *Server) ServeGRPC(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, s.health)
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		srv.GracefulStop()
	}()
	err := srv.Serve(lis)
	if err == grpc.ErrServerStopped {
		return nil
	}
	return err
}
