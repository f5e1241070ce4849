package server

import (
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthService is the grpc.health.v1 service name reporting cycle health.
const HealthService = "eventpoll.Poller"

// NewGRPCServer creates a gRPC server with standard interceptors,
// registers the health service and reflection, and returns it ready to serve.
func NewGRPCServer(hs *health.Server, logger *slog.Logger) *grpc.Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(logger),
			LoggingInterceptor(logger),
		),
	)

	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return srv
}

// CycleHealthObserver returns a cycle observer that reports HealthService
// as SERVING after a successful cycle and NOT_SERVING after a failed one.
func CycleHealthObserver(hs *health.Server) func(error) {
	return func(err error) {
		if err != nil {
			hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
			return
		}
		hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	}
}
