package grpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health-check name reported next to the overall status.
const ServiceName = "examportal"

type Pinger interface {
	Ping(ctx context.Context) error
}

// NewServer builds the gRPC server exposing the standard health service.
// When serviceToken is empty the endpoints are unauthenticated.
func NewServer(serviceToken string) (*grpc.Server, *health.Server, error) {
	var opts []grpc.ServerOption
	if serviceToken != "" {
		unary, err := NewServiceAuthUnaryInterceptor(serviceToken)
		if err != nil {
			return nil, nil, err
		}
		stream, err := NewServiceAuthStreamInterceptor(serviceToken)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, grpc.UnaryInterceptor(unary), grpc.StreamInterceptor(stream))
	}
	server := grpc.NewServer(opts...)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	return server, healthServer, nil
}

// ReportHealth sets the serving status from the store once and then on every
// interval until ctx ends.
func ReportHealth(ctx context.Context, hs *health.Server, store Pinger, interval time.Duration, logger *slog.Logger) {
	check := func() {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := store.Ping(pingCtx)
		cancel()
		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			logger.Warn("health check failed", slog.Any("error", err))
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(ServiceName, status)
	}
	check()
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				hs.Shutdown()
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}
