package api

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cuemby/tether/pkg/log"
	"github.com/cuemby/tether/pkg/metrics"
)

// ServiceName is the gRPC health service name tether reports under, next to
// the empty overall name
const ServiceName = "tether"

// HealthServer exposes readiness through the standard grpc.health.v1 service
type HealthServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	interval   time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
	logger     zerolog.Logger
}

// NewHealthServer creates a gRPC health server that follows
// metrics.IsReady every interval
func NewHealthServer(interval time.Duration) *HealthServer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	logger := log.WithComponent("grpc")
	hs := &HealthServer{
		grpcServer: grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor(logger))),
		health:     health.NewServer(),
		interval:   interval,
		stopCh:     make(chan struct{}),
		logger:     logger,
	}
	healthpb.RegisterHealthServer(hs.grpcServer, hs.health)
	hs.Sync()
	return hs
}

// Sync copies the current readiness into the serving status
func (hs *HealthServer) Sync() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if metrics.IsReady() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	hs.health.SetServingStatus("", status)
	hs.health.SetServingStatus(ServiceName, status)
}

// Start serves on addr until Stop is called
func (hs *HealthServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return hs.Serve(lis)
}

// Serve serves on an existing listener until Stop is called
func (hs *HealthServer) Serve(lis net.Listener) error {
	go hs.syncLoop()
	hs.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server listening")
	if err := hs.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("failed to serve grpc: %w", err)
	}
	return nil
}

func (hs *HealthServer) syncLoop() {
	ticker := time.NewTicker(hs.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hs.Sync()
		case <-hs.stopCh:
			return
		}
	}
}

// Stop marks every service as not serving and stops the server
func (hs *HealthServer) Stop() {
	hs.stopOnce.Do(func() {
		close(hs.stopCh)
		hs.health.Shutdown()
		hs.grpcServer.GracefulStop()
	})
}
