// Package health exposes the standard gRPC health service for the server.
package health

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/dutschedule/dutnotify/internal/domain"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewsService is the health service name reporting news refresh status.
const NewsService = "dutnotify.news"

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is a gRPC server carrying only the health service.
type Server struct {
	grpc   *grpc.Server
	health *grpchealth.Server
	store  Pinger

	mu   sync.Mutex
	news map[domain.NewsType]bool
}

// NewServer creates the health server. Every service starts NOT_SERVING.
func NewServer(store Pinger) *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: grpchealth.NewServer(),
		store:  store,
		news:   make(map[domain.NewsType]bool),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(NewsService, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// RecordNewsResult updates the news service status. It is SERVING while the
// latest refresh of every feed succeeded.
func (s *Server) RecordNewsResult(kind domain.NewsType, ok bool) {
	s.mu.Lock()
	s.news[kind] = ok
	serving := true
	for _, v := range s.news {
		serving = serving && v
	}
	s.mu.Unlock()

	s.health.SetServingStatus(NewsService, statusFor(serving))
}

// CheckStore pings the store and updates the overall status.
func (s *Server) CheckStore(ctx context.Context) error {
	err := s.store.Ping(ctx)
	s.health.SetServingStatus("", statusFor(err == nil))
	if err != nil {
		slog.Warn("Health check: store unreachable", "error", err)
	}
	return err
}

// StartStoreProbe checks the store now and then on every interval until ctx ends.
func (s *Server) StartStoreProbe(ctx context.Context, interval time.Duration) {
	probe := func() {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = s.CheckStore(pingCtx)
	}
	probe()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				probe()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Check answers a health request in-process.
func (s *Server) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Serve accepts gRPC connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	slog.Info("gRPC health server listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains connections.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func statusFor(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
