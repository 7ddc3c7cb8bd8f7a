// Package health publishes the fleet's safety over the standard gRPC
// health protocol, so a supervisor can watch whether every vehicle is
// tracked and inside the volume.
package health

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/mocap.flight/internal/monitoring"
	"github.com/banshee-data/mocap.flight/internal/timeutil"
	"github.com/banshee-data/mocap.flight/internal/vehicle"
)

// FleetService is the health service name covering every vehicle. Each
// vehicle is also published as FleetService + "/" + body.
const FleetService = "mocap.flight.Fleet"

// DefaultPeriod is how often statuses are re-evaluated.
const DefaultPeriod = 100 * time.Millisecond

// StatusSource reports the live vehicles. fleet.Group implements it.
type StatusSource interface {
	Status() []vehicle.Status
}

// Server is a gRPC server carrying only the health service.
type Server struct {
	grpc    *grpc.Server
	health  *health.Server
	running atomic.Bool
}

// NewServer returns a Server with every service NOT_SERVING except the
// overall "" service.
func NewServer() *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(FleetService, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// VehicleService returns the health service name of one vehicle.
func VehicleService(body string) string {
	return FleetService + "/" + body
}

// Update publishes statuses. The fleet is SERVING only when there is at
// least one vehicle and every vehicle is active and safe.
func (s *Server) Update(statuses []vehicle.Status) {
	fleetOK := len(statuses) > 0
	for _, st := range statuses {
		ok := st.Safe && st.State == vehicle.StateActive
		s.health.SetServingStatus(VehicleService(st.Body), servingStatus(ok))
		fleetOK = fleetOK && ok
	}
	s.health.SetServingStatus(FleetService, servingStatus(fleetOK))
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Watch updates the health status from src every period until ctx is
// done, then marks every service NOT_SERVING.
func (s *Server) Watch(ctx context.Context, src StatusSource, clock timeutil.Clock, period time.Duration) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	ticker := clock.NewTicker(period)
	defer ticker.Stop()

	s.Update(src.Status())
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C():
			s.Update(src.Status())
		}
	}
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.running.Store(true)
	monitoring.Logf("[health] gRPC health listening on %s", lis.Addr())
	if err := s.grpc.Serve(lis); err != nil && s.running.Load() {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

// ListenAndServe listens on addr and serves until Stop.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	s.running.Store(false)
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
