package health

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/mocap.flight/internal/timeutil"
	"github.com/banshee-data/mocap.flight/internal/vehicle"
)

type mutableStatus struct {
	mu       sync.Mutex
	statuses []vehicle.Status
}

func (m *mutableStatus) Status() []vehicle.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]vehicle.Status(nil), m.statuses...)
}

func (m *mutableStatus) set(s ...vehicle.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = s
}

func startServer(t *testing.T) (*Server, healthpb.HealthClient) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := NewServer()
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return s, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestInitialStatus(t *testing.T) {
	_, c := startServer(t)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, FleetService))
}

func TestUpdate(t *testing.T) {
	s, c := startServer(t)

	s.Update([]vehicle.Status{
		{Body: "cf1", State: vehicle.StateActive, Safe: true},
		{Body: "cf2", State: vehicle.StateActive, Safe: true},
	})
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, FleetService))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, VehicleService("cf2")))

	s.Update([]vehicle.Status{
		{Body: "cf1", State: vehicle.StateActive, Safe: true},
		{Body: "cf2", State: vehicle.StateActive, Safe: false, Reason: vehicle.ReasonTrackingLoss},
	})
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, FleetService))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, VehicleService("cf1")))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, VehicleService("cf2")))

	s.Update([]vehicle.Status{{Body: "cf1", State: vehicle.StateOpened, Safe: true}})
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, VehicleService("cf1")), "not yet active")

	s.Update(nil)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, FleetService), "empty fleet")
}

func TestWatchFollowsSource(t *testing.T) {
	s, c := startServer(t)
	src := &mutableStatus{}
	src.set(vehicle.Status{Body: "cf1", State: vehicle.StateActive, Safe: true})

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Watch(ctx, src, clock, 100*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return check(t, c, FleetService) == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	src.set(vehicle.Status{Body: "cf1", State: vehicle.StateActive, Safe: false})
	assert.Eventually(t, func() bool {
		clock.Advance(100 * time.Millisecond)
		return check(t, c, FleetService) == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, ""), "shutdown on exit")
}
