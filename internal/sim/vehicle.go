package sim

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/mocap.flight/internal/estimator"
	"github.com/banshee-data/mocap.flight/internal/geom"
	"github.com/banshee-data/mocap.flight/internal/link"
	"github.com/banshee-data/mocap.flight/internal/mocap"
	"github.com/banshee-data/mocap.flight/internal/timeutil"
	"github.com/banshee-data/mocap.flight/internal/vehicle"
)

// Initial and settled estimator variance.
const (
	InitialVariance = 1.0
	SettledVariance = 1e-4
)

// Mode is what the simulated controller is doing.
type Mode int

const (
	ModeParked Mode = iota
	ModePosition
	ModeHover
	ModeStopped
)

func (m Mode) String() string {
	switch m {
	case ModeParked:
		return "parked"
	case ModePosition:
		return "position"
	case ModeHover:
		return "hover"
	case ModeStopped:
		return "stopped"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Vehicle is one simulated vehicle.
type Vehicle struct {
	clock timeutil.Clock
	body  string
	addr  string
	born  time.Time

	mu       sync.Mutex
	pose     geom.Pose
	yaw      float64
	target   geom.Pose
	height   float64
	mode     Mode
	params   map[string]float64
	variance float64
	aided    bool
	tracked  bool
	pushes   int
}

func newVehicle(clock timeutil.Clock, body, addr string, start geom.Pose) *Vehicle {
	return &Vehicle{
		clock:    clock,
		body:     body,
		addr:     addr,
		born:     clock.Now(),
		pose:     start,
		target:   start,
		params:   make(map[string]float64),
		variance: InitialVariance,
		tracked:  true,
	}
}

// Body returns the rigid body name.
func (v *Vehicle) Body() string { return v.body }

// Pose returns the true position.
func (v *Vehicle) Pose() geom.Pose {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pose
}

// Mode returns the controller mode.
func (v *Vehicle) Mode() Mode {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mode
}

// Param returns the last value written to name.
func (v *Vehicle) Param(name string) (float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	val, ok := v.params[name]
	return val, ok
}

// Pushes returns how many external poses the estimator received.
func (v *Vehicle) Pushes() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pushes
}

// SetTracked hides or reveals the vehicle from the mocap cameras.
func (v *Vehicle) SetTracked(tracked bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tracked = tracked
}

// Teleport moves the vehicle, as if knocked by hand.
func (v *Vehicle) Teleport(p geom.Pose) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pose = geom.NewPose(p.X, p.Y, p.Z)
}

func (v *Vehicle) connect() *simLink {
	return &simLink{v: v, done: make(chan struct{})}
}

func (v *Vehicle) speedLimits() (xy, z float64) {
	xy, z = 1.0, 1.0
	if val, ok := v.params[vehicle.ParamXYVelMax]; ok && val > 0 {
		xy = val
	}
	if val, ok := v.params[vehicle.ParamZVelMax]; ok && val > 0 {
		z = val
	}
	return xy, z
}

func approach(cur, target, maxStep float64) float64 {
	d := target - cur
	if math.Abs(d) <= maxStep {
		return target
	}
	return cur + math.Copysign(maxStep, d)
}

// step advances the vehicle by dt and returns what the cameras see.
func (v *Vehicle) step(dt time.Duration) mocap.Body {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := dt.Seconds()
	xyMax, zMax := v.speedLimits()
	switch v.mode {
	case ModePosition:
		dx, dy := v.target.X-v.pose.X, v.target.Y-v.pose.Y
		dist := math.Hypot(dx, dy)
		if dist <= xyMax*s {
			v.pose.X, v.pose.Y = v.target.X, v.target.Y
		} else {
			v.pose.X += dx / dist * xyMax * s
			v.pose.Y += dy / dist * xyMax * s
		}
		v.pose.Z = approach(v.pose.Z, v.target.Z, zMax*s)
		v.yaw = v.target.YawOrZero()
	case ModeHover:
		v.pose.Z = approach(v.pose.Z, v.height, zMax*s)
	case ModeStopped:
		v.pose.Z = approach(v.pose.Z, GroundZ, 2*s)
	}

	if !v.tracked {
		nan := math.NaN()
		return mocap.Body{Name: v.body, Pose: geom.NewPose(nan, nan, nan)}
	}
	p := geom.NewPose(v.pose.X, v.pose.Y, v.pose.Z).WithRotation(geom.RotationZ(v.yaw))
	return mocap.Body{Name: v.body, Tracked: true, Pose: p}
}

// settle moves the variance one telemetry period toward its settled value
// while poses are arriving, and lets it grow otherwise.
func (v *Vehicle) settle() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.aided {
		v.variance = SettledVariance + (v.variance-SettledVariance)*0.3
	} else {
		v.variance = math.Min(InitialVariance, v.variance*1.5)
	}
	v.aided = false
	return v.variance
}

type simLink struct {
	v    *Vehicle
	once sync.Once
	done chan struct{}
}

func (l *simLink) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// with runs f under the vehicle lock unless the link is closed.
func (l *simLink) with(f func(v *Vehicle)) error {
	if l.closed() {
		return link.ErrClosed
	}
	l.v.mu.Lock()
	defer l.v.mu.Unlock()
	f(l.v)
	return nil
}

func (l *simLink) SetParam(name string, value float64) error {
	return l.with(func(v *Vehicle) {
		v.params[name] = value
		if name == estimator.ParamResetEstimation && value == 1 {
			v.variance = InitialVariance
		}
	})
}

func (l *simLink) SendPositionSetpoint(x, y, z, yaw float64) error {
	return l.with(func(v *Vehicle) {
		v.mode = ModePosition
		v.target = geom.NewPose(x, y, z).WithYaw(yaw)
	})
}

func (l *simLink) SendHoverSetpoint(vx, vy, yawRate, height float64) error {
	return l.with(func(v *Vehicle) {
		v.mode = ModeHover
		v.height = height
	})
}

func (l *simLink) SendStopSetpoint() error {
	return l.with(func(v *Vehicle) { v.mode = ModeStopped })
}

func (l *simLink) SendExtendedPose(x, y, z, qx, qy, qz, qw float64) error {
	return l.with(func(v *Vehicle) {
		v.aided = true
		v.pushes++
	})
}

func (l *simLink) SendExternalPosition(x, y, z float64) error {
	return l.SendExtendedPose(x, y, z, 0, 0, 0, 1)
}

func (l *simLink) StartTelemetry(ctx context.Context, block string, period time.Duration, vars []string) (<-chan link.Sample, error) {
	if l.closed() {
		return nil, link.ErrClosed
	}
	if block != estimator.VarianceBlock {
		return nil, fmt.Errorf("sim: unsupported log block %q", block)
	}
	out := make(chan link.Sample, 16)
	ticker := l.v.clock.NewTicker(period)
	go func() {
		defer close(out)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.done:
				return
			case now := <-ticker.C():
				variance := l.v.settle()
				values := make(map[string]float64, len(vars))
				for _, name := range vars {
					values[name] = variance
				}
				s := link.Sample{Block: block, Timestamp: now.Sub(l.v.born), Values: values}
				select {
				case out <- s:
				case <-ctx.Done():
					return
				case <-l.done:
					return
				}
			}
		}
	}()
	return out, nil
}

func (l *simLink) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}
