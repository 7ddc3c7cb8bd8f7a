// Package estimator brings a vehicle's onboard Kalman estimator onto the
// external pose stream and waits for its position variance to settle.
package estimator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/mocap.flight/internal/geom"
	"github.com/banshee-data/mocap.flight/internal/link"
	"github.com/banshee-data/mocap.flight/internal/monitoring"
	"github.com/banshee-data/mocap.flight/internal/timeutil"
)

var (
	// ErrNotConverged is returned when the variance does not settle in time.
	ErrNotConverged = errors.New("estimator did not converge")
	// ErrTelemetryClosed is returned when the variance stream ends early.
	ErrTelemetryClosed = errors.New("variance telemetry closed")
)

// Parameter and log variable names on the vehicle.
const (
	ParamEstimator       = "stabilizer.estimator"
	ParamExtQuatStdDev   = "locSrv.extQuatStdDev"
	ParamResetEstimation = "kalman.resetEstimation"

	VarianceBlock = "Kalman Variance"
	VarPX         = "kalman.varPX"
	VarPY         = "kalman.varPY"
	VarPZ         = "kalman.varPZ"

	// EstimatorKalman selects the extended Kalman filter.
	EstimatorKalman = 2
)

// Config tunes convergence. Zero fields take the defaults except Timeout,
// where 0 disables the bound.
type Config struct {
	WindowSize    int
	Seed          float64
	Threshold     float64
	Period        time.Duration
	Timeout       time.Duration
	ResetPulse    time.Duration
	Settle        time.Duration
	ExtQuatStdDev float64
}

// DefaultConfig returns the stock convergence settings.
func DefaultConfig() Config {
	return Config{
		WindowSize:    10,
		Seed:          1000,
		Threshold:     0.001,
		Period:        500 * time.Millisecond,
		Timeout:       30 * time.Second,
		ResetPulse:    100 * time.Millisecond,
		Settle:        time.Second,
		ExtQuatStdDev: 0.6,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	if c.Seed == 0 {
		c.Seed = d.Seed
	}
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.Period <= 0 {
		c.Period = d.Period
	}
	if c.ResetPulse <= 0 {
		c.ResetPulse = d.ResetPulse
	}
	if c.Settle <= 0 {
		c.Settle = d.Settle
	}
	if c.ExtQuatStdDev <= 0 {
		c.ExtQuatStdDev = d.ExtQuatStdDev
	}
	return c
}

// SampleSink receives every variance sample seen while converging.
type SampleSink interface {
	RecordVariance(body string, varX, varY, varZ float64) error
}

// Monitor runs the convergence procedure for one vehicle.
type Monitor struct {
	Body   string
	Config Config
	Clock  timeutil.Clock
	Sink   SampleSink
	Logf   func(format string, v ...interface{})
}

func (m *Monitor) logf(format string, v ...interface{}) {
	if m.Logf != nil {
		m.Logf(format, v...)
		return
	}
	monitoring.Logf(format, v...)
}

// Converge selects the Kalman estimator, resets it and blocks until the
// spread of the last WindowSize variance samples is below Threshold on all
// three axes.
func (m *Monitor) Converge(ctx context.Context, l link.Link) error {
	cfg := m.Config.withDefaults()
	clock := m.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	if err := l.SetParam(ParamEstimator, EstimatorKalman); err != nil {
		return fmt.Errorf("failed to select kalman estimator: %w", err)
	}
	if err := l.SetParam(ParamExtQuatStdDev, cfg.ExtQuatStdDev); err != nil {
		return fmt.Errorf("failed to set external quaternion std dev: %w", err)
	}
	if err := l.SetParam(ParamResetEstimation, 1); err != nil {
		return fmt.Errorf("failed to reset estimator: %w", err)
	}
	if err := timeutil.SleepContext(ctx, clock, cfg.ResetPulse); err != nil {
		return err
	}
	if err := l.SetParam(ParamResetEstimation, 0); err != nil {
		return fmt.Errorf("failed to release estimator reset: %w", err)
	}
	if err := timeutil.SleepContext(ctx, clock, cfg.Settle); err != nil {
		return err
	}

	waitCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	telemetryCtx, stop := context.WithCancel(waitCtx)
	defer stop()

	samples, err := l.StartTelemetry(telemetryCtx, VarianceBlock, cfg.Period, []string{VarPX, VarPY, VarPZ})
	if err != nil {
		return fmt.Errorf("failed to start variance telemetry: %w", err)
	}

	wx := NewVarianceWindow(cfg.WindowSize, cfg.Seed)
	wy := NewVarianceWindow(cfg.WindowSize, cfg.Seed)
	wz := NewVarianceWindow(cfg.WindowSize, cfg.Seed)

	waitErr := func() error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w within %v (spread x=%.4g y=%.4g z=%.4g)",
			ErrNotConverged, cfg.Timeout, wx.Spread(), wy.Spread(), wz.Spread())
	}

	for {
		select {
		case <-waitCtx.Done():
			return waitErr()
		case s, ok := <-samples:
			if !ok {
				if waitCtx.Err() != nil {
					return waitErr()
				}
				return ErrTelemetryClosed
			}
			vx, okX := s.Values[VarPX]
			vy, okY := s.Values[VarPY]
			vz, okZ := s.Values[VarPZ]
			if !okX || !okY || !okZ {
				m.logf("ignoring incomplete variance sample %v", s.Values)
				continue
			}
			wx.Push(vx)
			wy.Push(vy)
			wz.Push(vz)
			if m.Sink != nil {
				if err := m.Sink.RecordVariance(m.Body, vx, vy, vz); err != nil {
					m.logf("failed to record variance: %v", err)
				}
			}
			if wx.Spread() < cfg.Threshold && wy.Spread() < cfg.Threshold && wz.Spread() < cfg.Threshold {
				m.logf("estimator converged (var x=%.4g y=%.4g z=%.4g)", vx, vy, vz)
				return nil
			}
		}
	}
}

// PushPose sends a measured pose to the vehicle's estimator. Poses with a
// rotation are sent as an extended pose with a unit quaternion, others as a
// position-only correction.
func PushPose(l link.Link, p geom.Pose) error {
	if p.Rotation == nil {
		return l.SendExternalPosition(p.X, p.Y, p.Z)
	}
	q := geom.Quaternion(*p.Rotation)
	return l.SendExtendedPose(p.X, p.Y, p.Z, q.X, q.Y, q.Z, q.W)
}
