package vehicle

import (
	"time"

	"github.com/banshee-data/mocap.flight/internal/geom"
)

// Landing sequence.
const (
	landXYVelMax   = 0.3
	landZVelMax    = 0.03
	landSettle     = 100 * time.Millisecond
	landStepPeriod = 150 * time.Millisecond
)

// landHeights are the hover heights of the landing staircase in metres.
var landHeights = []float64{0.5, 0.4, 0.3, 0.2, 0.1}

// SafePositionSetpoint sends target, clamped to the safe volume, if the
// session is active, not landed and passes the safety gate. It reports
// whether the setpoint was sent. Targets with a NaN axis are dropped. Link
// errors are logged and dropped. The session lock is never held across a
// link call, so pose delivery is not blocked.
func (s *Session) SafePositionSetpoint(target geom.Pose) bool {
	if !target.IsValid() {
		s.logf("dropping invalid setpoint %v", target)
		return false
	}
	s.mu.Lock()
	ready := s.state == StateActive && !s.landed && s.link != nil
	s.mu.Unlock()
	if !ready || !s.IsSafe() {
		return false
	}

	target = geom.Clamp(target, s.cfg.Volume)
	if target.Yaw == nil {
		target = target.WithYaw(0)
	}

	s.mu.Lock()
	l := s.link
	if s.landed || l == nil {
		s.mu.Unlock()
		return false
	}
	s.airborne = true
	s.mu.Unlock()

	if err := l.SendPositionSetpoint(target.X, target.Y, target.Z, *target.Yaw); err != nil {
		s.logf("failed to send position setpoint %v: %v", target, err)
		return false
	}
	if s.deps.Events != nil {
		if err := s.deps.Events.RecordSetpoint(s.cfg.Body, target); err != nil {
			s.logf("failed to record setpoint: %v", err)
		}
	}
	return true
}

// Ascend commands a climb of step metres straight up from the measured
// position, keeping the measured heading. The step is capped at
// MaxVelocity times the control tick.
func (s *Session) Ascend(step float64) bool {
	snap := s.tracker.Snapshot()
	if !snap.Pose.IsValid() {
		return false
	}
	if limit := s.cfg.Limits.MaxVelocity * s.cfg.Tick.Seconds(); limit > 0 && step > limit {
		step = limit
	}
	target := geom.NewPose(snap.Pose.X, snap.Pose.Y, snap.Pose.Z+step).WithYaw(snap.Pose.Heading())
	return s.SafePositionSetpoint(target)
}

// Land brings the vehicle down in a gentle hover staircase and stops the
// motors. It is terminal: afterwards every setpoint is a no-op. Sessions
// that never dispatched a setpoint are left on the ground.
func (s *Session) Land() {
	s.mu.Lock()
	if s.landed {
		s.mu.Unlock()
		return
	}
	s.landed = true
	airborne, l := s.airborne, s.link
	s.mu.Unlock()

	if !airborne || l == nil {
		s.logf("Not airborne, skipping landing.")
		return
	}

	s.logf("Landing...")
	s.event(EventLanding, "")
	if err := l.SetParam(ParamXYVelMax, landXYVelMax); err != nil {
		s.logf("failed to slow down for landing: %v", err)
	}
	if err := l.SetParam(ParamZVelMax, landZVelMax); err != nil {
		s.logf("failed to slow down for landing: %v", err)
	}
	s.clock.Sleep(landSettle)

	for _, z := range landHeights {
		if err := l.SendHoverSetpoint(0, 0, 0, z); err != nil {
			s.logf("failed to send hover setpoint at %.1f m: %v", z, err)
		}
		s.clock.Sleep(landStepPeriod)
	}
	if err := l.SendStopSetpoint(); err != nil {
		s.logf("failed to send stop setpoint: %v", err)
	}
	s.event(EventLanded, "")
	s.logf("Landed.")
}
