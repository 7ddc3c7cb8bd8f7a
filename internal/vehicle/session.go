// Package vehicle manages the lifecycle of one mocap-tracked vehicle: its
// link, its pose subscription, the per-tick safety gate and the setpoint
// dispatcher that every command passes through.
package vehicle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/mocap.flight/internal/estimator"
	"github.com/banshee-data/mocap.flight/internal/geom"
	"github.com/banshee-data/mocap.flight/internal/link"
	"github.com/banshee-data/mocap.flight/internal/mocap"
	"github.com/banshee-data/mocap.flight/internal/monitoring"
	"github.com/banshee-data/mocap.flight/internal/timeutil"
)

// State is a session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateOpened
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpened:
		return "opened"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Marker parameters in front, right, back, left order.
var markerParams = [4]string{
	"activeMarker.front",
	"activeMarker.right",
	"activeMarker.back",
	"activeMarker.left",
}

// Speed limit parameters of the onboard position controller.
const (
	ParamXYVelMax = "posCtlPid.xyVelMax"
	ParamZVelMax  = "posCtlPid.zVelMax"
)

// Event kinds recorded to the EventSink.
const (
	EventOpened  = "opened"
	EventActive  = "active"
	EventUnsafe  = "unsafe"
	EventSafe    = "safe"
	EventLanding = "landing"
	EventLanded  = "landed"
	EventClosed  = "closed"
)

// Limits bound what the safety gate tolerates.
type Limits struct {
	MaxTrackingLoss int     // consecutive lost frames before the vehicle is unsafe
	MaxVelocity     float64 // m/s, also written as the controller speed limit
}

// Config identifies and bounds one vehicle.
type Config struct {
	Body      string
	URI       string
	Markers   []int
	Limits    Limits
	Volume    geom.Volume
	Tick      time.Duration // control loop period, caps Ascend steps
	Estimator estimator.Config
}

// EventSink records what a session does. The flight log implements it.
type EventSink interface {
	RecordEvent(body, kind, detail string) error
	RecordSetpoint(body string, target geom.Pose) error
	RecordPose(body string, p geom.Pose, trackingLoss int) error
}

// Deps are the collaborators a session needs.
type Deps struct {
	Opener   link.Opener
	Feed     mocap.Feed
	Clock    timeutil.Clock
	Events   EventSink
	Variance estimator.SampleSink
}

// Session is one vehicle. It exclusively owns its link and feed
// subscription between Open and Close.
type Session struct {
	cfg   Config
	deps  Deps
	clock timeutil.Clock
	logf  func(format string, v ...interface{})

	tracker    *mocap.Tracker
	pushing    atomic.Bool
	pushFailed atomic.Bool

	mu       sync.Mutex
	state    State
	link     link.Link
	sub      mocap.Subscription
	airborne bool
	landed   bool

	verdictMu   sync.Mutex
	lastVerdict *Verdict
}

// New validates cfg and returns an idle Session.
func New(cfg Config, deps Deps) (*Session, error) {
	if cfg.Body == "" {
		return nil, errors.New("vehicle body name is required")
	}
	if cfg.URI == "" {
		return nil, fmt.Errorf("vehicle %s: uri is required", cfg.Body)
	}
	if len(cfg.Markers) != len(markerParams) {
		return nil, fmt.Errorf("vehicle %s: expected %d marker ids, got %d", cfg.Body, len(markerParams), len(cfg.Markers))
	}
	if !(cfg.Volume.Expanse > 0) {
		return nil, fmt.Errorf("vehicle %s: %w", cfg.Body, geom.ErrInvalidExpanse)
	}
	if cfg.Limits.MaxTrackingLoss < 0 {
		return nil, fmt.Errorf("vehicle %s: max tracking loss must not be negative", cfg.Body)
	}
	if cfg.Limits.MaxVelocity < 0 {
		return nil, fmt.Errorf("vehicle %s: max velocity must not be negative", cfg.Body)
	}
	if deps.Opener == nil || deps.Feed == nil {
		return nil, fmt.Errorf("vehicle %s: link opener and pose feed are required", cfg.Body)
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 100 * time.Millisecond
	}
	clock := deps.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	cfg.Markers = append([]int(nil), cfg.Markers...)
	return &Session{
		cfg:     cfg,
		deps:    deps,
		clock:   clock,
		logf:    monitoring.Vehicle(cfg.Body, cfg.URI),
		tracker: mocap.NewTracker(clock),
	}, nil
}

// Body returns the rigid body name.
func (s *Session) Body() string { return s.cfg.Body }

// URI returns the link URI.
func (s *Session) URI() string { return s.cfg.URI }

// Volume returns the safe volume.
func (s *Session) Volume() geom.Volume { return s.cfg.Volume }

// Tracker returns the session's pose register.
func (s *Session) Tracker() *mocap.Tracker { return s.tracker }

// Pose returns the latest measured pose.
func (s *Session) Pose() geom.Pose { return s.tracker.Snapshot().Pose }

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Airborne reports whether a setpoint was ever dispatched and the vehicle
// has not landed since.
func (s *Session) Airborne() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.airborne && !s.landed
}

func (s *Session) event(kind, detail string) {
	if s.deps.Events == nil {
		return
	}
	if err := s.deps.Events.RecordEvent(s.cfg.Body, kind, detail); err != nil {
		s.logf("failed to record %s event: %v", kind, err)
	}
}

// Open connects the link, configures the vehicle, subscribes to its poses
// and waits for the estimator to converge. On failure everything it opened
// is released and the session is closed.
func (s *Session) Open(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("vehicle %s: cannot open in state %s", s.cfg.Body, st)
	}
	s.mu.Unlock()

	s.logf("Connecting...")
	l, err := s.deps.Opener.Open(ctx, s.cfg.URI)
	if err != nil {
		return fmt.Errorf("failed to open link: %w", err)
	}

	s.mu.Lock()
	s.link = l
	s.state = StateOpened
	s.mu.Unlock()
	s.event(EventOpened, s.cfg.URI)

	defer func() {
		if err != nil {
			if cerr := s.Close(); cerr != nil {
				s.logf("cleanup after failed open: %v", cerr)
			}
		}
	}()

	if err := s.SetSpeedLimit(s.cfg.Limits.MaxVelocity); err != nil {
		return err
	}

	s.logf("Active marker IDs: %v", s.cfg.Markers)
	for i, p := range markerParams {
		if err := l.SetParam(p, float64(s.cfg.Markers[i])); err != nil {
			return fmt.Errorf("failed to set %s: %w", p, err)
		}
	}

	s.pushing.Store(true)
	s.tracker.Forward(s.pushPose)
	sub, err := s.deps.Feed.Subscribe(s.cfg.Body, s.cfg.Markers, s.tracker)
	if err != nil {
		return fmt.Errorf("failed to subscribe to poses: %w", err)
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	s.logf("Subscribed to poses at %s", sub.Addr())

	s.logf("Waiting for estimator to find position...")
	mon := &estimator.Monitor{
		Body:   s.cfg.Body,
		Config: s.cfg.Estimator,
		Clock:  s.clock,
		Sink:   s.deps.Variance,
		Logf:   s.logf,
	}
	if err := mon.Converge(ctx, l); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = StateActive
	s.mu.Unlock()
	s.event(EventActive, "")
	s.logf("Ready.")
	return nil
}

// pushPose forwards a fresh pose to the onboard estimator. The first of a
// run of failures is logged.
func (s *Session) pushPose(p geom.Pose) {
	if !s.pushing.Load() {
		return
	}
	s.mu.Lock()
	l := s.link
	s.mu.Unlock()
	if l == nil {
		return
	}
	if err := estimator.PushPose(l, p); err != nil {
		if !s.pushFailed.Swap(true) {
			s.logf("failed to push external pose: %v", err)
		}
		return
	}
	if s.pushFailed.Swap(false) {
		s.logf("external pose push recovered")
	}
}

// SetSpeedLimit writes the horizontal and vertical controller speed limits.
func (s *Session) SetSpeedLimit(v float64) error {
	s.mu.Lock()
	l := s.link
	s.mu.Unlock()
	if l == nil {
		return fmt.Errorf("vehicle %s: %w", s.cfg.Body, link.ErrClosed)
	}
	s.logf("Speed limit: %v m/s", v)
	if err := l.SetParam(ParamXYVelMax, v); err != nil {
		return fmt.Errorf("failed to set %s: %w", ParamXYVelMax, err)
	}
	if err := l.SetParam(ParamZVelMax, v); err != nil {
		return fmt.Errorf("failed to set %s: %w", ParamZVelMax, err)
	}
	return nil
}

// Close releases the feed subscription and then the link. It is safe to
// call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.state = StateClosed
		s.mu.Unlock()
		return nil
	case StateClosing, StateClosed:
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosing
	sub, l := s.sub, s.link
	s.mu.Unlock()

	s.pushing.Store(false)
	var errs []error
	if sub != nil {
		if err := sub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close pose subscription: %w", err))
		}
	}
	if l != nil {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close link: %w", err))
		}
	}

	s.mu.Lock()
	s.state = StateClosed
	s.sub, s.link = nil, nil
	s.mu.Unlock()
	s.event(EventClosed, "")
	s.logf("Closed.")
	return errors.Join(errs...)
}

// Verdict evaluates the safety gate on a fresh snapshot without logging.
func (s *Session) Verdict() Verdict {
	return Evaluate(s.tracker.Snapshot(), s.cfg.Limits, s.cfg.Volume)
}

// IsSafe evaluates the safety gate, records the pose and reports safe to
// unsafe transitions (and back) once each.
func (s *Session) IsSafe() bool {
	snap := s.tracker.Snapshot()
	v := Evaluate(snap, s.cfg.Limits, s.cfg.Volume)

	if s.deps.Events != nil && snap.Pose.IsValid() {
		if err := s.deps.Events.RecordPose(s.cfg.Body, snap.Pose, snap.TrackingLoss); err != nil {
			s.logf("failed to record pose: %v", err)
		}
	}

	s.verdictMu.Lock()
	changed := s.lastVerdict == nil || s.lastVerdict.Safe != v.Safe || s.lastVerdict.Reason != v.Reason
	s.lastVerdict = &v
	s.verdictMu.Unlock()

	if changed {
		switch v.Reason {
		case ReasonTrackingLoss:
			s.logf("TRACKING LOST FOR %d FRAMES!", snap.TrackingLoss)
		case ReasonOutsideVolume:
			s.logf("VEHICLE OUTSIDE SAFE VOLUME! %v", snap.Pose)
		default:
			s.logf("Safe.")
		}
		if v.Safe {
			s.event(EventSafe, "")
		} else {
			s.event(EventUnsafe, v.Reason.String()+": "+v.Detail)
		}
	}
	return v.Safe
}

// Status is a point-in-time view of a session.
type Status struct {
	Body         string    `json:"body"`
	URI          string    `json:"uri"`
	State        State     `json:"state"`
	Pose         geom.Pose `json:"-"`
	X            float64   `json:"x"`
	Y            float64   `json:"y"`
	Z            float64   `json:"z"`
	Tracked      bool      `json:"tracked"`
	TrackingLoss int       `json:"tracking_loss"`
	UpdatedAt    time.Time `json:"updated_at"`
	Safe         bool      `json:"safe"`
	Reason       Reason    `json:"reason"`
	Airborne     bool      `json:"airborne"`
}

// Status returns the session's current status.
func (s *Session) Status() Status {
	snap := s.tracker.Snapshot()
	v := Evaluate(snap, s.cfg.Limits, s.cfg.Volume)
	st := Status{
		Body:         s.cfg.Body,
		URI:          s.cfg.URI,
		State:        s.State(),
		Pose:         snap.Pose,
		Tracked:      snap.Pose.IsValid(),
		TrackingLoss: snap.TrackingLoss,
		UpdatedAt:    snap.UpdatedAt,
		Safe:         v.Safe,
		Reason:       v.Reason,
		Airborne:     s.Airborne(),
	}
	if st.Tracked {
		st.X, st.Y, st.Z = snap.Pose.X, snap.Pose.Y, snap.Pose.Z
	}
	return st
}
