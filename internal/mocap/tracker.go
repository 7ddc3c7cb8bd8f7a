// Package mocap adapts the motion-capture stream into per-vehicle pose
// registers.
//
// A Feed delivers poses for named rigid bodies to Handlers. A Tracker is the
// Handler owned by each vehicle session: it keeps the latest measured pose
// and the number of consecutive tracking losses, and forwards fresh poses to
// the vehicle's onboard estimator. The Tracker never decides safety.
package mocap

import (
	"slices"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/mocap.flight/internal/geom"
	"github.com/banshee-data/mocap.flight/internal/timeutil"
)

// Handler receives pose events for one rigid body.
type Handler interface {
	OnPose(p geom.Pose)
	OnTrackingLoss()
}

// Subscription is a live registration of a Handler with a Feed.
type Subscription interface {
	Addr() string
	Close() error
}

// Feed streams poses for named rigid bodies.
type Feed interface {
	Subscribe(body string, markers []int, h Handler) (Subscription, error)
}

// Snapshot is a consistent view of a Tracker. Pose, TrackingLoss and
// UpdatedAt always come from the same update.
type Snapshot struct {
	Pose         geom.Pose
	TrackingLoss int
	UpdatedAt    time.Time // zero until the first pose
}

// Tracker is the single-writer, multi-reader pose register of one vehicle.
type Tracker struct {
	clock timeutil.Clock

	mu        sync.RWMutex
	pose      geom.Pose
	loss      int
	updatedAt time.Time

	fwdMu      sync.Mutex
	forwarders []func(geom.Pose)
}

// NewTracker returns a Tracker with no pose yet. The initial pose is NaN so
// it is never inside any volume.
func NewTracker(clock timeutil.Clock) *Tracker {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	nan := math.NaN()
	return &Tracker{clock: clock, pose: geom.NewPose(nan, nan, nan)}
}

// Forward registers f to receive every fresh pose after it is stored.
func (t *Tracker) Forward(f func(geom.Pose)) {
	t.fwdMu.Lock()
	defer t.fwdMu.Unlock()
	t.forwarders = append(t.forwarders, f)
}

// OnPose stores p and resets the loss count. A pose with a NaN axis counts
// as a tracking loss instead.
func (t *Tracker) OnPose(p geom.Pose) {
	if !p.IsValid() {
		t.OnTrackingLoss()
		return
	}
	t.mu.Lock()
	t.pose = p
	t.loss = 0
	t.updatedAt = t.clock.Now()
	t.mu.Unlock()

	t.fwdMu.Lock()
	fwd := slices.Clone(t.forwarders)
	t.fwdMu.Unlock()
	for _, f := range fwd {
		f(p)
	}
}

// OnTrackingLoss increments the consecutive loss count.
func (t *Tracker) OnTrackingLoss() {
	t.mu.Lock()
	t.loss++
	t.mu.Unlock()
}

// Snapshot returns the latest pose and loss count atomically.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{Pose: t.pose, TrackingLoss: t.loss, UpdatedAt: t.updatedAt}
}
