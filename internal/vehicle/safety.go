package vehicle

import (
	"fmt"

	"github.com/banshee-data/mocap.flight/internal/geom"
	"github.com/banshee-data/mocap.flight/internal/mocap"
)

// Reason says why a vehicle is unsafe.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonTrackingLoss
	ReasonOutsideVolume
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonTrackingLoss:
		return "tracking_loss"
	case ReasonOutsideVolume:
		return "outside_volume"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// MarshalText renders the reason by name in JSON.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Verdict is the result of one safety evaluation.
type Verdict struct {
	Safe   bool
	Reason Reason
	Detail string
}

// Evaluate applies the safety gate to a snapshot. Tracking loss is checked
// before containment, so a lost vehicle is reported as lost regardless of
// its last pose.
func Evaluate(snap mocap.Snapshot, limits Limits, vol geom.Volume) Verdict {
	if snap.TrackingLoss > limits.MaxTrackingLoss {
		return Verdict{
			Reason: ReasonTrackingLoss,
			Detail: fmt.Sprintf("tracking lost for %d frames (limit %d)", snap.TrackingLoss, limits.MaxTrackingLoss),
		}
	}
	if !geom.Contains(snap.Pose, vol) {
		return Verdict{
			Reason: ReasonOutsideVolume,
			Detail: fmt.Sprintf("pose %v outside safe volume %v", snap.Pose, vol),
		}
	}
	return Verdict{Safe: true}
}
